// Package dispatch hands remote start and stop commands to charge points.
//
// The Facility interface is what the rest of chargegate submits through.
// A submission is accepted as soon as the command bus takes it: the caller
// receives an integer task id and never waits for the charge point. The
// outcome arrives later on the result topics and is published to the
// live-update hub under the task.result channel.
//
// MQTTFacility is the production implementation. It mints task ids from a
// process-wide counter, publishes one JSON command per target charge box
// and keeps a bounded history of recent tasks for the console and for
// partners polling /api/v1/tasks/{id}.
package dispatch
