// Package charging accepts remote start and stop requests from partner
// systems and submits them to the dispatch facility.
//
// Every request is validated before anything is dispatched. A valid request
// is addressed to a single charge box using the service-wide default
// protocol and produces exactly one submission. The caller gets back the
// task id the facility minted; repeated identical requests are not
// deduplicated.
package charging
