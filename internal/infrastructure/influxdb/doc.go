// Package influxdb records command dispatch telemetry in InfluxDB.
//
// Every submission the gateway hands to the command bus, successful or
// not, becomes one point in the command_dispatch measurement, tagged with
// the protocol, action and outcome so partner traffic and broker failures
// can be charted over time. Bridge results land in command_result.
//
// Writes are non-blocking and batched (batch_size, flush_interval). Async
// write failures are delivered to the SetOnError callback.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteDispatch(influxdb.Dispatch{Action: "remote_start", ...})
package influxdb
