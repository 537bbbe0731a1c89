package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementDispatch = "command_dispatch"
	MeasurementResult   = "command_result"
)

// Dispatch describes one attempt to hand a command to the bus.
type Dispatch struct {
	Protocol    string
	ChargeBoxID string
	Action      string
	// TaskID is zero when the publish failed.
	TaskID  int
	Outcome string
	Latency time.Duration
	At      time.Time
}

// Result describes a task outcome reported by a bridge.
type Result struct {
	Protocol string
	TaskID   int
	Status   string
	At       time.Time
}

// WriteDispatch queues a command_dispatch point. No-op when disconnected.
func (c *Client) WriteDispatch(d Dispatch) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(dispatchPoint(d))
}

// WriteResult queues a command_result point. No-op when disconnected.
func (c *Client) WriteResult(r Result) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(resultPoint(r))
}

func dispatchPoint(d Dispatch) *write.Point {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]interface{}{
		"charge_box_id": d.ChargeBoxID,
		"latency_ms":    float64(d.Latency.Microseconds()) / 1000,
	}
	if d.TaskID > 0 {
		fields["task_id"] = int64(d.TaskID)
	}

	// charge_box_id is a field, not a tag, to keep series cardinality flat.
	return write.NewPoint(
		MeasurementDispatch,
		map[string]string{
			"protocol": d.Protocol,
			"action":   d.Action,
			"outcome":  d.Outcome,
		},
		fields,
		at,
	)
}

func resultPoint(r Result) *write.Point {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementResult,
		map[string]string{
			"protocol": r.Protocol,
			"status":   r.Status,
		},
		map[string]interface{}{
			"task_id": int64(r.TaskID),
		},
		at,
	)
}
