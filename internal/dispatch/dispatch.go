package dispatch

import (
	"context"
	"errors"

	"github.com/nerrad567/chargegate/internal/infrastructure/mqtt"
)

// Protocol names the charge point dialect a command is addressed with.
type Protocol string

// ProtocolOCPP16J is OCPP 1.6 over JSON, the dialect every external
// command uses unless configured otherwise.
const ProtocolOCPP16J Protocol = "ocpp1.6j"

// Action identifies the remote operation carried by a task.
type Action string

// Remote operations.
const (
	ActionRemoteStart Action = "RemoteStartTransaction"
	ActionRemoteStop  Action = "RemoteStopTransaction"
)

// ChargePointSelect identifies one charge box and the dialect to reach it with.
type ChargePointSelect struct {
	Protocol    Protocol `json:"protocol"`
	ChargeBoxID string   `json:"chargeBoxId"`
}

// ValidChargeBoxID reports whether id can address a charge box. Ids travel
// as a single command topic level, so '/', '+', '#' and NUL are refused.
func ValidChargeBoxID(id string) bool {
	return mqtt.ValidSegment(id)
}

// RemoteStartParams asks the targets to start a transaction for IDTag.
// A nil ConnectorID lets the charge point pick a connector.
type RemoteStartParams struct {
	ChargePoints []ChargePointSelect
	ConnectorID  *int
	IDTag        string
}

// RemoteStopParams asks the targets to stop TransactionID.
type RemoteStopParams struct {
	ChargePoints  []ChargePointSelect
	TransactionID int
}

// Facility submits commands and returns the task id that later outcome
// notifications carry. It must not block on the charge point's answer.
type Facility interface {
	RemoteStartTransaction(ctx context.Context, params RemoteStartParams) (int, error)
	RemoteStopTransaction(ctx context.Context, params RemoteStopParams) (int, error)
}

var (
	// ErrDispatchFailed wraps every failure to hand a command to the bus.
	ErrDispatchFailed = errors.New("dispatch: submission failed")

	// ErrUnavailable marks a failure caused by the bus being down.
	// It is always wrapped together with ErrDispatchFailed.
	ErrUnavailable = errors.New("dispatch: command bus unavailable")

	// ErrNoTarget is returned when a submission names no charge box.
	ErrNoTarget = errors.New("dispatch: no charge point selected")

	// ErrTaskNotFound is returned for unknown or evicted task ids.
	ErrTaskNotFound = errors.New("dispatch: task not found")
)
