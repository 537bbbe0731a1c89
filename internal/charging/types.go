package charging

import (
	"fmt"
	"strings"
)

// Acknowledgment labels.
const (
	StatusStartAccepted = "START_ACCEPTED"
	StatusStopAccepted  = "STOP_ACCEPTED"
)

// StartRequest asks a charge point to start a transaction for IDTag.
// A nil ConnectorID means any connector.
type StartRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required,max=255,chargeboxid"`
	ConnectorID   *int   `json:"connectorId,omitempty" validate:"omitempty,min=1"`
	IDTag         string `json:"idTag" validate:"required,max=20"`
}

// StopRequest asks a charge point to stop TransactionID.
type StopRequest struct {
	ChargePointID string `json:"chargePointId" validate:"required,max=255,chargeboxid"`
	TransactionID *int   `json:"transactionId" validate:"required"`
}

// normalize trims the free-text fields before validation.
func (r *StartRequest) normalize() {
	r.ChargePointID = strings.TrimSpace(r.ChargePointID)
	r.IDTag = strings.TrimSpace(r.IDTag)
}

func (r *StopRequest) normalize() {
	r.ChargePointID = strings.TrimSpace(r.ChargePointID)
}

// Acknowledgment is returned once a command has been handed off.
type Acknowledgment struct {
	Status string `json:"status"`
	TaskID int    `json:"taskId"`
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every offending field of a rejected request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return fmt.Sprintf("invalid request: %s", strings.Join(parts, "; "))
}
