package charging

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/chargegate/internal/dispatch"
	"github.com/nerrad567/chargegate/internal/infrastructure/logging"
)

// Service submits partner charging commands.
type Service struct {
	facility dispatch.Facility
	protocol dispatch.Protocol
	validate *validator.Validate
	logger   *logging.Logger
}

// NewService returns a Service addressing every command with protocol.
// An empty protocol selects OCPP 1.6 JSON.
func NewService(facility dispatch.Facility, protocol dispatch.Protocol, logger *logging.Logger) *Service {
	if protocol == "" {
		protocol = dispatch.ProtocolOCPP16J
	}
	return &Service{
		facility: facility,
		protocol: protocol,
		validate: newValidator(),
		logger:   logger.With("component", "charging"),
	}
}

// SubmitStart validates req and submits one remote start.
func (s *Service) SubmitStart(ctx context.Context, req StartRequest) (Acknowledgment, error) {
	req.normalize()
	if err := check(s.validate, req); err != nil {
		return Acknowledgment{}, err
	}

	taskID, err := s.facility.RemoteStartTransaction(ctx, dispatch.RemoteStartParams{
		ChargePoints: s.target(req.ChargePointID),
		ConnectorID:  req.ConnectorID,
		IDTag:        req.IDTag,
	})
	if err != nil {
		return Acknowledgment{}, fmt.Errorf("submitting remote start for %s: %w", req.ChargePointID, err)
	}

	s.logger.Info("remote start accepted", "charge_point_id", req.ChargePointID, "task_id", taskID)
	return Acknowledgment{Status: StatusStartAccepted, TaskID: taskID}, nil
}

// SubmitStop validates req and submits one remote stop.
func (s *Service) SubmitStop(ctx context.Context, req StopRequest) (Acknowledgment, error) {
	req.normalize()
	if err := check(s.validate, req); err != nil {
		return Acknowledgment{}, err
	}

	taskID, err := s.facility.RemoteStopTransaction(ctx, dispatch.RemoteStopParams{
		ChargePoints:  s.target(req.ChargePointID),
		TransactionID: *req.TransactionID,
	})
	if err != nil {
		return Acknowledgment{}, fmt.Errorf("submitting remote stop for %s: %w", req.ChargePointID, err)
	}

	s.logger.Info("remote stop accepted",
		"charge_point_id", req.ChargePointID,
		"transaction_id", *req.TransactionID,
		"task_id", taskID,
	)
	return Acknowledgment{Status: StatusStopAccepted, TaskID: taskID}, nil
}

func (s *Service) target(chargeBoxID string) []dispatch.ChargePointSelect {
	return []dispatch.ChargePointSelect{{Protocol: s.protocol, ChargeBoxID: chargeBoxID}}
}
