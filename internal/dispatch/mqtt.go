package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/chargegate/internal/infrastructure/config"
	"github.com/nerrad567/chargegate/internal/infrastructure/influxdb"
	"github.com/nerrad567/chargegate/internal/infrastructure/logging"
	"github.com/nerrad567/chargegate/internal/infrastructure/mqtt"
)

// Live-update channels.
const (
	ChannelTaskSubmitted = "task.submitted"
	ChannelTaskResult    = "task.result"
)

// Dispatch outcomes recorded in telemetry.
const (
	outcomeAccepted    = "accepted"
	outcomeFailed      = "failed"
	outcomeUnavailable = "unavailable"
)

// Publisher is the part of *mqtt.Client the facility needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Broadcaster fans events out to live-update clients.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// Recorder receives dispatch telemetry. *influxdb.Client implements it.
type Recorder interface {
	WriteDispatch(d influxdb.Dispatch)
	WriteResult(r influxdb.Result)
}

// command is the document a bridge receives on the command topic.
type command struct {
	TaskID        int       `json:"taskId"`
	Action        Action    `json:"action"`
	ChargeBoxID   string    `json:"chargeBoxId"`
	ConnectorID   *int      `json:"connectorId,omitempty"`
	IDTag         string    `json:"idTag,omitempty"`
	TransactionID *int      `json:"transactionId,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// result is the document a bridge sends on the result topic.
type result struct {
	ChargeBoxID string `json:"chargeBoxId"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// MQTTFacility publishes commands to the charge point bridges over MQTT.
type MQTTFacility struct {
	pub      Publisher
	tasks    *TaskStore
	qos      byte
	logger   *logging.Logger
	hub      Broadcaster
	recorder Recorder
	now      func() time.Time
}

// NewMQTTFacility creates a facility publishing through pub and recording
// tasks in tasks.
func NewMQTTFacility(pub Publisher, tasks *TaskStore, cfg config.DispatchConfig, logger *logging.Logger) *MQTTFacility {
	return &MQTTFacility{
		pub:    pub,
		tasks:  tasks,
		qos:    byte(cfg.QoS),
		logger: logger.With("component", "dispatch"),
		now:    time.Now,
	}
}

// SetBroadcaster sets the hub task events are sent to.
func (f *MQTTFacility) SetBroadcaster(hub Broadcaster) {
	f.hub = hub
}

// SetRecorder enables telemetry.
func (f *MQTTFacility) SetRecorder(r Recorder) {
	f.recorder = r
}

// Tasks returns the task store.
func (f *MQTTFacility) Tasks() *TaskStore {
	return f.tasks
}

// Start subscribes to the result topics of every bridge.
func (f *MQTTFacility) Start() error {
	if err := f.pub.Subscribe(mqtt.Topics{}.AllResults(), f.qos, f.handleResult); err != nil {
		return fmt.Errorf("subscribing to task results: %w", err)
	}
	f.logger.Info("listening for task results", "topic", mqtt.Topics{}.AllResults())
	return nil
}

// RemoteStartTransaction publishes a remote start to every selected charge box.
func (f *MQTTFacility) RemoteStartTransaction(ctx context.Context, params RemoteStartParams) (int, error) {
	return f.submit(ctx, ActionRemoteStart, params.ChargePoints, func(cmd *command) {
		cmd.ConnectorID = params.ConnectorID
		cmd.IDTag = params.IDTag
	})
}

// RemoteStopTransaction publishes a remote stop to every selected charge box.
func (f *MQTTFacility) RemoteStopTransaction(ctx context.Context, params RemoteStopParams) (int, error) {
	txID := params.TransactionID
	return f.submit(ctx, ActionRemoteStop, params.ChargePoints, func(cmd *command) {
		cmd.TransactionID = &txID
	})
}

// submit publishes one command per target. The first failed publish aborts
// the submission; targets already published to keep their command.
func (f *MQTTFacility) submit(ctx context.Context, action Action, targets []ChargePointSelect, fill func(*command)) (int, error) {
	if len(targets) == 0 {
		return 0, ErrNoTarget
	}

	topics := make([]string, len(targets))
	ids := make([]string, len(targets))
	for i, target := range targets {
		topic, err := mqtt.Topics{}.Command(string(target.Protocol), target.ChargeBoxID)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
		}
		topics[i] = topic
		ids[i] = target.ChargeBoxID
	}

	start := f.now()
	id := f.tasks.Next()
	task := &Task{
		ID:           id,
		Action:       action,
		Protocol:     targets[0].Protocol,
		ChargeBoxIDs: ids,
		Status:       TaskSubmitted,
		SubmittedAt:  start.UTC(),
	}

	// Stored before the first publish: a bridge may answer before the
	// broker acknowledges.
	f.tasks.Put(task)

	for i, target := range targets {
		cmd := command{
			TaskID:      id,
			Action:      action,
			ChargeBoxID: target.ChargeBoxID,
			SubmittedAt: task.SubmittedAt,
		}
		fill(&cmd)

		payload, err := json.Marshal(cmd)
		if err != nil {
			f.tasks.Remove(id)
			return 0, fmt.Errorf("%w: encoding command: %w", ErrDispatchFailed, err)
		}

		if err := f.pub.Publish(ctx, topics[i], payload, f.qos, false); err != nil {
			f.tasks.Remove(id)
			outcome := outcomeFailed
			if errors.Is(err, mqtt.ErrNotConnected) {
				outcome = outcomeUnavailable
				err = fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			f.record(target, action, 0, outcome, start)
			f.logger.Warn("command publish failed",
				"action", action,
				"charge_box_id", target.ChargeBoxID,
				"task_id", id,
				"error", err,
			)
			return 0, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
		}

		f.record(target, action, id, outcomeAccepted, start)
	}

	f.logger.Info("command submitted",
		"action", action,
		"task_id", id,
		"charge_box_ids", task.ChargeBoxIDs,
	)
	if f.hub != nil {
		if current, err := f.tasks.Get(id); err == nil {
			task = current
		}
		f.hub.Broadcast(ChannelTaskSubmitted, task)
	}
	return id, nil
}

func (f *MQTTFacility) record(target ChargePointSelect, action Action, taskID int, outcome string, start time.Time) {
	if f.recorder == nil {
		return
	}
	now := f.now()
	f.recorder.WriteDispatch(influxdb.Dispatch{
		Protocol:    string(target.Protocol),
		ChargeBoxID: target.ChargeBoxID,
		Action:      string(action),
		TaskID:      taskID,
		Outcome:     outcome,
		Latency:     now.Sub(start),
		At:          now,
	})
}

// handleResult applies a bridge outcome to its task.
func (f *MQTTFacility) handleResult(topic string, payload []byte) error {
	protocol, rawID, ok := mqtt.ParseResult(topic)
	if !ok {
		return fmt.Errorf("unexpected result topic %q", topic)
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return fmt.Errorf("result topic %q: invalid task id: %w", topic, err)
	}

	var res result
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("decoding result for task %d: %w", id, err)
	}
	if res.ChargeBoxID == "" || res.Status == "" {
		return fmt.Errorf("result for task %d: chargeBoxId and status are required", id)
	}

	now := f.now().UTC()
	task, err := f.tasks.Report(id, res.ChargeBoxID, res.Status, now)
	if err != nil {
		// Evicted or issued by a previous process.
		f.logger.Debug("result for unknown task", "task_id", id, "charge_box_id", res.ChargeBoxID)
		return nil
	}

	f.logger.Info("task result received",
		"task_id", id,
		"charge_box_id", res.ChargeBoxID,
		"result", res.Status,
		"error", res.Error,
	)
	if f.recorder != nil {
		f.recorder.WriteResult(influxdb.Result{Protocol: protocol, TaskID: id, Status: res.Status, At: now})
	}
	if f.hub != nil {
		f.hub.Broadcast(ChannelTaskResult, map[string]any{
			"taskId":      id,
			"chargeBoxId": res.ChargeBoxID,
			"result":      res.Status,
			"error":       res.Error,
			"task":        task,
		})
	}
	return nil
}
