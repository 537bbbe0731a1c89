package mqtt

import "errors"

// Sentinel errors for broker operations. Callers match them with errors.Is.
var (
	// ErrNotConnected is returned when the broker link is down.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker did not acknowledge a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for QoS levels outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidSegment is returned when a value cannot be one topic level.
	ErrInvalidSegment = errors.New("mqtt: invalid topic segment")

	// ErrTimeout is returned when the broker does not answer in time.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
