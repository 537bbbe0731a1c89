package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single message at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and blocks until the broker acknowledges
// it, ctx is done, or the publish timeout elapses.
//
// For QoS 0 the acknowledgement is the local write to the socket.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishRetained publishes a retained message with the configured QoS.
func (c *Client) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	return c.Publish(ctx, topic, payload, byte(c.cfg.QoS), true)
}

// waitToken waits for a paho token under ctx and the publish timeout.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w after %v", ErrTimeout, defaultPublishTimeout)
		}
		return ctx.Err()
	}
}
