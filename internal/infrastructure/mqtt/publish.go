package mqtt

import (
	"context"
	"fmt"
)

// maxPublishSize caps outbound payloads. The relay only publishes small
// status documents.
const maxPublishSize = 4 << 10 // 4KB

// Publish sends payload to topic at QoS 1.
//
// Parameters:
//   - ctx: Bounds the wait for the broker acknowledgement
//   - topic: Exact topic, no wildcards
//   - payload: Message body (max 4KB)
//   - retained: Whether the broker keeps the message for new subscribers.
//     Use for status topics; don't use for commands.
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPublishSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPublishSize)
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(topic, statusQoS, retained, payload)
	if err := waitToken(ctx, token, defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
