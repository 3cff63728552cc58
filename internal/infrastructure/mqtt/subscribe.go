package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subackFailure is the SUBACK return code for a rejected subscription.
const subackFailure byte = 0x80

// Subscribe subscribes to an exact topic at QoS 0.
//
// Messages that arrive are queued until the next Loop call. Wildcard
// filters are rejected: the relay listens on a single fixed topic.
// The wait for the SUBACK ends early if ctx is cancelled.
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected, or a wrapped ErrSubscribeFailed
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Subscribe(topic, controlQoS, c.enqueue)
	if err := waitToken(ctx, token, defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subackFailure {
			return fmt.Errorf("%w: %s: rejected by broker", ErrSubscribeFailed, topic)
		}
	}

	return nil
}

// enqueue is the paho message handler. It copies the message into the
// inbound queue, dropping it when the queue is full.
func (c *Client) enqueue(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	select {
	case c.inbound <- inboundMessage{topic: msg.Topic(), payload: payload}:
	default:
		c.dropped.Add(1)
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT inbound queue full, message dropped", "topic", msg.Topic())
		}
	}
}

// Loop delivers every queued message to the callback on the calling
// goroutine, then reports whether the connection is still open.
func (c *Client) Loop() bool {
	c.mu.RLock()
	callback := c.callback
	c.mu.RUnlock()

	for {
		select {
		case m := <-c.inbound:
			if callback != nil {
				c.deliver(callback, m)
			}
		default:
			return c.IsConnected()
		}
	}
}

// deliver invokes callback with panic recovery so one bad message does
// not take down the supervisory loop.
func (c *Client) deliver(callback func(string, []byte), m inboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT callback panic recovered", "topic", m.topic, "panic", r)
			}
		}
	}()
	callback(m.topic, m.payload)
}

// drainQueue discards queued messages.
func (c *Client) drainQueue() {
	for {
		select {
		case <-c.inbound:
		default:
			return
		}
	}
}

// Pending returns the number of queued messages.
func (c *Client) Pending() int {
	return len(c.inbound)
}
