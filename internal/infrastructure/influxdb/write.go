package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-relay/internal/events"
)

// Measurement names.
const (
	measurementPin          = "relay_pin"
	measurementConnectivity = "relay_connectivity"
	measurementControl      = "relay_control"
)

// WritePinState records the output level (1 high, 0 low).
func (c *Client) WritePinState(level string, at time.Time) {
	value := 0
	if level == "high" {
		value = 1
	}
	c.write(measurementPin, map[string]string{"level": level}, map[string]any{"value": value}, at)
}

// WriteConnectivity records whether component ("link" or "session") is up.
func (c *Client) WriteConnectivity(component string, up bool, at time.Time) {
	c.write(measurementConnectivity,
		map[string]string{"component": component},
		map[string]any{"up": up},
		at)
}

// WriteControlMessage records an inbound control message. ignored marks
// payloads that did not change the pin.
func (c *Client) WriteControlMessage(topic string, ignored bool, at time.Time) {
	c.write(measurementControl,
		map[string]string{"topic": topic},
		map[string]any{"count": 1, "ignored": ignored},
		at)
}

// HandleEvent maps relay events onto points, so the client can be
// registered as an events.Sink. Unrelated event types are ignored.
func (c *Client) HandleEvent(_ context.Context, e events.Event) error {
	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	switch e.Type {
	case events.LinkUp:
		c.WriteConnectivity("link", true, at)
	case events.LinkDown:
		c.WriteConnectivity("link", false, at)
	case events.SessionConnected:
		c.WriteConnectivity("session", true, at)
	case events.SessionDisconnected:
		c.WriteConnectivity("session", false, at)
	case events.PinSet:
		level, _ := e.Data["level"].(string) //nolint:errcheck // missing level records as low
		c.WritePinState(level, at)
	case events.ControlIgnored:
		topic, _ := e.Data["topic"].(string) //nolint:errcheck // topic tag is optional
		c.WriteControlMessage(topic, true, at)
	}
	return nil
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if c.node != "" {
		tags["node"] = c.node
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
