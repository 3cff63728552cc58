package control

import (
	"sync"

	"github.com/nerrad567/gray-logic-relay/internal/events"
)

// Level is the logical state of the output line.
type Level int

const (
	// Low drives the output inactive.
	Low Level = iota
	// High drives the output active.
	High
)

// String returns "low" or "high".
func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Pin is a single digital output.
type Pin interface {
	Set(level Level) error
}

// Wire payloads.
const (
	PayloadOn  = "1"
	PayloadOff = "0"
)

// Logger is the logging surface the handler needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handler maps control messages onto the output pin.
//
// Only the exact payloads "1" and "0" change the pin; anything else is
// ignored. Handler also remembers the last level it applied so the
// status API can report it.
type Handler struct {
	pin       Pin
	logger    Logger
	publisher events.Publisher

	mu      sync.RWMutex
	level   Level
	applied uint64
	ignored uint64
}

// NewHandler creates a handler driving pin. initial is the level the pin
// was put in at startup.
func NewHandler(pin Pin, initial Level, logger Logger, publisher events.Publisher) *Handler {
	if logger == nil {
		logger = noopLogger{}
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Handler{
		pin:       pin,
		logger:    logger,
		publisher: publisher,
		level:     initial,
	}
}

// OnControlMessage applies message to the pin. topic is only used for
// logging; the session already filters on the control topic.
func (h *Handler) OnControlMessage(topic, message string) {
	var level Level
	switch message {
	case PayloadOn:
		level = High
	case PayloadOff:
		level = Low
	default:
		h.mu.Lock()
		h.ignored++
		h.mu.Unlock()
		h.logger.Debug("ignoring control message", "topic", topic, "message", message)
		h.publisher.Publish(events.Event{
			Type:   events.ControlIgnored,
			Source: "control",
			Data:   map[string]any{"topic": topic, "message": message},
		})
		return
	}

	if err := h.pin.Set(level); err != nil {
		h.logger.Error("setting output failed", "level", level.String(), "error", err)
		return
	}

	h.mu.Lock()
	h.level = level
	h.applied++
	h.mu.Unlock()

	h.logger.Info("output set", "topic", topic, "level", level.String())
	h.publisher.Publish(events.Event{
		Type:   events.PinSet,
		Source: "control",
		Data:   map[string]any{"topic": topic, "level": level.String()},
	})
}

// Status is a snapshot of the handler's counters.
type Status struct {
	Level   Level  `json:"-"`
	State   string `json:"level"`
	Applied uint64 `json:"applied"`
	Ignored uint64 `json:"ignored"`
}

// Status returns the last applied level and message counters.
func (h *Handler) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Status{
		Level:   h.level,
		State:   h.level.String(),
		Applied: h.applied,
		Ignored: h.ignored,
	}
}
