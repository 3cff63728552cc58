package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies what happened.
type Type string

// Event types emitted by the relay.
const (
	LinkUp              Type = "link.up"
	LinkDown            Type = "link.down"
	SessionConnected    Type = "session.connected"
	SessionDisconnected Type = "session.disconnected"
	SessionSubscribed   Type = "session.subscribed"
	ControlReceived     Type = "control.received"
	ControlIgnored      Type = "control.ignored"
	PinSet              Type = "pin.set"
)

// Event is a single state change observed by a component.
type Event struct {
	Type      Type           `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(e Event)
}

// Sink receives events dispatched by a Bus.
type Sink interface {
	HandleEvent(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, e Event) error

// HandleEvent calls f(ctx, e).
func (f SinkFunc) HandleEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Logger is the logging surface the bus needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

type namedSink struct {
	name string
	sink Sink
}

// Bus fans events out to registered sinks on a single goroutine.
//
// Publish never blocks: when the buffer is full the event is dropped and
// counted. Sinks are called in registration order.
//
// Thread Safety:
//   - Publish and Dropped are safe for concurrent use.
//   - Subscribe must be called before Run.
type Bus struct {
	queue   chan Event
	sinks   []namedSink
	mu      sync.Mutex
	logger  Logger
	dropped atomic.Uint64
	now     func() time.Time
}

// NewBus creates a bus buffering up to size events.
func NewBus(size int, logger Logger) *Bus {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Bus{
		queue:  make(chan Event, size),
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe registers a sink under name.
func (b *Bus) Subscribe(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, namedSink{name: name, sink: sink})
}

// Publish queues e for delivery. A zero Timestamp is set to now.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	select {
	case b.queue <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Run dispatches queued events until ctx is cancelled, then delivers
// whatever is still buffered and returns.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	// Sinks get a fresh context so shutdown writes still go through.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-b.queue:
			b.dispatch(ctx, e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.Lock()
	sinks := make([]namedSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, s := range sinks {
		if err := s.sink.HandleEvent(ctx, e); err != nil {
			b.logger.Warn("event sink failed", "sink", s.name, "type", string(e.Type), "error", err)
		}
	}
}
