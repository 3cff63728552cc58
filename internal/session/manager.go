package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/events"
	"github.com/nerrad567/gray-logic-relay/internal/link"
	"github.com/nerrad567/gray-logic-relay/internal/retry"
)

// ErrSessionUnavailable is returned when a bounded retry policy ran out of
// attempts before the broker accepted a session.
var ErrSessionUnavailable = errors.New("session: unavailable")

// ErrLinkUnavailable is returned when the network link is down during
// an Ensure. The supervisor re-checks the link on its next cycle.
var ErrLinkUnavailable = link.ErrLinkUnavailable

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxPayload = 256
)

// State is the session state owned by the Manager.
type State int

const (
	// Disconnected means no usable broker session exists.
	Disconnected State = iota
	// Connected means the broker accepted the session and the control
	// topic subscription is in place.
	Connected
)

// String returns "disconnected" or "connected".
func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Transport is the broker client the manager drives.
// *mqtt.Client satisfies it.
type Transport interface {
	SetServer(host string, port int)
	SetCallback(fn func(topic string, payload []byte))
	Connect(ctx context.Context, clientID string) error
	IsConnected() bool
	Subscribe(ctx context.Context, topic string) error
	// Loop delivers queued messages and reports whether the connection
	// is still open.
	Loop() bool
	Disconnect()
}

// Link reports whether the network link is up.
type Link interface {
	IsUp() bool
}

// MessageHandler receives decoded control messages.
type MessageHandler interface {
	OnControlMessage(topic, message string)
}

// Config holds the session parameters.
type Config struct {
	Host     string
	Port     int
	ClientID string
	Topic    string

	// Retry controls reconnect attempts. Zero MaxAttempts retries forever;
	// zero Delay uses 2s.
	Retry retry.Policy

	// MaxPayload is the largest accepted message in bytes. Default 256.
	MaxPayload int
}

// Logger is the logging surface the manager needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Snapshot is a point-in-time view of the session for status reporting.
type Snapshot struct {
	State      string    `json:"state"`
	ClientID   string    `json:"client_id"`
	Topic      string    `json:"topic"`
	Connects   uint64    `json:"connects"`
	Subscribes uint64    `json:"subscribes"`
	Messages   uint64    `json:"messages"`
	Dropped    uint64    `json:"dropped"`
	Since      time.Time `json:"since"`
}

// Manager owns the broker session: it connects, subscribes to the control
// topic after every new connection, and forwards inbound messages to the
// handler.
//
// Ensure and Pump are meant for a single supervisory goroutine. Snapshot
// is safe to call from anywhere.
type Manager struct {
	transport Transport
	link      Link
	handler   MessageHandler
	cfg       Config
	logger    Logger
	publisher events.Publisher

	mu         sync.RWMutex
	state      State
	since      time.Time
	connects   uint64
	subscribes uint64
	messages   uint64
	dropped    uint64
}

// NewManager creates a session manager and registers its message callback
// with transport.
func NewManager(transport Transport, lnk Link, handler MessageHandler, cfg Config, logger Logger, publisher events.Publisher) *Manager {
	if cfg.Retry.Delay <= 0 {
		cfg.Retry.Delay = defaultRetryDelay
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = defaultMaxPayload
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if publisher == nil {
		publisher = events.Discard
	}

	m := &Manager{
		transport: transport,
		link:      lnk,
		handler:   handler,
		cfg:       cfg,
		logger:    logger,
		publisher: publisher,
		since:     time.Now(),
	}
	transport.SetServer(cfg.Host, cfg.Port)
	transport.SetCallback(m.onMessage)
	return m
}

// Ensure makes sure a subscribed session exists.
//
// When already connected it returns immediately. Otherwise it retries
// connect and subscribe under cfg.Retry until one succeeds, the link goes
// down (ErrLinkUnavailable), ctx ends, or a bounded policy runs out
// (ErrSessionUnavailable). Connect failures of any kind are treated the
// same way.
func (m *Manager) Ensure(ctx context.Context) error {
	if m.State() == Connected {
		if m.transport.IsConnected() {
			return nil
		}
		m.markDisconnected("transport reported disconnected")
	}

	err := m.cfg.Retry.Do(ctx, func(attempt int) error {
		if m.link != nil && !m.link.IsUp() {
			return retry.Stop(ErrLinkUnavailable)
		}
		return m.attempt(ctx, attempt)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, retry.ErrExhausted):
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	default:
		return err
	}
}

func (m *Manager) attempt(ctx context.Context, attempt int) error {
	m.logger.Info("connecting to broker", "host", m.cfg.Host, "port", m.cfg.Port, "client_id", m.cfg.ClientID, "attempt", attempt)

	if err := m.transport.Connect(ctx, m.cfg.ClientID); err != nil {
		m.logger.Warn("broker connect failed, retrying", "error", err, "retry_in", m.cfg.Retry.Delay)
		return err
	}
	m.markConnecting()

	if err := m.transport.Subscribe(ctx, m.cfg.Topic); err != nil {
		m.logger.Warn("control topic subscribe failed, dropping session", "topic", m.cfg.Topic, "error", err)
		m.transport.Disconnect()
		return err
	}

	m.mu.Lock()
	m.state = Connected
	m.since = time.Now()
	m.subscribes++
	m.mu.Unlock()

	m.logger.Info("broker session established", "client_id", m.cfg.ClientID, "topic", m.cfg.Topic)
	m.publisher.Publish(events.Event{
		Type:   events.SessionConnected,
		Source: "session",
		Data:   map[string]any{"client_id": m.cfg.ClientID},
	})
	m.publisher.Publish(events.Event{
		Type:   events.SessionSubscribed,
		Source: "session",
		Data:   map[string]any{"topic": m.cfg.Topic},
	})
	return nil
}

// markConnecting counts a broker-accepted connection. The state stays
// Disconnected until the subscription is in place.
func (m *Manager) markConnecting() {
	m.mu.Lock()
	m.connects++
	m.mu.Unlock()
}

func (m *Manager) markDisconnected(reason string) {
	m.mu.Lock()
	wasConnected := m.state == Connected
	m.state = Disconnected
	m.since = time.Now()
	m.mu.Unlock()

	if wasConnected {
		m.logger.Warn("broker session lost", "reason", reason)
		m.publisher.Publish(events.Event{
			Type:   events.SessionDisconnected,
			Source: "session",
			Data:   map[string]any{"reason": reason},
		})
	}
}

// Pump services one round of inbound delivery. It does nothing while
// disconnected.
func (m *Manager) Pump() {
	if m.State() != Connected {
		return
	}
	if !m.transport.Loop() {
		m.markDisconnected("connection closed during pump")
	}
}

// onMessage is the transport callback. It runs inside Pump.
func (m *Manager) onMessage(topic string, payload []byte) {
	if len(payload) > m.cfg.MaxPayload {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		m.logger.Warn("control message too large, dropped", "topic", topic, "size", len(payload), "max", m.cfg.MaxPayload)
		return
	}

	message := string(payload)

	m.mu.Lock()
	m.messages++
	m.mu.Unlock()

	m.logger.Debug("message arrived", "topic", topic, "message", message)
	m.publisher.Publish(events.Event{
		Type:   events.ControlReceived,
		Source: "session",
		Data:   map[string]any{"topic": topic, "message": message},
	})

	if m.handler != nil {
		m.handler.OnControlMessage(topic, message)
	}
}

// Disconnect closes the session and marks it Disconnected.
func (m *Manager) Disconnect() {
	m.transport.Disconnect()
	m.markDisconnected("closed")
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Snapshot returns the session state and counters.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		State:      m.state.String(),
		ClientID:   m.cfg.ClientID,
		Topic:      m.cfg.Topic,
		Connects:   m.connects,
		Subscribes: m.subscribes,
		Messages:   m.messages,
		Dropped:    m.dropped,
		Since:      m.since,
	}
}
