package link

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/events"
	"github.com/nerrad567/gray-logic-relay/internal/retry"
)

// ErrLinkUnavailable is returned when the link could not be brought up
// before the context ended or the ensure timeout passed.
var ErrLinkUnavailable = errors.New("link: unavailable")

const defaultPollInterval = 100 * time.Millisecond

// State is the observed link state.
type State struct {
	Connected bool       `json:"connected"`
	Address   netip.Addr `json:"address"`
}

// Transport is the network interface the manager drives.
type Transport interface {
	// Begin starts association with the given network. It does not wait.
	Begin(ssid, password string) error
	IsConnected() bool
	LocalAddress() netip.Addr
}

// Config holds the credentials and timing for Ensure.
type Config struct {
	SSID     string
	Password string

	// PollInterval is the delay between status checks. Default 100ms.
	PollInterval time.Duration

	// Timeout bounds one Ensure call. Zero waits until connected.
	Timeout time.Duration
}

// Logger is the logging surface the manager needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Manager keeps the WiFi link up.
//
// Ensure is called from the supervisory goroutine; Current and IsUp may be
// called from anywhere.
type Manager struct {
	transport Transport
	cfg       Config
	logger    Logger
	publisher events.Publisher
	sleep     func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	state  State
	begins uint64
}

// NewManager creates a link manager over transport.
func NewManager(transport Transport, cfg Config, logger Logger, publisher events.Publisher) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if publisher == nil {
		publisher = events.Discard
	}
	return &Manager{
		transport: transport,
		cfg:       cfg,
		logger:    logger,
		publisher: publisher,
		sleep:     retry.Sleep,
	}
}

// Ensure returns immediately when the link is up. Otherwise it starts
// association and polls until the transport reports connected.
//
// Association errors are logged and polling continues. The only errors
// returned wrap ErrLinkUnavailable and come from ctx or cfg.Timeout.
func (m *Manager) Ensure(ctx context.Context) (State, error) {
	if st, ok := m.observe(); ok {
		return m.markUp(st), nil
	}
	m.markDown()

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	m.logger.Info("connecting to wifi", "ssid", m.cfg.SSID)
	m.mu.Lock()
	m.begins++
	m.mu.Unlock()
	if err := m.transport.Begin(m.cfg.SSID, m.cfg.Password); err != nil {
		m.logger.Warn("wifi association request failed", "ssid", m.cfg.SSID, "error", err)
	}

	started := time.Now()
	st, ok := m.observe()
	for !ok {
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return m.Current(), fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
		}
		st, ok = m.observe()
	}

	st = m.markUp(st)
	m.logger.Info("wifi connected", "ssid", m.cfg.SSID, "address", st.Address.String(), "waited", time.Since(started).Round(time.Millisecond))
	return st, nil
}

// IsUp asks the transport directly.
func (m *Manager) IsUp() bool {
	return m.transport.IsConnected()
}

// Current returns the state observed by the last Ensure.
func (m *Manager) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Begins returns how many association attempts were started.
func (m *Manager) Begins() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.begins
}

// observe reads the transport once. A link that reports connected but has
// no valid address counts as down.
func (m *Manager) observe() (State, bool) {
	if !m.transport.IsConnected() {
		return State{}, false
	}
	addr := m.transport.LocalAddress()
	if !addr.IsValid() {
		return State{}, false
	}
	return State{Connected: true, Address: addr}, true
}

func (m *Manager) markUp(st State) State {
	m.mu.Lock()
	changed := m.state != st
	m.state = st
	m.mu.Unlock()

	if changed {
		m.publisher.Publish(events.Event{
			Type:   events.LinkUp,
			Source: "link",
			Data:   map[string]any{"address": st.Address.String()},
		})
	}
	return st
}

func (m *Manager) markDown() {
	m.mu.Lock()
	wasUp := m.state.Connected
	m.state = State{}
	m.mu.Unlock()

	if wasUp {
		m.logger.Warn("wifi link lost", "ssid", m.cfg.SSID)
		m.publisher.Publish(events.Event{Type: events.LinkDown, Source: "link"})
	}
}
