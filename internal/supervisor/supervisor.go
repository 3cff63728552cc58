package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/link"
)

const (
	defaultInterval   = 2 * time.Second
	defaultResolution = 50 * time.Millisecond
)

// LinkEnsurer brings the network link up.
type LinkEnsurer interface {
	Ensure(ctx context.Context) (link.State, error)
}

// SessionEnsurer brings the broker session up and services it.
type SessionEnsurer interface {
	Ensure(ctx context.Context) error
	Pump()
}

// Logger is the logging surface the supervisor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds supervisor timing.
type Config struct {
	// Interval is the minimum time between cycles. Default 2s.
	Interval time.Duration

	// Resolution is how often Run calls Tick. Default 50ms.
	Resolution time.Duration
}

// Stats counts supervisor activity.
type Stats struct {
	Cycles      uint64    `json:"cycles"`
	LinkErrors  uint64    `json:"link_errors"`
	SessionErrs uint64    `json:"session_errors"`
	LastRun     time.Time `json:"last_run"`
}

// Supervisor runs the connectivity cycle: ensure link, ensure session,
// pump inbound messages. Cycles are gated so that at most one runs per
// Interval no matter how often Tick is called.
type Supervisor struct {
	link    LinkEnsurer
	session SessionEnsurer
	cfg     Config
	logger  Logger

	mu      sync.RWMutex
	lastRun time.Time
	stats   Stats
}

// New creates a supervisor. start is the reference time for the first
// gate: the first cycle runs once Interval has passed since start.
func New(lnk LinkEnsurer, session SessionEnsurer, cfg Config, logger Logger, start time.Time) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = defaultResolution
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Supervisor{
		link:    lnk,
		session: session,
		cfg:     cfg,
		logger:  logger,
		lastRun: start,
	}
}

// Tick runs one cycle if at least Interval has passed since the last one
// and reports whether it did.
//
// Order within a cycle is fixed: link, then session, then pump. A link
// failure ends the cycle early. A session failure is logged and the pump
// still runs (it is a no-op while disconnected).
func (s *Supervisor) Tick(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if now.Sub(s.lastRun) < s.cfg.Interval {
		s.mu.Unlock()
		return false
	}
	s.lastRun = now
	s.stats.Cycles++
	s.stats.LastRun = now
	s.mu.Unlock()

	if _, err := s.link.Ensure(ctx); err != nil {
		s.count(func(st *Stats) { st.LinkErrors++ })
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("link not available, skipping session", "error", err)
		}
		return true
	}

	if err := s.session.Ensure(ctx); err != nil {
		s.count(func(st *Stats) { st.SessionErrs++ })
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("broker session not available", "error", err)
		}
	}

	s.session.Pump()
	return true
}

// Run calls Tick every Resolution until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Resolution)
	defer ticker.Stop()

	s.logger.Debug("supervisor started", "interval", s.cfg.Interval, "resolution", s.cfg.Resolution)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Stats returns a copy of the cycle counters.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Supervisor) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}
