package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/link"
)

// recorder collects the order of calls across fakes.
type recorder struct{ calls []string }

type fakeLink struct {
	rec *recorder
	err error
}

func (l *fakeLink) Ensure(context.Context) (link.State, error) {
	l.rec.calls = append(l.rec.calls, "link")
	if l.err != nil {
		return link.State{}, l.err
	}
	return link.State{Connected: true}, nil
}

type fakeSession struct {
	rec *recorder
	err error
}

func (s *fakeSession) Ensure(context.Context) error {
	s.rec.calls = append(s.rec.calls, "session")
	return s.err
}

func (s *fakeSession) Pump() {
	s.rec.calls = append(s.rec.calls, "pump")
}

func newTestSupervisor(linkErr, sessionErr error) (*Supervisor, *recorder, time.Time) {
	rec := &recorder{}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(&fakeLink{rec: rec, err: linkErr}, &fakeSession{rec: rec, err: sessionErr}, Config{}, nil, start)
	return s, rec, start
}

// ===== Tick Tests =====

func TestTick_ColdStart(t *testing.T) {
	s, rec, start := newTestSupervisor(nil, nil)

	if !s.Tick(context.Background(), start.Add(2000*time.Millisecond)) {
		t.Fatal("Tick() at start+2000ms = false, want true")
	}

	if got := strings.Join(rec.calls, ","); got != "link,session,pump" {
		t.Errorf("calls = %q, want %q", got, "link,session,pump")
	}
}

func TestTick_Gate(t *testing.T) {
	tests := []struct {
		name    string
		offsets []time.Duration
		cycles  uint64
	}{
		{name: "before interval", offsets: []time.Duration{1999 * time.Millisecond}, cycles: 0},
		{name: "exactly interval", offsets: []time.Duration{2000 * time.Millisecond}, cycles: 1},
		{name: "two ticks in one window", offsets: []time.Duration{2000 * time.Millisecond, 3500 * time.Millisecond}, cycles: 1},
		{name: "two windows", offsets: []time.Duration{2000 * time.Millisecond, 4000 * time.Millisecond}, cycles: 2},
		{name: "late tick resets window", offsets: []time.Duration{2500 * time.Millisecond, 4000 * time.Millisecond, 4500 * time.Millisecond}, cycles: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec, start := newTestSupervisor(nil, nil)
			for _, off := range tt.offsets {
				s.Tick(context.Background(), start.Add(off))
			}
			if got := s.Stats().Cycles; got != tt.cycles {
				t.Errorf("Cycles = %d, want %d", got, tt.cycles)
			}
			if got := uint64(len(rec.calls)); got != tt.cycles*3 {
				t.Errorf("calls = %d, want %d", got, tt.cycles*3)
			}
		})
	}
}

func TestTick_LinkErrorStopsCycle(t *testing.T) {
	s, rec, start := newTestSupervisor(link.ErrLinkUnavailable, nil)

	s.Tick(context.Background(), start.Add(2*time.Second))

	if got := strings.Join(rec.calls, ","); got != "link" {
		t.Errorf("calls = %q, want %q", got, "link")
	}
	if s.Stats().LinkErrors != 1 {
		t.Errorf("LinkErrors = %d, want 1", s.Stats().LinkErrors)
	}
}

func TestTick_SessionErrorStillPumps(t *testing.T) {
	s, rec, start := newTestSupervisor(nil, errors.New("broker unreachable"))

	s.Tick(context.Background(), start.Add(2*time.Second))

	if got := strings.Join(rec.calls, ","); got != "link,session,pump" {
		t.Errorf("calls = %q, want %q", got, "link,session,pump")
	}
	if s.Stats().SessionErrs != 1 {
		t.Errorf("SessionErrs = %d, want 1", s.Stats().SessionErrs)
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, nil, Config{}, nil, time.Now())
	if s.cfg.Interval != 2*time.Second {
		t.Errorf("Interval = %v, want 2s", s.cfg.Interval)
	}
	if s.cfg.Resolution != 50*time.Millisecond {
		t.Errorf("Resolution = %v, want 50ms", s.cfg.Resolution)
	}
}

// ===== Run Tests =====

func TestRun_StopsOnCancel(t *testing.T) {
	rec := &recorder{}
	s := New(&fakeLink{rec: rec}, &fakeSession{rec: rec}, Config{Interval: time.Millisecond, Resolution: time.Millisecond}, nil, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if s.Stats().Cycles == 0 {
		t.Error("Run() completed no cycles")
	}
}
