package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) HandleEvent(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type warnCounter struct {
	mu    sync.Mutex
	warns int
}

func (w *warnCounter) Warn(string, ...any) {
	w.mu.Lock()
	w.warns++
	w.mu.Unlock()
}

func TestBus_DeliversToAllSinks(t *testing.T) {
	bus := NewBus(8, nil)
	first := &recordingSink{}
	second := &recordingSink{}
	bus.Subscribe("first", first)
	bus.Subscribe("second", second)

	bus.Publish(Event{Type: LinkUp, Source: "link"})
	bus.Publish(Event{Type: PinSet, Source: "control", Data: map[string]any{"level": "high"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	if first.count() != 2 || second.count() != 2 {
		t.Fatalf("delivered = %d/%d, want 2/2", first.count(), second.count())
	}
	if first.events[0].Type != LinkUp || first.events[1].Type != PinSet {
		t.Errorf("order = %v,%v, want link.up,pin.set", first.events[0].Type, first.events[1].Type)
	}
	if first.events[0].Timestamp.IsZero() {
		t.Error("Publish() left Timestamp zero")
	}
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(1, nil)
	bus.Publish(Event{Type: LinkUp})
	bus.Publish(Event{Type: LinkDown})
	bus.Publish(Event{Type: LinkUp})

	if got := bus.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestBus_SinkErrorIsLogged(t *testing.T) {
	logger := &warnCounter{}
	bus := NewBus(4, logger)
	failing := &recordingSink{err: errors.New("disk full")}
	ok := &recordingSink{}
	bus.Subscribe("failing", failing)
	bus.Subscribe("ok", ok)

	bus.Publish(Event{Type: SessionConnected})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	if ok.count() != 1 {
		t.Errorf("ok sink delivered = %d, want 1", ok.count())
	}
	if logger.warns != 1 {
		t.Errorf("warnings = %d, want 1", logger.warns)
	}
}

func TestBus_RunDispatchesWhileRunning(t *testing.T) {
	bus := NewBus(4, nil)
	sink := &recordingSink{}
	bus.Subscribe("sink", sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(done)
	}()

	bus.Publish(Event{Type: PinSet})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if sink.count() != 1 {
		t.Errorf("delivered = %d, want 1", sink.count())
	}
}

func TestSinkFunc(t *testing.T) {
	var got Type
	s := SinkFunc(func(_ context.Context, e Event) error {
		got = e.Type
		return nil
	})
	if err := s.HandleEvent(context.Background(), Event{Type: ControlIgnored}); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if got != ControlIgnored {
		t.Errorf("got = %v, want %v", got, ControlIgnored)
	}
}
