package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeEnumerator struct {
	mu     sync.Mutex
	result []Observation
	err    error
	calls  int
}

func (f *fakeEnumerator) Enumerate(context.Context) ([]Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeEnumerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPoller_PollOnceFeedsRegistry(t *testing.T) {
	r, _ := newTestRegistry(t)
	enum := &fakeEnumerator{result: []Observation{{ID: "emulator-5554", BatteryLevel: 90, Source: SourceADB}}}
	p := NewPoller(r, enum, testPoll)

	var hooked []Observation
	p.OnObservations(func(obs []Observation) { hooked = obs })

	p.PollOnce(context.Background())

	if !r.IsOnline("emulator-5554") {
		t.Error("polled device not online")
	}
	if len(hooked) != 1 {
		t.Errorf("observation hook got %d entries, want 1", len(hooked))
	}
}

func TestPoller_EnumerationErrorKeepsState(t *testing.T) {
	r, clock := newTestRegistry(t)
	observe(t, r, "d1", 90)

	enum := &fakeEnumerator{err: errors.New("adb daemon gone")}
	p := NewPoller(r, enum, testPoll)

	p.PollOnce(context.Background())
	if !r.IsOnline("d1") {
		t.Fatal("enumeration failure dropped last-known state")
	}

	// The sweep still ages out devices nobody reports.
	clock.Advance(3 * testPoll)
	p.PollOnce(context.Background())
	d, _ := r.GetDevice("d1")
	if d.Online {
		t.Error("stale device not marked offline on failed poll")
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	r, _ := newTestRegistry(t)
	enum := &fakeEnumerator{}
	p := NewPoller(r, enum, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for enum.Calls() < 2 {
		select {
		case <-deadline:
			t.Fatal("poller did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
