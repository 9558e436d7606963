package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/driver/drivertest"
	"github.com/terminail/autodroid-sub001/internal/results"
	"github.com/terminail/autodroid-sub001/internal/scheduler"
	"github.com/terminail/autodroid-sub001/internal/script"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// fakeRegistry hands out devices in order and records releases.
type fakeRegistry struct {
	mu       sync.Mutex
	free     []device.Device
	held     map[string]string
	released []string
	offline  []string
	lost     map[string]bool
}

func newFakeRegistry(ids ...string) *fakeRegistry {
	r := &fakeRegistry{held: make(map[string]string), lost: make(map[string]bool)}
	for _, id := range ids {
		r.free = append(r.free, device.Device{ID: id, Online: true, BatteryLevel: 80})
	}
	return r
}

func (r *fakeRegistry) ReserveMatching(sel device.Selector, owner string) (device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.free {
		if sel.Matches(&d) {
			r.free = append(r.free[:i], r.free[i+1:]...)
			r.held[d.ID] = owner
			return d, nil
		}
	}
	return device.Device{}, device.ErrNoDeviceAvailable
}

func (r *fakeRegistry) Release(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
	r.released = append(r.released, id)
	r.free = append(r.free, device.Device{ID: id, Online: true})
	return nil
}

func (r *fakeRegistry) MarkOffline(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
	r.offline = append(r.offline, id)
	return nil
}

func (r *fakeRegistry) IsOnline(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lost[id]
}

func (r *fakeRegistry) drop(id string) {
	r.mu.Lock()
	r.lost[id] = true
	r.mu.Unlock()
}

// fakeDriver returns one drivertest device per id.
type fakeDriver struct {
	mu      sync.Mutex
	devices map[string]*drivertest.Device
	fail    error
}

func (d *fakeDriver) Connect(_ context.Context, id string) (driver.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	if d.devices == nil {
		d.devices = make(map[string]*drivertest.Device)
	}
	dev, ok := d.devices[id]
	if !ok {
		dev = drivertest.New(id)
		d.devices[id] = dev
	}
	return dev, nil
}

// recordingSink keeps every saved result.
type recordingSink struct {
	mu      sync.Mutex
	results []script.Result
	saved   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{saved: make(chan struct{}, 64)}
}

func (s *recordingSink) Save(_ context.Context, res script.Result) error {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	s.saved <- struct{}{}
	return nil
}

func (s *recordingSink) all() []script.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]script.Result(nil), s.results...)
}

type queueSamples struct {
	mu sync.Mutex
	n  int
}

func (q *queueSamples) WriteQueueDepth(int, int, time.Time) {
	q.mu.Lock()
	q.n++
	q.mu.Unlock()
}

func engineWith(fns map[string]script.ScriptFunc) *script.Engine {
	src := script.NewStaticSource("test")
	for name, fn := range fns {
		f := fn
		if err := src.Register(script.Module{
			Name:    name,
			Version: "1.0.0",
			Units:   []script.Factory{func() script.Script { return f }},
		}); err != nil {
			panic(err)
		}
	}
	return script.NewEngine(src)
}

func succeed(_ context.Context, data map[string]any, dev driver.Device) (script.Outcome, error) {
	if err := dev.Tap(context.Background(), 1, 1); err != nil {
		return script.Outcome{}, err
	}
	return script.Outcome{Status: script.StatusSuccess, Message: "ok", Data: data}, nil
}

func plan(id, workscript string) scheduler.TestPlan {
	return scheduler.TestPlan{
		ID:         id,
		Workscript: workscript,
		Data:       map[string]any{"package": "com.example"},
		Schedule:   scheduler.Schedule{Type: scheduler.ScheduleInterval, IntervalMinutes: 30},
		Priority:   1,
		Enabled:    true,
	}
}

type fixture struct {
	sched *scheduler.Scheduler
	reg   *fakeRegistry
	drv   *fakeDriver
	sink  *recordingSink
	orch  *Orchestrator
}

func newFixture(t *testing.T, reg *fakeRegistry, eng *script.Engine, plans ...scheduler.TestPlan) *fixture {
	t.Helper()
	sched := scheduler.New(scheduler.Options{Tick: 10 * time.Millisecond, Now: func() time.Time { return epoch }})
	for _, p := range plans {
		if err := sched.AddPlan(p); err != nil {
			t.Fatalf("AddPlan(%s) error = %v", p.ID, err)
		}
	}
	f := &fixture{sched: sched, reg: reg, drv: &fakeDriver{}, sink: newRecordingSink()}
	f.orch = New(sched, reg, f.drv, eng, f.sink, Options{Workers: 2, DrainTimeout: time.Second})
	return f
}

func (f *fixture) next(t *testing.T) scheduler.Task {
	t.Helper()
	task, ok := f.sched.GetNextTask()
	if !ok {
		t.Fatal("GetNextTask() = false, want a task")
	}
	return task
}

// ─── Execute ───────────────────────────────────────────────────────

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t, newFakeRegistry("emulator-5554"),
		engineWith(map[string]script.ScriptFunc{"smoke": succeed}), plan("p1", "smoke"))
	f.sched.Tick(epoch)

	f.orch.Execute(context.Background(), f.next(t))

	got := f.sink.all()
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	res := got[0]
	if res.Status != script.StatusSuccess {
		t.Errorf("Status = %q, want success (message %q)", res.Status, res.Message)
	}
	if res.DeviceID != "emulator-5554" || res.WorkplanID != "p1" {
		t.Errorf("DeviceID, WorkplanID = %q, %q", res.DeviceID, res.WorkplanID)
	}
	if len(f.reg.released) != 1 || f.reg.released[0] != "emulator-5554" {
		t.Errorf("released = %v, want [emulator-5554]", f.reg.released)
	}
	if f.sched.IsOutstanding("p1") {
		t.Error("plan still outstanding after completion")
	}
	st := f.orch.Stats()
	if st.Executed != 1 || st.Succeeded != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestExecuteNoDeviceSkips(t *testing.T) {
	f := newFixture(t, newFakeRegistry(),
		engineWith(map[string]script.ScriptFunc{"smoke": succeed}), plan("p1", "smoke"))
	f.sched.Tick(epoch)

	f.orch.Execute(context.Background(), f.next(t))

	if n := len(f.sink.all()); n != 0 {
		t.Errorf("results = %d, want 0 for a skipped task", n)
	}
	if f.sched.IsOutstanding("p1") {
		t.Error("skipped plan still outstanding")
	}
	if due := f.sched.GetDuePlans(epoch); len(due) != 1 {
		t.Errorf("GetDuePlans() = %d plans, want the skipped plan due again", len(due))
	}
	if st := f.orch.Stats(); st.Skipped != 1 || st.Executed != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestExecuteSelectorRespected(t *testing.T) {
	reg := newFakeRegistry("emulator-5554", "R58M123")
	p := plan("p1", "smoke")
	p.DeviceSelector = device.Selector{DeviceID: "R58M123"}
	f := newFixture(t, reg, engineWith(map[string]script.ScriptFunc{"smoke": succeed}), p)
	f.sched.Tick(epoch)

	f.orch.Execute(context.Background(), f.next(t))

	if got := f.sink.all(); len(got) != 1 || got[0].DeviceID != "R58M123" {
		t.Fatalf("results = %+v, want one run on R58M123", got)
	}
}

func TestExecuteValidationError(t *testing.T) {
	reg := newFakeRegistry("emulator-5554")
	f := newFixture(t, reg, engineWith(nil))

	f.orch.Execute(context.Background(), scheduler.Task{ID: "t1", Plan: scheduler.TestPlan{ID: "adhoc"}})

	got := f.sink.all()
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	if got[0].Status != script.StatusError || got[0].ErrorType != script.ErrorTypeValidation {
		t.Errorf("Status, ErrorType = %q, %q; want error, validation_error", got[0].Status, got[0].ErrorType)
	}
	if len(reg.held) != 0 || len(reg.released) != 0 {
		t.Error("validation failure touched the registry")
	}
}

func TestExecuteConnectFailure(t *testing.T) {
	reg := newFakeRegistry("emulator-5554")
	f := newFixture(t, reg, engineWith(map[string]script.ScriptFunc{"smoke": succeed}), plan("p1", "smoke"))
	f.drv.fail = errors.New("adb: no route")
	f.sched.Tick(epoch)

	f.orch.Execute(context.Background(), f.next(t))

	got := f.sink.all()
	if len(got) != 1 || got[0].ErrorType != script.ErrorTypeConnectFail {
		t.Fatalf("results = %+v, want one connect_failed", got)
	}
	if len(reg.released) != 1 {
		t.Errorf("released = %v, want the device released", reg.released)
	}
}

func TestExecuteDeviceLostMarksOffline(t *testing.T) {
	reg := newFakeRegistry("emulator-5554")
	lose := func(_ context.Context, _ map[string]any, dev driver.Device) (script.Outcome, error) {
		reg.drop(dev.ID())
		return script.Outcome{}, dev.Tap(context.Background(), 1, 1)
	}
	f := newFixture(t, reg, engineWith(map[string]script.ScriptFunc{"lose": lose}), plan("p1", "lose"))
	f.sched.Tick(epoch)

	f.orch.Execute(context.Background(), f.next(t))

	got := f.sink.all()
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	if !got[0].DeviceLost || got[0].ErrorType != script.ErrorTypeDeviceLost {
		t.Errorf("DeviceLost, ErrorType = %v, %q", got[0].DeviceLost, got[0].ErrorType)
	}
	if len(reg.offline) != 1 || len(reg.released) != 0 {
		t.Errorf("offline = %v, released = %v; want marked offline only", reg.offline, reg.released)
	}
}

func TestExecuteMergesEventData(t *testing.T) {
	var seen map[string]any
	capture := func(_ context.Context, data map[string]any, _ driver.Device) (script.Outcome, error) {
		seen = data
		return script.Outcome{Status: script.StatusSuccess}, nil
	}
	p := plan("on-connect", "capture")
	p.Schedule = scheduler.Schedule{Type: scheduler.ScheduleEvent, EventTrigger: &scheduler.EventTrigger{Type: device.EventOnline}}
	f := newFixture(t, newFakeRegistry("emulator-5554"), engineWith(map[string]script.ScriptFunc{"capture": capture}), p)

	f.orch.HandleDeviceEvent(device.Event{Type: device.EventOnline, Device: device.Device{ID: "emulator-5554"}})
	f.orch.Execute(context.Background(), f.next(t))

	if seen["package"] != "com.example" {
		t.Errorf("data[package] = %v, want plan data kept", seen["package"])
	}
	event, ok := seen["event"].(map[string]any)
	if !ok || event["device_id"] != "emulator-5554" {
		t.Errorf("data[event] = %v, want trigger data", seen["event"])
	}
}

// ─── Events ────────────────────────────────────────────────────────

func TestEventHandler(t *testing.T) {
	p := plan("on-deploy", "smoke")
	p.Schedule = scheduler.Schedule{Type: scheduler.ScheduleEvent, EventTrigger: &scheduler.EventTrigger{
		Type:       "app.deployed",
		Conditions: map[string]any{"package": "com.example"},
	}}
	f := newFixture(t, newFakeRegistry(), engineWith(nil), p)
	h := f.orch.EventHandler()

	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr bool
		queued  int
	}{
		{"not matching", "fleet/events/app.deployed", `{"package":"com.other"}`, false, 0},
		{"bad topic", "fleet/devices/x/info", `{}`, true, 0},
		{"bad json", "fleet/events/app.deployed", `{`, true, 0},
		{"matching", "fleet/events/app.deployed", `{"package":"com.example"}`, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := f.sched.QueueLength(); got != tt.queued {
				t.Errorf("QueueLength() = %d, want %d", got, tt.queued)
			}
		})
	}
}

// ─── Run ───────────────────────────────────────────────────────────

func TestRunDispatchesAndDrains(t *testing.T) {
	reg := newFakeRegistry("emulator-5554", "emulator-5556")
	release := make(chan struct{})
	slowStarted := make(chan struct{})
	slow := func(ctx context.Context, _ map[string]any, _ driver.Device) (script.Outcome, error) {
		close(slowStarted)
		<-release
		return script.Outcome{Status: script.StatusSuccess}, nil
	}
	f := newFixture(t, reg, engineWith(map[string]script.ScriptFunc{"smoke": succeed, "slow": slow}),
		plan("fast", "smoke"), plan("slow", "slow"))
	samples := &queueSamples{}
	f.orch.opts.Queue = samples

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	select {
	case <-f.sink.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("no result within 2s")
	}
	select {
	case <-slowStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("slow task did not start")
	}

	// The slow task is in flight; shutdown must wait for it.
	cancel()
	select {
	case err := <-done:
		t.Fatalf("Run returned %v before the in-flight task finished", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain")
	}

	if n := len(f.sink.all()); n != 2 {
		t.Errorf("results = %d, want 2", n)
	}
	if !f.sched.Stopped() {
		t.Error("scheduler not stopped after Run")
	}
	samples.mu.Lock()
	defer samples.mu.Unlock()
	if samples.n == 0 {
		t.Error("queue depth never sampled")
	}
}

func TestRunDrainTimeoutCancelsWork(t *testing.T) {
	reg := newFakeRegistry("emulator-5554")
	started := make(chan struct{})
	hang := func(ctx context.Context, _ map[string]any, _ driver.Device) (script.Outcome, error) {
		close(started)
		<-ctx.Done()
		return script.Outcome{}, ctx.Err()
	}
	f := newFixture(t, reg, engineWith(map[string]script.ScriptFunc{"hang": hang}), plan("p1", "hang"))
	f.orch.opts.DrainTimeout = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not start")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain timeout")
	}
	got := f.sink.all()
	if len(got) != 1 || got[0].ErrorType != script.ErrorTypeCancelled {
		t.Errorf("results = %+v, want one cancelled", got)
	}
}

func TestEndToEndOverBus(t *testing.T) {
	b := bus.NewMemoryBus()
	sim := driver.NewSimulator(b, []driver.SimulatedDevice{{ID: "sim-1", Model: "Pixel 8", BatteryLevel: 90}})
	if err := sim.Start(); err != nil {
		t.Fatalf("simulator Start() error = %v", err)
	}
	drv := driver.NewBusDriver(b, time.Second)
	if err := drv.Start(); err != nil {
		t.Fatalf("driver Start() error = %v", err)
	}

	reg := device.NewRegistry(device.Options{Now: func() time.Time { return epoch }})
	defer reg.Close()
	if err := reg.Observe(device.Observation{ID: "sim-1", Model: "Pixel 8", BatteryLevel: 90, Source: device.SourceBus, At: epoch}); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}

	sched := scheduler.New(scheduler.Options{Now: func() time.Time { return epoch }})
	p := plan("smoke", script.AppSmokeName)
	p.Data = map[string]any{"package": "com.example", "settle_ms": 0}
	if err := sched.AddPlan(p); err != nil {
		t.Fatalf("AddPlan() error = %v", err)
	}

	sink := newRecordingSink()
	orch := New(sched, reg, drv, script.NewEngine(script.Builtins()), results.SinkFunc(sink.Save), Options{Workers: 1})
	sched.Tick(epoch)
	task, ok := sched.GetNextTask()
	if !ok {
		t.Fatal("no task enqueued")
	}
	orch.Execute(context.Background(), task)

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("results = %d, want 1", len(got))
	}
	if got[0].Status != script.StatusSuccess {
		t.Fatalf("Status = %q (%s: %s)", got[0].Status, got[0].ErrorType, got[0].Message)
	}
	d, err := reg.GetDevice("sim-1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if d.Reserved {
		t.Error("device still reserved after the run")
	}
	if len(sim.Commands()) == 0 {
		t.Error("simulator received no commands")
	}
}
