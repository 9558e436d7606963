package results

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/database"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/influxdb"
	"github.com/terminail/autodroid-sub001/internal/script"
	"github.com/terminail/autodroid-sub001/migrations"
)

func sampleResult(taskID string) script.Result {
	idx := 1
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return script.Result{
		TaskID:     taskID,
		WorkplanID: "wp-1",
		DeviceID:   "emulator-5554",
		ScriptName: "login_smoke",
		Status:     script.StatusFailed,
		Message:    "step 1 (tap login) failed",
		Steps: []script.StepResult{
			{Index: 0, Name: "launch", Action: "launch_app", Success: true, Attempts: 1, Start: start, End: start.Add(time.Second), Duration: time.Second},
			{Index: 1, Name: "tap login", Action: "click", Success: false, Attempts: 2, Start: start.Add(time.Second), End: start.Add(3 * time.Second), Duration: 2 * time.Second, Error: "not resolved", Screenshot: "step-1-failure.png"},
		},
		StartTime:       start,
		EndTime:         start.Add(3 * time.Second),
		ExecutionTime:   3,
		ErrorType:       script.ErrorTypeStepFailed,
		FailedStepIndex: &idx,
		FailedStepName:  "tap login",
		EngineVersion:   script.EngineVersion,
		Artifacts:       []script.Artifact{{Name: "step-1-failure.png", ContentType: "image/png", Size: 3, Data: []byte("png")}},
		Data:            map[string]any{"attempted_user": "alice"},
	}
}

// ─── Pipeline ──────────────────────────────────────────────────────

type memStore struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (m *memStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.puts == nil {
		m.puts = map[string][]byte{}
	}
	m.puts[key] = data
	return "mem://" + key, nil
}

type recordingSink struct {
	mu   sync.Mutex
	got  []script.Result
	fail error
}

func (r *recordingSink) Save(_ context.Context, res script.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, res)
	return r.fail
}

func TestPipelineUploadsThenFansOut(t *testing.T) {
	store := &memStore{}
	first := &recordingSink{fail: errors.New("disk full")}
	second := &recordingSink{}

	p := NewPipeline(store)
	p.Add("first", first)
	p.Add("second", second)

	res := sampleResult("task-1")
	err := p.Save(context.Background(), res)
	if err == nil || !strings.Contains(err.Error(), "first") {
		t.Errorf("Save() error = %v, want the failing sink named", err)
	}

	if len(second.got) != 1 {
		t.Fatal("failing sink stopped the next one")
	}
	a := second.got[0].Artifacts[0]
	if a.URL != "mem://task-1/step-1-failure.png" || a.Data != nil {
		t.Errorf("artifact = %+v, want URL and no bytes", a)
	}
	if string(store.puts["task-1/step-1-failure.png"]) != "png" {
		t.Errorf("stored bytes = %q", store.puts["task-1/step-1-failure.png"])
	}
	if res.Artifacts[0].Data == nil {
		t.Error("caller's result was mutated")
	}
	if got := p.Sinks(); len(got) != 2 || got[0] != "first" {
		t.Errorf("Sinks() = %v", got)
	}
}

func TestPipelineUploadFailure(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(&memStore{err: errors.New("unreachable")})
	p.Add("sink", sink)

	if err := p.Save(context.Background(), sampleResult("t")); err != nil {
		t.Fatalf("Save() error = %v, upload failures are not sink failures", err)
	}
	if a := sink.got[0].Artifacts[0]; a.URL != "" || a.Data != nil {
		t.Errorf("artifact = %+v, want neither URL nor bytes", a)
	}
}

func TestPipelineWithoutStore(t *testing.T) {
	sink := &recordingSink{}
	p := NewPipeline(nil)
	p.Add("sink", sink)

	if err := p.Save(context.Background(), sampleResult("t")); err != nil {
		t.Fatal(err)
	}
	if sink.got[0].Artifacts[0].Data != nil {
		t.Error("artifact bytes kept without a store")
	}
}

// ─── Artifact stores ───────────────────────────────────────────────

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	url, err := s.Put(context.Background(), "task-1/shot.png", "image/png", []byte("png"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, "task-1", "shot.png"))
	if err != nil || string(data) != "png" {
		t.Errorf("file = %q, %v", data, err)
	}

	if _, err := s.Put(context.Background(), "../escape.png", "", nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put(escape) error = %v, want ErrInvalidKey", err)
	}
}

// ─── SQLite ────────────────────────────────────────────────────────

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	want := sampleResult("task-1")

	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if got.Status != want.Status || got.DeviceID != want.DeviceID || got.ErrorType != want.ErrorType {
		t.Errorf("got %+v", got)
	}
	if got.FailedStepIndex == nil || *got.FailedStepIndex != 1 || got.FailedStepName != "tap login" {
		t.Errorf("failed step = %v %q", got.FailedStepIndex, got.FailedStepName)
	}
	if !got.StartTime.Equal(want.StartTime) || !got.EndTime.Equal(want.EndTime) {
		t.Errorf("times = %v..%v", got.StartTime, got.EndTime)
	}
	if len(got.Steps) != 2 || got.Steps[1].Attempts != 2 {
		t.Errorf("steps = %+v", got.Steps)
	}
	if got.Data["attempted_user"] != "alice" {
		t.Errorf("data = %v", got.Data)
	}

	if err := s.Save(ctx, want); err == nil {
		t.Error("Save() of an existing task id succeeded, results are written once")
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i, dev := range []string{"a", "b", "a"} {
		res := sampleResult("task-" + string(rune('0'+i)))
		res.DeviceID = dev
		res.Status = script.StatusSuccess
		res.StartTime = res.StartTime.Add(time.Duration(i) * time.Minute)
		res.FailedStepIndex = nil
		res.Artifacts = nil
		if err := s.Save(ctx, res); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.Recent(ctx, "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("Recent() = %d, %v", len(all), err)
	}
	if all[0].TaskID != "task-2" {
		t.Errorf("newest = %s, want task-2", all[0].TaskID)
	}
	onA, _ := s.Recent(ctx, "a", 10)
	if len(onA) != 2 {
		t.Errorf("Recent(a) = %d, want 2", len(onA))
	}
	counts, err := s.StatusCounts(ctx)
	if err != nil || counts[script.StatusSuccess] != 3 {
		t.Errorf("StatusCounts() = %v, %v", counts, err)
	}
}

// ─── Sinks ─────────────────────────────────────────────────────────

type fakeMetrics struct {
	executions []influxdb.Execution
	steps      []influxdb.Step
}

func (f *fakeMetrics) WriteExecution(e influxdb.Execution) { f.executions = append(f.executions, e) }
func (f *fakeMetrics) WriteStep(s influxdb.Step)           { f.steps = append(f.steps, s) }

func TestMetricsSink(t *testing.T) {
	m := &fakeMetrics{}
	if err := NewMetricsSink(m).Save(context.Background(), sampleResult("t")); err != nil {
		t.Fatal(err)
	}
	if len(m.executions) != 1 || len(m.steps) != 2 {
		t.Fatalf("points = %d executions, %d steps", len(m.executions), len(m.steps))
	}
	e := m.executions[0]
	if e.FailedStep != 1 || e.Duration != 3*time.Second || e.StepCount != 2 {
		t.Errorf("execution = %+v", e)
	}
	if m.steps[1].Attempts != 2 || m.steps[1].Success {
		t.Errorf("step = %+v", m.steps[1])
	}
}

func TestBusSink(t *testing.T) {
	b := bus.NewMemoryBus()
	var topics []string
	var last script.Result
	if err := b.Subscribe("fleet/#", func(topic string, payload []byte) error {
		topics = append(topics, topic)
		return json.Unmarshal(payload, &last)
	}); err != nil {
		t.Fatal(err)
	}

	s := NewBusSink(b)
	if err := s.Save(context.Background(), sampleResult("t1")); err != nil {
		t.Fatal(err)
	}
	noDevice := sampleResult("t2")
	noDevice.DeviceID = ""
	if err := s.Save(context.Background(), noDevice); err != nil {
		t.Fatal(err)
	}

	want := []string{"fleet/device/emulator-5554/result", "fleet/orchestrator/results"}
	if strings.Join(topics, ",") != strings.Join(want, ",") {
		t.Errorf("topics = %v, want %v", topics, want)
	}
	if last.TaskID != "t2" {
		t.Errorf("decoded task id = %q", last.TaskID)
	}
}

type fakePublisher struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &fakePublisher{}
	if err := NewAMQPSink(pub, "fleet.results").Save(context.Background(), sampleResult("t1")); err != nil {
		t.Fatal(err)
	}
	if pub.exchange != "fleet.results" || pub.key != "result.failed" {
		t.Errorf("published to %s/%s", pub.exchange, pub.key)
	}
	if pub.msg.MessageId != "t1" || pub.msg.DeliveryMode != amqp.Persistent || pub.msg.ContentType != contentTypeJSON {
		t.Errorf("publishing = %+v", pub.msg)
	}
	var sink *AMQPSink
	if err := sink.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

type fakeHub struct {
	channel string
	payload any
}

func (f *fakeHub) Broadcast(channel string, payload any) { f.channel, f.payload = channel, payload }

func TestHubSink(t *testing.T) {
	h := &fakeHub{}
	if err := NewHubSink(h).Save(context.Background(), sampleResult("t1")); err != nil {
		t.Fatal(err)
	}
	if h.channel != ChannelResults {
		t.Errorf("channel = %q", h.channel)
	}
	if res, ok := h.payload.(script.Result); !ok || res.TaskID != "t1" {
		t.Errorf("payload = %#v", h.payload)
	}
}
