package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/device"
	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
	"github.com/terminail/autodroid-sub001/internal/results"
	"github.com/terminail/autodroid-sub001/internal/scheduler"
	"github.com/terminail/autodroid-sub001/internal/script"
)

const (
	defaultWorkers      = 5
	defaultDrainTimeout = 5 * time.Minute
	resultSaveTimeout   = 30 * time.Second
)

// Logger is the logging interface used by the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the part of *device.Registry the workers use.
type Registry interface {
	ReserveMatching(sel device.Selector, owner string) (device.Device, error)
	Release(id string) error
	MarkOffline(id string) error
	IsOnline(id string) bool
}

// QueueRecorder receives queue depth samples. *influxdb.Client satisfies it.
type QueueRecorder interface {
	WriteQueueDepth(queued, running int, at time.Time)
}

// Options configures an Orchestrator.
type Options struct {
	// Workers is the number of concurrent tasks. Default 5.
	Workers int

	// DrainTimeout bounds how long in-flight tasks may run after shutdown
	// begins. Default 5 minutes.
	DrainTimeout time.Duration

	// Queue, when set, is sampled after every enqueue and completion.
	Queue QueueRecorder
}

// Stats counts task outcomes since start.
type Stats struct {
	Workers   int   `json:"workers"`
	Busy      int64 `json:"busy"`
	Executed  int64 `json:"executed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Errored   int64 `json:"errored"`
	Skipped   int64 `json:"skipped"`
}

// Orchestrator wires the scheduler to the device registry, driver, script
// engine and result sink.
type Orchestrator struct {
	sched    *scheduler.Scheduler
	registry Registry
	driver   driver.Driver
	engine   *script.Engine
	sink     results.Sink
	opts     Options
	logger   Logger

	busy, executed, succeeded, failed, errored, skipped atomic.Int64
}

// New creates an orchestrator.
func New(sched *scheduler.Scheduler, registry Registry, drv driver.Driver, engine *script.Engine, sink results.Sink, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	o := &Orchestrator{
		sched:    sched,
		registry: registry,
		driver:   drv,
		engine:   engine,
		sink:     sink,
		opts:     opts,
		logger:   noopLogger{},
	}
	sched.OnEnqueue(func(scheduler.Task) { o.sampleQueue() })
	return o
}

// SetLogger sets the orchestrator logger.
func (o *Orchestrator) SetLogger(logger Logger) {
	o.logger = logger
}

// Stats returns the outcome counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Workers:   o.opts.Workers,
		Busy:      o.busy.Load(),
		Executed:  o.executed.Load(),
		Succeeded: o.succeeded.Load(),
		Failed:    o.failed.Load(),
		Errored:   o.errored.Load(),
		Skipped:   o.skipped.Load(),
	}
}

// Run blocks until ctx is cancelled and every worker has returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	// In-flight tasks run on a context that survives ctx so they can finish;
	// it is cancelled only when the drain timeout expires.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.sched.Run(gctx)
	})

	var workers errgroup.Group
	for i := range o.opts.Workers {
		workers.Go(func() error {
			o.worker(gctx, workCtx, i)
			return nil
		})
	}

	o.logger.Info("orchestrator started", "workers", o.opts.Workers)

	schedErr := g.Wait()

	drained := make(chan struct{})
	go func() {
		_ = workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(o.opts.DrainTimeout):
		o.logger.Warn("drain timeout reached, cancelling in-flight tasks", "timeout", o.opts.DrainTimeout.String())
		cancelWork()
		<-drained
	}

	o.logger.Info("orchestrator stopped", "executed", o.executed.Load())
	if schedErr != nil && !errors.Is(schedErr, context.Canceled) {
		return schedErr
	}
	return nil
}

// worker takes tasks until ctx is done. The current task always runs to
// completion on workCtx.
func (o *Orchestrator) worker(ctx, workCtx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if task, ok := o.sched.GetNextTask(); ok {
			o.busy.Add(1)
			o.Execute(workCtx, task)
			o.busy.Add(-1)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-o.sched.Ready():
		}
		o.logger.Debug("worker woke", "worker", id)
	}
}

// Execute runs one task to completion. Exported for synchronous callers
// such as the check command and tests.
func (o *Orchestrator) Execute(ctx context.Context, task scheduler.Task) {
	plan := task.Plan
	req := script.Request{
		TaskID: task.ID,
		Workplan: script.Workplan{
			ID:         plan.ID,
			Workscript: plan.Workscript,
			Data:       workplanData(task),
		},
	}

	if _, err := o.engine.Validate(req.Workplan); err != nil {
		o.finish(ctx, task, o.engine.ErrorResult(req, script.ErrorTypeValidation, err))
		return
	}

	dev, err := o.registry.ReserveMatching(plan.DeviceSelector, task.ID)
	if err != nil {
		o.skipped.Add(1)
		o.sched.Skip(task)
		o.sampleQueue()
		o.logger.Debug("task skipped, no device",
			"task_id", task.ID,
			"plan_id", plan.ID,
			"reason", err,
		)
		return
	}
	req.DeviceID = dev.ID

	o.logger.Info("task started",
		"task_id", task.ID,
		"plan_id", plan.ID,
		"script", plan.Workscript,
		"device_id", dev.ID,
	)

	handle, err := o.driver.Connect(ctx, dev.ID)
	if err != nil {
		o.releaseDevice(dev.ID, false)
		o.finish(ctx, task, o.engine.ErrorResult(req, script.ErrorTypeConnectFail, fmt.Errorf("connecting to %s: %w", dev.ID, err)))
		return
	}
	req.Device = driver.Guard(handle, o.registry)

	res := o.engine.Execute(ctx, req)
	o.releaseDevice(dev.ID, res.DeviceLost)
	o.finish(ctx, task, res)
}

func (o *Orchestrator) releaseDevice(id string, lost bool) {
	var err error
	if lost {
		err = o.registry.MarkOffline(id)
	} else {
		err = o.registry.Release(id)
	}
	if err != nil {
		o.logger.Warn("releasing device failed", "device_id", id, "lost", lost, "error", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, task scheduler.Task, res script.Result) {
	o.executed.Add(1)
	switch res.Status {
	case script.StatusSuccess:
		o.succeeded.Add(1)
	case script.StatusFailed:
		o.failed.Add(1)
	default:
		o.errored.Add(1)
	}

	if o.sink != nil {
		// Results of cancelled runs are still delivered.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resultSaveTimeout)
		err := o.sink.Save(saveCtx, res)
		cancel()
		if err != nil {
			o.logger.Warn("result delivery incomplete", "task_id", task.ID, "error", err)
		}
	}
	o.sched.Complete(task.Plan.ID)
	o.sampleQueue()

	o.logger.Info("task finished",
		"task_id", task.ID,
		"plan_id", task.Plan.ID,
		"device_id", res.DeviceID,
		"status", string(res.Status),
		"execution_time", res.ExecutionTime,
	)
}

func (o *Orchestrator) sampleQueue() {
	if o.opts.Queue == nil {
		return
	}
	st := o.sched.Stats()
	o.opts.Queue.WriteQueueDepth(st.Queued, st.Running, time.Now())
}

// workplanData merges event data into the plan's data under "event".
func workplanData(task scheduler.Task) any {
	if task.Plan.Data == nil && len(task.TriggerData) == 0 {
		return nil
	}
	data := maps.Clone(task.Plan.Data)
	if data == nil {
		data = make(map[string]any)
	}
	if len(task.TriggerData) > 0 {
		data["event"] = task.TriggerData
	}
	return data
}

// ─── Events ────────────────────────────────────────────────────────

// HandleDeviceEvent forwards registry transitions to event-triggered plans.
// Register it with device.Registry.OnChange.
func (o *Orchestrator) HandleDeviceEvent(ev device.Event) {
	o.sched.HandleEvent(ev.Type, ev.Data())
}

// EventHandler returns a bus handler for fleet/events/{type}. The payload is
// a JSON object; an empty payload is an event without data.
func (o *Orchestrator) EventHandler() bus.Handler {
	return func(topic string, payload []byte) error {
		eventType, ok := mqtt.EventTypeFromTopic(topic)
		if !ok {
			return fmt.Errorf("not an event topic: %s", topic)
		}
		var data map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				return fmt.Errorf("decoding event %s: %w", eventType, err)
			}
		}
		o.InjectEvent(eventType, data)
		return nil
	}
}

// InjectEvent hands an external event to the scheduler and returns the
// number of tasks it enqueued.
func (o *Orchestrator) InjectEvent(eventType string, data map[string]any) int {
	tasks := o.sched.HandleEvent(eventType, data)
	o.logger.Debug("event injected", "event_type", eventType, "enqueued", len(tasks))
	return len(tasks)
}
