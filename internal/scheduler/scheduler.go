package scheduler

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTick = 60 * time.Second

// Logger is the logging interface used by the scheduler.
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

// Options configures a Scheduler.
type Options struct {
	// Tick is the evaluation period. Default 60s.
	Tick time.Duration

	// Location is the zone daily windows and cron expressions use. Default UTC.
	Location *time.Location

	// Now overrides the clock used by Run and HandleEvent.
	Now func() time.Time
}

// Scheduler holds the active plans and the pending task queue.
type Scheduler struct {
	tick   time.Duration
	loc    *time.Location
	now    func() time.Time
	logger Logger
	ready  chan struct{}

	mu          sync.Mutex
	plans       map[string]*planState
	nextSeq     uint64
	queue       []*Task
	outstanding map[string]*Task // plan id → queued or running task
	stopped     bool
	onEnqueue   func(Task)
}

// New creates a scheduler with no plans.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		tick:        opts.Tick,
		loc:         opts.Location,
		now:         opts.Now,
		logger:      noopLogger{},
		ready:       make(chan struct{}, 1),
		plans:       make(map[string]*planState),
		outstanding: make(map[string]*Task),
	}
	if s.tick <= 0 {
		s.tick = defaultTick
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetLogger sets the scheduler logger.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// OnEnqueue registers a callback invoked (outside the lock) for each
// enqueued task.
func (s *Scheduler) OnEnqueue(fn func(Task)) {
	s.mu.Lock()
	s.onEnqueue = fn
	s.mu.Unlock()
}

// ─── Plans ─────────────────────────────────────────────────────────

// AddPlan validates and adds a plan.
func (s *Scheduler) AddPlan(p TestPlan) error {
	c, err := compile(&p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlan, p.ID)
	}
	s.insertPlan(p.Copy(), c, time.Time{})
	return nil
}

func (s *Scheduler) insertPlan(p TestPlan, c *compiled, last time.Time) {
	s.nextSeq++
	s.plans[p.ID] = &planState{plan: p, sched: c, seq: s.nextSeq, lastDispatch: last}
}

// RemovePlan removes a plan and drops its queued task. A running task is
// left to finish.
func (s *Scheduler) RemovePlan(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	delete(s.plans, id)
	s.dropQueued(id)
	return nil
}

func (s *Scheduler) dropQueued(planID string) {
	i := slices.IndexFunc(s.queue, func(t *Task) bool { return t.Plan.ID == planID })
	if i < 0 {
		return
	}
	s.queue = slices.Delete(s.queue, i, i+1)
	delete(s.outstanding, planID)
}

// ReplacePlans swaps the whole plan set. Every plan is validated first; on
// error nothing changes. Plans that survive keep their dispatch history and
// their position for tie-breaking.
func (s *Scheduler) ReplacePlans(plans []TestPlan) error {
	compiledPlans := make([]*compiled, len(plans))
	seen := make(map[string]bool, len(plans))
	for i := range plans {
		c, err := compile(&plans[i])
		if err != nil {
			return err
		}
		if seen[plans[i].ID] {
			return fmt.Errorf("%w: %s", ErrDuplicatePlan, plans[i].ID)
		}
		seen[plans[i].ID] = true
		compiledPlans[i] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.plans
	s.plans = make(map[string]*planState, len(plans))
	for i, p := range plans {
		if prev, ok := old[p.ID]; ok {
			s.plans[p.ID] = &planState{plan: p.Copy(), sched: compiledPlans[i], seq: prev.seq, lastDispatch: prev.lastDispatch}
			continue
		}
		s.insertPlan(p.Copy(), compiledPlans[i], time.Time{})
	}
	for id := range old {
		if _, ok := s.plans[id]; !ok {
			s.dropQueued(id)
		}
	}
	return nil
}

// GetPlan returns a plan by id.
func (s *Scheduler) GetPlan(id string) (TestPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.plans[id]
	if !ok {
		return TestPlan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return ps.plan.Copy(), nil
}

// ListPlans returns every plan in insertion order.
func (s *Scheduler) ListPlans() []TestPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := s.sortedStates(func(*planState) bool { return true })
	plans := make([]TestPlan, len(states))
	for i, ps := range states {
		plans[i] = ps.plan.Copy()
	}
	return plans
}

// sortedStates returns the plans passing keep, priority descending then
// insertion order. Caller holds s.mu.
func (s *Scheduler) sortedStates(keep func(*planState) bool) []*planState {
	var out []*planState
	for _, ps := range s.plans {
		if keep(ps) {
			out = append(out, ps)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].plan.Priority != out[j].plan.Priority {
			return out[i].plan.Priority > out[j].plan.Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// ─── Evaluation ────────────────────────────────────────────────────

// GetDuePlans returns the enabled time-scheduled plans due at now, highest
// priority first. It does not enqueue anything and ignores whether a plan
// is already outstanding.
func (s *Scheduler) GetDuePlans(now time.Time) []TestPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := s.dueStates(now)
	plans := make([]TestPlan, len(due))
	for i, ps := range due {
		plans[i] = ps.plan.Copy()
	}
	return plans
}

func (s *Scheduler) dueStates(now time.Time) []*planState {
	return s.sortedStates(func(ps *planState) bool {
		return ps.plan.Enabled && ps.plan.Schedule.Type != ScheduleEvent && ps.due(now, s.loc, s.tick)
	})
}

// Tick evaluates the plans at now and enqueues the due ones that are not
// already outstanding. It returns the tasks it enqueued.
func (s *Scheduler) Tick(now time.Time) []Task {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	var added []Task
	for _, ps := range s.dueStates(now) {
		if t, ok := s.enqueue(ps, now, TriggerSchedule, nil); ok {
			added = append(added, t)
		}
	}
	notify := s.onEnqueue
	s.mu.Unlock()

	s.announce(added, notify)
	return added
}

// HandleEvent enqueues every enabled event plan whose trigger matches.
// Events bypass the tick.
func (s *Scheduler) HandleEvent(eventType string, data map[string]any) []Task {
	now := s.now()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	matching := s.sortedStates(func(ps *planState) bool {
		return ps.plan.Enabled && ps.plan.Schedule.Type == ScheduleEvent &&
			matches(ps.plan.Schedule.EventTrigger, eventType, data)
	})
	var added []Task
	for _, ps := range matching {
		if t, ok := s.enqueue(ps, now, TriggerEvent, maps.Clone(data)); ok {
			added = append(added, t)
		}
	}
	notify := s.onEnqueue
	s.mu.Unlock()

	if len(matching) > 0 {
		s.logger.Debug("event matched plans", "event_type", eventType, "matched", len(matching), "enqueued", len(added))
	}
	s.announce(added, notify)
	return added
}

func (s *Scheduler) announce(added []Task, notify func(Task)) {
	if len(added) == 0 {
		return
	}
	s.signal()
	for _, t := range added {
		s.logger.Info("task enqueued",
			"task_id", t.ID,
			"plan_id", t.Plan.ID,
			"priority", t.Plan.Priority,
			"trigger", t.Trigger,
		)
		if notify != nil {
			notify(t)
		}
	}
}

// enqueue inserts a task for ps unless one is outstanding. The queue stays
// sorted by priority descending; a new task goes after existing tasks of
// equal priority. Caller holds s.mu.
func (s *Scheduler) enqueue(ps *planState, now time.Time, trigger string, data map[string]any) (Task, bool) {
	if _, busy := s.outstanding[ps.plan.ID]; busy {
		return Task{}, false
	}

	t := &Task{
		ID:           uuid.NewString(),
		Plan:         ps.plan.Copy(),
		EnqueuedAt:   now,
		Trigger:      trigger,
		TriggerData:  data,
		prevDispatch: ps.lastDispatch,
	}
	ps.lastDispatch = now

	i := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].Plan.Priority < t.Plan.Priority
	})
	s.queue = slices.Insert(s.queue, i, t)
	s.outstanding[t.Plan.ID] = t
	return *t, true
}

// ─── Queue ─────────────────────────────────────────────────────────

// GetNextTask pops the front of the queue. The task stays outstanding until
// Complete or Skip.
func (s *Scheduler) GetNextTask() (Task, bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return Task{}, false
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	more := len(s.queue) > 0
	s.mu.Unlock()

	// Pass the wake-up on so another idle worker picks up the rest.
	if more {
		s.signal()
	}
	return *t, true
}

// Ready is signalled when tasks may be waiting.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

func (s *Scheduler) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Complete releases the plan so it can be enqueued again.
func (s *Scheduler) Complete(planID string) {
	s.mu.Lock()
	delete(s.outstanding, planID)
	s.mu.Unlock()
}

// Skip releases a task that could not run (no device available) and
// restores the plan's previous dispatch time so it is due again on the
// next tick.
func (s *Scheduler) Skip(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.outstanding[t.Plan.ID]; ok && cur.ID == t.ID {
		delete(s.outstanding, t.Plan.ID)
	}
	if ps, ok := s.plans[t.Plan.ID]; ok && ps.lastDispatch.Equal(t.EnqueuedAt) {
		ps.lastDispatch = t.prevDispatch
	}
}

// QueueLength returns the number of queued tasks.
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// PendingTasks returns a snapshot of the queue in pop order.
func (s *Scheduler) PendingTasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, len(s.queue))
	for i, t := range s.queue {
		out[i] = *t
	}
	return out
}

// IsOutstanding reports whether planID has a queued or running task.
func (s *Scheduler) IsOutstanding(planID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.outstanding[planID]
	return ok
}

// Stats returns plan and queue counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Plans: len(s.plans), Queued: len(s.queue)}
	for _, ps := range s.plans {
		if ps.plan.Enabled {
			st.Enabled++
		}
	}
	st.Running = len(s.outstanding) - len(s.queue)
	return st
}

// ─── Loop ──────────────────────────────────────────────────────────

// Run ticks immediately and then every tick period until ctx is cancelled.
// After Run returns the scheduler is stopped: neither ticks nor events
// enqueue, while queued tasks can still be drained.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "tick", s.tick.String(), "timezone", s.loc.String())
	s.Tick(s.now())
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// Stop ends evaluation. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
