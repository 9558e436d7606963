// Package scheduler decides when test plans run.
//
// A single tick loop evaluates every enabled plan against its schedule
// (daily window, fixed interval or cron expression) and enqueues the due
// ones. Event-triggered plans are never evaluated by the tick; they are
// enqueued straight from HandleEvent.
//
// The queue is ordered by priority (highest first) at insertion time, ties
// keeping insertion order, and GetNextTask pops from the front. A plan has
// at most one outstanding task: from enqueue until Complete or Skip it is
// not enqueued again.
//
// Usage:
//
//	s := scheduler.New(scheduler.Options{Tick: time.Minute, Location: loc})
//	if err := s.ReplacePlans(plans); err != nil { ... }
//	go s.Run(ctx)
//	for {
//	    task, ok := s.GetNextTask()
//	    ...
//	    s.Complete(task.Plan.ID)
//	}
package scheduler
