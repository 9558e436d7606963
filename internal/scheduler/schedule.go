package scheduler

import (
	"reflect"
	"time"

	"github.com/robfig/cron/v3"
)

// compiled holds the parsed form of a plan's schedule.
type compiled struct {
	windowStart int
	windowEnd   int
	cron        cron.Schedule
}

// planState is a plan plus the bookkeeping the tick needs.
type planState struct {
	plan         TestPlan
	sched        *compiled
	seq          uint64
	lastDispatch time.Time
}

// due reports whether a non-event plan is due at now. loc is the zone daily
// windows and cron expressions are read in; tick is the reference lookback
// for cron plans that have never been dispatched.
func (ps *planState) due(now time.Time, loc *time.Location, tick time.Duration) bool {
	switch ps.plan.Schedule.Type {
	case ScheduleDaily:
		return inWindow(now.In(loc), ps.sched.windowStart, ps.sched.windowEnd)

	case ScheduleInterval:
		if ps.lastDispatch.IsZero() {
			return true
		}
		interval := time.Duration(ps.plan.Schedule.IntervalMinutes) * time.Minute
		return now.Sub(ps.lastDispatch) >= interval

	case ScheduleCron:
		ref := ps.lastDispatch
		if ref.IsZero() {
			ref = now.Add(-tick)
		}
		next := ps.sched.cron.Next(ref.In(loc))
		return !next.After(now)
	}
	return false
}

// inWindow reports whether t's time of day lies in [start, end], both in
// seconds since midnight. A start after end wraps past midnight.
func inWindow(t time.Time, start, end int) bool {
	h, m, s := t.Clock()
	sec := h*3600 + m*60 + s
	if start <= end {
		return start <= sec && sec <= end
	}
	return sec >= start || sec <= end
}

// matches reports whether every condition equals the corresponding data
// field. A missing key never matches.
func matches(trigger *EventTrigger, eventType string, data map[string]any) bool {
	if trigger == nil || trigger.Type != eventType {
		return false
	}
	for key, want := range trigger.Conditions {
		got, ok := data[key]
		if !ok || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares decoded values. Numbers compare by value because
// YAML conditions decode to int while JSON event payloads decode to float64.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
