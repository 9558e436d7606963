package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

const secondsPerDay = 24 * 60 * 60

// ValidatePlan checks a plan without adding it.
func ValidatePlan(p TestPlan) error {
	_, err := compile(&p)
	return err
}

// compile validates p and parses its schedule.
func compile(p *TestPlan) (*compiled, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidPlan)
	}
	if p.Workscript == "" {
		return nil, fmt.Errorf("%w: %s: missing workscript", ErrInvalidPlan, p.ID)
	}

	c := &compiled{}
	s := p.Schedule
	switch s.Type {
	case ScheduleDaily:
		start, err := parseClock(s.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: start_time: %w", ErrInvalidPlan, p.ID, err)
		}
		end, err := parseClock(s.EndTime)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: end_time: %w", ErrInvalidPlan, p.ID, err)
		}
		c.windowStart, c.windowEnd = start, end

	case ScheduleInterval:
		if s.IntervalMinutes <= 0 {
			return nil, fmt.Errorf("%w: %s: interval_minutes must be > 0", ErrInvalidPlan, p.ID)
		}

	case ScheduleCron:
		sched, err := cron.ParseStandard(s.Expression)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: expression %q: %w", ErrInvalidPlan, p.ID, s.Expression, err)
		}
		c.cron = sched

	case ScheduleEvent:
		if s.EventTrigger == nil || s.EventTrigger.Type == "" {
			return nil, fmt.Errorf("%w: %s: event schedule needs event_trigger.type", ErrInvalidPlan, p.ID)
		}

	default:
		return nil, fmt.Errorf("%w: %s: unknown schedule type %q", ErrInvalidPlan, p.ID, s.Type)
	}
	return c, nil
}

// parseClock parses "HH:MM" or "HH:MM:SS" as seconds since midnight.
func parseClock(v string) (int, error) {
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%q is not HH:MM or HH:MM:SS", v)
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || len(part) != 2 || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%q is not HH:MM or HH:MM:SS", v)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total, nil
}
