package scheduler

import (
	"maps"
	"slices"
	"time"

	"github.com/terminail/autodroid-sub001/internal/device"
)

// ScheduleType selects how a plan becomes due.
type ScheduleType string

const (
	ScheduleDaily    ScheduleType = "daily"
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleEvent    ScheduleType = "event"
)

// Trigger values recorded on tasks.
const (
	TriggerSchedule = "schedule"
	TriggerEvent    = "event"
)

// TestPlan is a schedulable unit of work.
type TestPlan struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name,omitempty" yaml:"name,omitempty"`
	Workscript     string          `json:"workscript" yaml:"workscript"`
	Data           map[string]any  `json:"data,omitempty" yaml:"data,omitempty"`
	DeviceSelector device.Selector `json:"device_selector" yaml:"device_selector"`
	Schedule       Schedule        `json:"schedule" yaml:"schedule"`
	Priority       int             `json:"priority" yaml:"priority"`
	Enabled        bool            `json:"enabled" yaml:"enabled"`
}

// Copy returns a copy of p whose maps and slices are not shared.
func (p TestPlan) Copy() TestPlan {
	p.Data = maps.Clone(p.Data)
	p.DeviceSelector.Tags = slices.Clone(p.DeviceSelector.Tags)
	if p.Schedule.EventTrigger != nil {
		trig := *p.Schedule.EventTrigger
		trig.Conditions = maps.Clone(trig.Conditions)
		p.Schedule.EventTrigger = &trig
	}
	return p
}

// Schedule describes when a plan is due.
type Schedule struct {
	Type ScheduleType `json:"type" yaml:"type"`

	// StartTime and EndTime bound a daily window, "HH:MM" or "HH:MM:SS".
	StartTime string `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty" yaml:"end_time,omitempty"`

	IntervalMinutes int `json:"interval_minutes,omitempty" yaml:"interval_minutes,omitempty"`

	// Expression is a standard five-field cron expression or a descriptor
	// such as "@hourly".
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	EventTrigger *EventTrigger `json:"event_trigger,omitempty" yaml:"event_trigger,omitempty"`
}

// EventTrigger matches events by type and exact field values.
type EventTrigger struct {
	Type       string         `json:"type" yaml:"type"`
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Task is one enqueued instantiation of a plan.
type Task struct {
	ID          string         `json:"id"`
	Plan        TestPlan       `json:"plan"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	Trigger     string         `json:"trigger"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`

	// prevDispatch is the plan's dispatch time before this task, restored
	// by Skip.
	prevDispatch time.Time
}

// Stats summarises the scheduler state.
type Stats struct {
	Plans   int `json:"plans"`
	Enabled int `json:"enabled"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
}
