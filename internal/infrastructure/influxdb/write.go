package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementExecution  = "script_execution"
	measurementStep       = "script_step"
	measurementBattery    = "device_battery"
	measurementQueueDepth = "scheduler_queue"
)

// Execution is the metric view of one finished script run.
type Execution struct {
	ScriptName string
	DeviceID   string
	Status     string
	ErrorType  string
	Duration   time.Duration
	StepCount  int
	FailedStep int // -1 when no step failed
	DeviceLost bool
	EndTime    time.Time
}

// Step is the metric view of one workflow step.
type Step struct {
	ScriptName string
	DeviceID   string
	Action     string
	Strategy   string
	Success    bool
	Attempts   int
	Duration   time.Duration
	EndTime    time.Time
}

// WriteExecution records the outcome of a script run.
//
// Tags stay low-cardinality (script, device, status); the task id is
// deliberately not a tag.
func (c *Client) WriteExecution(e Execution) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(executionPoint(e))
}

// WriteStep records the timing of a single workflow step.
func (c *Client) WriteStep(s Step) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(stepPoint(s))
}

// WriteDeviceBattery records a battery reading from a registry observation.
func (c *Client) WriteDeviceBattery(deviceID, model string, level int, at time.Time) {
	if !c.IsConnected() || level < 0 {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		measurementBattery,
		map[string]string{"device_id": deviceID, "model": model},
		map[string]any{"level": level},
		at,
	))
}

// WriteQueueDepth records the scheduler queue length and running task count.
func (c *Client) WriteQueueDepth(queued, running int, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(
		measurementQueueDepth,
		nil,
		map[string]any{"queued": queued, "running": running},
		at,
	))
}

func executionPoint(e Execution) *write.Point {
	tags := map[string]string{
		"script":    e.ScriptName,
		"device_id": e.DeviceID,
		"status":    e.Status,
	}
	if e.ErrorType != "" {
		tags["error_type"] = e.ErrorType
	}
	fields := map[string]any{
		"duration_ms": e.Duration.Milliseconds(),
		"steps":       e.StepCount,
		"device_lost": e.DeviceLost,
	}
	if e.FailedStep >= 0 {
		fields["failed_step"] = e.FailedStep
	}
	return write.NewPoint(measurementExecution, tags, fields, pointTime(e.EndTime))
}

func stepPoint(s Step) *write.Point {
	return write.NewPoint(
		measurementStep,
		map[string]string{
			"script":    s.ScriptName,
			"device_id": s.DeviceID,
			"action":    s.Action,
			"strategy":  s.Strategy,
		},
		map[string]any{
			"success":     s.Success,
			"attempts":    s.Attempts,
			"duration_ms": s.Duration.Milliseconds(),
		},
		pointTime(s.EndTime),
	)
}

func pointTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
