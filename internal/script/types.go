package script

import (
	"context"
	"time"

	"github.com/terminail/autodroid-sub001/internal/driver"
)

// EngineVersion is stamped on every result.
const EngineVersion = "1.0.0"

// Status is the outcome of a script run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the three allowed statuses.
func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusError
}

// Error types recorded on results.
const (
	ErrorTypeValidation  = "validation_error"
	ErrorTypeNotFound    = "not_found"
	ErrorTypeContract    = "contract_violation"
	ErrorTypeLoad        = "load_error"
	ErrorTypePanic       = "panic"
	ErrorTypeExecution   = "execution_error"
	ErrorTypeDeviceLost  = "device_lost"
	ErrorTypeCancelled   = "cancelled"
	ErrorTypeStepFailed  = "step_failed"
	ErrorTypeNoDevice    = "no_device_available"
	ErrorTypeConnectFail = "connect_failed"
)

// Workplan is the unit of work sent to the engine.
type Workplan struct {
	ID         string `json:"id" yaml:"id"`
	Workscript string `json:"workscript" yaml:"workscript"`
	Data       any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// Artifact is a file produced by a run. Data is uploaded by the result
// pipeline, which then fills URL.
type Artifact struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"-"`
}

// StepResult records one workflow step.
type StepResult struct {
	Index      int           `json:"index"`
	Name       string        `json:"name"`
	Action     string        `json:"action"`
	Success    bool          `json:"success"`
	Attempts   int           `json:"attempts"`
	Strategy   string        `json:"strategy,omitempty"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	Screenshot string        `json:"screenshot,omitempty"`
}

// Outcome is what a unit returns.
type Outcome struct {
	Status          Status
	Message         string
	Steps           []StepResult
	Artifacts       []Artifact
	Data            map[string]any
	ErrorType       string
	ErrorDetail     string
	FailedStepIndex *int
	FailedStepName  string
	DeviceLost      bool
}

// Script is a single executable unit.
type Script interface {
	Execute(ctx context.Context, data map[string]any, dev driver.Device) (Outcome, error)
}

// Factory constructs a fresh unit with no arguments.
type Factory func() Script

// ScriptFunc adapts a function to Script.
type ScriptFunc func(ctx context.Context, data map[string]any, dev driver.Device) (Outcome, error)

// Execute calls f.
func (f ScriptFunc) Execute(ctx context.Context, data map[string]any, dev driver.Device) (Outcome, error) {
	return f(ctx, data, dev)
}

// Module is a named, versioned container of units.
type Module struct {
	Name        string
	Description string
	Version     string
	Units       []Factory
}

// Source is one entry of the search path.
type Source interface {
	// Name identifies the source in listings ("builtin", "workflows").
	Name() string

	// Lookup returns the module or an error wrapping ErrNotFound.
	Lookup(name string) (Module, error)

	// List returns the module names the source offers.
	List() ([]string, error)
}

// Info describes a module for listings.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Source      string `json:"source"`
	Valid       bool   `json:"valid"`
	Error       string `json:"error,omitempty"`
}

// Result is the immutable record of one task execution.
type Result struct {
	TaskID          string         `json:"task_id"`
	WorkplanID      string         `json:"workplan_id"`
	DeviceID        string         `json:"device_id"`
	ScriptName      string         `json:"script_name"`
	Status          Status         `json:"status"`
	Message         string         `json:"message"`
	Steps           []StepResult   `json:"steps"`
	StartTime       time.Time      `json:"execution_start_time"`
	EndTime         time.Time      `json:"execution_end_time"`
	ExecutionTime   float64        `json:"execution_time"`
	ErrorType       string         `json:"error_type,omitempty"`
	ErrorDetail     string         `json:"error_detail,omitempty"`
	FailedStepIndex *int           `json:"failed_step_index,omitempty"`
	FailedStepName  string         `json:"failed_step_name,omitempty"`
	EngineVersion   string         `json:"engine_version"`
	DeviceLost      bool           `json:"device_lost"`
	Artifacts       []Artifact     `json:"artifacts,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

// Request asks the engine to run one workplan on one device.
type Request struct {
	TaskID   string
	Workplan Workplan
	DeviceID string
	Device   driver.Device
}
