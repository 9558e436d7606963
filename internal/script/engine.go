package script

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/terminail/autodroid-sub001/internal/driver"
)

// Logger is the logging interface used by the engine.
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

// Engine loads script modules and runs them.
type Engine struct {
	sources []Source
	logger  Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]Module
}

// NewEngine creates an engine over the given search path. Earlier sources
// win when two offer the same name.
func NewEngine(sources ...Source) *Engine {
	return &Engine{
		sources: sources,
		logger:  noopLogger{},
		now:     time.Now,
		cache:   make(map[string]Module),
	}
}

// SetLogger sets the engine logger.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Load returns the named module, consulting the cache first. Only
// successful loads are cached, so a fixed workflow file is picked up on the
// next attempt.
func (e *Engine) Load(name string) (Module, error) {
	e.mu.Lock()
	mod, ok := e.cache[name]
	e.mu.Unlock()
	if ok {
		return mod, nil
	}

	for _, src := range e.sources {
		found, err := src.Lookup(name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Module{}, fmt.Errorf("loading %q from %s: %w", name, src.Name(), err)
		}
		if err := checkContract(found); err != nil {
			return Module{}, fmt.Errorf("loading %q from %s: %w", name, src.Name(), err)
		}

		e.mu.Lock()
		e.cache[name] = found
		e.mu.Unlock()
		return found, nil
	}
	return Module{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Invalidate drops a cached module.
func (e *Engine) Invalidate(name string) {
	e.mu.Lock()
	delete(e.cache, name)
	e.mu.Unlock()
}

func checkContract(mod Module) error {
	switch len(mod.Units) {
	case 1:
	case 0:
		return fmt.Errorf("%w: module %q exposes no script unit", ErrContractViolation, mod.Name)
	default:
		return fmt.Errorf("%w: module %q exposes %d script units, want 1", ErrContractViolation, mod.Name, len(mod.Units))
	}
	if mod.Units[0] == nil {
		return fmt.Errorf("%w: module %q has a nil unit", ErrContractViolation, mod.Name)
	}
	return nil
}

// Validate checks a workplan before any device is reserved and returns its
// data as a key/value map. Nil data becomes an empty map.
func (e *Engine) Validate(wp Workplan) (map[string]any, error) {
	if wp.Workscript == "" {
		return nil, fmt.Errorf("%w: missing workscript", ErrInvalidWorkplan)
	}
	switch data := wp.Data.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return data, nil
	case map[string]string:
		out := make(map[string]any, len(data))
		for k, v := range data {
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: data must be a key/value mapping, got %T", ErrInvalidWorkplan, wp.Data)
	}
}

// Execute runs req.Workplan on req.Device and always returns a result.
func (e *Engine) Execute(ctx context.Context, req Request) Result {
	res := e.newResult(req)

	data, err := e.Validate(req.Workplan)
	if err != nil {
		return e.finish(res, StatusError, ErrorTypeValidation, err)
	}

	mod, err := e.Load(req.Workplan.Workscript)
	if err != nil {
		return e.finish(res, StatusError, loadErrorType(err), err)
	}

	if req.Device == nil {
		return e.finish(res, StatusError, ErrorTypeNoDevice, errors.New("no device handle"))
	}

	outcome, err := e.invoke(ctx, mod.Units[0], data, req.Device)
	res.Steps = outcome.Steps
	res.Artifacts = outcome.Artifacts
	res.Data = outcome.Data
	res.FailedStepIndex = outcome.FailedStepIndex
	res.FailedStepName = outcome.FailedStepName
	res.DeviceLost = outcome.DeviceLost

	var panicErr *unitPanic
	switch {
	case errors.As(err, &panicErr):
		res.ErrorDetail = panicErr.stack
		return e.finish(res, StatusError, ErrorTypePanic, err)
	case errors.Is(err, driver.ErrDeviceLost):
		res.DeviceLost = true
		return e.finish(res, StatusError, ErrorTypeDeviceLost, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return e.finish(res, StatusError, ErrorTypeCancelled, err)
	case errors.Is(err, ErrContractViolation):
		return e.finish(res, StatusError, ErrorTypeContract, err)
	case err != nil:
		return e.finish(res, StatusError, ErrorTypeExecution, err)
	}

	if !outcome.Status.Valid() {
		return e.finish(res, StatusError, ErrorTypeContract,
			fmt.Errorf("%w: unit returned status %q", ErrContractViolation, outcome.Status))
	}

	res.Status = outcome.Status
	res.Message = outcome.Message
	res.ErrorType = outcome.ErrorType
	if outcome.ErrorDetail != "" {
		res.ErrorDetail = outcome.ErrorDetail
	}
	if res.DeviceLost && res.ErrorType == "" {
		res.ErrorType = ErrorTypeDeviceLost
	}
	e.stamp(&res)
	return res
}

// ErrorResult builds an error result for a task that never reached a unit,
// for example when no device could be reserved.
func (e *Engine) ErrorResult(req Request, errorType string, err error) Result {
	return e.finish(e.newResult(req), StatusError, errorType, err)
}

func (e *Engine) newResult(req Request) Result {
	deviceID := req.DeviceID
	if deviceID == "" && req.Device != nil {
		deviceID = req.Device.ID()
	}
	return Result{
		TaskID:        req.TaskID,
		WorkplanID:    req.Workplan.ID,
		DeviceID:      deviceID,
		ScriptName:    req.Workplan.Workscript,
		EngineVersion: EngineVersion,
		StartTime:     e.now(),
		Steps:         []StepResult{},
	}
}

func (e *Engine) finish(res Result, status Status, errorType string, err error) Result {
	res.Status = status
	res.ErrorType = errorType
	if err != nil {
		res.Message = err.Error()
	}
	if status != StatusSuccess {
		e.logger.Warn("script run did not succeed",
			"task_id", res.TaskID,
			"script", res.ScriptName,
			"device_id", res.DeviceID,
			"status", string(status),
			"error_type", errorType,
			"error", res.Message,
		)
	}
	e.stamp(&res)
	return res
}

func (e *Engine) stamp(res *Result) {
	res.EndTime = e.now()
	res.ExecutionTime = res.EndTime.Sub(res.StartTime).Seconds()
	if res.Steps == nil {
		res.Steps = []StepResult{}
	}
}

func loadErrorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, ErrContractViolation):
		return ErrorTypeContract
	default:
		return ErrorTypeLoad
	}
}

type unitPanic struct {
	value any
	stack string
}

func (p *unitPanic) Error() string {
	return fmt.Sprintf("script panicked: %v", p.value)
}

// invoke constructs and runs the unit, turning a panic in either into an
// error.
func (e *Engine) invoke(ctx context.Context, factory Factory, data map[string]any, dev driver.Device) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &unitPanic{value: r, stack: string(debug.Stack())}
		}
	}()

	unit := factory()
	if unit == nil {
		return Outcome{}, fmt.Errorf("%w: factory returned nil", ErrContractViolation)
	}
	return unit.Execute(ctx, data, dev)
}

// ListScripts returns every module on the search path. Modules that fail to
// load are listed with Valid false.
func (e *Engine) ListScripts() []Info {
	seen := make(map[string]bool)
	var infos []Info
	for _, src := range e.sources {
		names, err := src.List()
		if err != nil {
			e.logger.Warn("listing script source failed", "source", src.Name(), "error", err)
			continue
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			seen[name] = true
			infos = append(infos, e.info(name, src.Name()))
		}
	}
	return infos
}

// ScriptInfo describes one module.
func (e *Engine) ScriptInfo(name string) (Info, error) {
	for _, src := range e.sources {
		if _, err := src.Lookup(name); errors.Is(err, ErrNotFound) {
			continue
		}
		return e.info(name, src.Name()), nil
	}
	return Info{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func (e *Engine) info(name, source string) Info {
	info := Info{Name: name, Source: source}
	mod, err := e.Load(name)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Valid = true
	info.Description = mod.Description
	info.Version = mod.Version
	return info
}
