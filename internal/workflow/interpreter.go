package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/script"
)

const (
	defaultPause        = time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// Logger is the logging interface used by the interpreter.
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

// Options tunes the interpreter.
type Options struct {
	// Pause between attempts of a failing step.
	Pause time.Duration

	// PollInterval between locator passes while waiting for an element.
	PollInterval time.Duration
}

// Interpreter runs workflows.
type Interpreter struct {
	pause        time.Duration
	pollInterval time.Duration
	logger       Logger
	now          func() time.Time
}

// NewInterpreter creates an interpreter. Zero options take defaults; a
// negative Pause disables the pause.
func NewInterpreter(opts Options) *Interpreter {
	in := &Interpreter{
		pause:        opts.Pause,
		pollInterval: opts.PollInterval,
		logger:       noopLogger{},
		now:          time.Now,
	}
	if in.pause == 0 {
		in.pause = defaultPause
	}
	if in.pollInterval <= 0 {
		in.pollInterval = defaultPollInterval
	}
	return in
}

// SetLogger sets the interpreter logger.
func (in *Interpreter) SetLogger(logger Logger) {
	in.logger = logger
}

// Run executes wf on dev. A failed step yields status failed with a nil
// error. A lost device or a cancelled context is returned as an error
// alongside the partial outcome.
func (in *Interpreter) Run(ctx context.Context, wf *Workflow, data map[string]any, dev driver.Device) (script.Outcome, error) {
	out := script.Outcome{Steps: make([]script.StepResult, 0, len(wf.Steps))}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		res, err := in.runStep(ctx, wf, step, i, data, dev)
		if err == nil {
			out.Steps = append(out.Steps, res)
			continue
		}

		lost := errors.Is(err, driver.ErrDeviceLost)
		if !lost && ctx.Err() == nil {
			in.attachFailureScreenshot(ctx, &out, &res, dev)
		}
		out.Steps = append(out.Steps, res)

		index := i
		out.Status = script.StatusFailed
		out.Message = fmt.Sprintf("step %d (%s) failed: %v", i, step.Name, err)
		out.ErrorType = script.ErrorTypeStepFailed
		out.FailedStepIndex = &index
		out.FailedStepName = step.Name
		out.DeviceLost = lost

		in.logger.Info("workflow step failed",
			"workflow", wf.Name,
			"device_id", dev.ID(),
			"step", i,
			"step_name", step.Name,
			"attempts", res.Attempts,
			"error", err,
		)

		if lost || ctx.Err() != nil {
			return out, err
		}
		return out, nil
	}

	out.Status = script.StatusSuccess
	out.Message = fmt.Sprintf("%d steps completed", len(wf.Steps))
	return out, nil
}

func (in *Interpreter) attachFailureScreenshot(ctx context.Context, out *script.Outcome, res *script.StepResult, dev driver.Device) {
	img, err := dev.Screenshot(ctx)
	if err != nil {
		in.logger.Debug("failure screenshot not captured", "device_id", dev.ID(), "error", err)
		return
	}
	name := fmt.Sprintf("step-%d-failure.png", res.Index)
	res.Screenshot = name
	out.Artifacts = append(out.Artifacts, script.Artifact{
		Name:        name,
		ContentType: "image/png",
		Size:        len(img),
		Data:        img,
	})
}

// runStep makes up to Retries+1 attempts. Device loss and cancellation
// end the retry loop at once.
func (in *Interpreter) runStep(ctx context.Context, wf *Workflow, step *Step, index int, data map[string]any, dev driver.Device) (script.StepResult, error) {
	res := script.StepResult{
		Index:  index,
		Name:   step.Name,
		Action: step.Action,
		Start:  in.now(),
	}

	var err error
	for attempt := 0; attempt <= step.Retries; attempt++ {
		if attempt > 0 && !in.sleep(ctx, in.pause) {
			err = ctx.Err()
			break
		}
		res.Attempts++

		var strategy driver.Strategy
		strategy, err = in.boundedAttempt(ctx, wf, step, data, dev)
		res.Strategy = string(strategy)
		if err == nil {
			break
		}
		if errors.Is(err, driver.ErrDeviceLost) || ctx.Err() != nil {
			break
		}
		in.logger.Debug("workflow step attempt failed",
			"step_name", step.Name, "attempt", res.Attempts, "error", err)
	}

	res.End = in.now()
	res.Duration = res.End.Sub(res.Start)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	return res, err
}

// boundedAttempt runs one attempt under the step timeout. Every device
// call of the attempt shares that bound; wait steps are bounded by their
// own duration instead.
func (in *Interpreter) boundedAttempt(ctx context.Context, wf *Workflow, step *Step, data map[string]any, dev driver.Device) (driver.Strategy, error) {
	if step.Action == ActionWait {
		return in.attempt(ctx, wf, step, data, dev)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, step.StepTimeout())
	defer cancel()

	strategy, err := in.attempt(attemptCtx, wf, step, data, dev)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, ErrUnresolved) && !errors.Is(err, driver.ErrDeviceLost) {
		err = fmt.Errorf("%w: %s after %v: %w", ErrStepTimeout, step.Action, step.StepTimeout(), err)
	}
	return strategy, err
}

// attempt performs one try of step and returns the strategy that resolved
// the element, if any.
func (in *Interpreter) attempt(ctx context.Context, wf *Workflow, step *Step, data map[string]any, dev driver.Device) (driver.Strategy, error) {
	switch step.Action {
	case ActionLaunchApp:
		pkg := step.Package
		if pkg == "" {
			pkg = wf.Metadata.AppPackage
		}
		activity := step.Activity
		if activity == "" && step.Package == "" {
			activity = wf.Metadata.AppActivity
		}
		return "", dev.LaunchApp(ctx, Expand(pkg, data), Expand(activity, data))

	case ActionClick:
		el, strategy, err := in.resolve(ctx, step, data, dev)
		if err != nil {
			return strategy, err
		}
		x, y := el.Center()
		return strategy, dev.Tap(ctx, x, y)

	case ActionInputText:
		el, strategy, err := in.resolve(ctx, step, data, dev)
		if err != nil {
			return strategy, err
		}
		x, y := el.Center()
		if err := dev.Tap(ctx, x, y); err != nil {
			return strategy, err
		}
		return strategy, dev.InputText(ctx, Expand(step.Text, data))

	case ActionWaitForElement:
		// A coordinate proves nothing about the screen, so waits only
		// accept structural matches.
		_, strategy, err := in.resolve(ctx, step, data, dev)
		return strategy, err

	case ActionSwipe:
		s := step.Swipe
		return "", dev.Swipe(ctx, s.X1, s.Y1, s.X2, s.Y2, time.Duration(s.DurationMS)*time.Millisecond)

	case ActionWait:
		if !in.sleep(ctx, time.Duration(step.DurationMS)*time.Millisecond) {
			return "", ctx.Err()
		}
		return "", nil

	case ActionPressKey:
		return "", dev.PressKey(ctx, step.Key)

	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAction, step.Action)
	}
}

// resolve finds the step's element. Structural strategies are polled in
// order until ctx expires; when a full pass misses and a coordinate
// strategy is declared for a tap-style action, the coordinate is used
// instead of waiting. A nil element from the driver counts as a miss.
func (in *Interpreter) resolve(ctx context.Context, step *Step, data map[string]any, dev driver.Device) (*driver.Element, driver.Strategy, error) {
	var structural []driver.Locator
	var fallback *driver.Locator
	for _, st := range step.Locator.Strategies {
		loc := driver.Locator{Strategy: st.Type, Value: Expand(st.Value, data)}
		if st.Type == driver.StrategyCoordinate {
			if fallback == nil && step.Action != ActionWaitForElement {
				fallback = &loc
			}
			continue
		}
		structural = append(structural, loc)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = in.now().Add(step.StepTimeout())
	}
	findCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	lastErr := driver.ErrElementNotFound
	for {
		for _, loc := range structural {
			el, err := dev.FindElement(findCtx, loc)
			if err == nil && el != nil {
				return el, loc.Strategy, nil
			}
			if errors.Is(err, driver.ErrDeviceLost) {
				return nil, "", err
			}
			if ctx.Err() != nil {
				return nil, "", in.expired(ctx, step, lastErr)
			}
			if err != nil {
				lastErr = err
			}
		}

		if fallback != nil {
			x, y, err := driver.ParseCoordinate(fallback.Value)
			if err != nil {
				return nil, "", err
			}
			return &driver.Element{Bounds: driver.Rect{X: x, Y: y}}, driver.StrategyCoordinate, nil
		}

		wait := min(in.pollInterval, time.Until(deadline))
		if wait <= 0 || !in.sleep(findCtx, wait) {
			return nil, "", in.expired(ctx, step, lastErr)
		}
	}
}

// expired reports why resolution stopped: cancellation passes through,
// running out of time is ErrUnresolved.
func (in *Interpreter) expired(ctx context.Context, step *Step, lastErr error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w after %v: %w", ErrUnresolved, step.StepTimeout(), lastErr)
}

func (in *Interpreter) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)\}`)

// Expand replaces ${key} with data[key]. Dotted keys walk nested maps.
// Unknown keys are left untouched.
func Expand(s string, data map[string]any) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[2 : len(m)-1]
		if v, ok := lookup(data, key); ok {
			return fmt.Sprint(v)
		}
		return m
	})
}

func lookup(data map[string]any, key string) (any, bool) {
	if v, ok := data[key]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(key, ".")
	if !found {
		return nil, false
	}
	switch next := data[head].(type) {
	case map[string]any:
		return lookup(next, rest)
	case map[string]string:
		v, ok := next[rest]
		return v, ok
	}
	return nil, false
}
