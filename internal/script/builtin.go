package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/terminail/autodroid-sub001/internal/driver"
)

// AppSmokeName is the name of the built-in smoke test.
const AppSmokeName = "app_smoke"

const defaultSettle = 2 * time.Second

// AppSmoke launches data["package"] (optionally data["activity"]), waits
// data["settle_ms"] and captures a screenshot.
func AppSmoke() Module {
	return Module{
		Name:        AppSmokeName,
		Description: "Launch an app and capture a screenshot",
		Version:     "1.0.0",
		Units:       []Factory{func() Script { return ScriptFunc(runAppSmoke) }},
	}
}

// Builtins returns a source with the built-in modules.
func Builtins() *StaticSource {
	return NewStaticSource("builtin", AppSmoke())
}

func runAppSmoke(ctx context.Context, data map[string]any, dev driver.Device) (Outcome, error) {
	pkg, _ := data["package"].(string)
	if pkg == "" {
		return Outcome{
			Status:    StatusFailed,
			Message:   "data.package is required",
			ErrorType: ErrorTypeValidation,
		}, nil
	}
	activity, _ := data["activity"].(string)
	settle := defaultSettle
	if ms, ok := asInt(data["settle_ms"]); ok && ms >= 0 {
		settle = time.Duration(ms) * time.Millisecond
	}

	var out Outcome
	launch := beginStep(0, "launch", "launch_app")
	err := dev.LaunchApp(ctx, pkg, activity)
	out.Steps = append(out.Steps, launch.end(err))
	if err != nil {
		return stepFailure(out, 0, "launch", err)
	}

	select {
	case <-time.After(settle):
	case <-ctx.Done():
		return out, ctx.Err()
	}

	shot := beginStep(1, "screenshot", "screenshot")
	img, err := dev.Screenshot(ctx)
	step := shot.end(err)
	if err == nil {
		step.Screenshot = "smoke.png"
		out.Artifacts = append(out.Artifacts, Artifact{
			Name:        step.Screenshot,
			ContentType: "image/png",
			Size:        len(img),
			Data:        img,
		})
	}
	out.Steps = append(out.Steps, step)
	if err != nil {
		return stepFailure(out, 1, "screenshot", err)
	}

	out.Status = StatusSuccess
	out.Message = fmt.Sprintf("%s launched", pkg)
	return out, nil
}

type stepTimer struct {
	step StepResult
}

func beginStep(index int, name, action string) stepTimer {
	return stepTimer{step: StepResult{Index: index, Name: name, Action: action, Start: time.Now(), Attempts: 1}}
}

func (t stepTimer) end(err error) StepResult {
	t.step.End = time.Now()
	t.step.Duration = t.step.End.Sub(t.step.Start)
	t.step.Success = err == nil
	if err != nil {
		t.step.Error = err.Error()
	}
	return t.step
}

// stepFailure marks out as failed at the given step. A lost device or a
// cancelled context is returned as an error so the engine reports status
// error; anything else is an ordinary failure.
func stepFailure(out Outcome, index int, name string, err error) (Outcome, error) {
	out.Status = StatusFailed
	out.Message = err.Error()
	out.ErrorType = ErrorTypeStepFailed
	out.FailedStepIndex = &index
	out.FailedStepName = name
	if errors.Is(err, driver.ErrDeviceLost) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		out.DeviceLost = errors.Is(err, driver.ErrDeviceLost)
		return out, err
	}
	return out, nil
}

// asInt accepts the numeric types produced by YAML and JSON decoding.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case uint64:
		return int(n), true //nolint:gosec // small config values
	default:
		return 0, false
	}
}
