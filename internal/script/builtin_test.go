package script

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/driver/drivertest"
)

func TestAppSmoke(t *testing.T) {
	e := NewEngine(Builtins())
	dev := drivertest.New("emulator-5554")

	res := e.Execute(context.Background(), Request{
		TaskID:   "t",
		Workplan: Workplan{ID: "wp", Workscript: AppSmokeName, Data: map[string]any{"package": "com.example.app", "settle_ms": 0}},
		Device:   dev,
	})

	if res.Status != StatusSuccess {
		t.Fatalf("Status = %q, message %q", res.Status, res.Message)
	}
	if got, want := dev.Actions(), []string{driver.ActionLaunchApp, driver.ActionScreenshot}; !slices.Equal(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
	if len(res.Steps) != 2 || len(res.Artifacts) != 1 {
		t.Fatalf("steps = %d artifacts = %d", len(res.Steps), len(res.Artifacts))
	}
	if res.Artifacts[0].Size != len(dev.Image) {
		t.Errorf("artifact size = %d, want %d", res.Artifacts[0].Size, len(dev.Image))
	}
}

func TestAppSmokeFailures(t *testing.T) {
	tests := []struct {
		name       string
		data       map[string]any
		failOn     string
		failErr    error
		wantStatus Status
		wantLost   bool
	}{
		{"missing package", map[string]any{}, "", nil, StatusFailed, false},
		{"launch fails", map[string]any{"package": "p", "settle_ms": 0}, driver.ActionLaunchApp, driver.ErrCommandFailed, StatusFailed, false},
		{"device lost", map[string]any{"package": "p", "settle_ms": 0}, driver.ActionScreenshot, fmt.Errorf("%w: x", driver.ErrDeviceLost), StatusError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := drivertest.New("d")
			if tt.failOn != "" {
				dev.FailOn(tt.failOn, tt.failErr)
			}
			res := NewEngine(Builtins()).Execute(context.Background(), Request{
				Workplan: Workplan{Workscript: AppSmokeName, Data: tt.data},
				Device:   dev,
			})
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q (%s)", res.Status, tt.wantStatus, res.Message)
			}
			if res.DeviceLost != tt.wantLost {
				t.Errorf("DeviceLost = %v, want %v", res.DeviceLost, tt.wantLost)
			}
		})
	}
}
