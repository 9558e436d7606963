package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/driver/drivertest"
	"github.com/terminail/autodroid-sub001/internal/script"
)

func fastInterpreter() *Interpreter {
	return NewInterpreter(Options{Pause: -1, PollInterval: 1})
}

func mustParse(t *testing.T, doc string) *Workflow {
	t.Helper()
	wf, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("ParseBytes() error = %v", err)
	}
	return wf
}

var (
	locID   = driver.Locator{Strategy: driver.StrategyID, Value: "login"}
	locText = driver.Locator{Strategy: driver.StrategyText, Value: "Log in"}
	button  = driver.Element{Bounds: driver.Rect{X: 100, Y: 200, Width: 50, Height: 20}}
)

// ─── Parsing ───────────────────────────────────────────────────────

func TestParse(t *testing.T) {
	wf := mustParse(t, `
name: login
description: Log in
metadata:
  app_package: com.example.app
  app_activity: .Main
device_selection:
  tags: [android-14]
steps:
  - action: launch_app
  - name: tap login
    action: click
    retries: 2
    timeout: 5
    locator:
      strategies:
        - {type: id, value: login}
        - {type: coordinate, value: "10,20"}
`)
	if wf.Name != "login" || wf.Metadata.AppPackage != "com.example.app" {
		t.Errorf("header = %+v", wf)
	}
	if got := wf.DeviceSelection.Tags; !slices.Equal(got, []string{"android-14"}) {
		t.Errorf("device_selection.tags = %v", got)
	}
	if len(wf.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(wf.Steps))
	}
	if wf.Steps[0].Name != "step-1" {
		t.Errorf("default name = %q, want step-1", wf.Steps[0].Name)
	}
	if wf.Steps[0].StepTimeout() != DefaultStepTimeout {
		t.Errorf("default timeout = %v", wf.Steps[0].StepTimeout())
	}
	if wf.Steps[1].Retries != 2 || wf.Steps[1].StepTimeout().Seconds() != 5 {
		t.Errorf("step 1 = %+v", wf.Steps[1])
	}
}

func TestParseDocumentCount(t *testing.T) {
	one := "name: a\nsteps:\n  - {action: press_key, key: back}\n"
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"two documents", one + "---\n" + one},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.doc))
			if !errors.Is(err, script.ErrContractViolation) {
				t.Errorf("error = %v, want ErrContractViolation", err)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no steps", "name: a\nsteps: []\n"},
		{"unknown action", "name: a\nsteps:\n  - {action: dance}\n"},
		{"click without locator", "name: a\nsteps:\n  - {action: click}\n"},
		{"bad strategy", "name: a\nsteps:\n  - action: click\n    locator: {strategies: [{type: css, value: x}]}\n"},
		{"bad coordinate", "name: a\nsteps:\n  - action: click\n    locator: {strategies: [{type: coordinate, value: x}]}\n"},
		{"negative retries", "name: a\nsteps:\n  - {action: press_key, key: back, retries: -1}\n"},
		{"launch without package", "name: a\nsteps:\n  - {action: launch_app}\n"},
		{"input without text", "name: a\nsteps:\n  - action: input_text\n    locator: {strategies: [{type: id, value: x}]}\n"},
		{"wait_for_element on coordinate only", "name: a\nsteps:\n  - action: wait_for_element\n    locator: {strategies: [{type: coordinate, value: \"10,20\"}]}\n"},
		{"wait without duration", "name: a\nsteps:\n  - {action: wait}\n"},
		{"unknown field", "name: a\ncolour: red\nsteps:\n  - {action: press_key, key: back}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tt.doc))
			if !errors.Is(err, ErrInvalidWorkflow) {
				t.Errorf("error = %v, want ErrInvalidWorkflow", err)
			}
		})
	}
}

// ─── Interpreter ───────────────────────────────────────────────────

func TestRunFailFast(t *testing.T) {
	wf := mustParse(t, `
name: three
steps:
  - {name: back, action: press_key, key: back}
  - name: missing
    action: click
    retries: 1
    timeout: 0.02
    locator: {strategies: [{type: id, value: nope}]}
  - {name: never, action: press_key, key: home}
`)
	dev := drivertest.New("d1")

	out, err := fastInterpreter().Run(context.Background(), wf, nil, dev)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != script.StatusFailed {
		t.Errorf("Status = %q, want failed", out.Status)
	}
	if len(out.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(out.Steps))
	}
	if !out.Steps[0].Success || out.Steps[1].Success {
		t.Errorf("success flags = %v,%v, want true,false", out.Steps[0].Success, out.Steps[1].Success)
	}
	if out.Steps[1].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Steps[1].Attempts)
	}
	if out.FailedStepIndex == nil || *out.FailedStepIndex != 1 || out.FailedStepName != "missing" {
		t.Errorf("failed step = %v %q", out.FailedStepIndex, out.FailedStepName)
	}
	for _, c := range dev.Calls() {
		if c.Action == driver.ActionPressKey && c.Args[0] == "home" {
			t.Error("step after the failure was attempted")
		}
	}
	if len(out.Artifacts) != 1 || out.Steps[1].Screenshot != out.Artifacts[0].Name {
		t.Errorf("failure screenshot not attached: steps[1]=%+v artifacts=%v", out.Steps[1], out.Artifacts)
	}
}

func TestRunLocatorFallbackOrder(t *testing.T) {
	wf := mustParse(t, `
name: fallback
steps:
  - name: tap login
    action: click
    timeout: 0.05
    locator:
      strategies:
        - {type: id, value: login}
        - {type: text, value: "Log in"}
        - {type: coordinate, value: "1,1"}
`)
	dev := drivertest.New("d1")
	dev.AddElement(locText, button)

	out, err := fastInterpreter().Run(context.Background(), wf, nil, dev)
	if err != nil || out.Status != script.StatusSuccess {
		t.Fatalf("Run() = %q, %v", out.Status, err)
	}
	if out.Steps[0].Strategy != string(driver.StrategyText) {
		t.Errorf("Strategy = %q, want text", out.Steps[0].Strategy)
	}

	calls := dev.Calls()
	tap := calls[len(calls)-1]
	if tap.Action != driver.ActionTap || tap.Args[0] != 125 || tap.Args[1] != 210 {
		t.Errorf("last call = %+v, want tap at element centre (125,210)", tap)
	}
	var tried []driver.Locator
	for _, c := range calls {
		if c.Action == driver.ActionFindElement {
			tried = append(tried, c.Args[0].(driver.Locator))
		}
	}
	if !slices.Equal(tried, []driver.Locator{locID, locText}) {
		t.Errorf("lookups = %v, want [id text]", tried)
	}
}

func TestRunCoordinateLastResort(t *testing.T) {
	wf := mustParse(t, `
name: coord
steps:
  - action: click
    locator:
      strategies:
        - {type: id, value: login}
        - {type: coordinate, value: "540,1600"}
`)
	dev := drivertest.New("d1")

	out, err := fastInterpreter().Run(context.Background(), wf, nil, dev)
	if err != nil || out.Status != script.StatusSuccess {
		t.Fatalf("Run() = %q, %v", out.Status, err)
	}
	if out.Steps[0].Strategy != string(driver.StrategyCoordinate) {
		t.Errorf("Strategy = %q, want coordinate", out.Steps[0].Strategy)
	}
	calls := dev.Calls()
	if last := calls[len(calls)-1]; last.Args[0] != 540 || last.Args[1] != 1600 {
		t.Errorf("tap = %+v, want (540,1600)", last)
	}
}

func TestRunWaitIgnoresCoordinate(t *testing.T) {
	wf := mustParse(t, `
name: wait-home
steps:
  - action: wait_for_element
    timeout: 0.05
    locator:
      strategies:
        - {type: id, value: home_screen}
        - {type: coordinate, value: "10,20"}
`)
	dev := drivertest.New("d1")

	out, err := fastInterpreter().Run(context.Background(), wf, nil, dev)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != script.StatusFailed {
		t.Fatalf("Status = %q, want failed", out.Status)
	}
	if out.Steps[0].Strategy == string(driver.StrategyCoordinate) {
		t.Error("wait resolved through the coordinate strategy")
	}
	if out.Steps[0].Duration < 50*time.Millisecond {
		t.Errorf("Duration = %v, want the full step timeout", out.Steps[0].Duration)
	}
	lookups := 0
	for _, c := range dev.Calls() {
		if c.Action != driver.ActionFindElement {
			continue
		}
		lookups++
		if c.Args[0].(driver.Locator).Strategy == driver.StrategyCoordinate {
			t.Error("coordinate locator sent to the device")
		}
	}
	if lookups < 2 {
		t.Errorf("lookups = %d, want polling until the timeout", lookups)
	}
}

// nilFinder reports misses on id locators as a nil element, not an error.
type nilFinder struct {
	*drivertest.Device
}

func (n nilFinder) FindElement(ctx context.Context, loc driver.Locator) (*driver.Element, error) {
	if loc.Strategy == driver.StrategyID {
		return nil, nil
	}
	return n.Device.FindElement(ctx, loc)
}

func TestRunNilElementIsMiss(t *testing.T) {
	wf := mustParse(t, `
name: nil-element
steps:
  - action: click
    timeout: 0.05
    locator:
      strategies:
        - {type: id, value: login}
        - {type: text, value: "Log in"}
`)
	fake := drivertest.New("d1")
	fake.AddElement(locText, button)

	out, err := fastInterpreter().Run(context.Background(), wf, nil, nilFinder{fake})
	if err != nil || out.Status != script.StatusSuccess {
		t.Fatalf("Run() = %q, %v (%s)", out.Status, err, out.Message)
	}
	if out.Steps[0].Strategy != string(driver.StrategyText) {
		t.Errorf("Strategy = %q, want text", out.Steps[0].Strategy)
	}
}

func TestRunNilElementOnlyFails(t *testing.T) {
	wf := mustParse(t, `
name: nil-only
steps:
  - action: click
    timeout: 0.02
    locator: {strategies: [{type: id, value: login}]}
`)

	out, err := fastInterpreter().Run(context.Background(), wf, nil, nilFinder{drivertest.New("d1")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Status != script.StatusFailed || out.ErrorType != script.ErrorTypeStepFailed {
		t.Errorf("outcome = %q/%q (%s), want failed step", out.Status, out.ErrorType, out.Message)
	}
}

// hangingLauncher never returns from LaunchApp until its context ends.
type hangingLauncher struct {
	*drivertest.Device
}

func (h hangingLauncher) LaunchApp(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunStepTimeoutBoundsDeviceCalls(t *testing.T) {
	wf := mustParse(t, `
name: hang
steps:
  - {action: launch_app, package: com.example.app, timeout: 0.05, retries: 1}
`)

	start := time.Now()
	out, err := fastInterpreter().Run(context.Background(), wf, nil, hangingLauncher{drivertest.New("d1")})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run() took %v, want it bounded by the step timeout", elapsed)
	}
	if out.Status != script.StatusFailed {
		t.Fatalf("Status = %q, want failed", out.Status)
	}
	if out.Steps[0].Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Steps[0].Attempts)
	}
	if !strings.Contains(out.Steps[0].Error, ErrStepTimeout.Error()) {
		t.Errorf("step error = %q, want step timeout", out.Steps[0].Error)
	}
}

func TestRunWaitsForElement(t *testing.T) {
	wf := mustParse(t, `
name: wait
steps:
  - action: wait_for_element
    timeout: 1
    locator: {strategies: [{type: id, value: login}]}
`)
	dev := drivertest.New("d1")
	dev.AddElementAfter(locID, button, 3)

	out, err := fastInterpreter().Run(context.Background(), wf, nil, dev)
	if err != nil || out.Status != script.StatusSuccess {
		t.Fatalf("Run() = %q, %v (%s)", out.Status, err, out.Message)
	}
	if out.Steps[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Steps[0].Attempts)
	}
}

func TestRunRetrySucceeds(t *testing.T) {
	wf := mustParse(t, `
name: retry
steps:
  - action: wait_for_element
    retries: 2
    timeout: 0.01
    locator: {strategies: [{type: id, value: login}]}
`)
	dev := drivertest.New("d1")
	// Each attempt makes at least one lookup; the element appears late.
	dev.AddElementAfter(locID, button, 2)

	out, err := fastInterpreter().Run(context.Background(), wf, nil, dev)
	if err != nil || out.Status != script.StatusSuccess {
		t.Fatalf("Run() = %q, %v", out.Status, err)
	}
	if !out.Steps[0].Success {
		t.Error("step not successful")
	}
}

func TestRunDeviceLost(t *testing.T) {
	wf := mustParse(t, `
name: lost
steps:
  - action: click
    retries: 3
    locator: {strategies: [{type: id, value: login}]}
`)
	dev := drivertest.New("d1")
	dev.FailOn(driver.ActionFindElement, fmt.Errorf("%w: d1", driver.ErrDeviceLost))

	out, err := fastInterpreter().Run(context.Background(), wf, nil, dev)
	if !errors.Is(err, driver.ErrDeviceLost) {
		t.Fatalf("Run() error = %v, want ErrDeviceLost", err)
	}
	if !out.DeviceLost {
		t.Error("DeviceLost = false")
	}
	if out.Steps[0].Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", out.Steps[0].Attempts)
	}
	if slices.Contains(dev.Actions(), driver.ActionScreenshot) {
		t.Error("screenshot attempted on a lost device")
	}
}

func TestRunActions(t *testing.T) {
	wf := mustParse(t, `
name: actions
metadata: {app_package: com.example.app, app_activity: .Main}
steps:
  - action: launch_app
  - action: input_text
    text: "${user}"
    locator: {strategies: [{type: id, value: login}]}
  - action: swipe
    swipe: {x1: 1, y1: 2, x2: 3, y2: 4, duration_ms: 300}
  - {action: wait, duration_ms: 1}
  - {action: press_key, key: back}
  - {action: launch_app, package: "${other}"}
`)
	dev := drivertest.New("d1")
	dev.AddElement(locID, button)

	out, err := fastInterpreter().Run(context.Background(), wf, map[string]any{"user": "alice", "other": "com.other"}, dev)
	if err != nil || out.Status != script.StatusSuccess {
		t.Fatalf("Run() = %q, %v (%s)", out.Status, err, out.Message)
	}

	want := []string{
		driver.ActionLaunchApp,
		driver.ActionFindElement, driver.ActionTap, driver.ActionInputText,
		driver.ActionSwipe,
		driver.ActionPressKey,
		driver.ActionLaunchApp,
	}
	if got := dev.Actions(); !slices.Equal(got, want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	calls := dev.Calls()
	if calls[0].Args[0] != "com.example.app" || calls[0].Args[1] != ".Main" {
		t.Errorf("launch = %v, want metadata package and activity", calls[0].Args)
	}
	if calls[3].Args[0] != "alice" {
		t.Errorf("input text = %v, want alice", calls[3].Args[0])
	}
	if calls[6].Args[0] != "com.other" || calls[6].Args[1] != "" {
		t.Errorf("second launch = %v", calls[6].Args)
	}
}

func TestRunCancelled(t *testing.T) {
	wf := mustParse(t, "name: c\nsteps:\n  - {action: wait, duration_ms: 60000}\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastInterpreter().Run(ctx, wf, nil, drivertest.New("d1"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestExpand(t *testing.T) {
	data := map[string]any{
		"user":  "alice",
		"count": 3,
		"app":   map[string]any{"package": "com.example"},
	}
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"${user}", "alice"},
		{"hi ${user}, ${count} left", "hi alice, 3 left"},
		{"${app.package}", "com.example"},
		{"${missing}", "${missing}"},
		{"$5 off", "$5 off"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in, data); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ─── Source ────────────────────────────────────────────────────────

func TestDirSourceThroughEngine(t *testing.T) {
	fsys := fstest.MapFS{
		"login.yaml":  {Data: []byte("name: login\nsteps:\n  - {action: press_key, key: back}\n")},
		"other.yml":   {Data: []byte("name: other\nsteps:\n  - {action: press_key, key: home}\n")},
		"broken.yaml": {Data: []byte("name: b\nsteps:\n  - {action: press_key, key: back}\n---\nname: c\n")},
		"README.md":   {Data: []byte("docs")},
	}
	src := NewDirSource(fsys, fastInterpreter())

	names, err := src.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Equal(names, []string{"broken", "login", "other"}) {
		t.Errorf("List() = %v", names)
	}

	e := script.NewEngine(src)
	dev := drivertest.New("d1")
	res := e.Execute(context.Background(), script.Request{
		TaskID:   "t1",
		Workplan: script.Workplan{ID: "wp", Workscript: "login"},
		Device:   dev,
	})
	if res.Status != script.StatusSuccess {
		t.Errorf("login Status = %q (%s)", res.Status, res.Message)
	}

	res = e.Execute(context.Background(), script.Request{
		Workplan: script.Workplan{Workscript: "broken"},
		Device:   dev,
	})
	if res.Status != script.StatusError || res.ErrorType != script.ErrorTypeContract {
		t.Errorf("broken = (%q,%q), want (error,%q)", res.Status, res.ErrorType, script.ErrorTypeContract)
	}

	if _, err := src.Lookup("../etc/passwd"); !errors.Is(err, script.ErrNotFound) {
		t.Errorf("Lookup(traversal) error = %v, want ErrNotFound", err)
	}
	if _, err := src.Lookup("absent"); !errors.Is(err, script.ErrNotFound) {
		t.Errorf("Lookup(absent) error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(e.ListScripts()[0].Error, "documents") {
		t.Errorf("broken listing = %+v", e.ListScripts()[0])
	}
}
