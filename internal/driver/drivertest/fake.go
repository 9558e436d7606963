// Package drivertest provides an in-process driver.Device for tests.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/terminail/autodroid-sub001/internal/driver"
)

// Call is one recorded primitive.
type Call struct {
	Action string
	Args   []any
}

// Device records every call. Elements maps "strategy=value" to the element
// returned by FindElement; misses return driver.ErrElementNotFound.
type Device struct {
	DeviceID string
	Image    []byte

	mu       sync.Mutex
	calls    []Call
	elements map[string]driver.Element
	failures map[string]error
	appearAt map[string]int
	lookups  map[string]int
}

// New creates a fake device.
func New(id string) *Device {
	return &Device{
		DeviceID: id,
		Image:    []byte("\x89PNG fake"),
		elements: make(map[string]driver.Element),
		failures: make(map[string]error),
		appearAt: make(map[string]int),
		lookups:  make(map[string]int),
	}
}

// AddElement makes loc resolvable.
func (d *Device) AddElement(loc driver.Locator, el driver.Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[loc.String()] = el
}

// AddElementAfter makes loc resolvable from the n-th lookup onwards
// (1-based).
func (d *Device) AddElementAfter(loc driver.Locator, el driver.Element, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[loc.String()] = el
	d.appearAt[loc.String()] = n
}

// FailOn makes action return err.
func (d *Device) FailOn(action string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[action] = err
}

// Calls returns a copy of the recorded calls.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Actions returns the recorded action names in order.
func (d *Device) Actions() []string {
	calls := d.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Action
	}
	return out
}

func (d *Device) record(ctx context.Context, action string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Action: action, Args: args})
	return d.failures[action]
}

func (d *Device) ID() string { return d.DeviceID }

func (d *Device) Tap(ctx context.Context, x, y int) error {
	return d.record(ctx, driver.ActionTap, x, y)
}

func (d *Device) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	return d.record(ctx, driver.ActionSwipe, x1, y1, x2, y2, duration)
}

func (d *Device) InputText(ctx context.Context, text string) error {
	return d.record(ctx, driver.ActionInputText, text)
}

func (d *Device) LaunchApp(ctx context.Context, pkg, activity string) error {
	return d.record(ctx, driver.ActionLaunchApp, pkg, activity)
}

func (d *Device) PressKey(ctx context.Context, key string) error {
	return d.record(ctx, driver.ActionPressKey, key)
}

func (d *Device) Screenshot(ctx context.Context) ([]byte, error) {
	if err := d.record(ctx, driver.ActionScreenshot); err != nil {
		return nil, err
	}
	return d.Image, nil
}

func (d *Device) FindElement(ctx context.Context, loc driver.Locator) (*driver.Element, error) {
	if err := d.record(ctx, driver.ActionFindElement, loc); err != nil {
		return nil, err
	}
	if loc.Strategy == driver.StrategyCoordinate {
		x, y, err := driver.ParseCoordinate(loc.Value)
		if err != nil {
			return nil, err
		}
		return &driver.Element{Bounds: driver.Rect{X: x, Y: y}}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	key := loc.String()
	d.lookups[key]++
	el, ok := d.elements[key]
	if !ok || d.lookups[key] < d.appearAt[key] {
		return nil, fmt.Errorf("%w: %s", driver.ErrElementNotFound, key)
	}
	return &el, nil
}
