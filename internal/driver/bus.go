package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
)

// Command actions understood by the device agent.
const (
	ActionTap         = "tap"
	ActionSwipe       = "swipe"
	ActionInputText   = "input_text"
	ActionFindElement = "find_element"
	ActionScreenshot  = "screenshot"
	ActionLaunchApp   = "launch_app"
	ActionPressKey    = "press_key"
)

// Agent error code for an unresolved locator.
const errCodeElementNotFound = "element_not_found"

const defaultCommandTimeout = 30 * time.Second

// BusDriver sends primitives over the Command Bus.
type BusDriver struct {
	bus     bus.Bus
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan bus.Response
	started bool
}

// NewBusDriver creates a driver. Call Start before Connect.
func NewBusDriver(b bus.Bus, timeout time.Duration) *BusDriver {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &BusDriver{
		bus:     b,
		timeout: timeout,
		pending: make(map[string]chan bus.Response),
	}
}

// Start subscribes to every device's response topic.
func (d *BusDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if err := d.bus.Subscribe(mqtt.Topics{}.AllDeviceResponses(), d.handleResponse); err != nil {
		return fmt.Errorf("subscribing to device responses: %w", err)
	}
	d.started = true
	return nil
}

func (d *BusDriver) handleResponse(topic string, payload []byte) error {
	var resp bus.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decoding response on %s: %w", topic, err)
	}
	if resp.DeviceID == "" {
		resp.DeviceID, _ = mqtt.DeviceIDFromTopic(topic)
	}

	d.mu.Lock()
	ch, ok := d.pending[resp.ID]
	if ok {
		delete(d.pending, resp.ID)
	}
	d.mu.Unlock()

	if ok {
		// Buffered with capacity 1 and removed from pending, so never blocks.
		ch <- resp
	}
	// Late or unknown responses are dropped.
	return nil
}

// Connect returns a handle for deviceID. No round trip is made; liveness
// is the registry's concern.
func (d *BusDriver) Connect(ctx context.Context, deviceID string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	return &busDevice{id: deviceID, driver: d}, nil
}

// call sends one command and waits for its response.
func (d *BusDriver) call(ctx context.Context, deviceID, action string, params map[string]any) (bus.Response, error) {
	cmd := bus.NewCommand(action, params)
	ch := make(chan bus.Response, 1)

	d.mu.Lock()
	d.pending[cmd.ID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, cmd.ID)
		d.mu.Unlock()
	}()

	if err := bus.SendCommand(ctx, d.bus, deviceID, cmd); err != nil {
		return bus.Response{}, fmt.Errorf("%s on %s: %w", action, deviceID, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.Success {
			if resp.Error == errCodeElementNotFound {
				return resp, ErrElementNotFound
			}
			return resp, fmt.Errorf("%w: %s on %s: %s", ErrCommandFailed, action, deviceID, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return bus.Response{}, fmt.Errorf("%w: %s on %s after %v", ErrTimeout, action, deviceID, d.timeout)
	case <-ctx.Done():
		return bus.Response{}, ctx.Err()
	}
}

type busDevice struct {
	id     string
	driver *BusDriver
}

func (b *busDevice) ID() string { return b.id }

func (b *busDevice) exec(ctx context.Context, action string, params map[string]any) error {
	_, err := b.driver.call(ctx, b.id, action, params)
	return err
}

func (b *busDevice) Tap(ctx context.Context, x, y int) error {
	return b.exec(ctx, ActionTap, map[string]any{"x": x, "y": y})
}

func (b *busDevice) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	return b.exec(ctx, ActionSwipe, map[string]any{
		"x1": x1, "y1": y1, "x2": x2, "y2": y2,
		"duration_ms": duration.Milliseconds(),
	})
}

func (b *busDevice) InputText(ctx context.Context, text string) error {
	return b.exec(ctx, ActionInputText, map[string]any{"text": text})
}

func (b *busDevice) LaunchApp(ctx context.Context, pkg, activity string) error {
	params := map[string]any{"package": pkg}
	if activity != "" {
		params["activity"] = activity
	}
	return b.exec(ctx, ActionLaunchApp, params)
}

func (b *busDevice) PressKey(ctx context.Context, key string) error {
	return b.exec(ctx, ActionPressKey, map[string]any{"key": key})
}

// FindElement resolves coordinate locators locally and forwards the rest.
func (b *busDevice) FindElement(ctx context.Context, loc Locator) (*Element, error) {
	if loc.Strategy == StrategyCoordinate {
		x, y, err := ParseCoordinate(loc.Value)
		if err != nil {
			return nil, err
		}
		return &Element{Bounds: Rect{X: x, Y: y}}, nil
	}
	if !ValidStrategy(loc.Strategy) {
		return nil, fmt.Errorf("%w: strategy %q", ErrInvalidLocator, loc.Strategy)
	}

	resp, err := b.driver.call(ctx, b.id, ActionFindElement, map[string]any{
		"strategy": string(loc.Strategy),
		"value":    loc.Value,
	})
	if err != nil {
		return nil, err
	}

	var el Element
	if err := json.Unmarshal(resp.Data, &el); err != nil {
		return nil, fmt.Errorf("%w: decoding element for %s: %w", ErrCommandFailed, loc, err)
	}
	return &el, nil
}

type screenshotData struct {
	// Image is base64 in JSON.
	Image []byte `json:"image"`
}

func (b *busDevice) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := b.driver.call(ctx, b.id, ActionScreenshot, nil)
	if err != nil {
		return nil, err
	}
	var data screenshotData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decoding screenshot: %w", ErrCommandFailed, err)
	}
	return data.Image, nil
}
