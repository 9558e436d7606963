package driver

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/terminail/autodroid-sub001/internal/bus"
)

func newTestDriver(t *testing.T, timeout time.Duration) (*BusDriver, *Simulator) {
	t.Helper()
	b := bus.NewMemoryBus()
	sim := NewSimulator(b, []SimulatedDevice{{ID: "emulator-5554", Model: "sdk", BatteryLevel: 90}})
	if err := sim.Start(); err != nil {
		t.Fatalf("sim.Start() error = %v", err)
	}
	d := NewBusDriver(b, timeout)
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return d, sim
}

func TestParseCoordinate(t *testing.T) {
	tests := []struct {
		value   string
		x, y    int
		wantErr bool
	}{
		{"540,1200", 540, 1200, false},
		{" 10 , 20 ", 10, 20, false},
		{"540", 0, 0, true},
		{"a,b", 0, 0, true},
		{"-1,5", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			x, y, err := ParseCoordinate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLocator) {
				t.Errorf("error = %v, want ErrInvalidLocator", err)
			}
			if x != tt.x || y != tt.y {
				t.Errorf("got (%d,%d), want (%d,%d)", x, y, tt.x, tt.y)
			}
		})
	}
}

func TestElementCenter(t *testing.T) {
	el := &Element{Bounds: Rect{X: 100, Y: 200, Width: 80, Height: 40}}
	if x, y := el.Center(); x != 140 || y != 220 {
		t.Errorf("Center() = (%d,%d), want (140,220)", x, y)
	}
}

func TestBusDriver_ConnectRequiresStart(t *testing.T) {
	d := NewBusDriver(bus.NewMemoryBus(), time.Second)
	if _, err := d.Connect(context.Background(), "d1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Connect() error = %v, want ErrNotStarted", err)
	}
}

func TestBusDriver_Primitives(t *testing.T) {
	d, sim := newTestDriver(t, time.Second)
	ctx := context.Background()

	dev, err := d.Connect(ctx, "emulator-5554")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := dev.LaunchApp(ctx, "com.example.app", ""); err != nil {
		t.Errorf("LaunchApp() error = %v", err)
	}
	if err := dev.Tap(ctx, 1, 2); err != nil {
		t.Errorf("Tap() error = %v", err)
	}
	if err := dev.Swipe(ctx, 0, 0, 10, 10, 300*time.Millisecond); err != nil {
		t.Errorf("Swipe() error = %v", err)
	}
	if err := dev.InputText(ctx, "hello"); err != nil {
		t.Errorf("InputText() error = %v", err)
	}
	if err := dev.PressKey(ctx, "BACK"); err != nil {
		t.Errorf("PressKey() error = %v", err)
	}

	el, err := dev.FindElement(ctx, Locator{Strategy: StrategyText, Value: "Login"})
	if err != nil {
		t.Fatalf("FindElement() error = %v", err)
	}
	if el.Text != "Login" || el.Bounds.Width != 80 {
		t.Errorf("element = %+v", el)
	}

	img, err := dev.Screenshot(ctx)
	if err != nil {
		t.Fatalf("Screenshot() error = %v", err)
	}
	if !bytes.HasPrefix(img, []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("screenshot is not a PNG: % x", img[:min(4, len(img))])
	}

	wantActions := []string{ActionLaunchApp, ActionTap, ActionSwipe, ActionInputText, ActionPressKey, ActionFindElement, ActionScreenshot}
	cmds := sim.Commands()
	if len(cmds) != len(wantActions) {
		t.Fatalf("agent received %d commands, want %d", len(cmds), len(wantActions))
	}
	for i, a := range wantActions {
		if cmds[i].Action != a {
			t.Errorf("command %d = %s, want %s", i, cmds[i].Action, a)
		}
	}
}

func TestBusDriver_ElementNotFound(t *testing.T) {
	d, sim := newTestDriver(t, time.Second)
	sim.Hide("com.example:id/missing")

	dev, _ := d.Connect(context.Background(), "emulator-5554")
	_, err := dev.FindElement(context.Background(), Locator{Strategy: StrategyID, Value: "com.example:id/missing"})
	if !errors.Is(err, ErrElementNotFound) {
		t.Errorf("FindElement() error = %v, want ErrElementNotFound", err)
	}
}

func TestBusDriver_CoordinateResolvedLocally(t *testing.T) {
	d, sim := newTestDriver(t, time.Second)
	dev, _ := d.Connect(context.Background(), "emulator-5554")

	el, err := dev.FindElement(context.Background(), Locator{Strategy: StrategyCoordinate, Value: "300,400"})
	if err != nil {
		t.Fatalf("FindElement() error = %v", err)
	}
	if x, y := el.Center(); x != 300 || y != 400 {
		t.Errorf("Center() = (%d,%d)", x, y)
	}
	if len(sim.Commands()) != 0 {
		t.Error("coordinate locator made a bus round trip")
	}
}

func TestBusDriver_InvalidStrategy(t *testing.T) {
	d, _ := newTestDriver(t, time.Second)
	dev, _ := d.Connect(context.Background(), "emulator-5554")
	if _, err := dev.FindElement(context.Background(), Locator{Strategy: "css", Value: "x"}); !errors.Is(err, ErrInvalidLocator) {
		t.Errorf("FindElement() error = %v, want ErrInvalidLocator", err)
	}
}

func TestBusDriver_Timeout(t *testing.T) {
	d, _ := newTestDriver(t, 20*time.Millisecond)

	// No agent answers for this device.
	dev, _ := d.Connect(context.Background(), "silent-device")
	if err := dev.Tap(context.Background(), 1, 1); !errors.Is(err, ErrTimeout) {
		t.Errorf("Tap() error = %v, want ErrTimeout", err)
	}
}

// ─── Guard ─────────────────────────────────────────────────────────

type fakePresence struct {
	mu     sync.Mutex
	online bool
}

func (p *fakePresence) IsOnline(string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *fakePresence) set(v bool) {
	p.mu.Lock()
	p.online = v
	p.mu.Unlock()
}

// flakyDevice fails every call with a plain error.
type flakyDevice struct{ Device }

func (flakyDevice) ID() string { return "d1" }
func (flakyDevice) Tap(context.Context, int, int) error {
	return ErrTimeout
}

func TestGuard(t *testing.T) {
	presence := &fakePresence{online: true}
	dev := Guard(flakyDevice{}, presence)

	// Online: the underlying error passes through unchanged.
	if err := dev.Tap(context.Background(), 0, 0); !errors.Is(err, ErrTimeout) || errors.Is(err, ErrDeviceLost) {
		t.Errorf("online Tap() error = %v, want plain ErrTimeout", err)
	}

	// Offline before the call: fail fast.
	presence.set(false)
	if err := dev.Tap(context.Background(), 0, 0); !errors.Is(err, ErrDeviceLost) {
		t.Errorf("offline Tap() error = %v, want ErrDeviceLost", err)
	}
}

func TestGuard_NilPresence(t *testing.T) {
	inner := flakyDevice{}
	if got := Guard(inner, nil); got != Device(inner) {
		t.Error("Guard with nil presence should return the device unchanged")
	}
}
