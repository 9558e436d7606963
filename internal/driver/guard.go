package driver

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Presence reports whether a device is currently online.
// *device.Registry satisfies it.
type Presence interface {
	IsOnline(id string) bool
}

// Guard wraps dev so that calls on an offline device fail fast with
// ErrDeviceLost, and failures observed while the device dropped off are
// reported as ErrDeviceLost too.
func Guard(dev Device, presence Presence) Device {
	if presence == nil {
		return dev
	}
	return &guarded{dev: dev, presence: presence}
}

type guarded struct {
	dev      Device
	presence Presence
}

func (g *guarded) check() error {
	if !g.presence.IsOnline(g.dev.ID()) {
		return fmt.Errorf("%w: %s", ErrDeviceLost, g.dev.ID())
	}
	return nil
}

// after maps an error to ErrDeviceLost when the device is gone.
// Element misses stay as they are while the device is still there.
func (g *guarded) after(err error) error {
	if err == nil || errors.Is(err, ErrDeviceLost) {
		return err
	}
	if !g.presence.IsOnline(g.dev.ID()) {
		return fmt.Errorf("%w: %s: %w", ErrDeviceLost, g.dev.ID(), err)
	}
	return err
}

func (g *guarded) ID() string { return g.dev.ID() }

func (g *guarded) Tap(ctx context.Context, x, y int) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.after(g.dev.Tap(ctx, x, y))
}

func (g *guarded) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.after(g.dev.Swipe(ctx, x1, y1, x2, y2, duration))
}

func (g *guarded) InputText(ctx context.Context, text string) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.after(g.dev.InputText(ctx, text))
}

func (g *guarded) FindElement(ctx context.Context, loc Locator) (*Element, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	el, err := g.dev.FindElement(ctx, loc)
	return el, g.after(err)
}

func (g *guarded) Screenshot(ctx context.Context) ([]byte, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	img, err := g.dev.Screenshot(ctx)
	return img, g.after(err)
}

func (g *guarded) LaunchApp(ctx context.Context, pkg, activity string) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.after(g.dev.LaunchApp(ctx, pkg, activity))
}

func (g *guarded) PressKey(ctx context.Context, key string) error {
	if err := g.check(); err != nil {
		return err
	}
	return g.after(g.dev.PressKey(ctx, key))
}
