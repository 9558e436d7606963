package driver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Strategy is a locator strategy.
type Strategy string

const (
	StrategyID         Strategy = "id"
	StrategyText       Strategy = "text"
	StrategyXPath      Strategy = "xpath"
	StrategyCoordinate Strategy = "coordinate"
)

// Locator identifies a UI element by one strategy.
type Locator struct {
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	Value    string   `json:"value" yaml:"value"`
}

func (l Locator) String() string {
	return string(l.Strategy) + "=" + l.Value
}

// Rect is an element's bounds in screen pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Element is a resolved UI element.
type Element struct {
	ID     string `json:"id,omitempty"`
	Text   string `json:"text,omitempty"`
	Class  string `json:"class,omitempty"`
	Bounds Rect   `json:"bounds"`
}

// Center returns the tap point of the element.
func (e *Element) Center() (x, y int) {
	return e.Bounds.X + e.Bounds.Width/2, e.Bounds.Y + e.Bounds.Height/2
}

// Device is a connected device handle.
type Device interface {
	ID() string
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	InputText(ctx context.Context, text string) error
	// FindElement returns ErrElementNotFound, or a nil element with a nil
	// error, when loc does not resolve.
	FindElement(ctx context.Context, loc Locator) (*Element, error)
	Screenshot(ctx context.Context) ([]byte, error)
	LaunchApp(ctx context.Context, pkg, activity string) error
	PressKey(ctx context.Context, key string) error
}

// Driver connects to devices by id.
type Driver interface {
	Connect(ctx context.Context, deviceID string) (Device, error)
}

// ParseCoordinate parses an "x,y" coordinate locator value.
func ParseCoordinate(value string) (x, y int, err error) {
	xs, ys, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("%w: coordinate %q, want \"x,y\"", ErrInvalidLocator, value)
	}
	x, errX := strconv.Atoi(strings.TrimSpace(xs))
	y, errY := strconv.Atoi(strings.TrimSpace(ys))
	if errX != nil || errY != nil || x < 0 || y < 0 {
		return 0, 0, fmt.Errorf("%w: coordinate %q", ErrInvalidLocator, value)
	}
	return x, y, nil
}

// ValidStrategy reports whether s is a known strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyID, StrategyText, StrategyXPath, StrategyCoordinate:
		return true
	}
	return false
}
