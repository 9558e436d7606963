package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
)

// simulatedPNG is a 1×1 transparent PNG.
var simulatedPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0b, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// SimulatedDevice describes one fake agent served by a Simulator.
type SimulatedDevice struct {
	ID           string
	Model        string
	OSVersion    string
	BatteryLevel int
	Tags         []string
}

// Simulator plays the on-device agent over a bus: it announces devices
// on their info topics and answers commands. It backs the dry-run mode.
//
// Every locator resolves unless its value was registered with Hide.
type Simulator struct {
	bus     bus.Bus
	devices map[string]SimulatedDevice

	mu     sync.Mutex
	hidden map[string]bool
	log    []bus.Command
}

// NewSimulator creates a simulator for the given devices.
func NewSimulator(b bus.Bus, devices []SimulatedDevice) *Simulator {
	byID := make(map[string]SimulatedDevice, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}
	return &Simulator{bus: b, devices: byID, hidden: make(map[string]bool)}
}

// Hide makes locators with this value fail with element_not_found.
func (s *Simulator) Hide(value string) {
	s.mu.Lock()
	s.hidden[value] = true
	s.mu.Unlock()
}

// Commands returns the commands received so far.
func (s *Simulator) Commands() []bus.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

// Start subscribes to every device command topic.
func (s *Simulator) Start() error {
	return s.bus.Subscribe(mqtt.Topics{}.DeviceCommand("+"), s.handleCommand)
}

// Announce publishes one info message per device.
func (s *Simulator) Announce(ctx context.Context) error {
	for _, d := range s.devices {
		payload, err := json.Marshal(map[string]any{
			"udid":          d.ID,
			"name":          d.ID,
			"model":         d.Model,
			"os_version":    d.OSVersion,
			"battery_level": d.BatteryLevel,
			"tags":          d.Tags,
		})
		if err != nil {
			return err
		}
		if err := s.bus.Publish(ctx, mqtt.Topics{}.DeviceInfo(d.ID), payload); err != nil {
			return err
		}
	}
	return nil
}

// Run announces every interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Announce(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("announcing simulated devices: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Simulator) handleCommand(topic string, payload []byte) error {
	id, ok := mqtt.DeviceIDFromTopic(topic)
	if !ok || id == mqtt.BroadcastDeviceID {
		return nil
	}
	if _, known := s.devices[id]; !known {
		return nil
	}

	var cmd bus.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return err
	}
	s.mu.Lock()
	s.log = append(s.log, cmd)
	s.mu.Unlock()

	resp := bus.Response{ID: cmd.ID, DeviceID: id, Success: true}
	switch cmd.Action {
	case ActionFindElement:
		value, _ := cmd.Params["value"].(string)
		s.mu.Lock()
		hidden := s.hidden[value]
		s.mu.Unlock()
		if hidden {
			resp.Success = false
			resp.Error = errCodeElementNotFound
			break
		}
		resp.Data, _ = json.Marshal(Element{Text: value, Bounds: Rect{X: 100, Y: 200, Width: 80, Height: 40}})
	case ActionScreenshot:
		resp.Data, _ = json.Marshal(screenshotData{Image: simulatedPNG})
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.bus.Publish(context.Background(), mqtt.Topics{}.DeviceResponse(id), out)
}
