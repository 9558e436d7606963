package device

import (
	"slices"
	"strings"
	"time"
)

// BatteryUnknown marks a device whose battery level has not been reported.
const BatteryUnknown = -1

// ConnectionType is how the orchestrator reaches a device.
type ConnectionType string

const (
	ConnectionUSB     ConnectionType = "usb"
	ConnectionNetwork ConnectionType = "network"
	ConnectionBus     ConnectionType = "bus"
)

// Observation sources.
const (
	SourceADB = "adb"
	SourceBus = "bus"
)

// Device is one entry of the registry table.
type Device struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Model          string         `json:"model"`
	OSVersion      string         `json:"os_version"`
	BatteryLevel   int            `json:"battery_level"`
	Online         bool           `json:"online"`
	ConnectionType ConnectionType `json:"connection_type"`
	LastSeen       time.Time      `json:"last_seen"`
	Tags           []string       `json:"tags,omitempty"`

	// Source is the last source that reported the device.
	Source string `json:"source"`

	Reserved   bool   `json:"reserved"`
	ReservedBy string `json:"reserved_by,omitempty"`
}

// Copy returns an independent copy of d.
func (d *Device) Copy() Device {
	cpy := *d
	cpy.Tags = slices.Clone(d.Tags)
	return cpy
}

// HasTags reports whether d carries every tag in want.
func (d *Device) HasTags(want []string) bool {
	for _, tag := range want {
		if !slices.Contains(d.Tags, tag) {
			return false
		}
	}
	return true
}

// Observation is a single report about a device from any source.
// Zero-value fields mean "not reported" and leave the stored value alone.
type Observation struct {
	ID             string
	Name           string
	Model          string
	OSVersion      string
	BatteryLevel   int // BatteryUnknown when not reported
	ConnectionType ConnectionType
	Tags           []string
	Source         string
	At             time.Time
}

// Selector narrows the devices a test plan may run on.
// Empty fields match anything.
type Selector struct {
	DeviceID string   `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	Tags     []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Model    string   `json:"model,omitempty" yaml:"model,omitempty"`
}

// Matches reports whether d satisfies the selector.
func (s Selector) Matches(d *Device) bool {
	if s.DeviceID != "" && s.DeviceID != d.ID {
		return false
	}
	if s.Model != "" && !strings.EqualFold(s.Model, d.Model) {
		return false
	}
	return d.HasTags(s.Tags)
}

// Event types emitted to change listeners.
const (
	EventDiscovered = "device.discovered"
	EventOnline     = "device.online"
	EventOffline    = "device.offline"
)

// Event is a registry state transition.
type Event struct {
	Type   string
	Device Device
	At     time.Time
}

// Data returns the event payload used for event-triggered plans.
func (e Event) Data() map[string]any {
	return map[string]any{
		"device_id":       e.Device.ID,
		"model":           e.Device.Model,
		"connection_type": string(e.Device.ConnectionType),
	}
}

// Stats summarises the registry table.
type Stats struct {
	Total     int `json:"total"`
	Online    int `json:"online"`
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
}

// connectionTypeForSerial infers the transport from an ADB serial:
// host:port serials are network devices, everything else is USB.
func connectionTypeForSerial(serial string) ConnectionType {
	if strings.Contains(serial, ":") {
		return ConnectionNetwork
	}
	return ConnectionUSB
}
