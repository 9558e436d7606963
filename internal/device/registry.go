package device

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const (
	// staleFactor × pollInterval without a report makes a device stale.
	staleFactor = 2

	defaultPollInterval = 10 * time.Second
	defaultMinBattery   = 20

	eventBufferSize = 256
)

// Options configures a Registry.
type Options struct {
	// PollInterval is the enumeration period; staleness is derived from it.
	PollInterval time.Duration

	// MinBattery is the exclusive lower bound for availability.
	MinBattery int

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Registry is the single-writer device table.
//
// One actor goroutine owns the table. Every public method submits a
// closure over the ops channel and waits for it to run, so operations are
// linearizable and Reserve is atomic against concurrent callers.
type Registry struct {
	ops     chan func()
	quit    chan struct{}
	stopped chan struct{}

	// Owned by the actor goroutine.
	devices map[string]*Device

	events       chan Event
	notifierDone chan struct{}

	pollInterval time.Duration
	minBattery   int
	now          func() time.Time

	mu        sync.RWMutex
	listeners []func(Event)
	logger    Logger

	closeOnce sync.Once
}

// NewRegistry creates a registry and starts its actor.
// Call Close to stop it.
func NewRegistry(opts Options) *Registry {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MinBattery < 0 {
		opts.MinBattery = defaultMinBattery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		ops:          make(chan func()),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		devices:      make(map[string]*Device),
		events:       make(chan Event, eventBufferSize),
		notifierDone: make(chan struct{}),
		pollInterval: opts.PollInterval,
		minBattery:   opts.MinBattery,
		now:          opts.Now,
		logger:       noopLogger{},
	}

	go r.loop()
	go r.notify()
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

func (r *Registry) log() Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

// OnChange registers a listener for device events. Listeners run on a
// separate goroutine, never on the actor, and must not block for long.
func (r *Registry) OnChange(fn func(Event)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Close stops the actor and waits for pending events to be delivered.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.stopped
		// The actor was the only sender.
		close(r.events)
		<-r.notifierDone
	})
}

func (r *Registry) loop() {
	defer close(r.stopped)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.quit:
			return
		}
	}
}

func (r *Registry) notify() {
	defer close(r.notifierDone)
	for ev := range r.events {
		r.mu.RLock()
		listeners := slices.Clone(r.listeners)
		r.mu.RUnlock()

		for _, fn := range listeners {
			r.deliver(fn, ev)
		}
	}
}

func (r *Registry) deliver(fn func(Event), ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log().Error("device listener panic recovered", "event", ev.Type, "panic", rec)
		}
	}()
	fn(ev)
}

// do runs fn on the actor and waits for it to finish.
func (r *Registry) do(fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case r.ops <- op:
	case <-r.stopped:
		return ErrRegistryStopped
	}
	<-done
	return nil
}

// emit queues an event. Actor only.
func (r *Registry) emit(eventType string, d *Device, at time.Time) {
	select {
	case r.events <- Event{Type: eventType, Device: d.Copy(), At: at}:
	default:
		r.log().Warn("device event dropped, listeners too slow", "event", eventType, "device_id", d.ID)
	}
}

// ─── Actor-side helpers ────────────────────────────────────────────

func (r *Registry) staleAt(d *Device, now time.Time) bool {
	return now.Sub(d.LastSeen) > staleFactor*r.pollInterval
}

func (r *Registry) availableAt(d *Device, now time.Time) bool {
	if !d.Online || d.Reserved || r.staleAt(d, now) {
		return false
	}
	return d.BatteryLevel == BatteryUnknown || d.BatteryLevel > r.minBattery
}

func (r *Registry) apply(obs Observation) {
	at := obs.At
	if at.IsZero() {
		at = r.now()
	}

	d, exists := r.devices[obs.ID]
	if !exists {
		d = &Device{
			ID:             obs.ID,
			Name:           obs.ID,
			Model:          "unknown",
			BatteryLevel:   BatteryUnknown,
			ConnectionType: ConnectionBus,
		}
		r.devices[obs.ID] = d
	}
	wasOnline := d.Online

	if obs.Name != "" {
		d.Name = obs.Name
	}
	if obs.Model != "" {
		d.Model = obs.Model
	}
	if obs.OSVersion != "" {
		d.OSVersion = obs.OSVersion
	}
	if obs.BatteryLevel != BatteryUnknown {
		d.BatteryLevel = obs.BatteryLevel
	}
	if obs.ConnectionType != "" {
		d.ConnectionType = obs.ConnectionType
	}
	if obs.Tags != nil {
		d.Tags = slices.Clone(obs.Tags)
	}
	if obs.Source != "" {
		d.Source = obs.Source
	}
	if at.After(d.LastSeen) {
		d.LastSeen = at
	}
	d.Online = true

	if !exists {
		r.log().Info("device discovered", "device_id", d.ID, "model", d.Model, "source", d.Source)
		r.emit(EventDiscovered, d, at)
	}
	if !wasOnline {
		r.emit(EventOnline, d, at)
	}
}

func (r *Registry) sweep(now time.Time) int {
	marked := 0
	for _, d := range r.devices {
		if d.Online && r.staleAt(d, now) {
			d.Online = false
			marked++
			r.log().Info("device went stale", "device_id", d.ID, "last_seen", d.LastSeen)
			r.emit(EventOffline, d, now)
		}
	}
	return marked
}

// sortedIDs gives reads and selection a deterministic order.
func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ─── Public operations ─────────────────────────────────────────────

// Observe merges a single observation. Passive reports overwrite stored
// fields immediately and refresh the heartbeat.
func (r *Registry) Observe(obs Observation) error {
	obs.ID = strings.TrimSpace(obs.ID)
	if obs.ID == "" {
		return ErrInvalidObservation
	}
	return r.do(func() { r.apply(obs) })
}

// ApplyPoll merges a full enumeration result and sweeps stale devices in
// one actor turn.
func (r *Registry) ApplyPoll(observations []Observation) error {
	return r.do(func() {
		for _, obs := range observations {
			obs.ID = strings.TrimSpace(obs.ID)
			if obs.ID == "" {
				continue
			}
			r.apply(obs)
		}
		r.sweep(r.now())
	})
}

// Sweep marks stale devices offline and returns how many changed.
func (r *Registry) Sweep() (int, error) {
	var marked int
	err := r.do(func() { marked = r.sweep(r.now()) })
	return marked, err
}

// GetAvailableDevices returns devices that are online, fresh, unreserved
// and have enough battery (unknown battery counts as enough).
func (r *Registry) GetAvailableDevices() ([]Device, error) {
	var out []Device
	err := r.do(func() {
		now := r.now()
		for _, id := range r.sortedIDs() {
			if d := r.devices[id]; r.availableAt(d, now) {
				out = append(out, d.Copy())
			}
		}
	})
	return out, err
}

// Reserve atomically claims a device. It fails if the device is unknown,
// already reserved, offline or stale.
func (r *Registry) Reserve(id string) bool {
	ok := false
	err := r.do(func() {
		d, exists := r.devices[id]
		if !exists || d.Reserved || !d.Online || r.staleAt(d, r.now()) {
			return
		}
		d.Reserved = true
		d.ReservedBy = ""
		ok = true
	})
	return err == nil && ok
}

// ReserveMatching atomically selects and reserves the first available
// device (by id order) that satisfies sel, recording owner on it.
func (r *Registry) ReserveMatching(sel Selector, owner string) (Device, error) {
	var (
		picked Device
		resErr error
	)
	err := r.do(func() {
		now := r.now()

		if sel.DeviceID != "" {
			d, exists := r.devices[sel.DeviceID]
			switch {
			case !exists:
				resErr = ErrDeviceNotFound
				return
			case d.Reserved:
				resErr = ErrDeviceReserved
				return
			case !d.Online || r.staleAt(d, now):
				resErr = ErrDeviceOffline
				return
			}
		}

		for _, id := range r.sortedIDs() {
			d := r.devices[id]
			if r.availableAt(d, now) && sel.Matches(d) {
				d.Reserved = true
				d.ReservedBy = owner
				picked = d.Copy()
				return
			}
		}
		resErr = ErrNoDeviceAvailable
	})
	if err != nil {
		return Device{}, err
	}
	return picked, resErr
}

// Release returns a device to the pool. Releasing an unreserved device is a no-op.
func (r *Registry) Release(id string) error {
	var found bool
	err := r.do(func() {
		d, exists := r.devices[id]
		if !exists {
			return
		}
		found = true
		d.Reserved = false
		d.ReservedBy = ""
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrDeviceNotFound
	}
	return nil
}

// MarkOffline releases a device and marks it offline after it was lost
// mid-task. It comes back online with its next report.
func (r *Registry) MarkOffline(id string) error {
	var found bool
	err := r.do(func() {
		d, exists := r.devices[id]
		if !exists {
			return
		}
		found = true
		d.Reserved = false
		d.ReservedBy = ""
		if d.Online {
			d.Online = false
			r.emit(EventOffline, d, r.now())
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrDeviceNotFound
	}
	return nil
}

// GetDevice returns a copy of one device.
func (r *Registry) GetDevice(id string) (Device, error) {
	var (
		out   Device
		found bool
	)
	err := r.do(func() {
		if d, exists := r.devices[id]; exists {
			out = d.Copy()
			found = true
		}
	})
	if err != nil {
		return Device{}, err
	}
	if !found {
		return Device{}, ErrDeviceNotFound
	}
	return out, nil
}

// ListDevices returns copies of every known device ordered by id.
func (r *Registry) ListDevices() ([]Device, error) {
	var out []Device
	err := r.do(func() {
		out = make([]Device, 0, len(r.devices))
		for _, id := range r.sortedIDs() {
			out = append(out, r.devices[id].Copy())
		}
	})
	return out, err
}

// IsOnline reports whether a device is online and fresh right now.
func (r *Registry) IsOnline(id string) bool {
	online := false
	err := r.do(func() {
		if d, exists := r.devices[id]; exists {
			online = d.Online && !r.staleAt(d, r.now())
		}
	})
	return err == nil && online
}

// Stats summarises the table.
func (r *Registry) Stats() (Stats, error) {
	var s Stats
	err := r.do(func() {
		now := r.now()
		for _, d := range r.devices {
			s.Total++
			if d.Online && !r.staleAt(d, now) {
				s.Online++
			}
			if d.Reserved {
				s.Reserved++
			}
			if r.availableAt(d, now) {
				s.Available++
			}
		}
	})
	return s, err
}
