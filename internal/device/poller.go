package device

import (
	"context"
	"time"
)

// Enumerator reports the devices currently reachable from the host.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]Observation, error)
}

// Poller drives periodic enumeration into the registry.
//
// Without an enumerator it only sweeps, which still ages out devices that
// reported over the bus and went quiet.
type Poller struct {
	registry   *Registry
	enumerator Enumerator
	interval   time.Duration
	logger     Logger

	onObservations func([]Observation)
}

// NewPoller creates a poller. enumerator may be nil.
func NewPoller(registry *Registry, enumerator Enumerator, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		registry:   registry,
		enumerator: enumerator,
		interval:   interval,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for enumeration failures.
func (p *Poller) SetLogger(logger Logger) {
	p.logger = logger
}

// OnObservations registers a hook called with every successful
// enumeration result (used for battery telemetry).
func (p *Poller) OnObservations(fn func([]Observation)) {
	p.onObservations = fn
}

// Run polls immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.PollOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce performs a single enumeration and merge. Enumeration errors
// are logged; the table keeps its last-known state apart from the sweep.
func (p *Poller) PollOnce(ctx context.Context) {
	if p.enumerator == nil {
		p.sweep()
		return
	}

	observations, err := p.enumerator.Enumerate(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("device enumeration failed", "error", err)
		}
		p.sweep()
		return
	}

	if err := p.registry.ApplyPoll(observations); err != nil {
		p.logger.Warn("applying poll result failed", "error", err)
		return
	}
	if p.onObservations != nil {
		p.onObservations(observations)
	}
}

func (p *Poller) sweep() {
	if _, err := p.registry.Sweep(); err != nil {
		p.logger.Warn("device sweep failed", "error", err)
	}
}
