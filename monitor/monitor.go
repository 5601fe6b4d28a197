// Package monitor runs the per-second evaluation loop: wattage resolution
// per outlet, ledger accumulation, threshold warnings and shutoffs, breaker
// lines, the cooking safety machine, and the enforcement phase and kWh
// checks. One tick evaluates the whole home sequentially; side effects
// with settle delays run as guarded background continuations.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tailscale.com/util/eventbus"

	"github.com/kradalby/energyguard/announce"
	"github.com/kradalby/energyguard/cooking"
	"github.com/kradalby/energyguard/enforcement"
	"github.com/kradalby/energyguard/events"
	"github.com/kradalby/energyguard/home"
	"github.com/kradalby/energyguard/ledger"
	"github.com/kradalby/energyguard/platform"
)

const (
	// TickInterval is the evaluation cadence.
	TickInterval = time.Second

	// AlertCooldown is the minimum gap between repeated warnings for the
	// same target.
	AlertCooldown = 60 * time.Second

	// SettleDelay is the wait between de-energizing and re-energizing a
	// switch during a shutoff cycle.
	SettleDelay = 5 * time.Second

	// FlushEveryTicks is the periodic persistence cadence.
	FlushEveryTicks = 15
)

// Monitor owns the tick loop and all evaluation state.
type Monitor struct {
	logger   *slog.Logger
	config   func() *home.Config
	states   platform.States
	services platform.Services
	clock    platform.Clock
	gate     *announce.Gate

	ledger   *ledger.Ledger
	intraday *ledger.Intraday
	machine  *enforcement.Machine
	counts   *enforcement.Counts
	eventLog *enforcement.Log
	cooking  *cooking.Machine

	statePub   *eventbus.Publisher[events.StateUpdateEvent]
	enforcePub *eventbus.Publisher[events.EnforcementEvent]
	phasePub   *eventbus.Publisher[events.PhaseEvent]
	cookingPub *eventbus.Publisher[events.CookingEvent]

	mu          sync.Mutex
	lastWarn    map[string]time.Time
	inFlight    map[string]bool
	roomWatts   map[string]float64
	outletWatts map[string]float64
	ticks       int

	cancel  context.CancelFunc
	workers sync.WaitGroup
	done    chan struct{}
}

// Options bundles the monitor's collaborators.
type Options struct {
	Logger   *slog.Logger
	Config   func() *home.Config
	States   platform.States
	Services platform.Services
	Clock    platform.Clock
	Gate     *announce.Gate
	Ledger   *ledger.Ledger
	Intraday *ledger.Intraday
	Machine  *enforcement.Machine
	Counts   *enforcement.Counts
	EventLog *enforcement.Log
	Cooking  *cooking.Machine
}

// New creates the monitor. client may be nil in tests that do not consume
// bus events.
func New(opts Options, client *eventbus.Client) (*Monitor, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if opts.Clock == nil {
		opts.Clock = platform.SystemClock()
	}

	m := &Monitor{
		logger:      opts.Logger,
		config:      opts.Config,
		states:      opts.States,
		services:    opts.Services,
		clock:       opts.Clock,
		gate:        opts.Gate,
		ledger:      opts.Ledger,
		intraday:    opts.Intraday,
		machine:     opts.Machine,
		counts:      opts.Counts,
		eventLog:    opts.EventLog,
		cooking:     opts.Cooking,
		lastWarn:    make(map[string]time.Time),
		inFlight:    make(map[string]bool),
		roomWatts:   make(map[string]float64),
		outletWatts: make(map[string]float64),
	}
	if client != nil {
		m.statePub = eventbus.Publish[events.StateUpdateEvent](client)
		m.enforcePub = eventbus.Publish[events.EnforcementEvent](client)
		m.phasePub = eventbus.Publish[events.PhaseEvent](client)
		m.cookingPub = eventbus.Publish[events.CookingEvent](client)
	}
	return m, nil
}

// Start launches the tick loop.
func (m *Monitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.logger.Info("monitor started", "interval", TickInterval)
		for {
			m.safeTick(loopCtx)
			if err := m.clock.Sleep(loopCtx, TickInterval); err != nil {
				return
			}
		}
	}()
}

// Stop cancels the tick loop, waits for it, and forces a full flush.
// In-flight shutoff continuations are left to finish on their own.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.flush()
	m.logger.Info("monitor stopped")
}

// safeTick runs one evaluation pass; a panicking tick is logged and the
// loop continues.
func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panicked", "panic", r)
		}
	}()
	m.tick(ctx)
}

func (m *Monitor) tick(ctx context.Context) {
	cfg := m.config()
	now := m.clock.Now()

	for _, room := range cfg.Rooms {
		m.evaluateRoom(ctx, cfg, room, now)
	}
	for _, line := range cfg.BreakerLines {
		m.evaluateBreaker(ctx, cfg, line, now)
	}
	m.evaluateEnforcementResets(ctx, cfg, now)
	m.evaluateHomeLimit(ctx, cfg)

	m.mu.Lock()
	m.ticks++
	shouldFlush := m.ticks%FlushEveryTicks == 0
	m.mu.Unlock()
	if shouldFlush {
		m.flush()
	}
}

// flush persists everything; individual failures are logged and retried on
// the next flush.
func (m *Monitor) flush() {
	for name, fn := range map[string]func() error{
		"ledger":      m.ledger.Flush,
		"intraday":    m.intraday.Flush,
		"enforcement": m.machine.Flush,
		"counts":      m.counts.Flush,
		"eventlog":    m.eventLog.Flush,
	} {
		if err := fn(); err != nil {
			m.logger.Error("flush failed", "document", name, "error", err)
		}
	}
}

// cooldownOK reports whether the cooldown for key has elapsed and, when it
// has, records a fresh mark.
func (m *Monitor) cooldownOK(key string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastWarn[key]; ok && now.Sub(last) < AlertCooldown {
		return false
	}
	m.lastWarn[key] = now
	return true
}

// markCooldown records a warning mark without checking, used when cooldown
// was deliberately bypassed.
func (m *Monitor) markCooldown(key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastWarn[key] = now
}

// claimInFlight marks a shutoff cycle target busy. The caller must release
// it via releaseInFlight on every exit path.
func (m *Monitor) claimInFlight(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[key] {
		return false
	}
	m.inFlight[key] = true
	return true
}

func (m *Monitor) releaseInFlight(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, key)
}

// RoomWatts returns the last evaluated live wattage per room id.
func (m *Monitor) RoomWatts() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.roomWatts))
	for k, v := range m.roomWatts {
		out[k] = v
	}
	return out
}

// OutletWatts returns the last evaluated live wattage per room/outlet key.
func (m *Monitor) OutletWatts() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.outletWatts))
	for k, v := range m.outletWatts {
		out[k] = v
	}
	return out
}

// CookingStatus exposes the live cooking machine view for every stove.
func (m *Monitor) CookingStatus() map[string]cooking.Status {
	cfg := m.config()
	now := m.clock.Now()
	out := make(map[string]cooking.Status)
	for _, room := range cfg.Rooms {
		for _, outlet := range room.Outlets {
			if outlet.Type != home.TypeStove || outlet.Stove == nil || outlet.Plug1Entity == "" {
				continue
			}
			out[outlet.Plug1Entity] = m.cooking.Status(outlet.Plug1Entity, now, *outlet.Stove)
		}
	}
	return out
}

func (m *Monitor) publishEnforcement(evt events.EnforcementEvent) {
	if m.enforcePub != nil {
		m.enforcePub.Publish(evt)
	}
}

func (m *Monitor) publishPhase(evt events.PhaseEvent) {
	if m.phasePub != nil {
		m.phasePub.Publish(evt)
	}
}

func (m *Monitor) publishCooking(evt events.CookingEvent) {
	if m.cookingPub != nil {
		m.cookingPub.Publish(evt)
	}
}

func (m *Monitor) publishState(evt events.StateUpdateEvent) {
	if m.statePub != nil {
		m.statePub.Publish(evt)
	}
}
