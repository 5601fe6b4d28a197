// Package enforcement holds the per-room escalation state machine, today's
// warning/shutoff counters, and the rolling event log. All state is
// date-scoped and cleared together at day rollover.
package enforcement

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kradalby/energyguard/home"
	"github.com/kradalby/energyguard/platform"
)

const machineDocName = "enforcement_state.json"

// Phase is a room's enforcement severity.
type Phase int

const (
	PhaseNormal  Phase = 0
	PhaseVolume  Phase = 1
	PhaseCycling Phase = 2
)

// Mark is one recorded room warning.
type Mark struct {
	At    time.Time `json:"at"`
	Watts float64   `json:"watts"`
}

type roomState struct {
	Warnings        []Mark    `json:"warnings"`
	Phase           Phase     `json:"phase"`
	VolumeOffset    int       `json:"volume_offset"`
	LastPhaseChange time.Time `json:"last_phase_change"`
	MilestonesSent  []float64 `json:"kwh_alerts_sent"`
}

type machineDocument struct {
	ResetDate     string                `json:"reset_date"`
	Rooms         map[string]*roomState `json:"rooms"`
	HomeAlertSent bool                  `json:"home_kwh_alert_sent"`
}

// Decision reports what a recorded warning triggered.
type Decision struct {
	Phase          Phase
	PhaseChanged   bool
	VolumeOffset   int
	PowerCycle     bool
	BypassCooldown bool
}

// Milestone is a newly crossed room kWh marker.
type Milestone struct {
	KWh     float64
	Percent int // room share of home usage
}

// Machine is the power-enforcement state machine for all rooms.
type Machine struct {
	mu       sync.Mutex
	store    platform.Store
	clock    platform.Clock
	logger   *slog.Logger
	settings func() home.EnforcementSettings

	resetDate     string
	rooms         map[string]*roomState
	homeAlertSent bool
}

// New creates the machine. settings is read live so config updates apply
// without restart.
func New(store platform.Store, clock platform.Clock, logger *slog.Logger, settings func() home.EnforcementSettings) *Machine {
	return &Machine{
		store:    store,
		clock:    clock,
		logger:   logger,
		settings: settings,
		rooms:    make(map[string]*roomState),
	}
}

// Load restores persisted state, discarding it when the stored date is stale.
func (m *Machine) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var doc machineDocument
	if err := m.store.Load(machineDocName, &doc); err != nil {
		return err
	}

	today := m.clock.Now().Format("2006-01-02")
	if doc.ResetDate == today && doc.Rooms != nil {
		m.rooms = doc.Rooms
		m.homeAlertSent = doc.HomeAlertSent
	}
	m.resetDate = today
	return nil
}

// Flush persists the machine state.
func (m *Machine) Flush() error {
	m.mu.Lock()
	doc := machineDocument{
		ResetDate:     m.resetDate,
		Rooms:         m.rooms,
		HomeAlertSent: m.homeAlertSent,
	}
	m.mu.Unlock()

	return m.store.Save(machineDocName, &doc)
}

// ResetDay clears all enforcement state for a new date.
func (m *Machine) ResetDay(date string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = make(map[string]*roomState)
	m.homeAlertSent = false
	m.resetDate = date
}

// RecordWarning registers a room threshold warning and decides escalation.
// The phase-2 trigger is checked before phase-1 so a room qualifying for
// both on the same event escalates straight to power cycling.
func (m *Machine) RecordWarning(roomID string, watts float64) Decision {
	cfg := m.settings()
	if !cfg.EnforcementEnabled(roomID) {
		return Decision{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	state := m.roomLocked(roomID)

	keep := maxWindow(cfg)
	state.Warnings = pruneMarks(state.Warnings, now, keep)
	state.Warnings = append(state.Warnings, Mark{At: now, Watts: watts})

	count1 := countMarks(state.Warnings, now, time.Duration(cfg.Phase1WindowSeconds)*time.Second)
	count2 := countMarks(state.Warnings, now, time.Duration(cfg.Phase2WindowSeconds)*time.Second)

	decision := Decision{}
	switch {
	case cfg.Phase2Enabled && state.Phase < PhaseCycling && count2 >= cfg.Phase2Trigger:
		state.Phase = PhaseCycling
		state.LastPhaseChange = now
		decision.PhaseChanged = true
		decision.PowerCycle = true
		decision.BypassCooldown = true
	case cfg.Phase1Enabled && state.Phase < PhaseVolume && count1 >= cfg.Phase1Trigger:
		state.Phase = PhaseVolume
		state.LastPhaseChange = now
		decision.PhaseChanged = true
		decision.BypassCooldown = true
	}

	if state.Phase >= PhaseVolume {
		state.VolumeOffset += cfg.VolumeStep
		if state.VolumeOffset > 100 {
			state.VolumeOffset = 100
		}
	}

	decision.Phase = state.Phase
	decision.VolumeOffset = state.VolumeOffset
	return decision
}

// EffectiveVolume applies the room's escalation offset to its base volume.
func (m *Machine) EffectiveVolume(roomID string, base float64) float64 {
	cfg := m.settings()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.rooms[roomID]
	if !ok {
		return base
	}

	volume := base + float64(state.VolumeOffset)/100
	if volume > 1 {
		volume = 1
	}
	if state.Phase == PhaseCycling && volume > cfg.Phase2MaxVolume {
		volume = cfg.Phase2MaxVolume
	}
	return volume
}

// TickReset resets rooms whose most recent warning is older than the quiet
// period, returning the ids that were reset so a reset message can go out.
func (m *Machine) TickReset() []string {
	cfg := m.settings()
	quiet := time.Duration(cfg.QuietPeriodSeconds) * time.Second

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var reset []string
	for roomID, state := range m.rooms {
		if state.Phase == PhaseNormal {
			continue
		}
		if !cfg.EnforcementEnabled(roomID) {
			continue
		}
		if n := len(state.Warnings); n > 0 && now.Sub(state.Warnings[n-1].At) < quiet {
			continue
		}
		state.Phase = PhaseNormal
		state.VolumeOffset = 0
		state.LastPhaseChange = now
		reset = append(reset, roomID)
	}
	return reset
}

// Phase returns a room's current enforcement phase.
func (m *Machine) Phase(roomID string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.rooms[roomID]; ok {
		return state.Phase
	}
	return PhaseNormal
}

// RoomMilestones returns the configured kWh markers the room newly crossed,
// marking each announced so it fires at most once per day.
func (m *Machine) RoomMilestones(roomID string, roomKWh, homeKWh float64) []Milestone {
	cfg := m.settings()
	if !cfg.EnforcementEnabled(roomID) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.roomLocked(roomID)
	var crossed []Milestone
	for _, marker := range cfg.KWhMilestones {
		if roomKWh < marker {
			continue
		}
		if containsFloat(state.MilestonesSent, marker) {
			continue
		}
		state.MilestonesSent = append(state.MilestonesSent, marker)
		percent := 0
		if homeKWh > 0 {
			percent = int(roomKWh/homeKWh*100 + 0.5)
		}
		crossed = append(crossed, Milestone{KWh: marker, Percent: percent})
	}
	return crossed
}

// HomeLimitCrossed reports, exactly once per day, that the whole home passed
// its configured daily limit.
func (m *Machine) HomeLimitCrossed(homeKWh float64) bool {
	cfg := m.settings()
	if cfg.HomeKWhLimit <= 0 {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.homeAlertSent || homeKWh < cfg.HomeKWhLimit {
		return false
	}
	m.homeAlertSent = true
	return true
}

func (m *Machine) roomLocked(roomID string) *roomState {
	state, ok := m.rooms[roomID]
	if !ok {
		state = &roomState{}
		m.rooms[roomID] = state
	}
	return state
}

func maxWindow(cfg home.EnforcementSettings) time.Duration {
	window := cfg.Phase1WindowSeconds
	if cfg.Phase2WindowSeconds > window {
		window = cfg.Phase2WindowSeconds
	}
	return time.Duration(window) * time.Second
}

func pruneMarks(marks []Mark, now time.Time, keep time.Duration) []Mark {
	pruned := marks[:0]
	for _, mark := range marks {
		if now.Sub(mark.At) <= keep {
			pruned = append(pruned, mark)
		}
	}
	return pruned
}

func countMarks(marks []Mark, now time.Time, window time.Duration) int {
	count := 0
	for _, mark := range marks {
		if now.Sub(mark.At) <= window {
			count++
		}
	}
	return count
}

func containsFloat(values []float64, v float64) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
