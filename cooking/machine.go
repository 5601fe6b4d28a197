// Package cooking implements the unattended-cooking safety state machine.
// The machine is pure bookkeeping: it consumes per-tick readings and emits
// actions, and the monitor owns the side effects (switch toggles and
// announcements). State lives only in memory for the life of the monitor.
package cooking

import (
	"sync"
	"time"

	"github.com/kradalby/energyguard/home"
)

// CountdownPhase is the unattended countdown stage for one stove.
type CountdownPhase int

const (
	PhaseNone CountdownPhase = iota
	PhaseCookingWindow
	PhaseFinalWarning
)

func (p CountdownPhase) String() string {
	switch p {
	case PhaseCookingWindow:
		return "cooking_window"
	case PhaseFinalWarning:
		return "final_warning"
	default:
		return "none"
	}
}

// ActionKind names a side effect the monitor must perform.
type ActionKind int

const (
	ActionAnnounceOn ActionKind = iota
	ActionAnnounceOff
	ActionTimerStarted
	ActionCookingWarn
	ActionFinalWarn
	ActionAutoOff
	ActionMicrowaveCut
	ActionMicrowaveRestore
)

// Input is one tick's worth of readings for a stove outlet.
type Input struct {
	Now time.Time

	StoveWatts float64

	// HasPresenceSensor gates the unattended countdown entirely.
	HasPresenceSensor bool
	Presence          bool

	// HasMicrowave enables the breaker interlock.
	HasMicrowave        bool
	MicrowaveWatts      float64
	MicrowaveThresholdW float64

	Params home.StoveParams
}

type deviceState struct {
	on         bool
	suppressed bool

	phase      CountdownPhase
	phaseStart time.Time

	aboveSince  *time.Time
	belowSince  *time.Time
	absentSince *time.Time
}

// Status is a read-only view of one stove's live state.
type Status struct {
	On               bool           `json:"on"`
	Suppressed       bool           `json:"suppressed"`
	Phase            CountdownPhase `json:"phase"`
	PhaseLabel       string         `json:"phase_label"`
	SecondsRemaining int            `json:"seconds_remaining"`
}

// Machine holds the per-stove state, keyed by the stove's power entity.
type Machine struct {
	mu      sync.Mutex
	devices map[string]*deviceState
}

func New() *Machine {
	return &Machine{devices: make(map[string]*deviceState)}
}

// Evaluate advances one stove's state machine by one tick and returns the
// actions the caller must perform, in order.
func (m *Machine) Evaluate(key string, in Input) []ActionKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.devices[key]
	if !ok {
		state = &deviceState{}
		m.devices[key] = state
	}

	// Microwave interlock runs before all stove logic.
	if in.HasMicrowave {
		if state.suppressed {
			if in.MicrowaveWatts > in.MicrowaveThresholdW {
				return nil
			}
			// Mark the stove logically on so re-energizing does not
			// produce a fresh "turned on" announcement.
			state.suppressed = false
			state.on = true
			state.aboveSince = nil
			state.belowSince = nil
			return []ActionKind{ActionMicrowaveRestore}
		}
		if in.MicrowaveWatts > in.MicrowaveThresholdW && in.StoveWatts > in.Params.PowerThresholdW {
			state.suppressed = true
			state.clearCountdown()
			return []ActionKind{ActionMicrowaveCut}
		}
	}

	var actions []ActionKind
	actions = append(actions, state.debounce(in)...)
	actions = append(actions, state.countdown(in)...)
	return actions
}

// debounce flips the on/off flag once wattage has dwelled past the
// configured debounce on one side of the threshold. Only one dwell timer
// runs at a time.
func (s *deviceState) debounce(in Input) []ActionKind {
	threshold := in.Params.PowerThresholdW

	if in.StoveWatts > threshold {
		s.belowSince = nil
		if s.on {
			return nil
		}
		if s.aboveSince == nil {
			t := in.Now
			s.aboveSince = &t
		}
		dwell := in.Now.Sub(*s.aboveSince)
		if dwell >= time.Duration(in.Params.OnDebounceSeconds)*time.Second {
			s.on = true
			s.aboveSince = nil
			return []ActionKind{ActionAnnounceOn}
		}
		return nil
	}

	s.aboveSince = nil
	if !s.on {
		return nil
	}
	if s.belowSince == nil {
		t := in.Now
		s.belowSince = &t
	}
	dwell := in.Now.Sub(*s.belowSince)
	if dwell >= time.Duration(in.Params.OffDebounceSeconds)*time.Second {
		s.on = false
		s.belowSince = nil
		s.clearCountdown()
		return []ActionKind{ActionAnnounceOff}
	}
	return nil
}

// countdown drives the unattended phases while the stove is on. Presence
// at any point cancels everything back to none.
func (s *deviceState) countdown(in Input) []ActionKind {
	if !s.on || !in.HasPresenceSensor {
		return nil
	}

	if in.Presence {
		s.clearCountdown()
		return nil
	}

	switch s.phase {
	case PhaseNone:
		if s.absentSince == nil {
			t := in.Now
			s.absentSince = &t
		}
		window := time.Duration(in.Params.PresenceWindowSeconds) * time.Second
		if in.Now.Sub(*s.absentSince) >= window {
			s.phase = PhaseCookingWindow
			s.phaseStart = in.Now
			return []ActionKind{ActionTimerStarted}
		}

	case PhaseCookingWindow:
		window := time.Duration(in.Params.CookingMinutes) * time.Minute
		if in.Now.Sub(s.phaseStart) >= window {
			if !in.Params.ShutoffEnabled {
				s.clearCountdown()
				return []ActionKind{ActionCookingWarn}
			}
			// The next phase starts at the moment this one expired, not
			// the tick that observed it, so tick jitter does not stack.
			s.phase = PhaseFinalWarning
			s.phaseStart = s.phaseStart.Add(window)
			return []ActionKind{ActionCookingWarn}
		}

	case PhaseFinalWarning:
		window := time.Duration(in.Params.FinalWarningSeconds) * time.Second
		if in.Now.Sub(s.phaseStart) >= window {
			s.clearCountdown()
			if in.Params.ShutoffEnabled {
				return []ActionKind{ActionFinalWarn, ActionAutoOff}
			}
			return []ActionKind{ActionFinalWarn}
		}
	}
	return nil
}

func (s *deviceState) clearCountdown() {
	s.phase = PhaseNone
	s.phaseStart = time.Time{}
	s.absentSince = nil
}

// Status returns the live view for one stove.
func (m *Machine) Status(key string, now time.Time, params home.StoveParams) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.devices[key]
	if !ok {
		return Status{PhaseLabel: PhaseNone.String()}
	}

	status := Status{
		On:         state.on,
		Suppressed: state.suppressed,
		Phase:      state.phase,
		PhaseLabel: state.phase.String(),
	}
	switch state.phase {
	case PhaseCookingWindow:
		deadline := state.phaseStart.Add(time.Duration(params.CookingMinutes) * time.Minute)
		status.SecondsRemaining = secondsUntil(now, deadline)
	case PhaseFinalWarning:
		deadline := state.phaseStart.Add(time.Duration(params.FinalWarningSeconds) * time.Second)
		status.SecondsRemaining = secondsUntil(now, deadline)
	}
	return status
}

// Forget drops a stove's state, used when its outlet leaves the config.
func (m *Machine) Forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, key)
}

func secondsUntil(now, deadline time.Time) int {
	remaining := int(deadline.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
