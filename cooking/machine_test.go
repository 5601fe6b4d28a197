package cooking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kradalby/energyguard/home"
)

func scenarioParams() home.StoveParams {
	return home.StoveParams{
		PowerThresholdW:       100,
		OnDebounceSeconds:     0,
		OffDebounceSeconds:    10,
		CookingMinutes:        1,
		FinalWarningSeconds:   30,
		PresenceWindowSeconds: 10,
		PresenceSensor:        "binary_sensor.kitchen_presence",
		ShutoffEnabled:        true,
	}
}

// runTicks feeds one tick per second and returns the actions per offset
// second at which any fired.
func runTicks(m *Machine, start time.Time, seconds int, input func(sec int) Input) map[int][]ActionKind {
	fired := make(map[int][]ActionKind)
	for sec := 0; sec <= seconds; sec++ {
		in := input(sec)
		in.Now = start.Add(time.Duration(sec) * time.Second)
		if actions := m.Evaluate("sensor.stove_power", in); len(actions) > 0 {
			fired[sec] = actions
		}
	}
	return fired
}

func TestUnattendedTimeline(t *testing.T) {
	m := New()
	start := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)

	fired := runTicks(m, start, 110, func(sec int) Input {
		return Input{
			StoveWatts:        1200,
			HasPresenceSensor: true,
			Presence:          false,
			Params:            scenarioParams(),
		}
	})

	require.Equal(t, map[int][]ActionKind{
		0:   {ActionAnnounceOn},
		10:  {ActionTimerStarted},
		70:  {ActionCookingWarn},
		100: {ActionFinalWarn, ActionAutoOff},
	}, fired)

	status := m.Status("sensor.stove_power", start.Add(110*time.Second), scenarioParams())
	require.Equal(t, PhaseNone, status.Phase)
	require.True(t, status.On)
}

func TestPresenceCancelsCountdown(t *testing.T) {
	m := New()
	start := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)

	fired := runTicks(m, start, 120, func(sec int) Input {
		return Input{
			StoveWatts:        1200,
			HasPresenceSensor: true,
			Presence:          sec >= 30, // cook returns mid-countdown
			Params:            scenarioParams(),
		}
	})

	require.Equal(t, map[int][]ActionKind{
		0:  {ActionAnnounceOn},
		10: {ActionTimerStarted},
	}, fired)

	status := m.Status("sensor.stove_power", start.Add(120*time.Second), scenarioParams())
	require.Equal(t, PhaseNone, status.Phase)
}

func TestShutoffDisabledNeverCutsPower(t *testing.T) {
	m := New()
	start := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)

	params := scenarioParams()
	params.ShutoffEnabled = false

	fired := runTicks(m, start, 75, func(sec int) Input {
		return Input{
			StoveWatts:        1200,
			HasPresenceSensor: true,
			Presence:          false,
			Params:            params,
		}
	})

	// The countdown terminates at the cooking warning; no final warning
	// and no auto-off.
	require.Equal(t, map[int][]ActionKind{
		0:  {ActionAnnounceOn},
		10: {ActionTimerStarted},
		70: {ActionCookingWarn},
	}, fired)
	require.Equal(t, PhaseNone, m.Status("sensor.stove_power", start.Add(75*time.Second), params).Phase)
}

func TestOffDebounce(t *testing.T) {
	m := New()
	start := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)

	fired := runTicks(m, start, 25, func(sec int) Input {
		watts := 1200.0
		if sec >= 5 {
			watts = 0
		}
		return Input{
			StoveWatts:        watts,
			HasPresenceSensor: true,
			Presence:          true,
			Params:            scenarioParams(),
		}
	})

	// Off fires only after the 10s below-threshold dwell.
	require.Equal(t, map[int][]ActionKind{
		0:  {ActionAnnounceOn},
		15: {ActionAnnounceOff},
	}, fired)
}

func TestOnDebounceFiltersSpikes(t *testing.T) {
	m := New()
	start := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)

	params := scenarioParams()
	params.OnDebounceSeconds = 5

	// A 3-second spike never turns the stove on.
	fired := runTicks(m, start, 20, func(sec int) Input {
		watts := 0.0
		if sec < 3 {
			watts = 1200
		}
		return Input{StoveWatts: watts, Params: params}
	})
	require.Empty(t, fired)
}

func TestMicrowaveInterlock(t *testing.T) {
	m := New()
	start := time.Date(2026, 8, 30, 18, 0, 0, 0, time.UTC)

	microwaveOn := false
	input := func(sec int) Input {
		watts := 0.0
		if microwaveOn {
			watts = 900
		}
		return Input{
			StoveWatts:          1200,
			HasPresenceSensor:   true,
			Presence:            true,
			HasMicrowave:        true,
			MicrowaveWatts:      watts,
			MicrowaveThresholdW: 50,
			Params:              scenarioParams(),
		}
	}

	in := input(0)
	in.Now = start
	require.Equal(t, []ActionKind{ActionAnnounceOn}, m.Evaluate("sensor.stove_power", in))

	// Microwave starts: stove power is cut, then stove logic is skipped.
	microwaveOn = true
	in = input(1)
	in.Now = start.Add(time.Second)
	require.Equal(t, []ActionKind{ActionMicrowaveCut}, m.Evaluate("sensor.stove_power", in))

	in = input(2)
	in.Now = start.Add(2 * time.Second)
	in.StoveWatts = 0
	require.Empty(t, m.Evaluate("sensor.stove_power", in))

	// Microwave stops: power restored, stove stays logically on with no
	// fresh "turned on" announcement.
	microwaveOn = false
	in = input(3)
	in.Now = start.Add(3 * time.Second)
	require.Equal(t, []ActionKind{ActionMicrowaveRestore}, m.Evaluate("sensor.stove_power", in))

	in = input(4)
	in.Now = start.Add(4 * time.Second)
	require.Empty(t, m.Evaluate("sensor.stove_power", in))
	require.True(t, m.Status("sensor.stove_power", start.Add(4*time.Second), scenarioParams()).On)
}
