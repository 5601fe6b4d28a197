// Package platform defines the surface the energy monitor consumes from the
// host automation platform: entity state lookup, service invocation, a JSON
// document store, and a clock. Production wiring backs these with the
// embedded MQTT broker and the data directory; tests use fakes.
package platform

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// State is one entity's reported state plus attributes.
type State struct {
	Value      string
	Attributes map[string]any
}

// States looks up entity state by id.
type States interface {
	Get(entityID string) (State, bool)
}

// LightAttributes carries optional color parameters for light turn-on calls.
type LightAttributes struct {
	RGBColor       *[3]int
	ColorTempMired int
	BrightnessPct  int
}

// Services invokes host platform services.
type Services interface {
	TurnOn(ctx context.Context, entityIDs ...string) error
	TurnOff(ctx context.Context, entityIDs ...string) error
	LightOn(ctx context.Context, entityID string, attrs LightAttributes) error
	LightOff(ctx context.Context, entityID string) error
	Speak(ctx context.Context, mediaPlayer, message, language string) error
	SetVolume(ctx context.Context, mediaPlayer string, volume float64) error
}

// Store persists JSON documents addressed by logical filename.
type Store interface {
	Load(name string, v any) error
	Save(name string, v any) error
}

// Clock abstracts time for the tick loop and the delay-based side effects.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// PowerValue reads the live wattage an entity reports. Sensors carry watts as
// their state value, switches as the current_power_w attribute. Missing
// entities and non-numeric states read as 0 W, never as an error.
func PowerValue(states States, entityID string) float64 {
	if entityID == "" {
		return 0
	}
	state, ok := states.Get(entityID)
	if !ok {
		return 0
	}

	if strings.HasPrefix(entityID, "sensor.") {
		switch state.Value {
		case "unknown", "unavailable", "":
			return 0
		}
		watts, err := strconv.ParseFloat(state.Value, 64)
		if err != nil {
			return 0
		}
		return watts
	}

	if strings.HasPrefix(entityID, "switch.") {
		return attrFloat(state.Attributes, "current_power_w")
	}

	return 0
}

// IsOn reports whether the entity's state is "on".
func IsOn(states States, entityID string) bool {
	if entityID == "" {
		return false
	}
	state, ok := states.Get(entityID)
	return ok && state.Value == "on"
}

// PresenceDetected reports whether a presence/occupancy entity currently
// detects someone. Anything other than an affirmative state counts as absent.
func PresenceDetected(states States, entityID string) bool {
	if entityID == "" {
		return false
	}
	state, ok := states.Get(entityID)
	if !ok {
		return false
	}
	switch state.Value {
	case "on", "detected", "home":
		return true
	}
	return false
}

func attrFloat(attrs map[string]any, key string) float64 {
	if attrs == nil {
		return 0
	}
	switch v := attrs[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
