package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPowerValueFromSensorState(t *testing.T) {
	registry := NewRegistry()
	registry.SetValue("sensor.stove_power", "1842.5")

	require.InDelta(t, 1842.5, PowerValue(registry, "sensor.stove_power"), 1e-9)
}

func TestPowerValueFromSwitchAttribute(t *testing.T) {
	registry := NewRegistry()
	registry.SetValue("switch.counter", "on")
	registry.SetAttributes("switch.counter", map[string]any{"current_power_w": 960.0})

	require.InDelta(t, 960.0, PowerValue(registry, "switch.counter"), 1e-9)
}

func TestPowerValueUnreadableStates(t *testing.T) {
	registry := NewRegistry()
	registry.SetValue("sensor.flaky", "unavailable")
	registry.SetValue("sensor.garbage", "n/a")

	require.Zero(t, PowerValue(registry, "sensor.flaky"))
	require.Zero(t, PowerValue(registry, "sensor.garbage"))
	require.Zero(t, PowerValue(registry, "sensor.never_seen"))
	require.Zero(t, PowerValue(registry, ""))
}

func TestIsOn(t *testing.T) {
	registry := NewRegistry()
	registry.SetValue("light.ceiling", "on")
	registry.SetValue("light.floor", "off")

	require.True(t, IsOn(registry, "light.ceiling"))
	require.False(t, IsOn(registry, "light.floor"))
	require.False(t, IsOn(registry, "light.unknown"))
}

func TestPresenceDetected(t *testing.T) {
	registry := NewRegistry()
	registry.SetValue("binary_sensor.kitchen_occupancy", "detected")
	registry.SetValue("binary_sensor.hall_occupancy", "clear")

	require.True(t, PresenceDetected(registry, "binary_sensor.kitchen_occupancy"))
	require.False(t, PresenceDetected(registry, "binary_sensor.hall_occupancy"))
	require.False(t, PresenceDetected(registry, ""))
}

func TestRegistryAttributesMergePreservesValue(t *testing.T) {
	registry := NewRegistry()
	registry.SetValue("switch.counter", "on")
	registry.SetAttributes("switch.counter", map[string]any{"current_power_w": 100.0})
	registry.SetAttributes("switch.counter", map[string]any{"voltage": 230.0})

	state, ok := registry.Get("switch.counter")
	require.True(t, ok)
	require.Equal(t, "on", state.Value)
	require.Equal(t, 100.0, state.Attributes["current_power_w"])
	require.Equal(t, 230.0, state.Attributes["voltage"])
}
