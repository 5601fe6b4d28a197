package platform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/require"
)

func statePacket(topic string, payload []byte) packets.Packet {
	return packets.Packet{TopicName: topic, Payload: payload}
}

func TestHookRecordsStateTopics(t *testing.T) {
	registry := NewRegistry()
	hook := &Hook{Registry: registry, Logger: testLogger()}

	_, err := hook.OnPublish(nil, statePacket("hass/sensor.stove_power/state", []byte("1500.2\n")))
	require.NoError(t, err)

	state, ok := registry.Get("sensor.stove_power")
	require.True(t, ok)
	require.Equal(t, "1500.2", state.Value)
}

func TestHookRecordsAttributeTopics(t *testing.T) {
	registry := NewRegistry()
	hook := &Hook{Registry: registry, Logger: testLogger()}

	payload := []byte(`{"current_power_w": 420.5, "friendly_name": "Counter"}`)
	_, err := hook.OnPublish(nil, statePacket("hass/switch.counter/attributes", payload))
	require.NoError(t, err)

	state, ok := registry.Get("switch.counter")
	require.True(t, ok)
	require.Equal(t, 420.5, state.Attributes["current_power_w"])
}

func TestHookIgnoresForeignTopics(t *testing.T) {
	registry := NewRegistry()
	hook := &Hook{Registry: registry, Logger: testLogger()}

	for _, topic := range []string{
		"hass/services/switch/turn_on",
		"tele/tasmota/SENSOR",
		"hass/sensor.x/state/extra",
		"hass//state",
	} {
		_, err := hook.OnPublish(nil, statePacket(topic, []byte("on")))
		require.NoError(t, err)
	}

	require.Empty(t, registry.All())
}

func TestHookDropsMalformedAttributes(t *testing.T) {
	registry := NewRegistry()
	hook := &Hook{Registry: registry, Logger: testLogger()}

	_, err := hook.OnPublish(nil, statePacket("hass/switch.counter/attributes", []byte("{broken")))
	require.NoError(t, err)

	_, ok := registry.Get("switch.counter")
	require.False(t, ok)
}

type capturingPublisher struct {
	topics   []string
	payloads []map[string]any
}

func (p *capturingPublisher) Publish(topic string, payload []byte, retain bool, qos byte) error {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, body)
	return nil
}

func TestServiceBusTurnOffBatchesAndUpdatesRegistry(t *testing.T) {
	publisher := &capturingPublisher{}
	registry := NewRegistry()
	registry.SetValue("switch.a", "on")
	registry.SetValue("switch.b", "on")

	services := NewServiceBus(publisher, registry, testLogger())
	require.NoError(t, services.TurnOff(context.Background(), "switch.a", "switch.b"))

	require.Equal(t, []string{"hass/services/switch/turn_off"}, publisher.topics)
	require.Equal(t, []any{"switch.a", "switch.b"}, publisher.payloads[0]["entity_id"])
	require.False(t, IsOn(registry, "switch.a"))
	require.False(t, IsOn(registry, "switch.b"))
}

func TestServiceBusSpeak(t *testing.T) {
	publisher := &capturingPublisher{}
	services := NewServiceBus(publisher, NewRegistry(), testLogger())

	require.NoError(t, services.Speak(context.Background(), "media_player.kitchen", "  dinner is ready  ", ""))

	require.Equal(t, []string{"hass/services/tts/speak"}, publisher.topics)
	body := publisher.payloads[0]
	require.Equal(t, "dinner is ready", body["message"])
	require.Equal(t, "en", body["language"])
	require.Equal(t, "media_player.kitchen", body["entity_id"])
}

func TestServiceBusVolumeClamped(t *testing.T) {
	publisher := &capturingPublisher{}
	services := NewServiceBus(publisher, NewRegistry(), testLogger())

	require.NoError(t, services.SetVolume(context.Background(), "media_player.kitchen", 1.4))
	require.Equal(t, 1.0, publisher.payloads[0]["volume_level"])

	require.NoError(t, services.SetVolume(context.Background(), "media_player.kitchen", -0.2))
	require.Equal(t, 0.0, publisher.payloads[1]["volume_level"])
}
