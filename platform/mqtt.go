package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Topic layout mirrors the Home Assistant MQTT statestream:
//
//	hass/<entity_id>/state        raw state value
//	hass/<entity_id>/attributes   JSON attribute object
//
// Service calls go out on hass/services/<domain>/<service> with a JSON body.
const (
	stateTopicPrefix   = "hass/"
	serviceTopicPrefix = "hass/services/"
)

// Hook feeds the entity registry from statestream messages published to the
// embedded broker.
type Hook struct {
	mqtt.HookBase
	Registry *Registry
	Logger   *slog.Logger
}

// ID returns the hook identifier.
func (h *Hook) ID() string {
	return "energyguard-statestream-hook"
}

// Provides returns the hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnDisconnect,
		mqtt.OnPublish,
	}, []byte{b})
}

// OnConnect is called when a client connects.
func (h *Hook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.Logger.Info("MQTT client connected", "client_id", cl.ID)
	return nil
}

// OnDisconnect is called when a client disconnects.
func (h *Hook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.Logger.Info("MQTT client disconnected", "client_id", cl.ID, "error", err, "expire", expire)
}

// OnPublish records statestream messages into the registry.
func (h *Hook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	topic := pk.TopicName
	if !strings.HasPrefix(topic, stateTopicPrefix) || strings.HasPrefix(topic, serviceTopicPrefix) {
		return pk, nil
	}

	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return pk, nil
	}
	entityID, leaf := parts[1], parts[2]
	if entityID == "" {
		return pk, nil
	}

	switch leaf {
	case "state":
		h.Registry.SetValue(entityID, strings.TrimSpace(string(pk.Payload)))
	case "attributes":
		var attrs map[string]any
		if err := json.Unmarshal(pk.Payload, &attrs); err != nil {
			h.Logger.Debug("Failed to parse attribute payload",
				"entity_id", entityID,
				"error", err,
			)
			return pk, nil
		}
		h.Registry.SetAttributes(entityID, attrs)
	}

	return pk, nil
}

// Publisher is the slice of the embedded broker the service bus needs.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool, qos byte) error
}

// ServiceBus invokes host platform services by publishing to the broker's
// service topics via the inline client. Switch and light calls update the
// registry optimistically so the next tick sees the commanded state even
// before the platform echoes it back.
type ServiceBus struct {
	publisher Publisher
	registry  *Registry
	logger    *slog.Logger
}

// NewServiceBus wires service invocation onto the broker.
func NewServiceBus(publisher Publisher, registry *Registry, logger *slog.Logger) *ServiceBus {
	return &ServiceBus{publisher: publisher, registry: registry, logger: logger}
}

func (s *ServiceBus) call(domain, service string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s.%s call: %w", domain, service, err)
	}
	topic := serviceTopicPrefix + domain + "/" + service
	if err := s.publisher.Publish(topic, payload, false, 0); err != nil {
		return fmt.Errorf("failed to publish %s.%s call: %w", domain, service, err)
	}
	s.logger.Debug("Service call published", "domain", domain, "service", service)
	return nil
}

// TurnOn turns switches on, batched into one call.
func (s *ServiceBus) TurnOn(_ context.Context, entityIDs ...string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	if err := s.call("switch", "turn_on", map[string]any{"entity_id": entityIDs}); err != nil {
		return err
	}
	for _, id := range entityIDs {
		s.registry.SetValue(id, "on")
	}
	return nil
}

// TurnOff turns switches off, batched into one call.
func (s *ServiceBus) TurnOff(_ context.Context, entityIDs ...string) error {
	if len(entityIDs) == 0 {
		return nil
	}
	if err := s.call("switch", "turn_off", map[string]any{"entity_id": entityIDs}); err != nil {
		return err
	}
	for _, id := range entityIDs {
		s.registry.SetValue(id, "off")
	}
	return nil
}

// LightOn turns a light on with optional color attributes.
func (s *ServiceBus) LightOn(_ context.Context, entityID string, attrs LightAttributes) error {
	body := map[string]any{"entity_id": entityID}
	if attrs.RGBColor != nil {
		body["rgb_color"] = []int{attrs.RGBColor[0], attrs.RGBColor[1], attrs.RGBColor[2]}
	}
	if attrs.ColorTempMired > 0 {
		body["color_temp"] = attrs.ColorTempMired
	}
	if attrs.BrightnessPct > 0 {
		body["brightness_pct"] = attrs.BrightnessPct
	}
	if err := s.call("light", "turn_on", body); err != nil {
		return err
	}
	s.registry.SetValue(entityID, "on")
	return nil
}

// LightOff turns a light off.
func (s *ServiceBus) LightOff(_ context.Context, entityID string) error {
	if err := s.call("light", "turn_off", map[string]any{"entity_id": entityID}); err != nil {
		return err
	}
	s.registry.SetValue(entityID, "off")
	return nil
}

// Speak sends a TTS message to an announcement device.
func (s *ServiceBus) Speak(_ context.Context, mediaPlayer, message, language string) error {
	if language == "" {
		language = "en"
	}
	return s.call("tts", "speak", map[string]any{
		"entity_id":              mediaPlayer,
		"media_player_entity_id": mediaPlayer,
		"message":                strings.TrimSpace(message),
		"language":               language,
	})
}

// SetVolume sets an announcement device's volume, clamped to 0..1.
func (s *ServiceBus) SetVolume(_ context.Context, mediaPlayer string, volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	return s.call("media_player", "volume_set", map[string]any{
		"entity_id":    mediaPlayer,
		"volume_level": volume,
	})
}

var _ Services = (*ServiceBus)(nil)
