package home

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

// LoadConfig reads the HuJSON home layout file and normalizes it. A missing
// file yields an empty (but valid) configuration so the monitor can start
// before the user has configured anything.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			cfg.Normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read home config file: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to standardize HuJSON: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal home config: %w", err)
	}

	cfg.Normalize()
	return &cfg, nil
}

// Save writes the normalized configuration back as plain JSON.
func (c *Config) Save(path string) error {
	c.Normalize()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal home config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write home config: %w", err)
	}
	return nil
}

// Normalize fills defaults, derives stable ids, coerces unknown outlet types,
// and clamps out-of-range values. It is idempotent: normalizing an already
// normalized config changes nothing.
func (c *Config) Normalize() {
	if c.PanelSize <= 0 {
		c.PanelSize = DefaultPanelSize
	}

	rooms := c.Rooms[:0]
	for _, room := range c.Rooms {
		if room.Name == "" {
			continue
		}
		if room.ID == "" {
			room.ID = Slug(room.Name)
		}
		if room.ThresholdW < 0 {
			room.ThresholdW = 0
		}
		if room.DailyBudgetKWh < 0 {
			room.DailyBudgetKWh = 0
		}
		room.Volume = clampVolume(room.Volume, DefaultVolume)
		if room.LightBlinkMS <= 0 {
			room.LightBlinkMS = DefaultLightBlinkIntervalMS
		}

		outlets := room.Outlets[:0]
		for _, outlet := range room.Outlets {
			if outlet.Name == "" {
				continue
			}
			normalizeOutlet(&outlet, room.ID)
			outlets = append(outlets, outlet)
		}
		room.Outlets = outlets

		rooms = append(rooms, room)
	}
	c.Rooms = rooms

	lines := c.BreakerLines[:0]
	for _, line := range c.BreakerLines {
		if line.ID == "" {
			if line.Name == "" {
				continue
			}
			line.ID = Slug(line.Name)
		}
		if line.Name == "" {
			line.Name = "Breaker"
		}
		if line.Color == "" {
			line.Color = "#03a9f4"
		}
		if line.Position < 1 {
			line.Position = 1
		}
		if line.Position > c.PanelSize {
			line.Position = c.PanelSize
		}
		if line.MaxLoadW <= 0 {
			line.MaxLoadW = DefaultBreakerMaxLoadW
		}
		if line.ThresholdW < 0 {
			line.ThresholdW = 0
		}
		lines = append(lines, line)
	}
	c.BreakerLines = lines

	c.Voice.normalize()
	c.Enforcement.normalize()
}

func normalizeOutlet(o *Outlet, roomID string) {
	switch o.Type {
	case TypeOutlet, TypeSinglePlug, TypeStove, TypeMicrowave,
		TypeLightGroup, TypeVentFan, TypeMiniSplit:
	default:
		o.Type = TypeOutlet
	}

	if o.ID == "" {
		o.ID = roomID + "_" + Slug(o.Name)
	}
	if o.ThresholdW < 0 {
		o.ThresholdW = 0
	}
	if o.Plug1Shutoff < 0 {
		o.Plug1Shutoff = 0
	}
	if o.Plug2Shutoff < 0 {
		o.Plug2Shutoff = 0
	}

	// Single-plug shapes never carry a second source.
	if o.Type == TypeSinglePlug || o.Type == TypeStove || o.Type == TypeMicrowave ||
		o.Type == TypeVentFan || o.Type == TypeMiniSplit {
		o.Plug2Entity = ""
		o.Plug2Switch = ""
		o.Plug2Shutoff = 0
	}

	switch o.Type {
	case TypeStove:
		if o.Stove == nil {
			o.Stove = &StoveParams{ShutoffEnabled: true}
		}
		s := o.Stove
		if s.PowerThresholdW <= 0 {
			s.PowerThresholdW = DefaultStoveThresholdW
		}
		if s.OnDebounceSeconds < 0 {
			s.OnDebounceSeconds = DefaultStoveOnDebounceSecs
		}
		if s.OffDebounceSeconds < 0 {
			s.OffDebounceSeconds = DefaultStoveOffDebounceSecs
		}
		if s.CookingMinutes <= 0 {
			s.CookingMinutes = DefaultCookingMinutes
		}
		if s.FinalWarningSeconds <= 0 {
			s.FinalWarningSeconds = DefaultFinalWarningSeconds
		}
		if s.PresenceWindowSeconds < 0 {
			s.PresenceWindowSeconds = DefaultPresenceWindowSeconds
		}
		o.Microwave = nil
		o.Lights = nil
		o.VentFanWatts = 0
	case TypeMicrowave:
		if o.Microwave == nil {
			o.Microwave = &MicrowaveParams{Interlock: true}
		}
		if o.Microwave.PowerThresholdW <= 0 {
			o.Microwave.PowerThresholdW = DefaultMicrowaveThresholdW
		}
		o.Stove = nil
		o.Lights = nil
		o.VentFanWatts = 0
	case TypeLightGroup:
		lights := o.Lights[:0]
		for _, light := range o.Lights {
			if light.EntityID == "" {
				continue
			}
			if light.Watts < 0 {
				light.Watts = 0
			}
			lights = append(lights, light)
		}
		o.Lights = lights
		o.Stove = nil
		o.Microwave = nil
		o.VentFanWatts = 0
		o.Plug1Entity = ""
		o.Plug2Entity = ""
	case TypeVentFan:
		if o.VentFanWatts < 0 {
			o.VentFanWatts = 0
		}
		o.Stove = nil
		o.Microwave = nil
		o.Lights = nil
		o.Plug1Entity = ""
	default:
		o.Stove = nil
		o.Microwave = nil
		o.Lights = nil
		o.VentFanWatts = 0
	}
}

func (v *VoiceSettings) normalize() {
	if v.Language == "" {
		v.Language = "en"
	}
	v.Volume = clampVolume(v.Volume, DefaultVolume)
	if v.Prefix == "" {
		v.Prefix = DefaultPrefix
	}
	v.Messages.fillDefaults()
}

func (e *EnforcementSettings) normalize() {
	if e.Phase1WindowSeconds <= 0 {
		e.Phase1WindowSeconds = DefaultPhase1WindowSeconds
	}
	if e.Phase1Trigger <= 0 {
		e.Phase1Trigger = DefaultPhase1Trigger
	}
	if e.Phase2WindowSeconds <= 0 {
		e.Phase2WindowSeconds = DefaultPhase2WindowSeconds
	}
	if e.Phase2Trigger <= 0 {
		e.Phase2Trigger = DefaultPhase2Trigger
	}
	if e.QuietPeriodSeconds <= 0 {
		e.QuietPeriodSeconds = DefaultQuietPeriodSeconds
	}
	if e.VolumeStep <= 0 {
		e.VolumeStep = DefaultVolumeStep
	}
	if e.VolumeStep > 100 {
		e.VolumeStep = 100
	}
	if e.Phase2MaxVolume <= 0 || e.Phase2MaxVolume > 1 {
		e.Phase2MaxVolume = DefaultPhase2MaxVolume
	}
	if e.CycleDelaySeconds <= 0 {
		e.CycleDelaySeconds = DefaultCycleDelaySeconds
	}
	if len(e.KWhMilestones) == 0 {
		e.KWhMilestones = []float64{5, 10, 15, 20}
	}
	milestones := e.KWhMilestones[:0]
	for _, m := range e.KWhMilestones {
		if m > 0 {
			milestones = append(milestones, m)
		}
	}
	e.KWhMilestones = milestones
	if e.HomeKWhLimit < 0 {
		e.HomeKWhLimit = 0
	}
}

// Slug derives a stable id from a display name.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "'", "")
	return s
}

func clampVolume(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	if v > 1 {
		return 1
	}
	return v
}
