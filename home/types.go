// Package home defines the home layout document: rooms, outlets, breaker
// lines, voice settings, and enforcement policy, loaded from a HuJSON file.
package home

// Default safety and policy parameters. All of these can be overridden per
// outlet or per document in the layout file.
const (
	DefaultPanelSize = 40

	DefaultStoveThresholdW        = 100
	DefaultStoveOnDebounceSecs    = 10
	DefaultStoveOffDebounceSecs   = 60
	DefaultCookingMinutes         = 15
	DefaultFinalWarningSeconds    = 30
	DefaultPresenceWindowSeconds  = 10
	DefaultMicrowaveThresholdW    = 50
	DefaultLightBlinkIntervalMS   = 500
	DefaultBreakerMaxLoadW        = 2400
	DefaultVolume                 = 0.7
	DefaultPhase1WindowSeconds    = 300
	DefaultPhase1Trigger          = 3
	DefaultPhase2WindowSeconds    = 600
	DefaultPhase2Trigger          = 6
	DefaultQuietPeriodSeconds     = 600
	DefaultVolumeStep             = 10
	DefaultPhase2MaxVolume        = 1.0
	DefaultCycleDelaySeconds      = 5
)

// OutletType enumerates the supported outlet shapes. Unknown types are
// coerced to TypeOutlet during normalization.
type OutletType string

const (
	TypeOutlet     OutletType = "outlet"      // generic dual-plug outlet
	TypeSinglePlug OutletType = "single_plug" // single-plug outlet
	TypeStove      OutletType = "stove"
	TypeMicrowave  OutletType = "microwave"
	TypeLightGroup OutletType = "light_group"
	TypeVentFan    OutletType = "vent_fan"
	TypeMiniSplit  OutletType = "mini_split"
)

// Config is the whole home layout document.
type Config struct {
	Rooms        []Room              `json:"rooms"`
	BreakerLines []BreakerLine       `json:"breaker_lines"`
	PanelSize    int                 `json:"panel_size"`
	Voice        VoiceSettings       `json:"voice_settings"`
	Enforcement  EnforcementSettings `json:"enforcement"`
}

// Room groups outlets behind one announcement target and one threshold.
type Room struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	ThresholdW     int      `json:"threshold"`
	DailyBudgetKWh float64  `json:"daily_budget_kwh"`
	MediaPlayer    string   `json:"media_player"`
	Volume         float64  `json:"volume"`
	LightWarning   bool     `json:"light_warning"`
	LightColor     [3]int   `json:"light_color"`
	LightTempMired int      `json:"light_temp_mired"`
	LightBlinkMS   int      `json:"light_blink_ms"`
	Outlets        []Outlet `json:"outlets"`
}

// Outlet is one monitored device slot. Exactly the fields relevant to its
// type are populated after normalization.
type Outlet struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type OutletType `json:"type"`

	Plug1Entity string `json:"plug1_entity,omitempty"`
	Plug2Entity string `json:"plug2_entity,omitempty"`
	Plug1Switch string `json:"plug1_switch,omitempty"`
	Plug2Switch string `json:"plug2_switch,omitempty"`

	ThresholdW   int `json:"threshold"`
	Plug1Shutoff int `json:"plug1_shutoff"`
	Plug2Shutoff int `json:"plug2_shutoff"`

	Stove     *StoveParams     `json:"stove,omitempty"`
	Microwave *MicrowaveParams `json:"microwave,omitempty"`

	Lights       []LightMember `json:"lights,omitempty"`
	VentFanWatts float64       `json:"vent_fan_watts,omitempty"`
}

// StoveParams configures the unattended-cooking state machine for a stove.
type StoveParams struct {
	PowerThresholdW        float64 `json:"power_threshold"`
	OnDebounceSeconds      int     `json:"on_debounce_seconds"`
	OffDebounceSeconds     int     `json:"off_debounce_seconds"`
	CookingMinutes         int     `json:"cooking_minutes"`
	FinalWarningSeconds    int     `json:"final_warning_seconds"`
	PresenceWindowSeconds  int     `json:"presence_window_seconds"`
	PresenceSensor         string  `json:"presence_sensor"`
	ShutoffEnabled         bool    `json:"shutoff_enabled"`
}

// MicrowaveParams configures the stove/microwave breaker interlock.
type MicrowaveParams struct {
	PowerThresholdW float64 `json:"power_threshold"`
	Interlock       bool    `json:"interlock"`
}

// LightMember is one light entity backing a light-group outlet, with its
// declared wattage (lights do not report power).
type LightMember struct {
	EntityID  string  `json:"entity_id"`
	Watts     float64 `json:"watts"`
	FullColor bool    `json:"full_color"`
}

// BreakerLine aggregates outlets sharing one physical breaker.
type BreakerLine struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Color      string   `json:"color"`
	Position   int      `json:"position"`
	MaxLoadW   int      `json:"max_load"`
	ThresholdW int      `json:"threshold"`
	OutletIDs  []string `json:"outlets"`
}

// VoiceSettings holds announcement defaults and the message template set.
type VoiceSettings struct {
	Language string   `json:"language"`
	Volume   float64  `json:"volume"`
	Prefix   string   `json:"prefix"`
	Messages Messages `json:"messages"`
}

// EnforcementSettings configures the per-room escalation policy.
type EnforcementSettings struct {
	Rooms               []string  `json:"rooms"` // allow-list of room ids
	Phase1Enabled       bool      `json:"phase1_enabled"`
	Phase2Enabled       bool      `json:"phase2_enabled"`
	Phase1WindowSeconds int       `json:"phase1_window_seconds"`
	Phase1Trigger       int       `json:"phase1_trigger"`
	Phase2WindowSeconds int       `json:"phase2_window_seconds"`
	Phase2Trigger       int       `json:"phase2_trigger"`
	QuietPeriodSeconds  int       `json:"quiet_period_seconds"`
	VolumeStep          int       `json:"volume_step"`
	Phase2MaxVolume     float64   `json:"phase2_max_volume"`
	CycleDelaySeconds   int       `json:"cycle_delay_seconds"`
	KWhMilestones       []float64 `json:"kwh_milestones"`
	HomeKWhLimit        float64   `json:"home_kwh_limit"`
}

// EnforcementEnabled reports whether the room is on the enforcement
// allow-list.
func (e EnforcementSettings) EnforcementEnabled(roomID string) bool {
	for _, id := range e.Rooms {
		if id == roomID {
			return true
		}
	}
	return false
}

// Room returns the room with the given id.
func (c *Config) Room(roomID string) (Room, bool) {
	for _, room := range c.Rooms {
		if room.ID == roomID {
			return room, true
		}
	}
	return Room{}, false
}

// OutletsForBreaker resolves a breaker line's outlet id membership against
// the rooms. Unknown ids are skipped.
func (c *Config) OutletsForBreaker(breakerID string) []Outlet {
	var line *BreakerLine
	for i := range c.BreakerLines {
		if c.BreakerLines[i].ID == breakerID {
			line = &c.BreakerLines[i]
			break
		}
	}
	if line == nil {
		return nil
	}

	member := make(map[string]struct{}, len(line.OutletIDs))
	for _, id := range line.OutletIDs {
		member[id] = struct{}{}
	}

	var outlets []Outlet
	for _, room := range c.Rooms {
		for _, outlet := range room.Outlets {
			if _, ok := member[outlet.ID]; ok {
				outlets = append(outlets, outlet)
			}
		}
	}
	return outlets
}
