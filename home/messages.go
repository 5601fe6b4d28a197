package home

import "strings"

// DefaultPrefix opens every announcement unless overridden.
const DefaultPrefix = "Message from Home Energy."

// Default message templates. Substitution variables are fixed per kind; a
// user template that renders with unresolved variables falls back to these.
const (
	defaultRoomWarnMsg       = "{prefix} {room_name} is pulling {watts} watts"
	defaultOutletWarnMsg     = "{prefix} {room_name} {outlet_name} is pulling {watts} watts"
	defaultShutoffMsg        = "{prefix} {room_name} {outlet_name} {plug} has been reset to protect circuit from overload"
	defaultBreakerWarnMsg    = "{prefix} {breaker_name} is near its max load, reduce electric use to prevent safety shutoff"
	defaultBreakerShutoffMsg = "{prefix} {breaker_name} is currently at its max limit, safety shutoff enabled"

	defaultStoveOnMsg           = "{prefix} Stove has been turned on"
	defaultStoveOffMsg          = "{prefix} Stove has been turned off"
	defaultStoveTimerStartedMsg = "{prefix} The stove is on with no one in the kitchen. A {cooking_time_minutes} minute Unattended cooking timer has started."
	defaultStoveCookingWarnMsg  = "{prefix} Stove has been on for {cooking_time_minutes} minutes with no one in the kitchen. Stove will automatically turn off in {final_warning_seconds} seconds if no one returns"
	defaultStoveFinalWarnMsg    = "{prefix} Stove will automatically turn off in {final_warning_seconds} seconds if no one returns to the kitchen"
	defaultStoveAutoOffMsg      = "{prefix} Stove has been automatically turned off for safety"
	defaultMicrowaveCutMsg      = "{prefix} Microwave is on. Stove power cut to protect circuit. Power will restore when microwave is off."
	defaultMicrowaveRestoreMsg  = "{prefix} Microwave is off. Stove power restored."

	defaultPhase1Msg     = "{prefix} {room_name} keeps exceeding its power limit. Warnings will now get louder."
	defaultPhase2Msg     = "{prefix} {room_name} has repeatedly exceeded its power limit. Outlets will now be power cycled."
	defaultPhaseResetMsg = "{prefix} {room_name} has stayed under its power limit. Enforcement has been reset."
	defaultAllClearMsg   = "{prefix} {room_name} outlets are back on. Please stay under the power limit."
	defaultRoomKWhMsg    = "{prefix} {room_name} has used {kwh} kilowatt hours today, {percent} percent of the whole home."
	defaultHomeKWhMsg    = "{prefix} The home has used {kwh} kilowatt hours today, over its daily limit."
)

// MessageKind names one announcement template.
type MessageKind string

const (
	MsgRoomWarn       MessageKind = "room_warn"
	MsgOutletWarn     MessageKind = "outlet_warn"
	MsgShutoff        MessageKind = "shutoff"
	MsgBreakerWarn    MessageKind = "breaker_warn"
	MsgBreakerShutoff MessageKind = "breaker_shutoff"

	MsgStoveOn           MessageKind = "stove_on"
	MsgStoveOff          MessageKind = "stove_off"
	MsgStoveTimerStarted MessageKind = "stove_timer_started"
	MsgStoveCookingWarn  MessageKind = "stove_cooking_warn"
	MsgStoveFinalWarn    MessageKind = "stove_final_warn"
	MsgStoveAutoOff      MessageKind = "stove_auto_off"
	MsgMicrowaveCut      MessageKind = "microwave_cut"
	MsgMicrowaveRestore  MessageKind = "microwave_restore"

	MsgPhase1     MessageKind = "phase1"
	MsgPhase2     MessageKind = "phase2"
	MsgPhaseReset MessageKind = "phase_reset"
	MsgAllClear   MessageKind = "all_clear"
	MsgRoomKWh    MessageKind = "room_kwh"
	MsgHomeKWh    MessageKind = "home_kwh"
)

// Messages is the user-editable template set.
type Messages struct {
	RoomWarn       string `json:"room_warn_msg"`
	OutletWarn     string `json:"outlet_warn_msg"`
	Shutoff        string `json:"shutoff_msg"`
	BreakerWarn    string `json:"breaker_warn_msg"`
	BreakerShutoff string `json:"breaker_shutoff_msg"`

	StoveOn           string `json:"stove_on_msg"`
	StoveOff          string `json:"stove_off_msg"`
	StoveTimerStarted string `json:"stove_timer_started_msg"`
	StoveCookingWarn  string `json:"stove_cooking_warn_msg"`
	StoveFinalWarn    string `json:"stove_final_warn_msg"`
	StoveAutoOff      string `json:"stove_auto_off_msg"`
	MicrowaveCut      string `json:"microwave_cut_msg"`
	MicrowaveRestore  string `json:"microwave_restore_msg"`

	Phase1     string `json:"phase1_msg"`
	Phase2     string `json:"phase2_msg"`
	PhaseReset string `json:"phase_reset_msg"`
	AllClear   string `json:"all_clear_msg"`
	RoomKWh    string `json:"room_kwh_msg"`
	HomeKWh    string `json:"home_kwh_msg"`
}

var defaultTemplates = map[MessageKind]string{
	MsgRoomWarn:       defaultRoomWarnMsg,
	MsgOutletWarn:     defaultOutletWarnMsg,
	MsgShutoff:        defaultShutoffMsg,
	MsgBreakerWarn:    defaultBreakerWarnMsg,
	MsgBreakerShutoff: defaultBreakerShutoffMsg,

	MsgStoveOn:           defaultStoveOnMsg,
	MsgStoveOff:          defaultStoveOffMsg,
	MsgStoveTimerStarted: defaultStoveTimerStartedMsg,
	MsgStoveCookingWarn:  defaultStoveCookingWarnMsg,
	MsgStoveFinalWarn:    defaultStoveFinalWarnMsg,
	MsgStoveAutoOff:      defaultStoveAutoOffMsg,
	MsgMicrowaveCut:      defaultMicrowaveCutMsg,
	MsgMicrowaveRestore:  defaultMicrowaveRestoreMsg,

	MsgPhase1:     defaultPhase1Msg,
	MsgPhase2:     defaultPhase2Msg,
	MsgPhaseReset: defaultPhaseResetMsg,
	MsgAllClear:   defaultAllClearMsg,
	MsgRoomKWh:    defaultRoomKWhMsg,
	MsgHomeKWh:    defaultHomeKWhMsg,
}

func (m *Messages) fillDefaults() {
	fill := func(field *string, kind MessageKind) {
		if strings.TrimSpace(*field) == "" {
			*field = defaultTemplates[kind]
		}
	}
	fill(&m.RoomWarn, MsgRoomWarn)
	fill(&m.OutletWarn, MsgOutletWarn)
	fill(&m.Shutoff, MsgShutoff)
	fill(&m.BreakerWarn, MsgBreakerWarn)
	fill(&m.BreakerShutoff, MsgBreakerShutoff)
	fill(&m.StoveOn, MsgStoveOn)
	fill(&m.StoveOff, MsgStoveOff)
	fill(&m.StoveTimerStarted, MsgStoveTimerStarted)
	fill(&m.StoveCookingWarn, MsgStoveCookingWarn)
	fill(&m.StoveFinalWarn, MsgStoveFinalWarn)
	fill(&m.StoveAutoOff, MsgStoveAutoOff)
	fill(&m.MicrowaveCut, MsgMicrowaveCut)
	fill(&m.MicrowaveRestore, MsgMicrowaveRestore)
	fill(&m.Phase1, MsgPhase1)
	fill(&m.Phase2, MsgPhase2)
	fill(&m.PhaseReset, MsgPhaseReset)
	fill(&m.AllClear, MsgAllClear)
	fill(&m.RoomKWh, MsgRoomKWh)
	fill(&m.HomeKWh, MsgHomeKWh)
}

func (m Messages) template(kind MessageKind) string {
	switch kind {
	case MsgRoomWarn:
		return m.RoomWarn
	case MsgOutletWarn:
		return m.OutletWarn
	case MsgShutoff:
		return m.Shutoff
	case MsgBreakerWarn:
		return m.BreakerWarn
	case MsgBreakerShutoff:
		return m.BreakerShutoff
	case MsgStoveOn:
		return m.StoveOn
	case MsgStoveOff:
		return m.StoveOff
	case MsgStoveTimerStarted:
		return m.StoveTimerStarted
	case MsgStoveCookingWarn:
		return m.StoveCookingWarn
	case MsgStoveFinalWarn:
		return m.StoveFinalWarn
	case MsgStoveAutoOff:
		return m.StoveAutoOff
	case MsgMicrowaveCut:
		return m.MicrowaveCut
	case MsgMicrowaveRestore:
		return m.MicrowaveRestore
	case MsgPhase1:
		return m.Phase1
	case MsgPhase2:
		return m.Phase2
	case MsgPhaseReset:
		return m.PhaseReset
	case MsgAllClear:
		return m.AllClear
	case MsgRoomKWh:
		return m.RoomKWh
	case MsgHomeKWh:
		return m.HomeKWh
	default:
		return ""
	}
}

// Render formats the template for kind with the given variables. The prefix
// variable is always available. A user template that leaves variables
// unresolved (or is unknown) is replaced by the built-in default so a bad
// edit can never silence or garble a safety announcement.
func (v VoiceSettings) Render(kind MessageKind, vars map[string]string) string {
	pairs := make([]string, 0, (len(vars)+1)*2)
	pairs = append(pairs, "{prefix}", v.Prefix)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	replacer := strings.NewReplacer(pairs...)

	rendered := replacer.Replace(v.Messages.template(kind))
	if rendered == "" || containsPlaceholder(rendered) {
		rendered = replacer.Replace(defaultTemplates[kind])
	}
	return rendered
}

func containsPlaceholder(s string) bool {
	open := strings.IndexByte(s, '{')
	if open == -1 {
		return false
	}
	return strings.IndexByte(s[open:], '}') != -1
}
