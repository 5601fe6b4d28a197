package monitor

import (
	"context"
	"strconv"
	"time"

	"github.com/kradalby/energyguard/cooking"
	"github.com/kradalby/energyguard/events"
	"github.com/kradalby/energyguard/home"
	"github.com/kradalby/energyguard/platform"
)

// evaluateCooking feeds one stove outlet through the cooking safety
// machine and performs whatever it decided.
func (m *Monitor) evaluateCooking(ctx context.Context, cfg *home.Config, room home.Room, outlet home.Outlet, stoveWatts float64, now time.Time) {
	if outlet.Stove == nil || outlet.Plug1Entity == "" {
		return
	}
	params := *outlet.Stove

	in := cooking.Input{
		Now:               now,
		StoveWatts:        stoveWatts,
		HasPresenceSensor: params.PresenceSensor != "",
		Presence:          platform.PresenceDetected(m.states, params.PresenceSensor),
		Params:            params,
	}
	if mw, ok := pairedMicrowave(room); ok {
		in.HasMicrowave = true
		in.MicrowaveWatts = platform.PowerValue(m.states, mw.Plug1Entity)
		in.MicrowaveThresholdW = mw.Microwave.PowerThresholdW
	}

	for _, action := range m.cooking.Evaluate(outlet.Plug1Entity, in) {
		m.runCookingAction(ctx, cfg, room, outlet, params, action, now)
	}
}

func (m *Monitor) runCookingAction(ctx context.Context, cfg *home.Config, room home.Room, outlet home.Outlet, params home.StoveParams, action cooking.ActionKind, now time.Time) {
	vars := map[string]string{
		"cooking_time_minutes":  strconv.Itoa(params.CookingMinutes),
		"final_warning_seconds": strconv.Itoa(params.FinalWarningSeconds),
	}

	switch action {
	case cooking.ActionAnnounceOn:
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgStoveOn, vars), 0)
		m.publishCookingAction(now, outlet, "on")

	case cooking.ActionAnnounceOff:
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgStoveOff, vars), 0)
		m.publishCookingAction(now, outlet, "off")

	case cooking.ActionTimerStarted:
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgStoveTimerStarted, vars), 0)
		m.publishCookingAction(now, outlet, "timer_started")

	case cooking.ActionCookingWarn:
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgStoveCookingWarn, vars), 0)
		m.publishCookingAction(now, outlet, "cooking_warning")

	case cooking.ActionFinalWarn:
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgStoveFinalWarn, vars), 0)
		m.publishCookingAction(now, outlet, "final_warning")

	case cooking.ActionAutoOff:
		if outlet.Plug1Switch != "" {
			if err := m.services.TurnOff(ctx, outlet.Plug1Switch); err != nil {
				m.logger.Error("stove auto-off failed",
					"room", room.ID,
					"switch", outlet.Plug1Switch,
					"error", err)
			}
		}
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgStoveAutoOff, vars), 0)
		m.counts.RecordShutoff(room.ID)
		m.recordEvent(now, room, events.KindShutoff, outlet.Name, 0, room.MediaPlayer != "")
		m.publishCookingAction(now, outlet, "auto_off")

	case cooking.ActionMicrowaveCut:
		if outlet.Plug1Switch != "" {
			if err := m.services.TurnOff(ctx, outlet.Plug1Switch); err != nil {
				m.logger.Error("microwave interlock cut failed",
					"room", room.ID,
					"switch", outlet.Plug1Switch,
					"error", err)
			}
		}
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgMicrowaveCut, vars), 0)
		m.publishCookingAction(now, outlet, "microwave_cut")

	case cooking.ActionMicrowaveRestore:
		if outlet.Plug1Switch != "" {
			if err := m.services.TurnOn(ctx, outlet.Plug1Switch); err != nil {
				m.logger.Error("microwave interlock restore failed",
					"room", room.ID,
					"switch", outlet.Plug1Switch,
					"error", err)
			}
		}
		m.announceToRoom(ctx, cfg, room, cfg.Voice.Render(home.MsgMicrowaveRestore, vars), 0)
		m.publishCookingAction(now, outlet, "microwave_restore")
	}
}

func (m *Monitor) publishCookingAction(now time.Time, outlet home.Outlet, detail string) {
	m.publishCooking(events.CookingEvent{
		Timestamp: now,
		Device:    outlet.Plug1Entity,
		Phase:     detail,
		Detail:    outlet.Name,
	})
}

// pairedMicrowave finds the microwave sharing the stove's room, if its
// interlock is enabled.
func pairedMicrowave(room home.Room) (home.Outlet, bool) {
	for _, outlet := range room.Outlets {
		if outlet.Type == home.TypeMicrowave && outlet.Microwave != nil && outlet.Microwave.Interlock {
			return outlet, true
		}
	}
	return home.Outlet{}, false
}
