package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kradalby/energyguard/announce"
	"github.com/kradalby/energyguard/enforcement"
	"github.com/kradalby/energyguard/events"
	"github.com/kradalby/energyguard/home"
	"github.com/kradalby/energyguard/platform"
)

// SyntheticKey is the ledger key for outlets without a power sensor
// (light groups, vent fans).
func SyntheticKey(roomID, outletID string) string {
	return roomID + "_" + outletID
}

// evaluateRoom runs one tick's evaluation for a single room. A panic in
// one room must not stop the rest of the home.
func (m *Monitor) evaluateRoom(ctx context.Context, cfg *home.Config, room home.Room, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("room evaluation panicked", "room", room.ID, "panic", r)
		}
	}()

	roomTotal := 0.0
	for _, outlet := range room.Outlets {
		watts := m.evaluateOutlet(ctx, cfg, room, outlet, now)
		roomTotal += watts

		m.mu.Lock()
		m.outletWatts[room.ID+"/"+outlet.ID] = watts
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.roomWatts[room.ID] = roomTotal
	m.mu.Unlock()

	dayWh := m.ledger.RoomWh(room.ID)
	m.publishState(events.StateUpdateEvent{
		Timestamp: now,
		RoomID:    room.ID,
		RoomName:  room.Name,
		Watts:     roomTotal,
		DayWh:     dayWh,
	})

	if room.ThresholdW > 0 && roomTotal > float64(room.ThresholdW) {
		m.roomWarning(ctx, cfg, room, roomTotal, now)
	}

	m.checkRoomMilestones(ctx, cfg, room, dayWh)
}

// evaluateOutlet resolves the outlet's live wattage, feeds the ledger, and
// fires any per-plug or outlet-level actions. Returns the outlet total.
func (m *Monitor) evaluateOutlet(ctx context.Context, cfg *home.Config, room home.Room, outlet home.Outlet, now time.Time) float64 {
	switch outlet.Type {
	case home.TypeLightGroup:
		watts := 0.0
		for _, member := range outlet.Lights {
			if platform.IsOn(m.states, member.EntityID) {
				watts += member.Watts
			}
		}
		key := SyntheticKey(room.ID, outlet.ID)
		m.ledger.Record(key, watts, TickInterval)
		m.intraday.Record(key, watts, now)
		return watts

	case home.TypeVentFan:
		watts := 0.0
		onEntity := outlet.Plug1Switch
		if onEntity == "" {
			onEntity = outlet.Plug1Entity
		}
		if platform.IsOn(m.states, onEntity) {
			watts = outlet.VentFanWatts
		}
		key := SyntheticKey(room.ID, outlet.ID)
		m.ledger.Record(key, watts, TickInterval)
		m.intraday.Record(key, watts, now)
		return watts
	}

	plug1 := m.readPlug(outlet.Plug1Entity, now)
	plug2 := m.readPlug(outlet.Plug2Entity, now)
	total := plug1 + plug2

	if outlet.Type == home.TypeStove {
		m.evaluateCooking(ctx, cfg, room, outlet, plug1, now)
	}

	if outlet.Plug1Shutoff > 0 && plug1 > float64(outlet.Plug1Shutoff) {
		m.plugShutoff(ctx, cfg, room, outlet, "plug 1", outlet.Plug1Switch, plug1, now)
	}
	if outlet.Plug2Shutoff > 0 && plug2 > float64(outlet.Plug2Shutoff) {
		m.plugShutoff(ctx, cfg, room, outlet, "plug 2", outlet.Plug2Switch, plug2, now)
	}

	if outlet.ThresholdW > 0 && total > float64(outlet.ThresholdW) {
		m.outletWarning(ctx, cfg, room, outlet, total, now)
	}

	return total
}

// readPlug reads one power source and feeds the ledger and intraday
// history. Missing or unparseable entities read as 0.
func (m *Monitor) readPlug(entityID string, now time.Time) float64 {
	if entityID == "" {
		return 0
	}
	watts := platform.PowerValue(m.states, entityID)
	m.ledger.Record(entityID, watts, TickInterval)
	m.intraday.Record(entityID, watts, now)
	return watts
}

// budgetExceeded reports whether the room's daily energy budget has been
// crossed. Rooms without a budget are never gated.
func (m *Monitor) budgetExceeded(room home.Room) bool {
	if room.DailyBudgetKWh <= 0 {
		return true
	}
	return m.ledger.RoomWh(room.ID)/1000 >= room.DailyBudgetKWh
}

// plugShutoff starts a de-energize / settle / re-energize cycle for one
// plug. Budget-gated, and an in-flight guard keeps overlapping ticks from
// starting a second cycle for the same plug.
func (m *Monitor) plugShutoff(ctx context.Context, cfg *home.Config, room home.Room, outlet home.Outlet, plug, switchEntity string, watts float64, now time.Time) {
	if switchEntity == "" || !m.budgetExceeded(room) {
		return
	}

	key := fmt.Sprintf("shutoff:%s/%s/%s", room.ID, outlet.ID, plug)
	if !m.claimInFlight(key) {
		return
	}

	message := cfg.Voice.Render(home.MsgShutoff, map[string]string{
		"room_name":   room.Name,
		"outlet_name": outlet.Name,
		"plug":        plug,
		"watts":       formatWatts(watts),
	})

	m.counts.RecordShutoff(room.ID)
	m.recordEvent(now, room, events.KindShutoff, outlet.Name, watts, room.MediaPlayer != "")

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		defer m.releaseInFlight(key)

		cycleCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := m.services.TurnOff(cycleCtx, switchEntity); err != nil {
			m.logger.Error("plug shutoff failed",
				"room", room.ID,
				"outlet", outlet.ID,
				"switch", switchEntity,
				"error", err)
			return
		}
		m.announceToRoom(cycleCtx, cfg, room, message, 0)
		if err := m.clock.Sleep(cycleCtx, SettleDelay); err != nil {
			return
		}
		if err := m.services.TurnOn(cycleCtx, switchEntity); err != nil {
			m.logger.Error("plug re-energize failed",
				"room", room.ID,
				"outlet", outlet.ID,
				"switch", switchEntity,
				"error", err)
		}
	}()
}

// outletWarning announces a combined-threshold warning for one outlet.
// Budget-gated and cooldown-gated per room+outlet.
func (m *Monitor) outletWarning(ctx context.Context, cfg *home.Config, room home.Room, outlet home.Outlet, watts float64, now time.Time) {
	if !m.budgetExceeded(room) {
		return
	}
	if !m.cooldownOK("outlet:"+room.ID+"/"+outlet.ID, now) {
		return
	}

	message := cfg.Voice.Render(home.MsgOutletWarn, map[string]string{
		"room_name":   room.Name,
		"outlet_name": outlet.Name,
		"watts":       formatWatts(watts),
	})
	m.announceToRoom(ctx, cfg, room, message, 0)

	m.counts.RecordWarning(room.ID)
	m.recordEvent(now, room, events.KindWarning, outlet.Name, watts, room.MediaPlayer != "")
}

// roomWarning records the warning with the enforcement machine and acts on
// its decision. Cooldown is bypassed when the warning triggered a phase
// transition so escalation messages are never swallowed.
func (m *Monitor) roomWarning(ctx context.Context, cfg *home.Config, room home.Room, watts float64, now time.Time) {
	decision := m.machine.RecordWarning(room.ID, watts)

	key := "room:" + room.ID
	if decision.PhaseChanged {
		m.markCooldown(key, now)
	} else if !m.cooldownOK(key, now) {
		return
	}

	var message string
	switch {
	case decision.PhaseChanged && decision.Phase == enforcement.PhaseCycling:
		message = cfg.Voice.Render(home.MsgPhase2, map[string]string{"room_name": room.Name})
	case decision.PhaseChanged && decision.Phase == enforcement.PhaseVolume:
		message = cfg.Voice.Render(home.MsgPhase1, map[string]string{"room_name": room.Name})
	default:
		message = cfg.Voice.Render(home.MsgRoomWarn, map[string]string{
			"room_name": room.Name,
			"watts":     formatWatts(watts),
		})
	}

	volume := m.machine.EffectiveVolume(room.ID, roomVolume(cfg, room))

	req := announce.Request{
		MediaPlayer: room.MediaPlayer,
		Message:     message,
		Language:    cfg.Voice.Language,
		Volume:      volume,
	}
	if decision.PowerCycle {
		// The room power cycle runs only after the phase-2 message has
		// actually been delivered.
		req.AfterSend = func(sendCtx context.Context) {
			m.roomPowerCycle(cfg, room)
		}
	}
	m.gate.SendOrQueue(ctx, req)

	if room.LightWarning {
		m.blinkRoomLights(ctx, room)
	}

	m.counts.RecordWarning(room.ID)
	m.recordEvent(now, room, events.KindWarning, "", watts, room.MediaPlayer != "")

	if decision.PhaseChanged {
		m.publishPhase(events.PhaseEvent{
			Timestamp: now,
			RoomID:    room.ID,
			Phase:     int(decision.Phase),
			Reason:    "escalation",
		})
	}
}

// roomPowerCycle de-energizes every switchable outlet in the room except
// stoves and microwaves, waits the configured delay, re-energizes, and
// announces the all-clear. Guarded per room.
func (m *Monitor) roomPowerCycle(cfg *home.Config, room home.Room) {
	key := "cycle:" + room.ID
	if !m.claimInFlight(key) {
		return
	}

	var switches []string
	for _, outlet := range room.Outlets {
		if outlet.Type == home.TypeStove || outlet.Type == home.TypeMicrowave {
			continue
		}
		if outlet.Plug1Switch != "" {
			switches = append(switches, outlet.Plug1Switch)
		}
		if outlet.Plug2Switch != "" {
			switches = append(switches, outlet.Plug2Switch)
		}
	}
	if len(switches) == 0 {
		m.releaseInFlight(key)
		return
	}

	delay := time.Duration(cfg.Enforcement.CycleDelaySeconds) * time.Second

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		defer m.releaseInFlight(key)

		cycleCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := m.services.TurnOff(cycleCtx, switches...); err != nil {
			m.logger.Error("room power cycle off failed", "room", room.ID, "error", err)
			return
		}
		if err := m.clock.Sleep(cycleCtx, delay); err != nil {
			return
		}
		if err := m.services.TurnOn(cycleCtx, switches...); err != nil {
			m.logger.Error("room power cycle on failed", "room", room.ID, "error", err)
			return
		}

		message := cfg.Voice.Render(home.MsgAllClear, map[string]string{"room_name": room.Name})
		m.announceToRoom(cycleCtx, cfg, room, message, 0)
	}()
}

// blinkRoomLights runs the responsive-light warning concurrently with the
// announcement.
func (m *Monitor) blinkRoomLights(ctx context.Context, room home.Room) {
	var members []home.LightMember
	for _, outlet := range room.Outlets {
		if outlet.Type == home.TypeLightGroup {
			members = append(members, outlet.Lights...)
		}
	}
	if len(members) == 0 {
		return
	}

	interval := time.Duration(room.LightBlinkMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Duration(home.DefaultLightBlinkIntervalMS) * time.Millisecond
	}

	key := "blink:" + room.ID
	if !m.claimInFlight(key) {
		return
	}
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		defer m.releaseInFlight(key)
		announce.Blink(ctx, m.services, m.states, m.clock, m.logger, members, 3, interval)
	}()
}

// checkRoomMilestones announces each configured kWh marker the room newly
// crossed today.
func (m *Monitor) checkRoomMilestones(ctx context.Context, cfg *home.Config, room home.Room, dayWh float64) {
	_, homeWh := m.ledger.Totals()
	for _, milestone := range m.machine.RoomMilestones(room.ID, dayWh/1000, homeWh/1000) {
		message := cfg.Voice.Render(home.MsgRoomKWh, map[string]string{
			"room_name": room.Name,
			"kwh":       strconv.FormatFloat(milestone.KWh, 'f', -1, 64),
			"percent":   strconv.Itoa(milestone.Percent),
		})
		m.announceToRoom(ctx, cfg, room, message, 0)
	}
}

// evaluateEnforcementResets announces quiet-period resets.
func (m *Monitor) evaluateEnforcementResets(ctx context.Context, cfg *home.Config, now time.Time) {
	for _, roomID := range m.machine.TickReset() {
		room, ok := cfg.Room(roomID)
		if !ok {
			continue
		}
		message := cfg.Voice.Render(home.MsgPhaseReset, map[string]string{"room_name": room.Name})
		m.announceToRoom(ctx, cfg, room, message, 0)
		m.publishPhase(events.PhaseEvent{
			Timestamp: now,
			RoomID:    roomID,
			Phase:     int(enforcement.PhaseNormal),
			Reason:    "quiet_period",
		})
	}
}

// evaluateHomeLimit announces, once per day, that the whole home crossed
// its daily kWh limit.
func (m *Monitor) evaluateHomeLimit(ctx context.Context, cfg *home.Config) {
	// Resolve the announcer before consuming the once-per-day alert so a
	// home without media players does not burn it silently.
	player := firstAnnouncerFallback(cfg)
	if player == "" {
		return
	}
	_, totalWh := m.ledger.Totals()
	if !m.machine.HomeLimitCrossed(totalWh / 1000) {
		return
	}
	message := cfg.Voice.Render(home.MsgHomeKWh, map[string]string{
		"kwh": strconv.FormatFloat(totalWh/1000, 'f', 1, 64),
	})
	m.gate.SendOrQueue(ctx, announce.Request{
		MediaPlayer: player,
		Message:     message,
		Language:    cfg.Voice.Language,
		Volume:      cfg.Voice.Volume,
	})
}

// announceToRoom sends through the gate at the room's configured volume,
// or the escalated volume when override > 0.
func (m *Monitor) announceToRoom(ctx context.Context, cfg *home.Config, room home.Room, message string, override float64) {
	if room.MediaPlayer == "" {
		return
	}
	volume := override
	if volume <= 0 {
		volume = roomVolume(cfg, room)
	}
	m.gate.SendOrQueue(ctx, announce.Request{
		MediaPlayer: room.MediaPlayer,
		Message:     message,
		Language:    cfg.Voice.Language,
		Volume:      volume,
	})
}

func (m *Monitor) recordEvent(now time.Time, room home.Room, kind events.Kind, outletName string, watts float64, announced bool) {
	m.eventLog.Append(enforcement.Entry{
		Timestamp:  now,
		RoomID:     room.ID,
		RoomName:   room.Name,
		Kind:       kind,
		OutletName: outletName,
		Watts:      watts,
		Announced:  announced,
	})
	m.publishEnforcement(events.EnforcementEvent{
		Timestamp:  now,
		RoomID:     room.ID,
		RoomName:   room.Name,
		Kind:       kind,
		OutletName: outletName,
		Watts:      watts,
		Announced:  announced,
	})
}

// roomVolume falls back to the global voice volume when the room has none.
func roomVolume(cfg *home.Config, room home.Room) float64 {
	if room.Volume > 0 {
		return room.Volume
	}
	return cfg.Voice.Volume
}

func formatWatts(watts float64) string {
	return strconv.Itoa(int(watts + 0.5))
}
