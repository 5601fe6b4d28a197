package monitor

import (
	"context"
	"time"

	"github.com/kradalby/energyguard/announce"
	"github.com/kradalby/energyguard/home"
	"github.com/kradalby/energyguard/platform"
)

// evaluateBreaker sums live wattage across a breaker line's outlets and
// fires the warning or the unconditional shutoff. Breaker shutoffs do not
// exclude any outlet type.
func (m *Monitor) evaluateBreaker(ctx context.Context, cfg *home.Config, line home.BreakerLine, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("breaker evaluation panicked", "breaker", line.ID, "panic", r)
		}
	}()

	outlets := cfg.OutletsForBreaker(line.ID)
	total := m.breakerWatts(outlets)

	if line.MaxLoadW > 0 && total >= float64(line.MaxLoadW) {
		m.breakerShutoff(ctx, cfg, line, outlets, now)
		return
	}

	if line.ThresholdW > 0 && total >= float64(line.ThresholdW) {
		if !m.cooldownOK("breaker-warn:"+line.ID, now) {
			return
		}
		m.announceBreaker(ctx, cfg, line, home.MsgBreakerWarn)
	}
}

// breakerWatts reads each outlet's live wattage without feeding the
// ledger; the room pass already accounted for these sources.
func (m *Monitor) breakerWatts(outlets []home.Outlet) float64 {
	total := 0.0
	for _, outlet := range outlets {
		switch outlet.Type {
		case home.TypeLightGroup:
			for _, member := range outlet.Lights {
				if platform.IsOn(m.states, member.EntityID) {
					total += member.Watts
				}
			}
		case home.TypeVentFan:
			onEntity := outlet.Plug1Switch
			if onEntity == "" {
				onEntity = outlet.Plug1Entity
			}
			if platform.IsOn(m.states, onEntity) {
				total += outlet.VentFanWatts
			}
		default:
			total += platform.PowerValue(m.states, outlet.Plug1Entity)
			total += platform.PowerValue(m.states, outlet.Plug2Entity)
		}
	}
	return total
}

// breakerShutoff turns off every switch on the line, waits the settle
// delay, and turns them all back on. Cooldown-gated and guarded per
// breaker so overlapping ticks cannot start a second cycle.
func (m *Monitor) breakerShutoff(ctx context.Context, cfg *home.Config, line home.BreakerLine, outlets []home.Outlet, now time.Time) {
	key := "breaker:" + line.ID
	if !m.claimInFlight(key) {
		return
	}
	if !m.cooldownOK("breaker-cut:"+line.ID, now) {
		m.releaseInFlight(key)
		return
	}
	if !m.runBreakerCycle(ctx, cfg, line, outlets, key) {
		m.releaseInFlight(key)
	}
}

// runBreakerCycle performs the announce, off, settle, on sequence. The
// caller must already hold the in-flight claim for key; once the cycle
// worker starts it owns the release. Returns false, leaving the claim with
// the caller, when the line has no switches to cycle.
func (m *Monitor) runBreakerCycle(ctx context.Context, cfg *home.Config, line home.BreakerLine, outlets []home.Outlet, key string) bool {
	var switches []string
	for _, outlet := range outlets {
		if outlet.Plug1Switch != "" {
			switches = append(switches, outlet.Plug1Switch)
		}
		if outlet.Plug2Switch != "" {
			switches = append(switches, outlet.Plug2Switch)
		}
	}
	if len(switches) == 0 {
		return false
	}

	m.announceBreaker(ctx, cfg, line, home.MsgBreakerShutoff)

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		defer m.releaseInFlight(key)

		cycleCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := m.services.TurnOff(cycleCtx, switches...); err != nil {
			m.logger.Error("breaker shutoff failed", "breaker", line.ID, "error", err)
			return
		}
		if err := m.clock.Sleep(cycleCtx, SettleDelay); err != nil {
			return
		}
		if err := m.services.TurnOn(cycleCtx, switches...); err != nil {
			m.logger.Error("breaker re-energize failed", "breaker", line.ID, "error", err)
		}
	}()
	return true
}

// BreakerLoads returns the live wattage per breaker line id.
func (m *Monitor) BreakerLoads() map[string]float64 {
	cfg := m.config()
	out := make(map[string]float64, len(cfg.BreakerLines))
	for _, line := range cfg.BreakerLines {
		out[line.ID] = m.breakerWatts(cfg.OutletsForBreaker(line.ID))
	}
	return out
}

// TestTrip runs a breaker shutoff cycle on demand, used by the web layer
// to exercise a line. Manual trips skip the automatic cut cooldown but
// still mark it. Returns true only when a cycle actually started.
func (m *Monitor) TestTrip(ctx context.Context, breakerID string) bool {
	cfg := m.config()
	for _, line := range cfg.BreakerLines {
		if line.ID != breakerID {
			continue
		}
		key := "breaker:" + line.ID
		if !m.claimInFlight(key) {
			return false
		}
		if !m.runBreakerCycle(ctx, cfg, line, cfg.OutletsForBreaker(line.ID), key) {
			m.releaseInFlight(key)
			return false
		}
		m.markCooldown("breaker-cut:"+line.ID, m.clock.Now())
		return true
	}
	return false
}

// announceBreaker resolves the announcement target for a breaker line:
// the first room containing one of its outlets that has a media player,
// else the home-wide fallback.
func (m *Monitor) announceBreaker(ctx context.Context, cfg *home.Config, line home.BreakerLine, kind home.MessageKind) {
	player, volume := breakerAnnouncer(cfg, line)
	if player == "" {
		return
	}
	message := cfg.Voice.Render(kind, map[string]string{"breaker_name": line.Name})
	m.gate.SendOrQueue(ctx, announce.Request{
		MediaPlayer: player,
		Message:     message,
		Language:    cfg.Voice.Language,
		Volume:      volume,
	})
}

func breakerAnnouncer(cfg *home.Config, line home.BreakerLine) (player string, volume float64) {
	member := make(map[string]bool, len(line.OutletIDs))
	for _, id := range line.OutletIDs {
		member[id] = true
	}
	for _, room := range cfg.Rooms {
		if room.MediaPlayer == "" {
			continue
		}
		for _, outlet := range room.Outlets {
			if member[outlet.ID] {
				return room.MediaPlayer, roomVolume(cfg, room)
			}
		}
	}
	if player := firstAnnouncerFallback(cfg); player != "" {
		return player, cfg.Voice.Volume
	}
	return "", 0
}

// firstAnnouncerFallback is the deliberate home-wide fallback policy: the
// first configured room with a media player.
func firstAnnouncerFallback(cfg *home.Config) string {
	for _, room := range cfg.Rooms {
		if room.MediaPlayer != "" {
			return room.MediaPlayer
		}
	}
	return ""
}
