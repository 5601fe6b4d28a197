package announce

import (
	"context"
	"log/slog"
	"time"

	"github.com/kradalby/energyguard/home"
	"github.com/kradalby/energyguard/platform"
)

// warningColor is the flash color for full-color lights.
var warningColor = [3]int{255, 0, 0}

type priorLight struct {
	entityID  string
	fullColor bool
	wasOn     bool
	rgb       *[3]int
	bright    int
}

// Blink flashes a room's light group as a visual warning and restores each
// light to its prior state afterwards. Restoration runs even when the
// context is cancelled mid-sequence.
func Blink(ctx context.Context, services platform.Services, states platform.States, clock platform.Clock, logger *slog.Logger, members []home.LightMember, cycles int, interval time.Duration) {
	if len(members) == 0 || cycles <= 0 {
		return
	}

	prior := capturePrior(states, members)
	defer restorePrior(services, logger, prior)

	for i := 0; i < cycles; i++ {
		for _, member := range members {
			var err error
			if member.FullColor {
				err = services.LightOn(ctx, member.EntityID, platform.LightAttributes{
					RGBColor:      &warningColor,
					BrightnessPct: 100,
				})
			} else {
				err = services.TurnOn(ctx, member.EntityID)
			}
			if err != nil {
				logger.Warn("light warning flash failed",
					"entity", member.EntityID,
					"error", err)
			}
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return
		}

		for _, member := range members {
			if err := services.TurnOff(ctx, member.EntityID); err != nil {
				logger.Warn("light warning flash failed",
					"entity", member.EntityID,
					"error", err)
			}
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return
		}
	}
}

func capturePrior(states platform.States, members []home.LightMember) []priorLight {
	prior := make([]priorLight, 0, len(members))
	for _, member := range members {
		p := priorLight{
			entityID:  member.EntityID,
			fullColor: member.FullColor,
			wasOn:     platform.IsOn(states, member.EntityID),
		}
		if state, ok := states.Get(member.EntityID); ok && p.wasOn {
			p.rgb = attrRGB(state.Attributes)
			p.bright = attrBrightnessPct(state.Attributes)
		}
		prior = append(prior, p)
	}
	return prior
}

// restorePrior uses a fresh context so restoration survives cancellation.
func restorePrior(services platform.Services, logger *slog.Logger, prior []priorLight) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, p := range prior {
		var err error
		switch {
		case !p.wasOn:
			err = services.TurnOff(ctx, p.entityID)
		case p.fullColor:
			err = services.LightOn(ctx, p.entityID, platform.LightAttributes{
				RGBColor:      p.rgb,
				BrightnessPct: p.bright,
			})
		default:
			err = services.TurnOn(ctx, p.entityID)
		}
		if err != nil {
			logger.Warn("light warning restore failed",
				"entity", p.entityID,
				"error", err)
		}
	}
}

func attrRGB(attrs map[string]any) *[3]int {
	raw, ok := attrs["rgb_color"].([]any)
	if !ok || len(raw) != 3 {
		return nil
	}
	var rgb [3]int
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil
		}
		rgb[i] = int(f)
	}
	return &rgb
}

func attrBrightnessPct(attrs map[string]any) int {
	// statestream publishes brightness on the 0-255 scale
	f, ok := attrs["brightness"].(float64)
	if !ok {
		return 0
	}
	return int(f/255*100 + 0.5)
}
