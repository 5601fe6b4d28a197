package home

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDerivesIDs(t *testing.T) {
	cfg := &Config{
		Rooms: []Room{{
			Name: "Living Room",
			Outlets: []Outlet{{
				Name: "Emma's Desk",
				Type: TypeOutlet,
			}},
		}},
	}
	cfg.Normalize()

	require.Equal(t, "living_room", cfg.Rooms[0].ID)
	require.Equal(t, "living_room_emmas_desk", cfg.Rooms[0].Outlets[0].ID)
}

func TestNormalizeCoercesUnknownOutletType(t *testing.T) {
	cfg := &Config{
		Rooms: []Room{{
			Name:    "Office",
			Outlets: []Outlet{{Name: "Desk", Type: "toaster_oven"}},
		}},
	}
	cfg.Normalize()

	require.Equal(t, TypeOutlet, cfg.Rooms[0].Outlets[0].Type)
}

func TestNormalizeFillsStoveDefaults(t *testing.T) {
	cfg := &Config{
		Rooms: []Room{{
			Name:    "Kitchen",
			Outlets: []Outlet{{Name: "Stove", Type: TypeStove}},
		}},
	}
	cfg.Normalize()

	stove := cfg.Rooms[0].Outlets[0].Stove
	require.NotNil(t, stove)
	require.True(t, stove.ShutoffEnabled)
	require.InDelta(t, DefaultStoveThresholdW, stove.PowerThresholdW, 1e-9)
	require.Equal(t, DefaultCookingMinutes, stove.CookingMinutes)
	require.Equal(t, DefaultFinalWarningSeconds, stove.FinalWarningSeconds)
	// A stove carries exactly one power source.
	require.Empty(t, cfg.Rooms[0].Outlets[0].Plug2Entity)
}

func TestNormalizeClampsBreakerPosition(t *testing.T) {
	cfg := &Config{
		PanelSize: 20,
		BreakerLines: []BreakerLine{
			{Name: "Low", Position: -3},
			{Name: "High", Position: 42},
		},
	}
	cfg.Normalize()

	require.Equal(t, 1, cfg.BreakerLines[0].Position)
	require.Equal(t, 20, cfg.BreakerLines[1].Position)
	require.Equal(t, DefaultBreakerMaxLoadW, cfg.BreakerLines[0].MaxLoadW)
}

func TestNormalizeDropsNamelessEntries(t *testing.T) {
	cfg := &Config{
		Rooms: []Room{
			{Name: ""},
			{Name: "Kitchen", Outlets: []Outlet{{Name: ""}, {Name: "Counter"}}},
		},
	}
	cfg.Normalize()

	require.Len(t, cfg.Rooms, 1)
	require.Len(t, cfg.Rooms[0].Outlets, 1)
	require.Equal(t, "Counter", cfg.Rooms[0].Outlets[0].Name)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	cfg := &Config{
		Rooms: []Room{{
			Name:   "Kitchen",
			Volume: 1.7,
			Outlets: []Outlet{
				{Name: "Stove", Type: TypeStove},
				{Name: "Counter", Type: TypeOutlet, Plug1Entity: "sensor.counter"},
			},
		}},
		BreakerLines: []BreakerLine{{Name: "Kitchen Line"}},
	}
	cfg.Normalize()
	first, err := json.Marshal(cfg)
	require.NoError(t, err)

	cfg.Normalize()
	second, err := json.Marshal(cfg)
	require.NoError(t, err)

	require.JSONEq(t, string(first), string(second))
	require.InDelta(t, 1.0, cfg.Rooms[0].Volume, 1e-9)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.hujson"))
	require.NoError(t, err)
	require.Empty(t, cfg.Rooms)
	require.Equal(t, DefaultPanelSize, cfg.PanelSize)
	require.NotEmpty(t, cfg.Voice.Messages.RoomWarn)
}

func TestLoadConfigHuJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.hujson")
	doc := `{
  // the kitchen is the only monitored room for now
  "rooms": [
    {
      "name": "Kitchen",
      "threshold": 1800,
      "outlets": [
        {"name": "Counter", "type": "outlet", "plug1_entity": "sensor.counter"},
      ],
    },
  ],
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Rooms, 1)
	require.Equal(t, "kitchen", cfg.Rooms[0].ID)
	require.Equal(t, 1800, cfg.Rooms[0].ThresholdW)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.json")
	cfg := &Config{
		Rooms: []Room{{
			Name:       "Kitchen",
			ThresholdW: 1800,
			Outlets:    []Outlet{{Name: "Counter", Plug1Entity: "sensor.counter"}},
		}},
	}
	require.NoError(t, cfg.Save(path))

	restored, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Rooms, restored.Rooms)
	require.Equal(t, cfg.Voice, restored.Voice)
}
