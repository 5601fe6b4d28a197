package enforcement

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kradalby/energyguard/home"
)

type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (s *memStore) Load(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[name]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *memStore) Save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.docs[name] = raw
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func testSettings() home.EnforcementSettings {
	return home.EnforcementSettings{
		Rooms:               []string{"kitchen"},
		Phase1Enabled:       true,
		Phase2Enabled:       true,
		Phase1WindowSeconds: 300,
		Phase1Trigger:       3,
		Phase2WindowSeconds: 600,
		Phase2Trigger:       6,
		QuietPeriodSeconds:  600,
		VolumeStep:          10,
		Phase2MaxVolume:     0.9,
		KWhMilestones:       []float64{5, 10},
		HomeKWhLimit:        30,
	}
}

func newTestMachine(t *testing.T, settings home.EnforcementSettings) (*Machine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	m := New(newMemStore(), clock, slog.New(slog.NewTextHandler(io.Discard, nil)), func() home.EnforcementSettings {
		return settings
	})
	require.NoError(t, m.Load())
	return m, clock
}

func TestPhase1Escalation(t *testing.T) {
	m, clock := newTestMachine(t, testSettings())

	var decision Decision
	for i := 0; i < 3; i++ {
		decision = m.RecordWarning("kitchen", 1600)
		clock.Advance(10 * time.Second)
	}

	require.True(t, decision.PhaseChanged)
	require.Equal(t, PhaseVolume, decision.Phase)
	require.True(t, decision.BypassCooldown)
	require.False(t, decision.PowerCycle)
	require.Equal(t, 10, decision.VolumeOffset)
}

func TestDirectPhase2FromNormal(t *testing.T) {
	settings := testSettings()
	settings.Phase1Trigger = 6
	settings.Phase2Trigger = 6
	m, clock := newTestMachine(t, settings)

	var decision Decision
	for i := 0; i < 6; i++ {
		decision = m.RecordWarning("kitchen", 1600)
		clock.Advance(10 * time.Second)
	}

	// Both triggers fire on the same event; phase 2 wins without passing
	// through phase 1.
	require.True(t, decision.PhaseChanged)
	require.Equal(t, PhaseCycling, decision.Phase)
	require.True(t, decision.PowerCycle)
}

func TestDisabledRoomNeverEscalates(t *testing.T) {
	m, clock := newTestMachine(t, testSettings())

	for i := 0; i < 10; i++ {
		decision := m.RecordWarning("garage", 2000)
		require.Equal(t, Decision{}, decision)
		clock.Advance(10 * time.Second)
	}
	require.Equal(t, PhaseNormal, m.Phase("garage"))
}

func TestVolumeOffsetCapped(t *testing.T) {
	m, clock := newTestMachine(t, testSettings())

	var decision Decision
	for i := 0; i < 20; i++ {
		decision = m.RecordWarning("kitchen", 1600)
		clock.Advance(time.Second)
	}
	require.Equal(t, 100, decision.VolumeOffset)
}

func TestEffectiveVolume(t *testing.T) {
	m, clock := newTestMachine(t, testSettings())

	require.InDelta(t, 0.5, m.EffectiveVolume("kitchen", 0.5), 1e-9)

	for i := 0; i < 3; i++ {
		m.RecordWarning("kitchen", 1600)
		clock.Advance(time.Second)
	}
	// One volume step after reaching phase 1.
	require.InDelta(t, 0.6, m.EffectiveVolume("kitchen", 0.5), 1e-9)

	// Phase 2 caps effective volume at the configured maximum.
	for i := 0; i < 10; i++ {
		m.RecordWarning("kitchen", 1600)
		clock.Advance(time.Second)
	}
	require.Equal(t, PhaseCycling, m.Phase("kitchen"))
	require.InDelta(t, 0.9, m.EffectiveVolume("kitchen", 0.5), 1e-9)
}

func TestQuietPeriodReset(t *testing.T) {
	m, clock := newTestMachine(t, testSettings())

	for i := 0; i < 3; i++ {
		m.RecordWarning("kitchen", 1600)
		clock.Advance(time.Second)
	}
	require.Equal(t, PhaseVolume, m.Phase("kitchen"))
	require.Empty(t, m.TickReset())

	clock.Advance(601 * time.Second)
	require.Equal(t, []string{"kitchen"}, m.TickReset())
	require.Equal(t, PhaseNormal, m.Phase("kitchen"))
	require.InDelta(t, 0.5, m.EffectiveVolume("kitchen", 0.5), 1e-9)

	// A second tick does not reset again.
	require.Empty(t, m.TickReset())
}

func TestRoomMilestonesAnnouncedOnce(t *testing.T) {
	m, _ := newTestMachine(t, testSettings())

	crossed := m.RoomMilestones("kitchen", 6.0, 12.0)
	require.Len(t, crossed, 1)
	require.InDelta(t, 5.0, crossed[0].KWh, 1e-9)
	require.Equal(t, 50, crossed[0].Percent)

	require.Empty(t, m.RoomMilestones("kitchen", 6.5, 13.0))

	crossed = m.RoomMilestones("kitchen", 10.2, 20.4)
	require.Len(t, crossed, 1)
	require.InDelta(t, 10.0, crossed[0].KWh, 1e-9)
}

func TestHomeLimitOncePerDay(t *testing.T) {
	m, _ := newTestMachine(t, testSettings())

	require.False(t, m.HomeLimitCrossed(29.9))
	require.True(t, m.HomeLimitCrossed(30.1))
	require.False(t, m.HomeLimitCrossed(35))

	m.ResetDay("2026-08-31")
	require.True(t, m.HomeLimitCrossed(31))
}

func TestStatePersistsWithinDay(t *testing.T) {
	settings := testSettings()
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := New(store, clock, logger, func() home.EnforcementSettings { return settings })
	require.NoError(t, m.Load())
	for i := 0; i < 3; i++ {
		m.RecordWarning("kitchen", 1600)
		clock.Advance(time.Second)
	}
	require.NoError(t, m.Flush())

	restored := New(store, clock, logger, func() home.EnforcementSettings { return settings })
	require.NoError(t, restored.Load())
	require.Equal(t, PhaseVolume, restored.Phase("kitchen"))

	// A new date discards the stored state.
	clock.Advance(24 * time.Hour)
	nextDay := New(store, clock, logger, func() home.EnforcementSettings { return settings })
	require.NoError(t, nextDay.Load())
	require.Equal(t, PhaseNormal, nextDay.Phase("kitchen"))
}
