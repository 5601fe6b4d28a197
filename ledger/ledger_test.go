package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	docs    map[string][]byte
	saveErr error
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
	if s.saveErr != nil {
		return s.saveErr
	}
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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func roomForStatic(mapping map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		id, ok := mapping[key]
		return id, ok
	}
}

func TestRecordAccumulates(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	led := New(newMemStore(), clock, testLogger(), roomForStatic(nil))
	require.NoError(t, led.Load())

	for i := 0; i < 3; i++ {
		led.Record("sensor.heater", 1000, time.Second)
	}

	require.InDelta(t, 3*1000.0/3600, led.Read("sensor.heater"), 1e-9)
	require.Zero(t, led.Read("sensor.unknown"))
}

func TestRolloverArchivesOnce(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 23, 59, 59, 0, time.UTC)}
	led := New(newMemStore(), clock, testLogger(), roomForStatic(map[string]string{
		"sensor.heater": "office",
	}))
	require.NoError(t, led.Load())

	var calls []string
	var archivedTotal float64
	led.OnRollover(func(date string, roomWh map[string]float64, totalWh float64) error {
		calls = append(calls, date)
		archivedTotal = totalWh
		require.InDelta(t, totalWh, roomWh["office"], 1e-9)
		return nil
	})

	led.Record("sensor.heater", 3600, time.Second) // 1 Wh
	require.Equal(t, "2026-08-30", led.Today())

	clock.Advance(2 * time.Second) // crosses midnight
	led.Record("sensor.heater", 3600, time.Second)

	require.Equal(t, []string{"2026-08-30"}, calls)
	require.InDelta(t, 1.0, archivedTotal, 1e-9)
	require.Equal(t, "2026-08-31", led.Today())
	require.InDelta(t, 1.0, led.Read("sensor.heater"), 1e-9)

	// Same date again is a no-op.
	led.Record("sensor.heater", 3600, time.Second)
	require.Len(t, calls, 1)
}

func TestRolloverRetriesAfterHookFailure(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 23, 59, 59, 0, time.UTC)}
	led := New(newMemStore(), clock, testLogger(), roomForStatic(nil))
	require.NoError(t, led.Load())

	fail := true
	var archived []float64
	led.OnRollover(func(date string, roomWh map[string]float64, totalWh float64) error {
		if fail {
			return fmt.Errorf("disk full")
		}
		archived = append(archived, totalWh)
		return nil
	})

	led.Record("sensor.heater", 3600, time.Second)
	clock.Advance(2 * time.Second)

	// Hook fails: the reading lands on the outgoing day, nothing cleared.
	led.Record("sensor.heater", 3600, time.Second)
	require.Empty(t, archived)
	require.Equal(t, "2026-08-30", led.Today())
	require.InDelta(t, 2.0, led.Read("sensor.heater"), 1e-9)

	// Next write retries and succeeds; both readings were archived.
	fail = false
	led.Record("sensor.heater", 3600, time.Second)
	require.Len(t, archived, 1)
	require.InDelta(t, 2.0, archived[0], 1e-9)
	require.Equal(t, "2026-08-31", led.Today())
	require.InDelta(t, 1.0, led.Read("sensor.heater"), 1e-9)
}

func TestLoadRestoresStoredDay(t *testing.T) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}

	led := New(store, clock, testLogger(), roomForStatic(nil))
	require.NoError(t, led.Load())
	led.Record("sensor.heater", 3600, time.Second)
	require.NoError(t, led.Flush())

	restored := New(store, clock, testLogger(), roomForStatic(nil))
	require.NoError(t, restored.Load())
	require.Equal(t, "2026-08-30", restored.Today())
	require.InDelta(t, 1.0, restored.Read("sensor.heater"), 1e-9)
}
