package enforcement

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kradalby/energyguard/events"
)

func TestEventLogCap(t *testing.T) {
	log := NewLog(newMemStore())
	require.NoError(t, log.Load())

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < EventLogCap+25; i++ {
		log.Append(Entry{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			RoomID:    "kitchen",
			Kind:      events.KindWarning,
		})
	}

	require.Equal(t, EventLogCap, log.Len())

	recent := log.Recent(1)
	require.Len(t, recent, 1)
	require.Equal(t, base.Add(time.Duration(EventLogCap+24)*time.Second), recent[0].Timestamp)
}

func TestEventLogRecentNewestFirst(t *testing.T) {
	log := NewLog(newMemStore())
	require.NoError(t, log.Load())

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		log.Append(Entry{Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	recent := log.Recent(3)
	require.Len(t, recent, 3)
	require.True(t, recent[0].Timestamp.After(recent[1].Timestamp))
	require.True(t, recent[1].Timestamp.After(recent[2].Timestamp))
}

func TestEventLogPersistedDocument(t *testing.T) {
	store := newMemStore()
	log := NewLog(store)
	require.NoError(t, log.Load())

	log.Append(Entry{
		Timestamp: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		RoomID:    "kitchen",
		RoomName:  "Kitchen",
		Kind:      events.KindShutoff,
		Watts:     1720,
		Announced: true,
	})
	require.NoError(t, log.Flush())

	store.mu.Lock()
	raw := store.docs[eventLogDocName]
	store.mu.Unlock()

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Contains(t, doc, "events")

	restored := NewLog(store)
	require.NoError(t, restored.Load())
	require.Equal(t, 1, restored.Len())
	require.Equal(t, "kitchen", restored.Recent(1)[0].RoomID)
}

func TestCountsResetOnNewDate(t *testing.T) {
	store := newMemStore()

	counts := NewCounts(store, "2026-08-30")
	require.NoError(t, counts.Load("2026-08-30"))
	counts.RecordWarning("kitchen")
	counts.RecordWarning("kitchen")
	counts.RecordShutoff("office")
	require.NoError(t, counts.Flush())

	restored := NewCounts(store, "2026-08-30")
	require.NoError(t, restored.Load("2026-08-30"))
	warnings, shutoffs := restored.Totals()
	require.Equal(t, 2, warnings)
	require.Equal(t, 1, shutoffs)
	roomWarnings, roomShutoffs := restored.RoomTotals()
	require.Equal(t, 2, roomWarnings["kitchen"])
	require.Equal(t, 1, roomShutoffs["office"])

	// The stored document is for yesterday once the date moves on.
	nextDay := NewCounts(store, "2026-08-31")
	require.NoError(t, nextDay.Load("2026-08-31"))
	warnings, shutoffs = nextDay.Totals()
	require.Zero(t, warnings)
	require.Zero(t, shutoffs)
}
