// Package ledger tracks per-entity daily energy, bounded daily history,
// minute-resolution intraday history, and billing cycles. All documents are
// whole-file JSON owned exclusively by this package.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kradalby/energyguard/platform"
)

const energyDocName = "energy_tracking.json"

// DateFormat is the ISO date key used by every date-scoped document.
const DateFormat = "2006-01-02"

type energyDocument struct {
	LastResetDate string                  `json:"last_reset_date"`
	Outlets       map[string]entityEnergy `json:"outlets"`
}

type entityEnergy struct {
	Energy float64 `json:"energy"` // Wh
}

// RolloverHook archives the outgoing day. It runs with the ledger locked; if
// it fails the ledger keeps the old day and retries on the next write.
type RolloverHook func(date string, roomWh map[string]float64, totalWh float64) error

// Ledger accumulates watt-hours per tracked key for the current local day.
type Ledger struct {
	mu      sync.Mutex
	store   platform.Store
	clock   platform.Clock
	logger  *slog.Logger
	roomFor func(key string) (string, bool)

	today    string
	entries  map[string]float64
	rollover RolloverHook
}

// New creates a ledger. roomFor maps a ledger key (entity id or synthetic
// key) to its room id for rollover snapshots.
func New(store platform.Store, clock platform.Clock, logger *slog.Logger, roomFor func(string) (string, bool)) *Ledger {
	return &Ledger{
		store:   store,
		clock:   clock,
		logger:  logger,
		roomFor: roomFor,
		entries: make(map[string]float64),
	}
}

// OnRollover installs the archive hook.
func (l *Ledger) OnRollover(hook RolloverHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover = hook
}

// Load restores the persisted ledger. A stored date older than today is left
// in place; the first Record call archives it.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var doc energyDocument
	if err := l.store.Load(energyDocName, &doc); err != nil {
		return err
	}

	l.entries = make(map[string]float64, len(doc.Outlets))
	for key, e := range doc.Outlets {
		l.entries[key] = e.Energy
	}
	l.today = doc.LastResetDate
	if l.today == "" {
		l.today = l.clock.Now().Format(DateFormat)
	}
	return nil
}

// Record adds watts over elapsed time to the key's daily total, archiving the
// previous day first when the date has changed.
func (l *Ledger) Record(key string, watts float64, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeRolloverLocked()
	l.entries[key] += watts * elapsed.Seconds() / 3600
}

// Read returns the accumulated Wh for key today, or 0 if absent.
func (l *Ledger) Read(key string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[key]
}

// RoomWh sums today's Wh for every key belonging to roomID.
func (l *Ledger) RoomWh(roomID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for key, wh := range l.entries {
		if id, ok := l.roomFor(key); ok && id == roomID {
			total += wh
		}
	}
	return total
}

// Totals returns today's per-room Wh sums and the home total. Keys with no
// known room count toward the home total only.
func (l *Ledger) Totals() (map[string]float64, float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalsLocked()
}

func (l *Ledger) totalsLocked() (map[string]float64, float64) {
	rooms := make(map[string]float64)
	var total float64
	for key, wh := range l.entries {
		total += wh
		if id, ok := l.roomFor(key); ok {
			rooms[id] += wh
		}
	}
	return rooms, total
}

// Today returns the ledger's current date key.
func (l *Ledger) Today() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.today
}

// Flush persists the ledger document.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	doc := energyDocument{
		LastResetDate: l.today,
		Outlets:       make(map[string]entityEnergy, len(l.entries)),
	}
	for key, wh := range l.entries {
		doc.Outlets[key] = entityEnergy{Energy: wh}
	}
	l.mu.Unlock()

	return l.store.Save(energyDocName, &doc)
}

// maybeRolloverLocked archives the outgoing day on the first write after
// local midnight. If the hook fails the reading still lands on the outgoing
// day and the archive is retried on the next write, so nothing is cleared
// partially and nothing is archived twice.
func (l *Ledger) maybeRolloverLocked() {
	today := l.clock.Now().Format(DateFormat)
	if l.today == today {
		return
	}
	if l.today == "" {
		l.today = today
		return
	}

	if l.rollover != nil {
		rooms, total := l.totalsLocked()
		if err := l.rollover(l.today, rooms, total); err != nil {
			l.logger.Error("Day rollover failed, will retry",
				"date", l.today,
				"error", err,
			)
			return
		}
	}

	l.entries = make(map[string]float64)
	l.today = today
	l.logger.Info("Energy ledger rolled over", "date", today)
}
