package enforcement

import (
	"sync"

	"github.com/kradalby/energyguard/platform"
)

const countsDocName = "event_counts.json"

type countsDocument struct {
	LastResetDate string         `json:"last_reset_date"`
	TotalWarnings int            `json:"total_warnings"`
	TotalShutoffs int            `json:"total_shutoffs"`
	RoomWarnings  map[string]int `json:"room_warnings"`
	RoomShutoffs  map[string]int `json:"room_shutoffs"`
}

// Counts tracks today's warning and shutoff totals, overall and per room.
type Counts struct {
	mu    sync.Mutex
	store platform.Store
	doc   countsDocument
}

// NewCounts creates empty counters scoped to the given date.
func NewCounts(store platform.Store, date string) *Counts {
	return &Counts{
		store: store,
		doc: countsDocument{
			LastResetDate: date,
			RoomWarnings:  make(map[string]int),
			RoomShutoffs:  make(map[string]int),
		},
	}
}

// Load restores persisted counters, keeping them only when the stored date
// matches today.
func (c *Counts) Load(today string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doc countsDocument
	if err := c.store.Load(countsDocName, &doc); err != nil {
		return err
	}
	if doc.LastResetDate == today {
		if doc.RoomWarnings == nil {
			doc.RoomWarnings = make(map[string]int)
		}
		if doc.RoomShutoffs == nil {
			doc.RoomShutoffs = make(map[string]int)
		}
		c.doc = doc
	}
	return nil
}

// Flush persists the counters.
func (c *Counts) Flush() error {
	c.mu.Lock()
	doc := countsDocument{
		LastResetDate: c.doc.LastResetDate,
		TotalWarnings: c.doc.TotalWarnings,
		TotalShutoffs: c.doc.TotalShutoffs,
		RoomWarnings:  copyCounts(c.doc.RoomWarnings),
		RoomShutoffs:  copyCounts(c.doc.RoomShutoffs),
	}
	c.mu.Unlock()

	return c.store.Save(countsDocName, &doc)
}

// ResetDay clears all counters for a new date.
func (c *Counts) ResetDay(date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = countsDocument{
		LastResetDate: date,
		RoomWarnings:  make(map[string]int),
		RoomShutoffs:  make(map[string]int),
	}
}

// RecordWarning increments the warning counters for a room.
func (c *Counts) RecordWarning(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.TotalWarnings++
	c.doc.RoomWarnings[roomID]++
}

// RecordShutoff increments the shutoff counters for a room.
func (c *Counts) RecordShutoff(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc.TotalShutoffs++
	c.doc.RoomShutoffs[roomID]++
}

// Totals returns today's overall warning and shutoff counts.
func (c *Counts) Totals() (warnings, shutoffs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.TotalWarnings, c.doc.TotalShutoffs
}

// RoomTotals returns per-room warning and shutoff counts.
func (c *Counts) RoomTotals() (warnings, shutoffs map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyCounts(c.doc.RoomWarnings), copyCounts(c.doc.RoomShutoffs)
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
