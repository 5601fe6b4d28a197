package ledger

import (
	"sync"
	"time"

	"github.com/kradalby/energyguard/platform"
)

const intradayDocName = "intraday_history.json"

// IntradayCap bounds each entity's minute samples to 24 hours.
const IntradayCap = 1440

// Sample is one (minute-of-day, watts) pair.
type Sample struct {
	Minute int     `json:"minute"`
	Watts  float64 `json:"watts"`
}

type intradayDocument struct {
	Date       string              `json:"date"`
	LastMinute int                 `json:"last_minute"`
	History    map[string][]Sample `json:"history"`
}

// Intraday keeps minute-resolution wattage history per entity for charting.
// Repeated samples inside the same minute bucket collapse to the latest.
type Intraday struct {
	mu         sync.Mutex
	store      platform.Store
	date       string
	lastMinute int
	history    map[string][]Sample
}

// NewIntraday creates an empty intraday tracker.
func NewIntraday(store platform.Store) *Intraday {
	return &Intraday{store: store, history: make(map[string][]Sample)}
}

// Load restores the persisted history, discarding it when the stored date is
// not the given date.
func (i *Intraday) Load(today string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var doc intradayDocument
	if err := i.store.Load(intradayDocName, &doc); err != nil {
		return err
	}
	if doc.Date == today && doc.History != nil {
		i.history = doc.History
		i.lastMinute = doc.LastMinute
	}
	i.date = today
	return nil
}

// Record appends a wattage sample for the current minute bucket.
func (i *Intraday) Record(key string, watts float64, now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	minute := now.Hour()*60 + now.Minute()
	samples := i.history[key]

	if n := len(samples); n > 0 && samples[n-1].Minute == minute {
		samples[n-1].Watts = watts
	} else {
		samples = append(samples, Sample{Minute: minute, Watts: watts})
		if len(samples) > IntradayCap {
			samples = samples[len(samples)-IntradayCap:]
		}
	}

	i.history[key] = samples
	i.lastMinute = minute
}

// Reset clears all samples for a new day.
func (i *Intraday) Reset(date string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.history = make(map[string][]Sample)
	i.lastMinute = 0
	i.date = date
}

// Snapshot returns a copy of the current history for the query surface.
func (i *Intraday) Snapshot() (date string, lastMinute int, history map[string][]Sample) {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make(map[string][]Sample, len(i.history))
	for key, samples := range i.history {
		copied := make([]Sample, len(samples))
		copy(copied, samples)
		out[key] = copied
	}
	return i.date, i.lastMinute, out
}

// Flush persists the history.
func (i *Intraday) Flush() error {
	date, lastMinute, history := i.Snapshot()
	doc := intradayDocument{
		Date:       date,
		LastMinute: lastMinute,
		History:    history,
	}
	return i.store.Save(intradayDocName, &doc)
}
