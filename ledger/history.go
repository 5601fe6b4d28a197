package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/kradalby/energyguard/platform"
)

const historyDocName = "daily_history.json"

// HistoryRetentionDays caps the daily-totals archive.
const HistoryRetentionDays = 45

// DayTotal is one archived day.
type DayTotal struct {
	TotalWh  float64            `json:"total_wh"`
	Warnings int                `json:"warnings"`
	Shutoffs int                `json:"shutoffs"`
	Rooms    map[string]float64 `json:"rooms"`
}

// DayRow is one row of a historical query, keyed by ISO date.
type DayRow struct {
	Date string `json:"date"`
	DayTotal
}

// Aggregate summarizes a date range.
type Aggregate struct {
	From     string             `json:"from"`
	To       string             `json:"to"`
	TotalWh  float64            `json:"total_wh"`
	Warnings int                `json:"warnings"`
	Shutoffs int                `json:"shutoffs"`
	Rooms    map[string]float64 `json:"rooms"`
}

type historyDocument struct {
	Days map[string]DayTotal `json:"days"`
}

// History is the bounded archive of daily totals.
type History struct {
	mu    sync.Mutex
	store platform.Store
	days  map[string]DayTotal
}

// NewHistory creates an empty history.
func NewHistory(store platform.Store) *History {
	return &History{store: store, days: make(map[string]DayTotal)}
}

// Load restores the archive.
func (h *History) Load() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var doc historyDocument
	if err := h.store.Load(historyDocName, &doc); err != nil {
		return err
	}
	if doc.Days != nil {
		h.days = doc.Days
	}
	h.pruneLocked()
	return nil
}

// Add archives one day and prunes beyond the retention cap. Re-adding the
// same date replaces it, so a retried rollover never double-archives.
func (h *History) Add(date string, total DayTotal) error {
	h.mu.Lock()
	h.days[date] = total
	h.pruneLocked()
	doc := historyDocument{Days: h.days}
	h.mu.Unlock()

	return h.store.Save(historyDocName, &doc)
}

// Rows returns one row per archived date with data inside the lookback
// window ending at today, oldest first. Leading empty dates are not padded.
func (h *History) Rows(lookbackDays int, today string) []DayRow {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := ""
	if t, err := time.Parse(DateFormat, today); err == nil && lookbackDays > 0 {
		cutoff = t.AddDate(0, 0, -(lookbackDays - 1)).Format(DateFormat)
	}

	var rows []DayRow
	for date, total := range h.days {
		if cutoff != "" && date < cutoff {
			continue
		}
		if date > today {
			continue
		}
		rows = append(rows, DayRow{Date: date, DayTotal: total})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

// Range aggregates archived days in [from, to] inclusive.
func (h *History) Range(from, to string) Aggregate {
	h.mu.Lock()
	defer h.mu.Unlock()

	agg := Aggregate{From: from, To: to, Rooms: make(map[string]float64)}
	for date, total := range h.days {
		if date < from || date > to {
			continue
		}
		agg.TotalWh += total.TotalWh
		agg.Warnings += total.Warnings
		agg.Shutoffs += total.Shutoffs
		for room, wh := range total.Rooms {
			agg.Rooms[room] += wh
		}
	}
	return agg
}

// Len returns the number of archived days.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.days)
}

func (h *History) pruneLocked() {
	if len(h.days) <= HistoryRetentionDays {
		return
	}
	dates := make([]string, 0, len(h.days))
	for date := range h.days {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	for _, date := range dates[:len(dates)-HistoryRetentionDays] {
		delete(h.days, date)
	}
}
