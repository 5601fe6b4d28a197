package enforcement

import (
	"sync"
	"time"

	"github.com/kradalby/energyguard/events"
	"github.com/kradalby/energyguard/platform"
)

const (
	eventLogDocName = "event_log.json"

	// EventLogCap bounds the rolling log; the oldest entries are dropped
	// first.
	EventLogCap = 500
)

// Entry is one logged enforcement action.
type Entry struct {
	Timestamp  time.Time   `json:"timestamp"`
	RoomID     string      `json:"room_id"`
	RoomName   string      `json:"room_name"`
	Kind       events.Kind `json:"kind"`
	OutletName string      `json:"outlet_name,omitempty"`
	Watts      float64     `json:"watts"`
	Announced  bool        `json:"announced"`
}

type eventLogDocument struct {
	Events []Entry `json:"events"`
}

// Log is the bounded rolling record of warnings and shutoffs.
type Log struct {
	mu      sync.Mutex
	store   platform.Store
	entries []Entry
}

func NewLog(store platform.Store) *Log {
	return &Log{store: store}
}

func (l *Log) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var doc eventLogDocument
	if err := l.store.Load(eventLogDocName, &doc); err != nil {
		return err
	}
	if len(doc.Events) > EventLogCap {
		doc.Events = doc.Events[len(doc.Events)-EventLogCap:]
	}
	l.entries = doc.Events
	return nil
}

func (l *Log) Flush() error {
	l.mu.Lock()
	doc := eventLogDocument{Events: append([]Entry(nil), l.entries...)}
	l.mu.Unlock()

	return l.store.Save(eventLogDocName, &doc)
}

// Append records an entry, dropping the oldest once the cap is reached.
func (l *Log) Append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if len(l.entries) > EventLogCap {
		l.entries = l.entries[len(l.entries)-EventLogCap:]
	}
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
