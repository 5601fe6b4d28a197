package events

import "time"

// Kind classifies enforcement events for the event log and metrics.
type Kind string

const (
	KindWarning Kind = "warning"
	KindShutoff Kind = "shutoff"
)

// EnforcementEvent is emitted for every warning and shutoff.
type EnforcementEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	RoomID     string    `json:"room_id"`
	RoomName   string    `json:"room_name"`
	Kind       Kind      `json:"kind"`
	OutletName string    `json:"outlet_name,omitempty"`
	Watts      float64   `json:"watts"`
	Announced  bool      `json:"announced"`
}

// PhaseEvent is emitted when a room's enforcement phase changes.
type PhaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"room_id"`
	Phase     int       `json:"phase"`
	Reason    string    `json:"reason"`
}

// CookingEvent reports cooking-safety state machine activity.
type CookingEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Phase     string    `json:"phase"`
	Detail    string    `json:"detail"`
}

// AnnouncementEvent reports an announcement dispatch attempt.
type AnnouncementEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Device    string    `json:"device"`
	Message   string    `json:"message"`
	Queued    bool      `json:"queued"`
	Error     string    `json:"error,omitempty"`
}

// StateUpdateEvent carries live room totals for SSE subscribers and metrics.
type StateUpdateEvent struct {
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"room_id"`
	RoomName  string    `json:"room_name"`
	Watts     float64   `json:"watts"`
	DayWh     float64   `json:"day_wh"`
}
