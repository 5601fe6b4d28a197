package energyguard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chasefleming/elem-go"
	"github.com/chasefleming/elem-go/attrs"
	"tailscale.com/util/eventbus"

	"github.com/kradalby/energyguard/enforcement"
	"github.com/kradalby/energyguard/events"
	"github.com/kradalby/energyguard/ledger"
	"github.com/kradalby/energyguard/monitor"
	"github.com/kradalby/energyguard/platform"
)

// WebDeps bundles the read-only collaborators of the web layer.
type WebDeps struct {
	Monitor  *monitor.Monitor
	Ledger   *ledger.Ledger
	History  *ledger.History
	Intraday *ledger.Intraday
	Billing  *ledger.Billing
	Machine  *enforcement.Machine
	Counts   *enforcement.Counts
	EventLog *enforcement.Log
	Registry *platform.Registry
}

// WebServer serves the dashboard, the JSON query API, and live updates
// over SSE. All endpoints are pure reads over the monitor's state.
type WebServer struct {
	logger *slog.Logger
	holder *ConfigHolder
	deps   WebDeps

	stateSub     *eventbus.Subscriber[events.StateUpdateEvent]
	sseClients   map[chan events.StateUpdateEvent]struct{}
	sseClientsMu sync.RWMutex
}

// NewWebServer creates the web layer and its event bus subscription.
func NewWebServer(logger *slog.Logger, holder *ConfigHolder, bus *events.Bus, deps WebDeps) (*WebServer, error) {
	client, err := bus.Client(events.ClientWeb)
	if err != nil {
		return nil, fmt.Errorf("failed to get web bus client: %w", err)
	}
	return &WebServer{
		logger:     logger,
		holder:     holder,
		deps:       deps,
		stateSub:   eventbus.Subscribe[events.StateUpdateEvent](client),
		sseClients: make(map[chan events.StateUpdateEvent]struct{}),
	}, nil
}

// Start launches the SSE fan-out loop.
func (ws *WebServer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case evt := <-ws.stateSub.Events():
				ws.broadcast(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (ws *WebServer) broadcast(evt events.StateUpdateEvent) {
	ws.sseClientsMu.RLock()
	defer ws.sseClientsMu.RUnlock()
	for client := range ws.sseClients {
		select {
		case client <- evt:
		default:
		}
	}
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ws.logger.Error("Failed to write response", "error", err)
	}
}

type roomPower struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Watts   float64            `json:"watts"`
	DayWh   float64            `json:"day_wh"`
	Phase   int                `json:"phase"`
	Outlets map[string]float64 `json:"outlets"`
}

// HandlePower reports live power and accumulated energy per room.
func (ws *WebServer) HandlePower(w http.ResponseWriter, r *http.Request) {
	cfg := ws.holder.Get()
	roomWatts := ws.deps.Monitor.RoomWatts()
	outletWatts := ws.deps.Monitor.OutletWatts()

	rooms := make([]roomPower, 0, len(cfg.Rooms))
	for _, room := range cfg.Rooms {
		outlets := make(map[string]float64, len(room.Outlets))
		for _, outlet := range room.Outlets {
			outlets[outlet.ID] = outletWatts[room.ID+"/"+outlet.ID]
		}
		rooms = append(rooms, roomPower{
			ID:      room.ID,
			Name:    room.Name,
			Watts:   roomWatts[room.ID],
			DayWh:   ws.deps.Ledger.RoomWh(room.ID),
			Phase:   int(ws.deps.Machine.Phase(room.ID)),
			Outlets: outlets,
		})
	}

	_, totalWh := ws.deps.Ledger.Totals()
	warnings, shutoffs := ws.deps.Counts.Totals()
	ws.writeJSON(w, map[string]any{
		"date":     ws.deps.Ledger.Today(),
		"rooms":    rooms,
		"total_wh": totalWh,
		"warnings": warnings,
		"shutoffs": shutoffs,
	})
}

// HandleHistory returns one row per archived day plus a live row for
// today. Days without data are not padded.
func (ws *WebServer) HandleHistory(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > ledger.HistoryRetentionDays {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	today := ws.deps.Ledger.Today()
	rows := ws.deps.History.Rows(days, today)

	roomWh, totalWh := ws.deps.Ledger.Totals()
	warnings, shutoffs := ws.deps.Counts.Totals()
	rows = append(rows, ledger.DayRow{
		Date: today,
		DayTotal: ledger.DayTotal{
			TotalWh:  totalWh,
			Warnings: warnings,
			Shutoffs: shutoffs,
			Rooms:    roomWh,
		},
	})

	ws.writeJSON(w, map[string]any{"days": rows})
}

// HandleIntraday returns today's minute-resolution samples per entity.
func (ws *WebServer) HandleIntraday(w http.ResponseWriter, r *http.Request) {
	date, lastMinute, history := ws.deps.Intraday.Snapshot()
	ws.writeJSON(w, map[string]any{
		"date":        date,
		"last_minute": lastMinute,
		"history":     history,
	})
}

// HandleStats aggregates the archive over a date range, merging the live
// ledger when the range includes today.
func (ws *WebServer) HandleStats(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	for _, date := range []string{from, to} {
		if _, err := time.Parse(ledger.DateFormat, date); err != nil {
			http.Error(w, "from and to must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if from > to {
		http.Error(w, "from is after to", http.StatusBadRequest)
		return
	}

	agg := ws.deps.History.Range(from, to)
	today := ws.deps.Ledger.Today()
	if from <= today && today <= to {
		roomWh, totalWh := ws.deps.Ledger.Totals()
		warnings, shutoffs := ws.deps.Counts.Totals()
		agg.TotalWh += totalWh
		agg.Warnings += warnings
		agg.Shutoffs += shutoffs
		if agg.Rooms == nil {
			agg.Rooms = make(map[string]float64)
		}
		for roomID, wh := range roomWh {
			agg.Rooms[roomID] += wh
		}
	}
	agg.From = from
	agg.To = to
	ws.writeJSON(w, agg)
}

// HandleEvents returns recent warning/shutoff events, newest first.
func (ws *WebServer) HandleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > enforcement.EventLogCap {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	ws.writeJSON(w, map[string]any{"events": ws.deps.EventLog.Recent(limit)})
}

type breakerLoad struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Color     string  `json:"color"`
	Position  int     `json:"position"`
	Watts     float64 `json:"watts"`
	Threshold int     `json:"threshold"`
	MaxLoad   int     `json:"max_load"`
}

// HandleBreakers reports live load per breaker line.
func (ws *WebServer) HandleBreakers(w http.ResponseWriter, r *http.Request) {
	cfg := ws.holder.Get()
	loads := ws.deps.Monitor.BreakerLoads()

	lines := make([]breakerLoad, 0, len(cfg.BreakerLines))
	for _, line := range cfg.BreakerLines {
		lines = append(lines, breakerLoad{
			ID:        line.ID,
			Name:      line.Name,
			Color:     line.Color,
			Position:  line.Position,
			Watts:     loads[line.ID],
			Threshold: line.ThresholdW,
			MaxLoad:   line.MaxLoadW,
		})
	}
	ws.writeJSON(w, map[string]any{"breakers": lines, "panel_size": cfg.PanelSize})
}

// HandleBreakerTrip runs a test shutoff cycle on one breaker line.
// POST /api/breakers/{id}/trip
func (ws *WebServer) HandleBreakerTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/breakers/")
	breakerID, ok := strings.CutSuffix(path, "/trip")
	if !ok || breakerID == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if !ws.deps.Monitor.TestTrip(r.Context(), breakerID) {
		http.Error(w, "breaker cycle not started", http.StatusConflict)
		return
	}
	ws.writeJSON(w, map[string]any{"tripped": breakerID})
}

// HandleCooking reports the live cooking-safety state per stove.
func (ws *WebServer) HandleCooking(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]any{"stoves": ws.deps.Monitor.CookingStatus()})
}

// HandleBilling lists billing cycles and the open cycle boundaries.
func (ws *WebServer) HandleBilling(w http.ResponseWriter, r *http.Request) {
	cycles, start, end := ws.deps.Billing.Cycles()
	ws.writeJSON(w, map[string]any{
		"cycles":        cycles,
		"current_start": start,
		"current_end":   end,
	})
}

type entityInfo struct {
	EntityID string    `json:"entity_id"`
	Value    string    `json:"value"`
	LastSeen time.Time `json:"last_seen"`
}

// HandleEntities lists every entity seen on the statestream.
func (ws *WebServer) HandleEntities(w http.ResponseWriter, r *http.Request) {
	all := ws.deps.Registry.All()
	entities := make([]entityInfo, 0, len(all))
	for id, state := range all {
		seen, _ := ws.deps.Registry.LastSeen(id)
		entities = append(entities, entityInfo{
			EntityID: id,
			Value:    state.Value,
			LastSeen: seen,
		})
	}
	ws.writeJSON(w, map[string]any{"entities": entities})
}

// HandleHealth is the liveness probe.
func (ws *WebServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, map[string]any{"status": "ok", "version": version})
}

// HandleSSE streams room state updates as they happen.
func (ws *WebServer) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientChan := make(chan events.StateUpdateEvent, 10)
	ws.sseClientsMu.Lock()
	ws.sseClients[clientChan] = struct{}{}
	ws.sseClientsMu.Unlock()
	defer func() {
		ws.sseClientsMu.Lock()
		delete(ws.sseClients, clientChan)
		ws.sseClientsMu.Unlock()
		close(clientChan)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	for {
		select {
		case evt := <-clientChan:
			html := renderRoomCard(evt).Render()
			if _, err := fmt.Fprintf(w, "event: %s\n", evt.RoomID); err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", html); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleIndex renders the dashboard.
func (ws *WebServer) HandleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := ws.holder.Get()
	roomWatts := ws.deps.Monitor.RoomWatts()

	var roomElements []elem.Node
	for _, room := range cfg.Rooms {
		roomElements = append(roomElements, renderRoomCard(events.StateUpdateEvent{
			RoomID:   room.ID,
			RoomName: room.Name,
			Watts:    roomWatts[room.ID],
			DayWh:    ws.deps.Ledger.RoomWh(room.ID),
		}))
	}

	var eventElements []elem.Node
	for _, entry := range ws.deps.EventLog.Recent(20) {
		line := fmt.Sprintf("%s %s %s",
			entry.Timestamp.Format("15:04:05"),
			entry.RoomName,
			entry.Kind,
		)
		if entry.OutletName != "" {
			line += " " + entry.OutletName
		}
		eventElements = append(eventElements, elem.Div(attrs.Props{attrs.Class: "event"}, elem.Text(line)))
	}

	warnings, shutoffs := ws.deps.Counts.Totals()
	_, totalWh := ws.deps.Ledger.Totals()

	content := elem.Div(nil,
		elem.H1(nil, elem.Text("Energyguard")),
		elem.P(nil, elem.Text(fmt.Sprintf(
			"Today: %.1f kWh, %d warnings, %d shutoffs",
			totalWh/1000, warnings, shutoffs,
		))),
		elem.Div(
			attrs.Props{
				"hx-ext":      "sse",
				"sse-connect": "/events",
			},
			roomElements...,
		),
		elem.Div(attrs.Props{attrs.Class: "events"},
			elem.H2(nil, elem.Text("Recent Events")),
			elem.Div(nil, eventElements...),
		),
	)

	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, renderPage("Energyguard", content)); err != nil {
		ws.logger.Error("Failed to write response", "error", err)
	}
}

func renderRoomCard(evt events.StateUpdateEvent) elem.Node {
	return elem.Div(
		attrs.Props{
			attrs.ID:    "room-" + evt.RoomID,
			attrs.Class: "room",
			"sse-swap":  evt.RoomID,
			"hx-swap":   "outerHTML",
		},
		elem.Div(attrs.Props{attrs.Class: "room-name"}, elem.Text(evt.RoomName)),
		elem.Div(attrs.Props{attrs.Class: "room-status"},
			elem.Text(fmt.Sprintf("%.0f W now, %.2f kWh today", evt.Watts, evt.DayWh/1000)),
		),
	)
}

func renderPage(title string, content elem.Node) string {
	page := elem.Html(nil,
		elem.Head(nil,
			elem.Title(nil, elem.Text(title)),
			elem.Script(attrs.Props{
				attrs.Src: "https://unpkg.com/htmx.org@2.0.4",
			}),
			elem.Script(attrs.Props{
				attrs.Src: "https://unpkg.com/htmx-ext-sse@2.2.2/sse.js",
			}),
			elem.Style(nil, elem.Text(`
				body { font-family: system-ui; max-width: 800px; margin: 40px auto; padding: 0 20px; }
				h1 { color: #333; }
				.room { border: 1px solid #ddd; padding: 20px; margin: 10px 0; border-radius: 8px; }
				.room-name { font-size: 1.2em; font-weight: 500; }
				.room-status { font-size: 0.9em; color: #666; }
				.events { margin-top: 40px; padding: 20px; background: #f5f5f5; border-radius: 8px; max-height: 300px; overflow-y: auto; }
				.event { font-family: monospace; font-size: 0.9em; padding: 4px 0; }
			`)),
		),
		elem.Body(nil, content),
	)
	return page.Render()
}
