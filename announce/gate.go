// Package announce serializes voice announcements per media player. A
// message goes out immediately when the player is ready and not rate
// limited, otherwise it joins that player's queue and a poll task drains
// the queue as soon as the player can take it.
package announce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tailscale.com/util/eventbus"

	"github.com/kradalby/energyguard/events"
	"github.com/kradalby/energyguard/platform"
)

const (
	// DefaultMinInterval is the shortest gap between two announcements on
	// the same player unless configured otherwise.
	DefaultMinInterval = 3 * time.Second

	// PollInterval is how often a queued player is re-checked.
	PollInterval = time.Second
)

// readyStates are the media player states that accept a TTS call.
var readyStates = map[string]bool{
	"on":      true,
	"idle":    true,
	"standby": true,
}

// Request is one announcement. AfterSend, when set, runs only after the
// message was actually delivered, never for a dropped request.
type Request struct {
	MediaPlayer string
	Message     string
	Language    string
	Volume      float64
	AfterSend   func(ctx context.Context)
}

// Gate dispatches announcements with per-player serialization.
type Gate struct {
	services    platform.Services
	states      platform.States
	clock       platform.Clock
	logger      *slog.Logger
	publisher   *eventbus.Publisher[events.AnnouncementEvent]
	minInterval time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	sending  map[string]bool
	queues   map[string][]Request
	polling  map[string]bool

	wg sync.WaitGroup
}

// New creates the gate. client may be nil in tests that do not assert on
// published announcement events; minInterval <= 0 selects the default.
func New(services platform.Services, states platform.States, clock platform.Clock, logger *slog.Logger, client *eventbus.Client, minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	g := &Gate{
		services:    services,
		states:      states,
		clock:       clock,
		logger:      logger,
		minInterval: minInterval,
		lastSent:    make(map[string]time.Time),
		sending:     make(map[string]bool),
		queues:      make(map[string][]Request),
		polling:     make(map[string]bool),
	}
	if client != nil {
		g.publisher = eventbus.Publish[events.AnnouncementEvent](client)
	}
	return g
}

// SendOrQueue delivers the request now when the player is ready, otherwise
// queues it. Requests without a media player are dropped.
func (g *Gate) SendOrQueue(ctx context.Context, req Request) {
	if req.MediaPlayer == "" || req.Message == "" {
		return
	}

	if g.tryClaim(req.MediaPlayer) {
		g.deliver(ctx, req)
		return
	}

	g.enqueue(ctx, req)
	g.publish(events.AnnouncementEvent{
		Timestamp: g.clock.Now(),
		Device:    req.MediaPlayer,
		Message:   req.Message,
		Queued:    true,
	})
}

// Wait blocks until all poll tasks have drained. Meant for shutdown.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// tryClaim marks the player as sending when it is ready, not already
// sending, and past the rate limit.
func (g *Gate) tryClaim(player string) bool {
	if !g.ready(player) {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sending[player] {
		return false
	}
	if last, ok := g.lastSent[player]; ok && g.clock.Now().Sub(last) < g.minInterval {
		return false
	}
	g.sending[player] = true
	return true
}

func (g *Gate) ready(player string) bool {
	state, ok := g.states.Get(player)
	return ok && readyStates[state.Value]
}

// deliver sends one claimed request and releases the player.
func (g *Gate) deliver(ctx context.Context, req Request) {
	defer func() {
		g.mu.Lock()
		g.lastSent[req.MediaPlayer] = g.clock.Now()
		g.sending[req.MediaPlayer] = false
		g.mu.Unlock()
	}()

	if req.Volume > 0 {
		if err := g.services.SetVolume(ctx, req.MediaPlayer, req.Volume); err != nil {
			g.logger.Warn("set volume failed",
				"player", req.MediaPlayer,
				"error", err)
		}
	}

	if err := g.services.Speak(ctx, req.MediaPlayer, req.Message, req.Language); err != nil {
		g.logger.Error("announcement failed",
			"player", req.MediaPlayer,
			"error", err)
		g.publish(events.AnnouncementEvent{
			Timestamp: g.clock.Now(),
			Device:    req.MediaPlayer,
			Message:   req.Message,
			Error:     err.Error(),
		})
		return
	}

	g.publish(events.AnnouncementEvent{
		Timestamp: g.clock.Now(),
		Device:    req.MediaPlayer,
		Message:   req.Message,
	})

	if req.AfterSend != nil {
		req.AfterSend(ctx)
	}
}

// enqueue appends to the player's FIFO queue and starts its poll task if
// one is not already running.
func (g *Gate) enqueue(ctx context.Context, req Request) {
	g.mu.Lock()
	g.queues[req.MediaPlayer] = append(g.queues[req.MediaPlayer], req)
	startPoll := !g.polling[req.MediaPlayer]
	if startPoll {
		g.polling[req.MediaPlayer] = true
	}
	g.mu.Unlock()

	if startPoll {
		g.wg.Add(1)
		go g.pollQueue(ctx, req.MediaPlayer)
	}
}

// pollQueue drains a player's queue in order, one request per successful
// claim. It exits when the queue empties or the context is cancelled;
// cancellation drops the remaining queue.
func (g *Gate) pollQueue(ctx context.Context, player string) {
	defer g.wg.Done()

	for {
		// Exiting must clear the polling flag in the same critical section
		// as the emptiness check: an enqueue racing a two-step exit would
		// see the flag still set, start no poll task, and leave its request
		// on a queue nobody drains.
		g.mu.Lock()
		if len(g.queues[player]) == 0 {
			g.polling[player] = false
			delete(g.queues, player)
			g.mu.Unlock()
			return
		}
		g.mu.Unlock()

		if g.tryClaim(player) {
			g.mu.Lock()
			queue := g.queues[player]
			req := queue[0]
			g.queues[player] = queue[1:]
			g.mu.Unlock()

			g.deliver(ctx, req)
			continue
		}

		if err := g.clock.Sleep(ctx, PollInterval); err != nil {
			g.dropQueue(player)
			return
		}
	}
}

// dropQueue abandons a player's pending requests on shutdown.
func (g *Gate) dropQueue(player string) {
	g.mu.Lock()
	g.polling[player] = false
	dropped := len(g.queues[player])
	delete(g.queues, player)
	g.mu.Unlock()
	if dropped > 0 {
		g.logger.Warn("dropped queued announcements",
			"player", player,
			"count", dropped)
	}
}

// QueueLen reports the number of pending requests for a player.
func (g *Gate) QueueLen(player string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queues[player])
}

func (g *Gate) publish(event events.AnnouncementEvent) {
	if g.publisher != nil {
		g.publisher.Publish(event)
	}
}
