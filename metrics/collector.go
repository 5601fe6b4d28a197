package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"tailscale.com/util/eventbus"

	"github.com/kradalby/energyguard/events"
)

// Collector subscribes to eventbus updates and exposes Prometheus metrics.
type Collector struct {
	logger          *slog.Logger
	stateSub        *eventbus.Subscriber[events.StateUpdateEvent]
	enforcementSub  *eventbus.Subscriber[events.EnforcementEvent]
	phaseSub        *eventbus.Subscriber[events.PhaseEvent]
	announceSub     *eventbus.Subscriber[events.AnnouncementEvent]
	roomWattsGauge  *prometheus.GaugeVec
	roomEnergyGauge *prometheus.GaugeVec
	phaseGauge      *prometheus.GaugeVec
	eventCounter    *prometheus.CounterVec
	announceCounter *prometheus.CounterVec
	ctx             context.Context
	cancel          context.CancelFunc
	shutdownOnce    sync.Once
	workers         sync.WaitGroup
}

// NewCollector wires eventbus subscribers into Prometheus metrics.
func NewCollector(ctx context.Context, logger *slog.Logger, bus *events.Bus, reg prometheus.Registerer) (*Collector, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	client, err := bus.Client(events.ClientMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics client: %w", err)
	}

	collectorCtx, cancel := context.WithCancel(ctx)

	c := &Collector{
		logger:         logger,
		stateSub:       eventbus.Subscribe[events.StateUpdateEvent](client),
		enforcementSub: eventbus.Subscribe[events.EnforcementEvent](client),
		phaseSub:       eventbus.Subscribe[events.PhaseEvent](client),
		announceSub:    eventbus.Subscribe[events.AnnouncementEvent](client),
		roomWattsGauge: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "energyguard_room_watts",
			Help: "Live power draw per room",
		}, []string{"room"}),
		roomEnergyGauge: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "energyguard_room_day_wh",
			Help: "Accumulated watt-hours per room for the current day",
		}, []string{"room"}),
		phaseGauge: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "energyguard_enforcement_phase",
			Help: "Current enforcement phase per room (0 normal, 1 volume, 2 cycling)",
		}, []string{"room"}),
		eventCounter: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "energyguard_enforcement_events_total",
			Help: "Total warnings and shutoffs by room and kind",
		}, []string{"room", "kind"}),
		announceCounter: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "energyguard_announcements_total",
			Help: "Total announcement dispatch attempts by player and result",
		}, []string{"player", "result"}),
		ctx:    collectorCtx,
		cancel: cancel,
	}

	c.workers.Add(4)
	go c.consumeStates()
	go c.consumeEnforcement()
	go c.consumePhases()
	go c.consumeAnnouncements()

	logger.Info("metrics collector started")

	return c, nil
}

// Close stops the collector and releases subscribers.
func (c *Collector) Close() {
	c.shutdownOnce.Do(func() {
		c.cancel()
		c.stateSub.Close()
		c.enforcementSub.Close()
		c.phaseSub.Close()
		c.announceSub.Close()
		c.workers.Wait()
		c.logger.Info("metrics collector stopped")
	})
}

func (c *Collector) consumeStates() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.stateSub.Events():
			c.roomWattsGauge.WithLabelValues(evt.RoomName).Set(evt.Watts)
			c.roomEnergyGauge.WithLabelValues(evt.RoomName).Set(evt.DayWh)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) consumeEnforcement() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.enforcementSub.Events():
			c.eventCounter.WithLabelValues(evt.RoomName, string(evt.Kind)).Inc()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) consumePhases() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.phaseSub.Events():
			c.phaseGauge.WithLabelValues(evt.RoomID).Set(float64(evt.Phase))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) consumeAnnouncements() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.announceSub.Events():
			result := "sent"
			switch {
			case evt.Error != "":
				result = "failed"
			case evt.Queued:
				result = "queued"
			}
			c.announceCounter.WithLabelValues(evt.Device, result).Inc()
		case <-c.ctx.Done():
			return
		}
	}
}
