// Package energyguard wires the energy enforcement engine: an embedded
// MQTT broker receiving the host platform's statestream, the per-second
// monitor, the announcement gate, and the web and metrics surfaces.
package energyguard

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kradalby/kra/web"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kradalby/energyguard/announce"
	appconfig "github.com/kradalby/energyguard/config"
	"github.com/kradalby/energyguard/cooking"
	"github.com/kradalby/energyguard/enforcement"
	"github.com/kradalby/energyguard/events"
	"github.com/kradalby/energyguard/home"
	"github.com/kradalby/energyguard/ledger"
	"github.com/kradalby/energyguard/logging"
	"github.com/kradalby/energyguard/metrics"
	"github.com/kradalby/energyguard/monitor"
	"github.com/kradalby/energyguard/platform"
)

var version = "dev"

// Main is the entry point used by cmd/energyguard.
func Main() {
	cfg, err := appconfig.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		slog.Error("Failed to configure logging", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	slog.Info("Starting energyguard", "version", version)
	slog.Info("Configuration loaded",
		"web_addr", cfg.WebAddrPort().String(),
		"mqtt_addr", cfg.MQTTAddrPort().String(),
		"home_config", cfg.HomeConfigPath,
		"data_dir", cfg.DataDir,
	)

	homeCfg, err := home.LoadConfig(cfg.HomeConfigPath)
	if err != nil {
		slog.Error("Failed to load home layout", "error", err)
		os.Exit(1)
	}
	holder := NewConfigHolder(homeCfg)
	slog.Info("Loaded home layout",
		"rooms", len(homeCfg.Rooms),
		"breaker_lines", len(homeCfg.BreakerLines),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus, err := events.New(logger)
	if err != nil {
		slog.Error("Failed to create event bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	registry := platform.NewRegistry()

	mqttServer := mqtt.New(&mqtt.Options{
		InlineClient: true,
	})
	if err := mqttServer.AddHook(new(auth.AllowHook), nil); err != nil {
		slog.Error("Failed to add MQTT auth hook", "error", err)
		os.Exit(1)
	}
	if err := mqttServer.AddHook(&platform.Hook{Registry: registry, Logger: logger}, nil); err != nil {
		slog.Error("Failed to add MQTT statestream hook", "error", err)
		os.Exit(1)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: cfg.MQTTAddrPort().String(),
	})
	if err := mqttServer.AddListener(tcp); err != nil {
		slog.Error("Failed to add MQTT listener", "error", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("Starting MQTT broker", "addr", cfg.MQTTAddrPort().String())
		if err := mqttServer.Serve(); err != nil {
			slog.Error("MQTT server error", "error", err)
		}
	}()

	services := platform.NewServiceBus(mqttServer, registry, logger)
	store, err := platform.NewFileStore(cfg.DataDir, logger)
	if err != nil {
		slog.Error("Failed to prepare data dir", "error", err)
		os.Exit(1)
	}
	clock := platform.SystemClock()

	led := ledger.New(store, clock, logger, holder.RoomForKey)
	history := ledger.NewHistory(store)
	intraday := ledger.NewIntraday(store)
	billing := ledger.NewBilling(store)
	counts := enforcement.NewCounts(store, clock.Now().Format(ledger.DateFormat))
	machine := enforcement.New(store, clock, logger, func() home.EnforcementSettings {
		return holder.Get().Enforcement
	})
	eventLog := enforcement.NewLog(store)

	for name, load := range map[string]func() error{
		"ledger":      led.Load,
		"history":     history.Load,
		"billing":     billing.Load,
		"enforcement": machine.Load,
		"eventlog":    eventLog.Load,
	} {
		if err := load(); err != nil {
			slog.Error("Failed to load persisted state", "document", name, "error", err)
			os.Exit(1)
		}
	}
	if err := intraday.Load(led.Today()); err != nil {
		slog.Error("Failed to load persisted state", "document", "intraday", "error", err)
		os.Exit(1)
	}
	if err := counts.Load(led.Today()); err != nil {
		slog.Error("Failed to load persisted state", "document", "counts", "error", err)
		os.Exit(1)
	}

	// The ledger drives day rollover: archive yesterday, then clear the
	// date-scoped state together. A failed archive aborts the clear and
	// the rollover is retried on the next write.
	led.OnRollover(func(date string, roomWh map[string]float64, totalWh float64) error {
		warnings, shutoffs := counts.Totals()
		if err := history.Add(date, ledger.DayTotal{
			TotalWh:  totalWh,
			Warnings: warnings,
			Shutoffs: shutoffs,
			Rooms:    roomWh,
		}); err != nil {
			return err
		}
		today := clock.Now().Format(ledger.DateFormat)
		counts.ResetDay(today)
		machine.ResetDay(today)
		intraday.Reset(today)

		// Close the billing cycle on the first rollover of a new month. A
		// billing failure is logged but never blocks the day rollover.
		if date[:7] != today[:7] {
			if err := billing.CloseCycle(today, history); err != nil {
				slog.Warn("Failed to close billing cycle", "error", err)
			}
		}

		slog.Info("Day rollover complete", "archived", date, "total_wh", totalWh)
		return nil
	})

	if _, cycleStart, _ := billing.Cycles(); cycleStart == "" {
		if err := billing.StartCycle(led.Today()); err != nil {
			slog.Warn("Failed to open billing cycle", "error", err)
		}
	}

	gateClient, err := bus.Client(events.ClientGate)
	if err != nil {
		slog.Error("Failed to create announce bus client", "error", err)
		os.Exit(1)
	}
	gate := announce.New(services, registry, clock, logger, gateClient, cfg.AnnounceMinInterval())

	monClient, err := bus.Client(events.ClientMonitor)
	if err != nil {
		slog.Error("Failed to create monitor bus client", "error", err)
		os.Exit(1)
	}
	mon, err := monitor.New(monitor.Options{
		Logger:   logger,
		Config:   holder.Get,
		States:   registry,
		Services: services,
		Clock:    clock,
		Gate:     gate,
		Ledger:   led,
		Intraday: intraday,
		Machine:  machine,
		Counts:   counts,
		EventLog: eventLog,
		Cooking:  cooking.New(),
	}, monClient)
	if err != nil {
		slog.Error("Failed to create monitor", "error", err)
		os.Exit(1)
	}

	collector, err := metrics.NewCollector(ctx, logger, bus, nil)
	if err != nil {
		slog.Error("Failed to start metrics collector", "error", err)
		os.Exit(1)
	}
	defer collector.Close()

	mon.Start(ctx)

	webServer, err := NewWebServer(logger, holder, bus, WebDeps{
		Monitor:  mon,
		Ledger:   led,
		History:  history,
		Intraday: intraday,
		Billing:  billing,
		Machine:  machine,
		Counts:   counts,
		EventLog: eventLog,
		Registry: registry,
	})
	if err != nil {
		slog.Error("Failed to create web server", "error", err)
		os.Exit(1)
	}
	webServer.Start(ctx)

	kraOpts := []web.Option{
		web.WithLogger(slog.Default()),
	}
	tsKeyPath := ""
	if cfg.TailscaleAuthKey != "" {
		if err := os.MkdirAll(cfg.TailscaleStateDir, 0o700); err != nil {
			slog.Warn("Failed to create Tailscale state dir", "error", err)
		}
		keyFile := filepath.Join(cfg.TailscaleStateDir, "tskey")
		if err := os.WriteFile(keyFile, []byte(cfg.TailscaleAuthKey), 0o600); err != nil {
			slog.Warn("Failed to write Tailscale auth key file", "error", err)
		} else {
			tsKeyPath = keyFile
		}
	}
	enableTailscale := cfg.TailscaleHostname != ""
	kraOpts = append(kraOpts, web.WithTailscale(!enableTailscale))

	hostname := cfg.TailscaleHostname
	if !enableTailscale {
		hostname = ""
	}
	kraWeb := web.NewKraWeb(
		hostname,
		tsKeyPath,
		cfg.WebAddrPort().String(),
		kraOpts...,
	)

	kraWeb.Handle("/", http.HandlerFunc(webServer.HandleIndex))
	kraWeb.Handle("/events", http.HandlerFunc(webServer.HandleSSE))
	kraWeb.Handle("/health", http.HandlerFunc(webServer.HandleHealth))
	kraWeb.Handle("/metrics", promhttp.Handler())
	kraWeb.Handle("/api/power", http.HandlerFunc(webServer.HandlePower))
	kraWeb.Handle("/api/history", http.HandlerFunc(webServer.HandleHistory))
	kraWeb.Handle("/api/intraday", http.HandlerFunc(webServer.HandleIntraday))
	kraWeb.Handle("/api/stats", http.HandlerFunc(webServer.HandleStats))
	kraWeb.Handle("/api/events", http.HandlerFunc(webServer.HandleEvents))
	kraWeb.Handle("/api/breakers", http.HandlerFunc(webServer.HandleBreakers))
	kraWeb.Handle("/api/breakers/", http.HandlerFunc(webServer.HandleBreakerTrip))
	kraWeb.Handle("/api/cooking", http.HandlerFunc(webServer.HandleCooking))
	kraWeb.Handle("/api/billing", http.HandlerFunc(webServer.HandleBilling))
	kraWeb.Handle("/api/entities", http.HandlerFunc(webServer.HandleEntities))

	go func() {
		slog.Info("Starting web server",
			"addr", cfg.WebAddrPort().String(),
			"tailscale_hostname", cfg.TailscaleHostname,
		)
		if err := kraWeb.ListenAndServe(ctx); err != nil {
			slog.Error("Web server error", "error", err)
		}
	}()

	slog.Info("Server running, press Ctrl+C to stop")
	<-ctx.Done()
	slog.Info("Shutting down...")

	mon.Stop()
	gate.Wait()

	if err := mqttServer.Close(); err != nil {
		slog.Error("Error stopping MQTT broker", "error", err)
	}
	slog.Info("Shutdown complete")
}
