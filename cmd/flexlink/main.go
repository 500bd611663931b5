// flexlink - SDR radio client and control bridge.
//
// flexlink holds a command session with a networked software defined radio,
// keeps a live model of its slices, panadapters, meters and streams, and
// exposes that model over a REST/websocket API, MQTT telemetry, Prometheus
// metrics and an interactive console.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/api"
	"github.com/flexlink-project/flexlink/internal/cli"
	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/db"
	"github.com/flexlink-project/flexlink/internal/events"
	"github.com/flexlink-project/flexlink/internal/health"
	"github.com/flexlink-project/flexlink/internal/network"
	"github.com/flexlink-project/flexlink/internal/radio"
	"github.com/flexlink-project/flexlink/internal/telemetry"
	"github.com/flexlink-project/flexlink/internal/util"
)

const (
	AppVersion = api.Version
	Banner     = `
   __ _           _ _       _
  / _| | _____  _| (_)_ __ | | __
 | |_| |/ _ \ \/ / | | '_ \| |/ /
 |  _| |  __/>  <| | | | | |   <
 |_| |_|\___/_/\_\_|_|_| |_|_|\_\  v%s
 SDR Radio Client & Control Bridge
`
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded
	if _, err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting flexlink")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	app := cfg.GetApplication()
	logCloser, err := util.InitLogger(util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		MaxAgeDays: app.Logging.MaxAgeDays,
		Console:    true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	if cfg.IsFirstRun() {
		log.Info().Msg("first run detected, launching setup")
		if err := config.RunSetupPrompt(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup failed")
		}
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Str("local_ip", sysInfo.LocalIP).
		Msg("system information")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(_ context.Context, ev events.Event) error {
		log.Info().Str("source", ev.Source).Msg("shutdown requested")
		cancel()
		return nil
	})

	app = cfg.GetApplication()
	radioCfg := cfg.GetRadio()

	// Message journal and filter presets
	var store *db.Store
	var journal health.Pruner
	store, err = db.Open(ctx, app.Database.Path, app.Database.SeedPresets)
	if err != nil {
		log.Warn().Err(err).Str("path", app.Database.Path).Msg("failed to open database, journal and presets disabled")
	} else {
		store.SubscribeJournal(eventBus)
		journal = store
	}

	r := radio.New(eventBus, radio.Options{
		ClientProgram:     radioCfg.ClientProgram,
		Station:           radioCfg.Station,
		GUI:               radioCfg.GUI,
		LowBandwidth:      radioCfg.LowBandwidth,
		SendPrimary:       radioCfg.SendPrimary,
		SendSubscriptions: radioCfg.SendSubscriptions,
		SendSecondary:     radioCfg.SendSecondary,
		ParseQueueSize:    radio.DefaultOptions().ParseQueueSize,
	})

	commandClient := network.NewCommandClient(radioCfg.ConnectTimeout())
	commandClient.SetHandlers(r.ReceiveLine, r.TransportClosed)
	streamClient := network.NewStreamClient(radioCfg.UDPBasePort, radioCfg.UDPScanCount, radioCfg.StreamPort, radioCfg.StreamActivityTimeout())
	streamClient.SetHandlers(r.ReceivePacket, r.StreamActivity)
	r.SetTransports(commandClient, streamClient)

	if radioCfg.KeepAliveEnabled {
		r.SetKeepAlive(health.NewPinger(radioCfg.KeepAliveInterval(), radioCfg.KeepAliveTimeout()))
	}

	var metrics *telemetry.Metrics
	if app.Metrics.Enabled {
		metrics = telemetry.NewMetrics(app.Metrics.Namespace)
		r.SetRecorder(metrics)
	}

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	healthMgr := health.NewManager(cfg, eventBus, r, journal)

	var apiServer *api.Server
	if app.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, r)
		apiServer.SetDependencies(store, metrics)
		if !config.IsPortAvailable(app.API.Port) {
			log.Warn().Int("port", app.API.Port).Msg("API port is in use, will keep retrying")
		}
	}

	cliHandler := cli.NewCLI(cfg, eventBus, r, store, os.Stdin, os.Stdout)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health manager")
		healthMgr.Start(ctx)
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if radioCfg.AutoConnect {
		go func() {
			connectCtx, cancelConnect := context.WithTimeout(ctx, radioCfg.ConnectTimeout()*2)
			defer cancelConnect()
			log.Info().Str("host", radioCfg.Host).Int("port", radioCfg.CommandPort).Msg("connecting to radio")
			if err := r.Connect(connectCtx, radioCfg.Host, radioCfg.CommandPort); err != nil {
				log.Warn().Err(err).Msg("initial connect failed")
			}
		}()
	}

	// The CLI blocks on stdin and is not waited for
	go func() {
		log.Info().Msg("starting interactive CLI")
		cliHandler.Start(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown...")

	r.Disconnect()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}

	log.Info().Msg("flexlink stopped")
	if logCloser != nil {
		logCloser.Close()
	}
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Uses a fixed 3-second interval between retries.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
