// Mori runs a fleet of game client bots, each driven by an optional Lua
// script, and exposes them over a REST API, MQTT and an interactive CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mori-project/mori/internal/api"
	"github.com/mori-project/mori/internal/cli"
	"github.com/mori-project/mori/internal/config"
	"github.com/mori-project/mori/internal/db"
	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/health"
	"github.com/mori-project/mori/internal/itemdb"
	"github.com/mori-project/mori/internal/notify"
	"github.com/mori-project/mori/internal/scheduler"
	"github.com/mori-project/mori/internal/server"
	"github.com/mori-project/mori/internal/telemetry"
	"github.com/mori-project/mori/internal/util"
)

const Banner = `
  _ __ ___   ___  _ __ (_)
 | '_ ' _ \ / _ \| '__|| |
 | | | | | | (_) | |   | |
 |_| |_| |_|\___/|_|   |_|  v%s
`

func main() {
	configPath := flag.String("config", config.DefaultPath(), "configuration file (.json or .yaml)")
	noCLI := flag.Bool("no-cli", false, "do not read commands from stdin")
	flag.Parse()

	fmt.Printf(Banner, api.Version)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", api.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting Mori")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.IsFirstRun() && interactive() {
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	if err := util.InitLogger(cfg.Logging); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
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

	store, err := db.NewStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	if cfg.Items.CatalogFile != "" {
		n, err := itemdb.SeedCatalog(store, cfg.Items.CatalogFile)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.Items.CatalogFile).Msg("failed to seed item catalog")
		} else {
			log.Info().Int("items", n).Msg("item catalog seeded")
		}
	}

	loader := itemdb.CatalogLoader{Store: store}
	items := itemdb.NewStore(nil)
	if initial, err := loader.Load(context.Background(), nil); err == nil {
		items.Swap(initial)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main.shutdown", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	mgr := server.NewManager(ctx, server.Options{
		Config: cfg,
		Bus:    eventBus,
		Items:  items,
		Loader: loader,
		Store:  store,
	})
	mgr.StartConfigured()

	var wg sync.WaitGroup

	notifier, err := notify.NewNotifier(cfg.Notify, eventBus)
	switch {
	case errors.Is(err, notify.ErrDisabled):
	case err != nil:
		log.Warn().Err(err).Msg("failed to initialize webhook notifications")
	default:
		defer notifier.Close()
	}

	monitor := health.NewMonitor(cfg.Health, filepath.Dir(cfg.Storage.Path), eventBus, mgr)
	sched := scheduler.NewScheduler(cfg.Storage, store)
	for _, task := range []func(context.Context){monitor.Start, sched.Start} {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			task(ctx)
		}()
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, mgr)
		apiServer.SetMetrics(telemetry.NewMetrics(mgr, eventBus).Handler())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
	case err != nil:
		log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if !*noCLI && interactive() {
		go cli.NewCLI(cfg, eventBus, mgr, os.Stdin, os.Stdout).Start(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown...")

	mgr.Shutdown()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("Mori stopped")
}

// interactive reports whether stdin is a terminal.
func interactive() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
