// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command server runs Riven: the Store, Event Queue, Dispatcher, Scheduler,
// Session Manager, Event Bus, and the §6 HTTP API, supervised by a
// thejerf/suture/v4 tree so a crash in one component restarts just that
// branch. Concrete ContentSource/Indexer/Scraper/Downloader/Updater/
// PostProcessor backends are out of scope (§1) and are not registered here;
// an operator wires them through the Service Registry in a follow-up build
// that imports this package's Registry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/riven-go/riven/internal/api"
	"github.com/riven-go/riven/internal/api/auth"
	"github.com/riven-go/riven/internal/clock"
	"github.com/riven-go/riven/internal/config"
	"github.com/riven-go/riven/internal/dispatcher"
	"github.com/riven-go/riven/internal/eventbus"
	"github.com/riven-go/riven/internal/eventqueue"
	"github.com/riven-go/riven/internal/logging"
	"github.com/riven-go/riven/internal/model"
	"github.com/riven-go/riven/internal/pipeline"
	"github.com/riven-go/riven/internal/scheduler"
	"github.com/riven-go/riven/internal/services"
	"github.com/riven-go/riven/internal/session"
	"github.com/riven-go/riven/internal/statemachine"
	"github.com/riven-go/riven/internal/store"
	"github.com/riven-go/riven/internal/streams"
	"github.com/riven-go/riven/internal/supervisor"
)

func main() {
	os.Exit(run())
}

// run contains main's body so defers execute before os.Exit, and so exit
// codes can be returned rather than calling os.Exit from the middle of
// startup. Exit codes (§6): 0 clean shutdown, 1 fatal config error, 2 DB
// unreachable at startup, 3 uncaught panic.
func run() (code int) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error().Interface("panic", p).Msg("uncaught panic, exiting")
			code = 3
		}
	}()
	configPath := flag.String("config", "", "path to a YAML settings file (overrides CONFIG_PATH and the default search list)")
	port := flag.Int("port", 0, "override the configured HTTP listen port")
	hardReset := flag.Bool("hard_reset_db", false, "delete the database file before starting (irrecoverable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error().Err(err).Msg("load configuration")
		return 1
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *hardReset {
		cfg.Database.HardReset = true
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.Info().Msg("starting riven")

	if cfg.Database.HardReset && cfg.Database.Path != ":memory:" {
		logging.Warn().Str("path", cfg.Database.Path).Msg("hard_reset_db set, deleting database file")
		if err := os.Remove(cfg.Database.Path); err != nil && !os.IsNotExist(err) {
			logging.Error().Err(err).Msg("remove database file for hard reset")
			return 2
		}
	}

	st, err := store.Open(store.Config{
		Path:      cfg.Database.Path,
		Threads:   cfg.Database.Threads,
		MaxMemory: cfg.Database.MaxMemory,
	})
	if err != nil {
		logging.Error().Err(err).Msg("open store")
		return 2
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("close store")
		}
	}()

	clk := clock.New()

	var wal eventqueue.WAL
	if cfg.EventQueue.WALEnabled {
		badgerWAL, err := eventqueue.OpenBadgerWAL(cfg.EventQueue.WALPath)
		if err != nil {
			logging.Error().Err(err).Msg("open event queue WAL")
			return 2
		}
		wal = badgerWAL
	}

	queue, err := eventqueue.New(clk, wal)
	if err != nil {
		logging.Error().Err(err).Msg("build event queue")
		return 2
	}

	svcRegistry := services.NewRegistry()
	streamRegistry := streams.New(streams.DefaultRanker{}, streams.FilterConfig{})

	bus, err := eventbus.New(eventbus.Config{
		NATSEnabled:          cfg.EventBus.NATSEnabled,
		NATSURL:              cfg.EventBus.NATSURL,
		StreamName:           "riven-transitions",
		NotificationCooldown: cfg.EventBus.NotificationCooldown,
	}, clk)
	if err != nil {
		logging.Error().Err(err).Msg("build event bus")
		return 2
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("close event bus")
		}
	}()

	handlers := &pipeline.Handlers{
		Services:           svcRegistry,
		Streams:            streamRegistry,
		Retry:              statemachine.DefaultRetryConfig(),
		SymlinkMaxAttempts: 6,
	}

	disp := dispatcher.New(dispatcher.Config{
		Pools: map[model.ServiceKind]dispatcher.PoolConfig{
			model.ServiceIndexer:       {Size: cfg.Dispatcher.Indexer.Size},
			model.ServiceScraper:       {Size: cfg.Dispatcher.Scraping.Size},
			model.ServiceDownloader:    {Size: cfg.Dispatcher.Downloader.Size},
			model.ServiceSymlinker:     {Size: cfg.Dispatcher.Symlinker.Size},
			model.ServiceUpdater:       {Size: cfg.Dispatcher.Updater.Size},
			model.ServicePostProcessor: {Size: cfg.Dispatcher.PostProcessor.Size},
		},
		PollWait: cfg.Dispatcher.PollWait,
		Breaker: dispatcher.BreakerConfig{
			MaxRequests:      cfg.Dispatcher.Breaker.MaxRequests,
			Interval:         cfg.Dispatcher.Breaker.Interval,
			Timeout:          cfg.Dispatcher.Breaker.Timeout,
			FailureThreshold: cfg.Dispatcher.Breaker.FailureThreshold,
		},
	}, dispatcher.Deps{
		Queue:    queue,
		Store:    st,
		Handlers: handlers,
		Services: svcRegistry,
		Bus:      bus,
		Clock:    clk,
	})

	sched := scheduler.New(scheduler.Config{
		ContentPollInterval:       cfg.Scheduler.ContentPollInterval,
		LibraryRescanInterval:     cfg.Scheduler.LibraryRescanInterval,
		RetrySweepInterval:        cfg.Scheduler.RetrySweepInterval,
		UnreleasedRecheckInterval: cfg.Scheduler.UnreleasedRecheckInterval,
		OngoingRecheckInterval:    cfg.Scheduler.OngoingRecheckInterval,
		EndedRecheckInterval:      cfg.Scheduler.EndedRecheckInterval,
		RecentRequestWindow:       cfg.Scheduler.RecentRequestWindow,
		RescanConcurrency:         cfg.Scheduler.RescanConcurrency,
	}, scheduler.Deps{
		Store:       st,
		Queue:       queue,
		Services:    svcRegistry,
		Clock:       clk,
		LibraryRoot: cfg.Library.RootPath,
	})

	sessions := session.New(session.Config{
		TTL:           cfg.Session.TTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, session.Deps{
		Store:    st,
		Queue:    queue,
		Services: svcRegistry,
		Streams:  streamRegistry,
		Clock:    clk,
	})

	authMgr, err := auth.NewManager(cfg.API.APIKey, 24*time.Hour)
	if err != nil {
		logging.Error().Err(err).Msg("build auth manager")
		return 1
	}

	router := api.NewRouter(api.Deps{
		Store:    st,
		Queue:    queue,
		Services: svcRegistry,
		Streams:  streamRegistry,
		Sessions: sessions,
		Bus:      bus,
		AuthMgr:  authMgr,
		Config:   cfg.API,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.New(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddWorker(supervisor.NewFuncService("dispatcher", disp.Run))
	tree.AddWorker(supervisor.NewSchedulerService(sched))
	tree.AddWorker(supervisor.NewTickerService("session-sweep", cfg.Session.SweepInterval, clk, sessions.SweepExpired))
	tree.AddAPI(supervisor.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", httpServer.Addr).Msg("supervisor tree starting")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
	}

	logging.Info().Msg("riven stopped")
	return 0
}
