package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"safezone/internal/api"
	"safezone/internal/clock"
	"safezone/internal/config"
	"safezone/internal/engine"
	"safezone/internal/evidence"
	"safezone/internal/history"
	"safezone/internal/ingest"
	"safezone/internal/logging"
	"safezone/internal/model"
	"safezone/internal/monitor"
	"safezone/internal/oracle"
	"safezone/internal/realtime"
	"safezone/internal/response"
	"safezone/internal/sink"
	"safezone/internal/siren"
	"safezone/internal/storage"
)

var version = "dev"

// logNotifier mirrors user-facing notifications into the service log.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(note model.Notification) {
	n.logger.Info("notification", "title", note.Title, "body", note.Body, "category", note.Category)
}

func loadConfig(path string) (*config.Manager, error) {
	mgr, err := config.NewManager(path)
	if err == nil {
		return mgr, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	cfg := config.DefaultConfig()
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return config.NewStaticManager(cfg), nil
}

func main() {
	configPath := flag.String("config", "safezone.yaml", "config file (yaml or json)")
	envFile := flag.String("env", ".env", "dotenv file")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		logging.Fatalf("Fatal while loading env file: %v", err)
	}
	mgr, err := loadConfig(config.ConfigPathFromEnv(*configPath))
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if mgr.Path() == "" {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}
	logger.Info("safezone starting", "version", version, "armed", cfg.Settings.Armed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var crimes *oracle.CrimeDB
	var areaOracle engine.Oracle
	if cfg.Oracle.Enabled {
		crimes, err = oracle.Open(cfg.Oracle)
		if err != nil {
			logging.Fatal(logger, "open crime db", "err", err)
		}
		if err := crimes.Init(ctx); err != nil {
			logging.Fatal(logger, "init crime db", "err", err)
		}
		areaOracle = crimes
	} else {
		logger.Info("area risk oracle disabled, scores default to 0")
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logging.Fatal(logger, "open incident store", "err", err)
	}
	var journal *storage.Journal
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logging.Fatal(logger, "init incident store", "err", err)
		}
		journal = storage.NewJournal(store, cfg.Ingest.ChannelBuffer, logger)
		// Close drains the journal after the engine stops emitting.
		go journal.Run(context.Background())
	}

	hist := history.NewStore(cfg.History.StoreLimit)

	var eng *engine.Engine
	hub := realtime.NewHub(logger, func() model.Snapshot { return eng.Snapshot() })
	go hub.Run(ctx)
	notifier := response.Notifiers{hub, logNotifier{logger: logger}}

	var sirenOut siren.Output = siren.LogOutput{Logger: logger}
	if len(cfg.Response.SirenCommand) > 0 {
		sirenOut = siren.NewCommandOutput(cfg.Response.SirenCommand)
	}
	alarm := siren.NewController(sirenOut, logger)
	sinkClient := sink.NewClient(cfg.Sink, logger)

	var capture evidence.Capture = evidence.ManifestCapture{Dir: cfg.Response.EvidenceDir}
	if len(cfg.Response.RecorderCommand) > 0 {
		capture = evidence.CommandCapture{Dir: cfg.Response.EvidenceDir, Args: cfg.Response.RecorderCommand}
	}
	recorder := evidence.NewRecorder(cfg, clock.Real{}, capture, sinkClient, notifier, logger)

	fanout := response.NewFanOut(cfg, logger, response.Options{
		Siren:    alarm,
		Recorder: recorder,
		Sink:     sinkClient,
		Notifier: notifier,
		Locations: response.LocationFunc(func(ctx context.Context) (model.Location, error) {
			return eng.CurrentLocation(ctx)
		}),
	})
	dispatchers := response.Dispatchers{fanout}
	if journal != nil {
		dispatchers = append(dispatchers, journal)
	}

	eng = engine.NewEngine(cfg, logger, engine.Options{
		Clock:      clock.Real{},
		Oracle:     areaOracle,
		Dispatcher: dispatchers,
		Notifier:   notifier,
	})
	eng.Subscribe(hist.Record)
	eng.Subscribe(hub.Publish)
	if journal != nil {
		eng.Subscribe(journal.Record)
	}

	buffer := cfg.Ingest.ChannelBuffer
	envelopes := make(chan ingest.Envelope, buffer)
	router := ingest.NewRouter(logger)
	var routerWG sync.WaitGroup
	routerWG.Add(1)
	go func() {
		defer routerWG.Done()
		router.Run(ctx, envelopes)
	}()
	if _, err := ingest.StartTCPStream(ctx, mgr, envelopes, logger); err != nil {
		logging.Fatal(logger, "start tcp stream", "err", err)
	}
	if _, err := ingest.StartUDP(ctx, mgr, envelopes, logger); err != nil {
		logging.Fatal(logger, "start udp listener", "err", err)
	}
	ingest.StartReplay(ctx, mgr, envelopes, logger)
	ingest.StartKafka(ctx, mgr, envelopes, logger)

	mon := monitor.New(cfg, eng, router.Sources(), logger)

	updaters := []func(*config.Config){
		eng.UpdateConfig,
		mon.UpdateConfig,
		fanout.UpdateConfig,
		recorder.UpdateConfig,
	}
	deps := api.Deps{
		Config:    mgr,
		Engine:    eng,
		Monitor:   mon,
		History:   hist,
		Ingest:    ingest.NewREST(mgr, envelopes, logger),
		WebSocket: hub.HandleWebSocket,
		OnConfig:  updaters,
		Logger:    logger,
		Version:   version,
	}
	if crimes != nil {
		deps.Crimes = crimes
	}
	if store != nil {
		deps.Incidents = store
	}
	srv := api.Start(ctx, deps)

	stopWatch := make(chan struct{})
	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second, func(next *config.Config) {
			logger.Info("config reloaded", "path", mgr.Path())
			for _, fn := range updaters {
				fn(next)
			}
		}, func(err error) {
			logger.Warn("config reload failed", "err", err)
		}, stopWatch)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	close(stopWatch)
	cancel()
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
		shutdownCancel()
	}
	mon.Close()
	routerWG.Wait()
	router.Close()
	recorder.Close()
	fanout.Wait()
	if err := alarm.Stop(); err != nil {
		logger.Warn("siren stop failed", "err", err)
	}
	eng.Close()
	if journal != nil {
		journal.Close()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("close incident store", "err", err)
		}
	}
	if crimes != nil {
		if err := crimes.Close(); err != nil {
			logger.Warn("close crime db", "err", err)
		}
	}
	logger.Info("shutdown complete")
}
