package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/lifesupport/colony/server/internal/config"
	"github.com/lifesupport/colony/server/internal/engine"
	"github.com/lifesupport/colony/server/internal/events"
	"github.com/lifesupport/colony/server/internal/infra/journal"
	"github.com/lifesupport/colony/server/internal/infra/storage"
	"github.com/lifesupport/colony/server/internal/network"
	"github.com/lifesupport/colony/server/internal/platform/logger"
	"github.com/lifesupport/colony/server/internal/platform/metrics"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the colony simulation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().String("addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("profile", "", "Tuning profile: default, stress or low")
	cmd.Flags().Int64("tick-ms", 0, "Initial tick interval in milliseconds")
	cmd.Flags().Bool("no-storage", false, "Disable the SQLite audit database")
	cmd.Flags().Bool("no-journal", false, "Disable compressed journal files")
	return cmd
}

// loadConfig applies defaults, file, environment and then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("addr"); f != nil && f.Changed {
		cfg.Server.Addr = f.Value.String()
	}
	if f := cmd.Flags().Lookup("profile"); f != nil && f.Changed {
		cfg.Server.Profile = f.Value.String()
	}
	if f := cmd.Flags().Lookup("tick-ms"); f != nil && f.Changed {
		ms, _ := cmd.Flags().GetInt64("tick-ms")
		cfg.Colony.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if off, _ := cmd.Flags().GetBool("no-storage"); off {
		cfg.Storage.Enabled = false
	}
	if off, _ := cmd.Flags().GetBool("no-journal"); off {
		cfg.Journal.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serve wires every component and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	appLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	tuning, err := cfg.Tuning()
	if err != nil {
		return err
	}
	m := metrics.Get()
	runID := uuid.NewString()
	settings := cfg.EngineSettings()

	appLogger.Info("initializing colony server",
		"version", version,
		"run_id", runID,
		"profile", cfg.Server.Profile,
		"colony", settings.ColonyName)

	var (
		persisters []events.EventPersister
		db         *sqlx.DB
		snapRepo   *storage.SQLiteSnapshotRepository
		recon      *storage.Reconstructor
		jw         *journal.Writer
	)

	if cfg.Storage.Enabled {
		appLogger.Info("initializing SQLite database", "path", cfg.Storage.Path)
		db, err = storage.InitSQLite(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize SQLite: %w", err)
		}
		defer db.Close()
		storage.ConfigurePool(db, tuning.DBMaxOpenConns, tuning.DBMaxIdleConns)

		runRepo := storage.NewSQLiteRunRepository(db)
		if err := runRepo.StartRun(ctx, runID, settings.ColonyName, time.Now()); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		eventRepo := storage.NewSQLiteEventRepository(db)
		// Journal writes outlive the serve context so the queue can drain on shutdown.
		persisters = append(persisters, eventRepo.Persister(context.Background()))
		snapRepo = storage.NewSQLiteSnapshotRepository(db)
		recon = storage.NewReconstructor(eventRepo)
	}

	if cfg.Journal.Enabled {
		codec, err := journal.ParseCodec(cfg.Journal.Codec)
		if err != nil {
			return err
		}
		appLogger.Info("journal files enabled", "dir", cfg.Journal.Dir, "codec", string(codec))
		jw = journal.NewWriter(cfg.Journal.Dir, cfg.Journal.Prefix, codec)
		persisters = append(persisters, jw)
	}

	eventLog := events.NewEventLog(events.Options{
		HistoryLimit: tuning.EventHistoryLimit,
		QueueSize:    tuning.JournalQueue,
		OnWrite: func(latency time.Duration, err error) {
			m.RecordJournalWrite(latency, err)
			if err != nil {
				appLogger.Error("journal write failed", "error", err)
			}
		},
		OnDiscard: func() {
			m.RecordJournalDiscard()
			appLogger.Warn("journal queue full: event kept in memory only")
		},
	}, persisters...)

	eng := engine.New(settings, engine.Options{
		Logger:           appLogger.With("component", "engine"),
		Metrics:          m,
		Journal:          eventLog,
		SubscriberBuffer: tuning.SubscriberBuffer,
		RunID:            runID,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := engine.NewTicker(eng, cfg.TickInterval(), appLogger.With("component", "scheduler"))
	tickerDone := make(chan struct{})
	go func() {
		ticker.Start(runCtx)
		close(tickerDone)
	}()

	hub := network.NewHub(eng, ticker, network.HubOptions{
		MaxClients:       tuning.MaxClients,
		ClientSendBuffer: tuning.ClientSendBuffer,
		ActionsPerSecond: tuning.ActionsPerSecond,
		ActionBurst:      tuning.ActionBurst,
	}, appLogger.With("component", "hub"), m)
	go hub.Run(runCtx)

	limiter := network.NewIPRateLimiter(tuning.ActionsPerSecond, tuning.ActionBurst, m)
	go pruneLimiter(runCtx, limiter)

	if snapRepo != nil {
		go backupLoop(runCtx, cfg.Storage.BackupInterval, snapRepo, eng, appLogger)
	}

	mux := http.NewServeMux()
	network.NewColonyAPI(eng, ticker, limiter, appLogger.With("component", "api")).RegisterRoutes(mux)
	network.NewHistoryHandler(eventLog, recon, runID, appLogger).RegisterRoutes(mux)
	hub.RegisterRoutes(mux)
	network.RegisterMetricsRoutes(mux, m, tuning)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("HTTP API, SSE and WebSocket listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			appLogger.Error("server failed", "error", err)
			cancel()
			<-tickerDone
			drain(eventLog, jw, snapRepo, eng, runID, appLogger)
			return err
		}
	}

	// Stop the cadence first so no tick lands after the final snapshot.
	cancel()
	<-tickerDone

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("http shutdown incomplete", "error", err)
	}

	drain(eventLog, jw, snapRepo, eng, runID, appLogger)
	appLogger.Info("colony server stopped", "run_id", runID)
	return nil
}

// drain writes the final snapshot and flushes the journal.
func drain(el *events.EventLog, jw *journal.Writer, snapRepo *storage.SQLiteSnapshotRepository, eng *engine.Engine, runID string, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if snapRepo != nil {
		if err := snapRepo.Upsert(ctx, runID, eng.Snapshot()); err != nil {
			log.Error("final snapshot failed", "error", err)
		}
	}
	if err := el.Close(ctx); err != nil {
		log.Warn("journal queue not fully drained", "error", err)
	}
	if jw != nil {
		if err := jw.Close(); err != nil {
			log.Error("journal file close failed", "error", err)
		}
	}
}

// backupLoop stores the latest colony snapshot on a fixed period.
func backupLoop(ctx context.Context, every time.Duration, repo *storage.SQLiteSnapshotRepository, eng *engine.Engine, log *logger.Logger) {
	if every <= 0 {
		every = 5 * time.Second
	}
	backupTicker := time.NewTicker(every)
	defer backupTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-backupTicker.C:
			if err := repo.Upsert(ctx, eng.RunID(), eng.Snapshot()); err != nil && ctx.Err() == nil {
				log.Error("snapshot backup failed", "error", err)
			}
		}
	}
}

// pruneLimiter forgets idle client IPs.
func pruneLimiter(ctx context.Context, l *network.IPRateLimiter) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Prune(10 * time.Minute)
		}
	}
}
