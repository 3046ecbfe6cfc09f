package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicqueue/internal/api"
	"clinicqueue/internal/config"
	"clinicqueue/internal/database"
	"clinicqueue/internal/events"
	"clinicqueue/internal/metrics"
	"clinicqueue/internal/models"
	"clinicqueue/internal/notify"
	"clinicqueue/internal/queue"
	"clinicqueue/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// readinessCheck reports whether a dependency can serve requests.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("failed to load .env")
	}

	cfg, err := config.Load(os.Getenv("CLINICQUEUE_CONFIG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = configureLogger(cfg, output)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var checks []readinessCheck

	store, rdb, err := openStore(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open snapshot store error")
	}
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, readinessCheck{"redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}

	var persister queue.Persister
	if cfg.AsyncPersistence() {
		writer := storage.NewAsyncWriter(store, &logger)
		defer writer.Close()
		persister = writer
	} else {
		persister = storage.NewSyncPersister(store)
	}

	bus := events.NewEventBus()
	metrics.Subscribe(bus)

	var history api.HistorySource
	if cfg.Archive.Enabled {
		archive, err := database.NewArchive(cfg.Archive.Path, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("open archive error")
		}
		defer archive.Close()
		archive.Subscribe(bus)
		history = archive
		checks = append(checks, readinessCheck{"archive", archive.PingContext})
	}

	if cfg.NotifierEnabled() {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			defer notifier.Close()
			notifier.Subscribe(bus)
		}
	}

	manager := newManager(ctx, cfg, store, persister, bus, &logger)
	snap := manager.Snapshot()
	metrics.SetQueue(snap.CurrentNumber, len(snap.Waiting()))

	if cfg.Backup.Enabled {
		if fs, ok := store.(*storage.FileStore); ok {
			backup := database.NewBackupService(fs.Path(), cfg.Backup, cfg.BackupInterval(), &logger)
			go backup.Start(ctx)
		} else {
			logger.Warn().Str("backend", cfg.Storage.Backend).Msg("backups only apply to the file backend")
		}
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, checks, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	httpServer := api.NewHTTPServer(manager, history, api.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		BookRatePerSecond: cfg.Server.BookRatePerSecond,
		BookBurst:         cfg.Server.BookBurst,
		TrustProxy:        cfg.Server.TrustProxy,
	}, &logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("Clinic queue server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("api server error")
		stop()
	}
	// In-flight requests finish before the writer and archive are closed by the deferred calls.
	<-shutdownDone
	logger.Info().Msg("Clinic queue server stopped")
}

func configureLogger(cfg *config.Config, console io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	out := console
	if cfg.Log.Format == "json" {
		out = os.Stdout
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func openStore(cfg *config.Config, logger *zerolog.Logger) (storage.Store, *redis.Client, error) {
	switch cfg.Storage.Backend {
	case "file":
		fs, err := storage.NewFileStore(cfg.Storage.Path)
		return fs, nil, err
	case "redis":
		if cfg.Redis.Address == "" {
			return nil, nil, errors.New("redis.address is required for the redis backend")
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		rs := storage.NewRedisStore(rdb, cfg.Redis.Key)
		if !cfg.Storage.FallbackToFile {
			return rs, rdb, nil
		}
		fs, err := storage.NewFileStore(cfg.Storage.Path)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return storage.NewFailoverStore(rs, fs, cfg.Storage.Path+".pending", logger), rdb, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newManager restores the last snapshot when configured to. A snapshot that
// cannot be read or fails validation is logged and replaced by a fresh epoch.
func newManager(ctx context.Context, cfg *config.Config, store storage.Store, persister queue.Persister, bus *events.EventBus, logger *zerolog.Logger) *queue.Manager {
	opts := queue.DefaultOptions()
	opts.AutoResetOnDrain = cfg.AutoResetOnDrain()
	opts.MinutesPerPatient = cfg.Queue.MinutesPerPatient

	var initial *models.State
	if cfg.RestoreOnStart() {
		loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		state, err := store.Load(loadCtx)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("failed to load queue snapshot, starting a new epoch")
		}
		initial = state
	}

	manager, err := queue.NewManager(initial, persister, bus, opts, logger)
	if err != nil {
		logger.Error().Err(err).Msg("stored queue snapshot is inconsistent, starting a new epoch")
		initial = nil
		manager, _ = queue.NewManager(nil, persister, bus, opts, logger)
	}

	if initial == nil {
		// Overwrite whatever is on disk so a later restart sees this epoch.
		if err := persister.Persist(ctx, manager.Snapshot()); err != nil {
			logger.Error().Err(err).Msg("failed to persist fresh queue state")
		}
	} else {
		logger.Info().
			Int("tokens", len(initial.Tokens)).
			Int("current", initial.CurrentNumber).
			Msg("Queue restored from snapshot")
	}
	return manager
}

func startHealthServer(ctx context.Context, port int, checks []readinessCheck, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		for _, c := range checks {
			if err := c.check(ctxPing); err != nil {
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
