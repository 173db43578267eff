// Command scheduler runs the periodic matching tick: it ticks on a
// configurable interval, acquires the distributed lock, matches
// waiting users into rooms, and publishes assignments — the Go
// equivalent of the original's recurring `run_matching_algo` Celery
// task, but with its own process and ticker instead of a task queue.
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

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/lyncup/matchcore/internal/config"
	"github.com/lyncup/matchcore/internal/dispatcher"
	"github.com/lyncup/matchcore/internal/identity"
	"github.com/lyncup/matchcore/internal/logging"
	"github.com/lyncup/matchcore/internal/lyncuperr"
	"github.com/lyncup/matchcore/internal/matcher"
	"github.com/lyncup/matchcore/internal/obsmetrics"
	"github.com/lyncup/matchcore/internal/pushbus"
	"github.com/lyncup/matchcore/internal/store"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve /metrics and /healthz on")
	flag.Parse()

	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	identityCatalog, err := connectIdentityCatalog(ctx, cfg.LikesDatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect identity source")
	}
	defer identityCatalog.Close()

	bus, err := pushbus.Connect(pushbus.DefaultConfig(cfg.NATSURL), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer bus.Close()

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open NATS connection for shared store")
	}
	defer natsConn.Close()

	sharedStore, err := store.Open(natsConn)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open shared store")
	}

	holderID := fmt.Sprintf("scheduler-%d", os.Getpid())
	d := dispatcher.New(
		identityCatalog,
		sharedStore.WaitingSet(),
		sharedStore.RoomCounter(),
		sharedStore.SchedulingLock(),
		bus,
		nil,
		metrics,
		logger,
		dispatcher.Params{
			ArtifactDir: cfg.ArtifactDir,
			LockTTL:     cfg.LockTTL,
			HolderID:    holderID,
			Matcher: matcher.Params{
				BatchSize: cfg.BatchSize,
				TopK:      cfg.TopK,
				MinGroup:  cfg.MinGroup,
				MaxGroup:  cfg.MaxGroup,
			},
		},
	)

	httpServer := &http.Server{
		Addr:    *metricsAddr,
		Handler: buildMux(registry),
	}
	go func() {
		logger.Info().Str("addr", *metricsAddr).Msg("serving /metrics and /healthz")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	ticker := time.NewTicker(cfg.SchedulerPeriod)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	logger.Info().Dur("period", cfg.SchedulerPeriod).Msg("scheduler started")

runLoop:
	for {
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
			break runLoop
		case <-ticker.C:
			runTick(ctx, d, logger, cfg.LockTTL)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down metrics server")
	}
}

func runTick(ctx context.Context, d *dispatcher.Dispatcher, logger zerolog.Logger, lockTTL time.Duration) {
	tickCtx, cancel := context.WithTimeout(ctx, lockTTL)
	defer cancel()

	outcome, err := d.Tick(tickCtx)
	if err != nil {
		if errors.Is(err, lyncuperr.ErrInvariant) {
			logger.Fatal().Err(err).Str("outcome", string(outcome)).Msg("invariant violation, exiting")
		}
		logger.Error().Err(err).Str("outcome", string(outcome)).Msg("tick failed")
		return
	}
	logger.Debug().Str("outcome", string(outcome)).Msg("tick complete")
}

func buildMux(registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func connectIdentityCatalog(ctx context.Context, dsn string, logger zerolog.Logger) (*identity.PostgresCatalog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("LYNCUP_LIKES_DATABASE_URL is required")
	}
	catalog, err := identity.NewPostgresCatalog(ctx, dsn)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("identity catalog connected")
	return catalog, nil
}
