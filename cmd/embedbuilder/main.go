// Command embedbuilder runs the offline EmbeddingBuilder job: load
// likes, construct the interaction graph, walk it, train embeddings,
// and persist the ANN artifact the scheduler's AnnIndex loads on its
// next tick. It is invoked on a cron-style schedule outside this
// process (the original ran it as a periodic Celery task); this binary
// itself just runs one build and exits, the same division of labor
// go-server-2's main.go draws between process wiring and the long-
// running server loop it starts.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
	_ "go.uber.org/automaxprocs"

	"github.com/lyncup/matchcore/internal/config"
	"github.com/lyncup/matchcore/internal/embedding"
	"github.com/lyncup/matchcore/internal/likes"
	"github.com/lyncup/matchcore/internal/logging"
	"github.com/lyncup/matchcore/internal/obsmetrics"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	pushMetrics := flag.String("metrics-addr", "", "optional address to serve /metrics on before exiting (empty disables)")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	source, err := likes.NewPostgresSource(ctx, cfg.LikesDatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect likes source")
	}
	defer source.Close()

	params := embedding.Params{
		Dimensions:       cfg.EmbedDimensions,
		WalkLength:       cfg.WalkLength,
		WalksPerNode:     cfg.WalksPerNode,
		ReturnParam:      cfg.ReturnParamP,
		InOutParam:       cfg.InOutParamQ,
		Window:           cfg.SkipGramWindow,
		NumTrees:         cfg.NumTrees,
		ReciprocalWeight: cfg.ReciprocalWeight,
	}

	stopRSSLog := logRSSPeriodically(ctx, logger)
	defer stopRSSLog()

	start := time.Now()
	result, err := embedding.Build(ctx, source, cfg.ArtifactDir, params, logger)
	duration := time.Since(start)
	metrics.BuildDuration.Observe(duration.Seconds())

	if err != nil {
		// A failed build leaves the previous artifact (if any) in place
		// untouched, per spec.md §4.2's abort-the-whole-build semantics.
		logger.Fatal().Err(err).Msg("embedding build failed, previous artifact (if any) remains valid")
	}
	if result == nil {
		logger.Info().Msg("no likes present, skipping build")
	} else {
		metrics.BuildNodes.Set(float64(result.Nodes))
		metrics.BuildEdges.Set(float64(result.Edges))
		logger.Info().
			Int("nodes", result.Nodes).
			Int("edges", result.Edges).
			Dur("duration", duration).
			Msg("embedding build finished")
	}

	if *pushMetrics != "" {
		serveMetricsThenExit(*pushMetrics, registry, logger)
	}
}

// logRSSPeriodically logs this process's resident set size every few
// seconds for the duration of the build, grounded on the teacher's
// collectMetrics ticker in go-server-2/server.go (the same
// process.NewProcess + MemoryInfo call, here feeding a log line
// instead of an in-memory stats struct since the build has no live
// dashboard to update). The embedding build is the one CPU- and
// memory-heavy step in the core, so it is the one place worth this
// visibility. Returns a stop func to cancel the background goroutine.
func logRSSPeriodically(ctx context.Context, logger zerolog.Logger) func() {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to get process handle, skipping RSS logging")
		return func() {}
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				memInfo, err := proc.MemoryInfo()
				if err != nil {
					continue
				}
				logger.Debug().Float64("rss_mb", float64(memInfo.RSS)/1024/1024).Msg("embedding build memory usage")
			}
		}
	}()
	return func() { close(stop) }
}

// serveMetricsThenExit briefly exposes /metrics so a scrape between
// build runs can still observe this run's gauges before the process
// exits. It serves for a fixed 15 seconds and then closes the server;
// it does not wait for or detect a scrape.
func serveMetricsThenExit(addr string, registry *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server error")
		}
	}()

	time.Sleep(15 * time.Second)
	_ = server.Close()
}
