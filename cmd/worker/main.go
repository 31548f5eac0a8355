// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minutebars/internal/config"
	http_infra "minutebars/internal/infra/http"
	"minutebars/internal/logging"
	"minutebars/internal/tracing"
	"minutebars/internal/wiring"
	"minutebars/internal/worker"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	configFile := flag.String("config", "", "path to the config file")
	metricsAddr := flag.String("metrics-addr", ":9091", "listen address for /metrics and /healthz")
	flag.Parse()

	// 1. Init config, logger, tracer
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, syncLogger, err := logging.New(cfg.Log.Production, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = syncLogger() }()
	slog.SetDefault(logger)

	workerID := cfg.NodeID
	if workerID == "" {
		workerID = uuid.New().String()
	}
	logger = logger.With("worker_id", workerID)

	var traceOut io.Writer = io.Discard
	if cfg.Tracing.Stdout {
		traceOut = os.Stdout
	}
	tracerShutdown, err := tracing.InitTracer("minutebars-worker", workerID, traceOut, logger)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// 2. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	if err := run(rootCtx, cfg, workerID, *metricsAddr, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("worker node shut down")
}

func run(ctx context.Context, cfg *config.Config, workerID, metricsAddr string, logger *slog.Logger) error {
	res := wiring.New(cfg, logger)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = res.Close(closeCtx)
	}()

	// 3. Connect to the broker
	queue, err := res.Queue(ctx)
	if err != nil {
		return err
	}

	// 4. Register this worker in etcd, when etcd is configured
	if res.HasEtcd() {
		etcdClient, err := res.Etcd(ctx)
		if err != nil {
			return err
		}
		host, _ := os.Hostname()
		registry := worker.NewRegistry(etcdClient, logger)
		regCtx, regCancel := context.WithTimeout(ctx, 5*time.Second)
		err = registry.Register(regCtx, workerID, host, int64(cfg.LeaderElectionTTL.Seconds()))
		regCancel()
		if err != nil {
			return err
		}
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := registry.Deregister(deregCtx); err != nil {
				logger.Error("failed to deregister worker", "error", err)
			}
		}()
	}

	// 5. Fetcher and downloader
	fetcherCfg := http_infra.DefaultFetcherConfig
	fetcherCfg.Timeout = cfg.Downloader.Timeout
	fetcherCfg.RetryCount = cfg.Downloader.RetryCount
	if cfg.Downloader.UserAgent != "" {
		fetcherCfg.UserAgent = cfg.Downloader.UserAgent
	}
	fetcher := http_infra.NewFetcher(fetcherCfg, logger)
	defer fetcher.Close()

	downloader := worker.NewDownloader(queue, fetcher, worker.DownloaderConfig{
		Concurrency: cfg.Downloader.Concurrency,
		Prefetch:    cfg.Downloader.Prefetch,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return downloader.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", metricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
