// cmd/master/main.go
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

	http_api "minutebars/internal/api/http"
	"minutebars/internal/config"
	"minutebars/internal/domain"
	"minutebars/internal/infra/etcd"
	"minutebars/internal/logging"
	"minutebars/internal/master"
	"minutebars/internal/scheduler"
	"minutebars/internal/tracing"
	"minutebars/internal/usecase"
	"minutebars/internal/wiring"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	configFile := flag.String("config", "", "path to the config file")
	once := flag.Bool("once", false, "run once and exit, ignoring the schedule")
	flag.Parse()

	// 1. Load configuration, then logger and tracer
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

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}
	logger = logger.With("node_id", nodeID)

	var traceOut io.Writer = io.Discard
	if cfg.Tracing.Stdout {
		traceOut = os.Stdout
	}
	tracerShutdown, err := tracing.InitTracer("minutebars-master", nodeID, traceOut, logger)
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

	if err := run(rootCtx, cfg, nodeID, *once, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("master stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("master shut down")
}

func run(ctx context.Context, cfg *config.Config, nodeID string, once bool, logger *slog.Logger) error {
	// 3. Connect infrastructure
	res := wiring.New(cfg, logger)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		_ = res.Close(closeCtx)
	}()

	queue, err := res.Queue(ctx)
	if err != nil {
		return err
	}
	acks, err := res.AckLog(ctx)
	if err != nil {
		return err
	}
	sink, err := res.Sink(ctx)
	if err != nil {
		return err
	}
	archive, err := res.Archive(ctx)
	if err != nil {
		return err
	}
	runs, err := res.Runs(ctx)
	if err != nil {
		return err
	}
	locker, err := res.Locker(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// 4. Instantiate components
	var (
		discovery *master.WorkerDiscovery
		leader    domain.LeaderElectionManager
		workers   master.WorkerCounter
	)
	if res.HasEtcd() {
		etcdClient, err := res.Etcd(ctx)
		if err != nil {
			return err
		}
		discovery = master.NewWorkerDiscovery(etcdClient, logger)
		workers = discovery
		g.Go(func() error {
			discovery.WatchWorkers(ctx)
			return nil
		})
		leader = etcd.NewEtcdLeaderElectionManager(etcdClient, nodeID, cfg.LeaderElectionTTL, logger)
	}

	runner := master.NewRunner(master.RunnerOptions{
		Queue:   queue,
		Sink:    sink,
		Acks:    acks,
		Archive: archive,
		Runs:    runs,
		Locker:  locker,
		Workers: workers,
		URLBase: cfg.FetchURLBase,
		Consumer: master.ConsumerConfig{
			Prefetch:      cfg.Consumer.Prefetch,
			MaxDeliveries: cfg.Consumer.MaxDeliveries,
		},
	}, logger)
	runService := usecase.NewRunService(runner, runs, cfg.DomainAssets(), logger)

	scheduled := !once && cfg.Schedule != ""
	var schedulerService *usecase.SchedulerService
	if scheduled {
		if leader == nil {
			return errors.New("a schedule needs etcd for leader election")
		}
		cronScheduler, err := scheduler.NewCronScheduler(cfg.Schedule, runService, logger)
		if err != nil {
			return err
		}
		schedulerService = usecase.NewSchedulerService(leader, cronScheduler, nodeID, logger)
	}

	status := func() http_api.HealthResponse {
		resp := http_api.HealthResponse{NodeID: nodeID}
		if leader != nil {
			resp.Leader = leader.IsLeader()
		}
		if discovery != nil {
			resp.Workers = discovery.WorkerCount()
		}
		return resp
	}

	// 5. Register routes and metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	http_api.NewRunHandler(runService, status, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
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

	// 6. One-shot or scheduled
	if !scheduled {
		runDone := make(chan error, 1)
		g.Go(func() error {
			record, err := runService.Trigger(ctx)
			if record != nil {
				logger.Info("run finished", "run_id", record.ID, "status", record.Status,
					"processed", record.Processed, "dead_lettered", record.DeadLettered)
			}
			runDone <- err
			return errStopped
		})
		err := g.Wait()
		runErr := <-runDone
		if err != nil && !errors.Is(err, errStopped) {
			return err
		}
		return runErr
	}

	g.Go(func() error {
		return schedulerService.Start(ctx)
	})

	return g.Wait()
}

// errStopped ends the errgroup once a one-shot run is over.
var errStopped = errors.New("one-shot run finished")

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
