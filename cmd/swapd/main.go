package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapexec/params"
	"github.com/uhyunpark/swapexec/pkg/api"
	"github.com/uhyunpark/swapexec/pkg/broadcast"
	"github.com/uhyunpark/swapexec/pkg/liquidity"
	"github.com/uhyunpark/swapexec/pkg/order"
	"github.com/uhyunpark/swapexec/pkg/processor"
	"github.com/uhyunpark/swapexec/pkg/queue"
	"github.com/uhyunpark/swapexec/pkg/storage"
	"github.com/uhyunpark/swapexec/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := newLogger(cfg.Server)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Server.LogFile, "level", cfg.Server.LogLevel, "env", cfg.Server.Env)

	if cfg.Profiling.PyroscopeServer != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.PyroscopeServer,
			Tags:            map[string]string{"env": cfg.Server.Env},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
		})
		if err != nil {
			sugar.Fatalw("pyroscope_start_failed", "err", err)
		}
		defer profiler.Stop()
		sugar.Infow("pyroscope_enabled", "server", cfg.Profiling.PyroscopeServer)
	}

	clock := util.RealClock{}

	// ---- Storage ----
	store, ledger, closeStore, err := openStore(cfg.Store, clock)
	if err != nil {
		sugar.Fatalw("store_open_failed", "driver", cfg.Store.Driver, "err", err)
	}
	defer closeStore.Close()
	sugar.Infow("store_opened", "driver", cfg.Store.Driver)

	// ---- Liquidity ----
	venues, err := params.LoadVenues(cfg.Liquidity.VenuesFile)
	if err != nil {
		sugar.Fatalw("venues_load_failed", "file", cfg.Liquidity.VenuesFile, "err", err)
	}
	sources := make([]liquidity.Source, 0, len(venues))
	for _, v := range venues {
		var src liquidity.Source = liquidity.NewSimulatedVenue(v, cfg.Liquidity.BasePrice, clock)
		sources = append(sources, liquidity.RateLimited(src, cfg.Liquidity.QuotesPerSecond, cfg.Liquidity.Burst))
	}
	router := liquidity.NewRouter(sugar.Named("router"), sources...)
	sugar.Infow("venues_configured", "venues", router.Venues(), "base_price", cfg.Liquidity.BasePrice)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Broadcast ----
	events := broadcast.New(broadcast.Config{
		HistoryLimit: cfg.Broadcast.HistoryLimit,
		HistoryTTL:   cfg.Broadcast.HistoryTTL,
	}, clock, sugar.Named("broadcast"))
	defer events.Close()
	go events.RunJanitor(ctx, cfg.Broadcast.JanitorInterval)

	// ---- Queue ----
	q := queue.New(queue.Config{
		MaxAttempts:             cfg.Queue.MaxAttempts,
		BackoffBase:             cfg.Queue.BackoffBase,
		BackoffMax:              cfg.Queue.BackoffMax,
		LockDuration:            cfg.Queue.LockDuration,
		CompletedRetention:      cfg.Queue.CompletedRetention,
		CompletedRetentionCount: cfg.Queue.CompletedRetentionCount,
		FailedRetention:         cfg.Queue.FailedRetention,
		FailedRetentionCount:    cfg.Queue.FailedRetentionCount,
	}, ledger, clock, sugar.Named("queue"))

	recovered, err := q.Recover()
	if err != nil {
		sugar.Fatalw("queue_recover_failed", "err", err)
	}
	sugar.Infow("queue_ready", "recovered_jobs", recovered)

	dispatcher := processor.NewDispatcher(store, router, events, processor.Config{
		LimitTimeout:       cfg.Order.LimitTimeout,
		LimitPollInterval:  cfg.Order.LimitPollInterval,
		SniperPollInterval: cfg.Order.SniperPollInterval,
		SniperTimeout:      cfg.Order.SniperTimeout,
	}, clock, sugar.Named("processor"))

	worker := queue.NewWorker(q, dispatcher, queue.WorkerConfig{
		Lanes:             queue.OrderLanes(cfg.Queue.Concurrency, cfg.Queue.PollingConcurrency),
		HeartbeatInterval: cfg.Queue.HeartbeatInterval,
		StalledInterval:   cfg.Queue.StalledInterval,
	}, clock, sugar.Named("worker"))
	worker.Start(ctx)

	// ---- API Server ----
	apiServer := api.NewServer(store, q, events, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Venues:         router.Venues(),
	}, sugar.Named("api"))

	go func() {
		if err := apiServer.Start(cfg.Server.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("swapd_started",
		"addr", cfg.Server.Addr,
		"concurrency", cfg.Queue.Concurrency,
		"polling_concurrency", cfg.Queue.PollingConcurrency,
		"max_attempts", cfg.Queue.MaxAttempts)

	<-ctx.Done()
	sugar.Info("shutdown_requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	if err := worker.Stop(); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Warnw("worker_stop_failed", "err", err)
	}
	sugar.Info("shutdown_complete")
}

func newLogger(cfg params.Server) (*zap.Logger, error) {
	if cfg.LogFile == "" {
		return util.NewLogger(cfg.LogLevel)
	}
	return util.NewLoggerWithFile(cfg.LogFile, cfg.LogLevel)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore returns the order store, the job ledger backing the queue and
// whatever must be closed on exit. Only pebble persists the ledger; the
// other drivers keep jobs in memory.
func openStore(cfg params.Store, clock util.Clock) (order.Store, queue.Ledger, io.Closer, error) {
	switch cfg.Driver {
	case "pebble":
		s, err := storage.NewPebbleStore(cfg.PebblePath, clock)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s, s, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		s, err := storage.NewPostgresStore(cfg.DatabaseURL, clock)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, queue.NewMemoryLedger(), s, nil
	case "memory":
		return storage.NewMemoryStore(clock), queue.NewMemoryLedger(), nopCloser{}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
