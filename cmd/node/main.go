// Command node runs one workflowmesh cluster member: it opens local
// storage, starts the durable workflow runtime and its background
// processors, joins the gossip cluster, and serves the Service API.
// Grounded directly on orchestrator/main.go's top-to-bottom wiring order
// (logging -> telemetry -> store -> http server -> signal-driven shutdown).
package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/swarmguard/workflowmesh/internal/api"
	"github.com/swarmguard/workflowmesh/internal/background"
	"github.com/swarmguard/workflowmesh/internal/cluster/dispatch"
	"github.com/swarmguard/workflowmesh/internal/cluster/gossip"
	"github.com/swarmguard/workflowmesh/internal/cluster/membership"
	"github.com/swarmguard/workflowmesh/internal/cluster/ring"
	"github.com/swarmguard/workflowmesh/internal/cluster/transport"
	"github.com/swarmguard/workflowmesh/internal/config"
	"github.com/swarmguard/workflowmesh/internal/kv"
	"github.com/swarmguard/workflowmesh/internal/kv/boltkv"
	"github.com/swarmguard/workflowmesh/internal/kv/memkv"
	"github.com/swarmguard/workflowmesh/internal/logging"
	"github.com/swarmguard/workflowmesh/internal/ratelimit"
	"github.com/swarmguard/workflowmesh/internal/registry"
	"github.com/swarmguard/workflowmesh/internal/runtime"
	"github.com/swarmguard/workflowmesh/internal/storage"
	"github.com/swarmguard/workflowmesh/internal/telemetry"
	"github.com/swarmguard/workflowmesh/internal/workflows"
)

func main() {
	const service = "workflowmesh-node"
	logger := logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return
	}
	logger = logger.With("nodeId", cfg.NodeID)

	shutdownTrace, err := telemetry.InitTracer(ctx, service, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracer init failed", "error", err)
		shutdownTrace = func(context.Context) error { return nil }
	}
	meterProvider, promHandler, shutdownMetrics, err := telemetry.InitMetrics(ctx, service, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("metrics init failed", "error", err)
		promHandler = http.NotFoundHandler()
		shutdownMetrics = func(context.Context) error { return nil }
	}
	var instruments *telemetry.Instruments
	if meterProvider != nil {
		instruments, err = telemetry.NewInstruments(meterProvider)
		if err != nil {
			logger.Warn("instrument init failed", "error", err)
			instruments = nil
		}
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return
	}
	defer closeStore()
	facade := storage.NewFacade(store)

	calls := registry.New()
	rt := runtime.New(cfg.NodeID, facade, calls, logger, instruments)
	workflows.RegisterAll(rt, calls)

	timerProc := background.NewTimerProcessor(facade, rt, cfg.TimerPollInterval, logger, instruments)
	recoveryProc := background.NewRecoveryProcessor(facade, rt, cfg.RecoveryPollInterval, logger)
	scheduler := background.NewScheduler(store, rt, logger)
	if err := scheduler.RestoreSchedules(ctx); err != nil {
		logger.Warn("failed to restore cron schedules", "error", err)
	}
	eventTrigger := background.NewEventTrigger(rt, logger)

	timerProc.Start(ctx)
	recoveryProc.Start(ctx)
	scheduler.Start()
	defer timerProc.Stop()
	defer recoveryProc.Stop()
	defer scheduler.Stop()

	r := ring.New(cfg.VirtualNodesPerNode)
	table := membership.New(cfg.NodeID, cfg.BindAddress)

	gossipTransport := transport.NewTCPTransport(cfg.BindAddress, logger)
	if err := gossipTransport.Start(ctx); err != nil {
		logger.Error("gossip transport failed to start", "error", err)
		return
	}
	defer gossipTransport.Stop()

	gossiper := gossip.New(cfg.NodeID, table, r, gossipTransport, gossip.Config{
		GossipInterval: cfg.GossipInterval,
		SuspectTimeout: cfg.SuspectTimeout,
		DeadTimeout:    cfg.DeadTimeout,
		MaxUpdates:     10,
		PingReqFanout:  3,
	}, logger, instruments)
	gossiper.Start(ctx)
	defer gossiper.Stop()

	if len(cfg.SeedNodes) > 0 {
		if err := gossiper.Join(ctx, cfg.SeedNodes); err != nil {
			logger.Warn("failed to join seed nodes", "error", err, "seeds", cfg.SeedNodes)
		}
	}

	rpcAddress := rpcAddressFor(cfg.BindAddress)
	rpcTransport := transport.NewTCPTransport(rpcAddress, logger)
	if err := rpcTransport.Start(ctx); err != nil {
		logger.Error("rpc transport failed to start", "error", err)
		return
	}
	defer rpcTransport.Stop()
	dispatcher := dispatch.New(cfg.NodeID, r, table, rpcTransport, rt, cfg.RPCTimeout, instruments)

	limiter := ratelimit.NewConcurrencyLimiter(cfg.MaxConcurrentWorkflows, instruments)
	server := api.New(cfg.NodeID, dispatcher, facade, r, table, limiter, eventTrigger, scheduler, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	mux.Handle("/metrics", promHandler)
	httpSrv := &http.Server{Addr: cfg.HTTPAddress, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	logger.Info("node started", "bindAddress", cfg.BindAddress, "httpAddress", cfg.HTTPAddress)
	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	telemetry.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)
	logger.Info("shutdown complete")
}

// openStore opens an on-disk bbolt-backed store under cfg.StoragePath, or
// falls back to an in-memory store when the configured path is the
// sentinel ":memory:", for single-process demos and tests.
func openStore(cfg config.Config) (kv.Store, func() error, error) {
	if cfg.StoragePath == ":memory:" {
		return memkv.New(), func() error { return nil }, nil
	}
	store, err := boltkv.Open(cfg.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// rpcAddressFor derives a distinct listen address for the workflow RPC
// transport from the gossip bind address, per spec.md §9 Open Question 4's
// decision to keep the two channels on logically separate transports.
func rpcAddressFor(bindAddress string) string {
	host, portStr, err := net.SplitHostPort(bindAddress)
	if err != nil {
		return bindAddress
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return bindAddress
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1))
}
