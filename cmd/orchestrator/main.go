// Command orchestrator boots the fog-network control-plane server: it
// loads configuration from the environment, wires the topology store, the
// State Updater, the port monitor, the protocol placement coroutine, the
// UDP heartbeat registry, and the REST north-bound API together, then runs
// until signalled to stop. Bootstrap shape follows the teacher's
// cmd/nbi-server/main.go (config load, signal-context shutdown, tracing
// init with deferred shutdown, metrics collector, graceful stop on
// ctx.Done()), adapted from a gRPC NBI server to this repo's REST/UDP/
// raw-Ethernet surfaces.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/FayzaCH/fog-server/internal/api"
	"github.com/FayzaCH/fog-server/internal/config"
	"github.com/FayzaCH/fog-server/internal/l2fallback"
	"github.com/FayzaCH/fog-server/internal/logging"
	"github.com/FayzaCH/fog-server/internal/monitor"
	"github.com/FayzaCH/fog-server/internal/observability"
	"github.com/FayzaCH/fog-server/internal/protocol"
	"github.com/FayzaCH/fog-server/internal/recorder"
	"github.com/FayzaCH/fog-server/internal/registry"
	"github.com/FayzaCH/fog-server/internal/sbi"
	"github.com/FayzaCH/fog-server/internal/stateupdater"
	"github.com/FayzaCH/fog-server/internal/topology"
	"github.com/FayzaCH/fog-server/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, w := range cfg.Warnings {
		log.Warn(ctx, w)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "orchestrator exited with error", logging.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	traceShutdown := func(context.Context) error { return nil }
	if shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log); err != nil {
		log.Warn(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
	} else {
		traceShutdown = shutdown
	}
	defer observability.ShutdownWithTimeout(context.Background(), traceShutdown, log)

	collector, err := observability.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics collector: %w", err)
	}

	topo := topology.New(log)
	if err := topo.AddNode(cfg.Controller.DecoyMAC, true, model.NodeType("DECOY"), "orchestrator", 1); err != nil {
		log.Warn(ctx, "failed to seed decoy node", logging.String("error", err.Error()))
	}

	mon := monitor.New(cfg.Monitor.Samples, log)
	stateUpdater := stateupdater.New(topo, mon, stateupdater.NoopDelaySource{}, stateupdater.NoopDelaySource{}, cfg.Monitor.Period, log)

	cmd := sbi.NewNoopCommander(log)
	commands := sbi.NewCommands(cmd, topo, log)
	feeder := sbi.NewTopologyFeeder(topo, log)
	_ = feeder // wired to a real south-bound adapter's event stream outside this module (spec.md §6)

	if !cfg.Orchestrator.Paths {
		forwarder := l2fallback.New(topo, cmd, log)
		_ = forwarder // likewise wired to the south-bound packet-in stream outside this module
		log.Info(ctx, "ORCHESTRATOR_PATHS disabled: L2 fallback forwarder constructed")
	}

	rec := recorder.Recorder(recorder.Noop{})
	if dir := cfg.Orchestrator.RecordDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Warn(ctx, "ORCHESTRATOR_RECORD_DIR unusable; falling back to no-op recorder", logging.String("error", err.Error()))
		} else {
			rec = recorder.NewCSVRecorder(
				filepath.Join(dir, "hosts.csv"),
				filepath.Join(dir, "paths.csv"),
			)
			log.Info(ctx, "CSV candidate recording enabled", logging.String("dir", dir))
		}
	}

	protoCfg := protocol.Config{
		DecoyMAC:          cfg.Controller.DecoyMAC,
		DecoyIP:           cfg.Controller.DecoyIP,
		DefaultAddr:       cfg.Network.Address,
		OrchestratorPaths: cfg.Orchestrator.Paths,
		NodeAlgorithm:     cfg.Orchestrator.NodeAlgorithm,
		PathAlgorithm:     cfg.Orchestrator.PathAlgorithm,
		PathWeight:        cfg.Orchestrator.PathWeight,
		ProtoTimeout:      cfg.Protocol.Timeout,
		ProtoRetries:      cfg.Protocol.Retries,
	}
	proto := protocol.New(protoCfg, topo, map[uint32]*model.CoS{}, commands, commands, stateUpdater, rec, log)

	reg := registry.New(log)

	apiServer := api.New(cfg, topo, log)
	apiServer.Requests = proto.Requests
	apiServer.PutRequest = proto.PutRequest

	var metricsSrv *http.Server
	metricsSrv = serveMetrics(":9090", collector, log)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Orchestrator.APIPort),
		Handler: apiServer.Handler(),
	}

	go topo.RunHostLinkStitcher(ctx, time.Second)
	go topo.RunHeartbeatChecker(ctx, cfg.Orchestrator.UDPTimeout, func(id string) bool {
		return reg.IsAlive(id, cfg.Orchestrator.UDPTimeout)
	})
	go stateUpdater.Run(ctx)
	go mon.RunPoller(ctx, cfg.Monitor.Period, func() []string {
		var dpids []string
		for id, n := range topo.GetNodes() {
			if n.Type == model.NodeTypeSwitch {
				dpids = append(dpids, id)
			}
		}
		return dpids
	}, commands)
	go func() {
		if err := reg.ListenUDP(ctx, cfg.Orchestrator.UDPPort); err != nil {
			log.Error(ctx, "UDP heartbeat listener exited", logging.String("error", err.Error()))
		}
	}()
	go reg.RunPruner(ctx, cfg.Orchestrator.UDPTimeout)

	log.Info(ctx, "starting REST API", logging.String("addr", httpSrv.Addr))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		log.Info(ctx, "shutdown requested", logging.String("reason", ctx.Err().Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "REST API shutdown error", logging.String("error", err.Error()))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()
	return srv
}
