// retisgo is the eBPF collection agent: it wires the Collector Registry,
// the Probe Manager, the shared ring-buffer Reader, the Event Sorter and
// the EventBus into the pipeline internal/agent.Runtime orchestrates, then
// blocks until a termination signal is received.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/agent"
	"github.com/kubearch/retisgo/internal/api"
	"github.com/kubearch/retisgo/internal/cache"
	"github.com/kubearch/retisgo/internal/collector/ct"
	"github.com/kubearch/retisgo/internal/collector/kernelexec"
	"github.com/kubearch/retisgo/internal/collector/kerneloom"
	"github.com/kubearch/retisgo/internal/collector/ovs"
	"github.com/kubearch/retisgo/internal/collector/skbdrop"
	"github.com/kubearch/retisgo/internal/collector/skbtracking"
	"github.com/kubearch/retisgo/internal/collector/startup"
	"github.com/kubearch/retisgo/internal/config"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/export"
	"github.com/kubearch/retisgo/internal/storage"
)

func main() {
	configPath := flag.String("config", constants.DefaultConfigPath, "path to the YAML configuration file")
	natsEnabled := flag.Bool("nats", false, "additionally publish events to NATS JetStream")
	apiAddr := flag.String("api-addr", "", "if set, serve the live event-tail API (GET /events/tail) on this address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Agent.LogLevel)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = logLevel
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("retisgo starting",
		zap.String("version", constants.Version),
		zap.String("config", *configPath))

	rt, err := agent.NewRuntime(cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct runtime", zap.Error(err))
	}

	if err := rt.RegisterCollector(ct.New()); err != nil {
		logger.Fatal("failed to register collector", zap.String("collector", constants.ModuleCt), zap.Error(err))
	}
	if err := rt.RegisterCollector(ovs.New()); err != nil {
		logger.Fatal("failed to register collector", zap.String("collector", constants.ModuleOvs), zap.Error(err))
	}
	if err := rt.RegisterCollector(skbdrop.New()); err != nil {
		logger.Fatal("failed to register collector", zap.String("collector", constants.ModuleSkbDrop), zap.Error(err))
	}
	if err := rt.RegisterCollector(skbtracking.New()); err != nil {
		logger.Fatal("failed to register collector", zap.String("collector", constants.ModuleSkbTracking), zap.Error(err))
	}
	if err := rt.RegisterCollector(kernelexec.New()); err != nil {
		logger.Fatal("failed to register collector", zap.String("collector", constants.ModuleKernelExec), zap.Error(err))
	}
	if err := rt.RegisterCollector(kerneloom.New()); err != nil {
		logger.Fatal("failed to register collector", zap.String("collector", constants.ModuleKernelOOM), zap.Error(err))
	}
	if err := rt.RegisterCollector(startup.New()); err != nil {
		logger.Fatal("failed to register collector", zap.String("collector", constants.ModuleStartup), zap.Error(err))
	}

	if cfg.Exporters.Prometheus.Enabled {
		rt.RegisterExporter(export.NewPrometheus(cfg.Exporters.Prometheus.Addr, rt.EventBus(), rt.MetaCache(), logger.Named("prometheus")))
	}
	if *natsEnabled {
		rt.RegisterExporter(export.NewNATSExporter(export.DefaultNATSConfig(), rt.EventBus(), logger.Named("nats")))
	}

	// The live event-tail API reads directly off this process's EventBus;
	// it has no ClickHouse/Redis handle, so only /events/tail and /healthz
	// are reachable here (cmd/api serves the archival-query routes from a
	// separate, ClickHouse-backed deployment).
	var apiSrv *api.Server
	if *apiAddr != "" {
		apiSrv = api.NewServer(*apiAddr, (*storage.ClickHouse)(nil), (*cache.Redis)(nil), rt.EventBus(), logger.Named("api"))
		go func() {
			if err := apiSrv.Start(); err != nil {
				logger.Error("api server stopped", zap.Error(err))
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := rt.Run(ctx)

	if apiSrv != nil {
		apiSrv.Stop()
	}

	if runErr != nil {
		logger.Fatal("retisgo exited with error", zap.Error(runErr))
	}
	os.Exit(0)
}
