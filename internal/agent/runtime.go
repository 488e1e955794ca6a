// Package agent provides the retisgo runtime orchestrator. It manages the
// full lifecycle of the Probe Manager, the Collector Registry, the shared
// ring-buffer reader, the Event Sorter, the EventBus, and exporters.
package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/codec"
	"github.com/kubearch/retisgo/internal/collector"
	"github.com/kubearch/retisgo/internal/config"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/export"
	"github.com/kubearch/retisgo/internal/metadata"
	"github.com/kubearch/retisgo/internal/probe"
	"github.com/kubearch/retisgo/internal/ringreader"
	"github.com/kubearch/retisgo/internal/sorter"
	"github.com/kubearch/retisgo/internal/stream"
	"github.com/kubearch/retisgo/internal/trackinggc"
)

// Runtime is the central orchestrator for retisgo. It owns the Probe
// Manager, the shared codec Registry, the Collector Registry, the
// Tracking GC, the ring-buffer Reader, the Event Sorter and the EventBus,
// wiring them into the single pipeline spec §4 describes: collectors
// register hooks and section factories, the Manager attaches every hook
// in one batch, the Reader decodes frames centrally through the codec
// Registry, the Sorter reorders events into per-tracking-id series, and
// the EventBus fans finished events out to exporters.
//
// Design pattern: Facade — Run is the single entry point orchestrating
// every subsystem. Also a Registry for collector/exporter registration,
// carried over from the teacher's Module/Exporter registration pattern
// in its own internal/agent/runtime.go.
type Runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	collectors *collector.Registry
	exporters  []export.Exporter
	bus        *event.Bus
	metaCache  *metadata.Cache
	codecReg   *codec.Registry
	manager    *probe.Manager
	gc         *trackinggc.GC

	sorterBuffered   prometheus.Gauge
	trackingGCReaped prometheus.Gauge
}

// NewRuntime creates a new Runtime with the given configuration. The
// EventBus, metadata Cache and codec Registry are created eagerly:
// exporters need the bus and the metadata cache to subscribe/resolve
// before Run is called, and the Common/Kernel section factories have no
// owning collector (spec §4.1/§4.2) so they're registered here rather
// than by any single collector's Init.
func NewRuntime(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	codecReg := codec.NewRegistry()
	if err := codec.RegisterCommonFactory(codecReg); err != nil {
		return nil, fmt.Errorf("agent: registering common section factory: %w", err)
	}
	if err := codec.RegisterKernelFactory(codecReg); err != nil {
		return nil, fmt.Errorf("agent: registering kernel section factory: %w", err)
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		collectors: collector.NewRegistry(collector.AutoDetect, cfg, logger.Named("collectors")),
		bus:        event.NewBus(cfg.Performance.EventBusBuffer, logger),
		metaCache:  metadata.NewCache(metadata.DefaultCacheConfig()),
		codecReg:   codecReg,
		gc:         trackinggc.New(logger.Named("trackinggc")),

		sorterBuffered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: constants.MetricSorterBuffered,
			Help: "Events currently buffered in the Event Sorter awaiting a tracking match.",
		}),
		trackingGCReaped: promauto.NewGauge(prometheus.GaugeOpts{
			Name: constants.MetricTrackingGCReaped,
			Help: "Total stale correlation map entries evicted by the Tracking GC.",
		}),
	}, nil
}

// RegisterCollector adds a collector to the runtime (Registry pattern).
// The collector is skipped if its config key is disabled, or if CanRun
// fails in AutoDetect mode. Must be called before Run.
func (rt *Runtime) RegisterCollector(c collector.Collector) error {
	if !rt.cfg.ModuleEnabled(c.Name()) {
		rt.logger.Info("collector disabled by config — skipping", zap.String("collector", c.Name()))
		return nil
	}
	return rt.collectors.Register(c)
}

// RegisterExporter adds an exporter to the runtime (Registry pattern).
// Must be called before Run.
func (rt *Runtime) RegisterExporter(e export.Exporter) {
	rt.exporters = append(rt.exporters, e)
}

// EventBus returns the event bus for exporter subscription.
func (rt *Runtime) EventBus() *event.Bus {
	return rt.bus
}

// MetaCache returns the metadata cache for PID resolution.
func (rt *Runtime) MetaCache() *metadata.Cache {
	return rt.metaCache
}

// Run starts the full runtime lifecycle:
//  1. Pre-flight checks (root, rlimit)
//  2. Init metadata cache + K8s watcher
//  3. Build the shared events/log ring buffers and the Probe Manager
//  4. Init all enabled collectors (register hooks + section factories)
//  5. Attach every registered hook in one batch
//  6. Start the Tracking GC, the ring-buffer Reader, exporters, collectors
//  7. Pump decoded events through the Sorter onto the EventBus
//  8. Wait for shutdown signal
//  9. Unwind everything in reverse
func (rt *Runtime) Run(ctx context.Context) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("retisgo requires root privileges. Run with: sudo ./bin/retisgo")
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		rt.logger.Warn("Failed to remove memlock rlimit", zap.Error(err))
	}

	rt.logger.Info("retisgo runtime starting",
		zap.Int("exporters_registered", len(rt.exporters)),
		zap.String("node", rt.cfg.Agent.NodeName))

	k8sWatcher, err := metadata.NewK8sWatcher(rt.metaCache, rt.logger)
	if err != nil {
		rt.logger.Warn("Kubernetes watcher unavailable — pod labels will be empty", zap.Error(err))
	} else {
		go func() {
			if err := k8sWatcher.Run(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Error("Kubernetes watcher error", zap.Error(err))
			}
		}()
	}

	resolver, err := probe.NewKallsymsResolver()
	if err != nil {
		rt.logger.Warn("Kernel symbol resolver unavailable — wildcard probe specs will fail", zap.Error(err))
	}
	rt.manager = probe.NewManager(resolver, rt.logger.Named("probe"))

	eventsMap, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "events",
		Type:       ebpf.RingBuf,
		MaxEntries: uint32(constants.EventsRingBufPages * 4096),
	})
	if err != nil {
		return fmt.Errorf("agent: creating shared events ring buffer: %w", err)
	}
	defer eventsMap.Close()

	logMap, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "log",
		Type:       ebpf.RingBuf,
		MaxEntries: uint32(constants.LogRingBufPages * 4096),
	})
	if err != nil {
		return fmt.Errorf("agent: creating shared log ring buffer: %w", err)
	}
	defer logMap.Close()

	rt.manager.ReuseMap("events", eventsMap)
	rt.manager.ReuseMap("log", logMap)

	deps := collector.Dependencies{
		Logger:     rt.logger,
		EventBus:   rt.bus,
		Metadata:   rt.metaCache,
		NodeName:   rt.cfg.Agent.NodeName,
		Manager:    rt.manager,
		Codec:      rt.codecReg,
		TrackingGC: rt.gc,
	}

	active, err := rt.collectors.Init(ctx, deps)
	if err != nil {
		return fmt.Errorf("agent: collector init: %w", err)
	}
	if len(active) == 0 {
		return fmt.Errorf("no collectors initialized successfully")
	}

	if err := rt.manager.Attach(); err != nil {
		return fmt.Errorf("agent: attaching probes: %w", err)
	}
	defer rt.manager.Detach()

	rt.gc.Start(ctx)
	defer func() {
		rt.gc.Stop()
		rt.gc.Join()
	}()

	reader, err := ringreader.New(eventsMap, logMap, rt.codecReg, rt.logger.Named("ringreader"))
	if err != nil {
		return fmt.Errorf("agent: starting ring-buffer reader: %w", err)
	}
	reader.Start(ctx)
	defer reader.Stop()

	srtr := sorter.New(constants.SorterDefaultMaxBuffer)

	go rt.collectPipelineStats(ctx, srtr)

	collectorsDone := make(chan struct{})
	go func() {
		defer close(collectorsDone)
		rt.collectors.Start(ctx)
	}()

	exportersDone := make(chan struct{})
	go func() {
		defer close(exportersDone)
		rt.runExporters(ctx)
	}()

	rt.logger.Info("retisgo running", zap.Strings("collectors", active))

	rt.pump(ctx, reader, srtr)

	rt.logger.Info("shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer stopCancel()

	rt.drain(srtr)

	if err := rt.collectors.Stop(stopCtx); err != nil {
		rt.logger.Warn("error stopping collectors", zap.Error(err))
	}
	<-collectorsDone

	rt.bus.Close()

	for _, e := range rt.exporters {
		if err := e.Stop(stopCtx); err != nil {
			rt.logger.Warn("error stopping exporter", zap.String("exporter", e.Name()), zap.Error(err))
		}
	}
	<-exportersDone

	rt.logger.Info("retisgo stopped",
		zap.Uint64("events_published", rt.bus.Published()),
		zap.Uint64("events_dropped", rt.bus.Dropped()))

	return nil
}

// runExporters starts every registered exporter and blocks until all of
// them return.
func (rt *Runtime) runExporters(ctx context.Context) {
	done := make(chan struct{}, len(rt.exporters))
	for _, e := range rt.exporters {
		go func(e export.Exporter) {
			rt.logger.Info("starting exporter", zap.String("exporter", e.Name()))
			if err := e.Start(ctx); err != nil && ctx.Err() == nil {
				rt.logger.Error("exporter error", zap.String("exporter", e.Name()), zap.Error(err))
			}
			done <- struct{}{}
		}(e)
	}
	for range rt.exporters {
		<-done
	}
}

// pump drains the Reader's next_event contract into the Sorter, emitting
// any series the Sorter evicts under buffer pressure onto the EventBus,
// until ctx is cancelled.
func (rt *Runtime) pump(ctx context.Context, reader *ringreader.Reader, srtr *sorter.Sorter) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result := reader.Next(ctx, constants.RingBufPollTimeout)
		switch result.Outcome {
		case stream.OutcomeEvent:
			if series := srtr.Add(result.Event); series != nil {
				rt.publish(series)
			}
		case stream.OutcomeTimeout:
			if ctx.Err() != nil {
				return
			}
		case stream.OutcomeEof:
			return
		}
	}
}

// collectPipelineStats periodically samples the Sorter's buffered-event
// count and the Tracking GC's cumulative reap count, the same ticking
// collect idiom internal/export/prometheus.go's collectBusStats uses for
// EventBus stats.
func (rt *Runtime) collectPipelineStats(ctx context.Context, srtr *sorter.Sorter) {
	ticker := time.NewTicker(constants.StatsCollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.sorterBuffered.Set(float64(srtr.Len()))
			rt.trackingGCReaped.Set(float64(rt.gc.Reaped()))
		}
	}
}

// drain flushes every series still buffered in the Sorter onto the
// EventBus (spec §4.7: EOF behavior), oldest first.
func (rt *Runtime) drain(srtr *sorter.Sorter) {
	for _, series := range srtr.Drain() {
		rt.publish(series)
	}
}

func (rt *Runtime) publish(series *sorter.Series) {
	for _, e := range series.Events {
		rt.bus.Publish(e)
	}
}
