package export

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/metadata"
)

// Prometheus is an Exporter that consumes events from the EventBus and
// updates Prometheus metrics. Implements the Exporter interface.
type Prometheus struct {
	addr     string
	logger   *zap.Logger
	bus      *event.Bus
	metadata *metadata.Cache
	events   <-chan *event.Event
	server   *http.Server
	ready    atomic.Bool

	// Packet tracing
	skbDrops       *prometheus.CounterVec
	skbDropLatency *prometheus.HistogramVec
	skbTracked     *prometheus.CounterVec
	connStates     *prometheus.CounterVec
	ovsUpcalls     *prometheus.CounterVec

	// System
	oomKills     *prometheus.CounterVec
	processExecs *prometheus.CounterVec

	// Self-observability
	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	busQueueDepth   *prometheus.GaugeVec
	moduleErrors    *prometheus.CounterVec
}

// NewPrometheus creates a Prometheus exporter that subscribes to the
// EventBus. meta resolves a task's Namespace/Pod labels from its pid; it
// may be nil, in which case those labels are left empty.
func NewPrometheus(addr string, bus *event.Bus, meta *metadata.Cache, logger *zap.Logger) *Prometheus {
	p := &Prometheus{
		addr:     addr,
		logger:   logger,
		bus:      bus,
		metadata: meta,

		skbDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricSkbDrops,
			Help: "Total packets dropped by the kernel, by reason.",
		}, constants.LabelsReasonNode),

		skbDropLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    constants.MetricPrefix + "skb_drop_latency_seconds",
			Help:    "Time between a tracked skb's fingerprint assignment and its drop.",
			Buckets: constants.NetworkLatencyBuckets,
		}, []string{constants.LabelNode}),

		skbTracked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricSkbTracked,
			Help: "Total skbs assigned a tracking fingerprint.",
		}, []string{constants.LabelNode}),

		connStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricConnStates,
			Help: "Total TCP connection state observations, by state.",
		}, constants.LabelsStateNode),

		ovsUpcalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricOvsUpcalls,
			Help: "Total OVS datapath upcalls, by kind.",
		}, constants.LabelsKindNode),

		oomKills: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricOOMKills,
			Help: "Total OOM kill events.",
		}, constants.LabelsNamespacePodNode),

		processExecs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricProcessExecs,
			Help: "Total process executions.",
		}, constants.LabelsNamespacePodNode),

		eventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricEventsProcessed,
			Help: "Total events processed by exporter, by section.",
		}, constants.LabelsModule),

		eventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricEventsDropped,
			Help: "Total events dropped due to backpressure.",
		}, constants.LabelsSubscriber),

		busQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: constants.MetricBusQueueDepth,
			Help: "Current event bus queue depth per subscriber.",
		}, constants.LabelsSubscriber),

		moduleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: constants.MetricModuleErrors,
			Help: "Total errors by module.",
		}, constants.LabelsModule),
	}

	p.events = bus.Subscribe(constants.ExporterPrometheus)

	return p
}

func (p *Prometheus) Name() string { return constants.ExporterPrometheus }

func (p *Prometheus) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(constants.PathMetrics, promhttp.Handler())
	mux.HandleFunc(constants.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc(constants.PathReadyz, func(w http.ResponseWriter, r *http.Request) {
		if p.ready.Load() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready\n"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready\n"))
		}
	})

	p.server = &http.Server{
		Addr:         p.addr,
		Handler:      mux,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}

	go func() {
		p.logger.Info("Prometheus exporter listening",
			zap.String("addr", p.addr),
			zap.String("path", constants.PathMetrics))
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			p.logger.Error("Prometheus HTTP server error", zap.Error(err))
		}
	}()

	go p.collectBusStats(ctx)

	p.ready.Store(true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-p.events:
			if !ok {
				return nil
			}
			p.processEvent(e)
		}
	}
}

func (p *Prometheus) Stop(ctx context.Context) error {
	p.ready.Store(false)
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}

// SetReady marks the exporter as ready for readiness probes.
func (p *Prometheus) SetReady() {
	p.ready.Store(true)
}

// taskMeta returns the namespace and pod of e's task for use as labels,
// falling back to empty strings — Prometheus Vec lookups accept empty
// label values.
func (p *Prometheus) taskMeta(e *event.Event) (namespace, pod string) {
	if !e.Has(event.Common) || e.CommonSec.Task == nil || p.metadata == nil {
		return "", ""
	}
	meta, ok := p.metadata.Lookup(uint32(e.CommonSec.Task.Pid))
	if !ok {
		return "", ""
	}
	return meta.Namespace, meta.PodName
}

// processEvent dispatches e to the metrics its present sections feed.
// One event may update more than one metric (e.g. a tracked skb drop
// updates both the drop counter and the fingerprint-to-drop latency).
func (p *Prometheus) processEvent(e *event.Event) {
	for _, id := range e.Sections() {
		p.eventsProcessed.WithLabelValues(id.String()).Inc()
	}

	node := ""
	if e.Has(event.Common) {
		node = "" // node identity is carried out-of-band by the scrape target, not per-event
	}

	if e.Has(event.SkbTracking) {
		p.skbTracked.WithLabelValues(node).Inc()
	}

	if e.Has(event.SkbDrop) {
		p.skbDrops.WithLabelValues(e.SkbDropSec.Reason, node).Inc()
		if e.Has(event.Common) && e.SkbDropSec.Tracking.Timestamp != 0 {
			drop := e.CommonSec.Timestamp
			if drop > e.SkbDropSec.Tracking.Timestamp {
				p.skbDropLatency.WithLabelValues(node).
					Observe(float64(drop-e.SkbDropSec.Tracking.Timestamp) / 1e9)
			}
		}
	}

	if e.Has(event.Ct) && e.CtSec.Base.TcpState != "" {
		p.connStates.WithLabelValues(e.CtSec.Base.TcpState, node).Inc()
	}

	if e.Has(event.Ovs) {
		p.ovsUpcalls.WithLabelValues(e.OvsSec.Kind, node).Inc()
	}

	if e.Has(event.Kernel) {
		ns, pod := p.taskMeta(e)
		switch e.KernelSec.Symbol {
		case "mark_victim":
			p.oomKills.WithLabelValues(ns, pod, node).Inc()
		case "sched_process_exec":
			p.processExecs.WithLabelValues(ns, pod, node).Inc()
		}
	}
}

// collectBusStats periodically updates event bus self-observability metrics.
func (p *Prometheus) collectBusStats(ctx context.Context) {
	ticker := time.NewTicker(constants.StatsCollectInterval)
	defer ticker.Stop()

	// Stats reports cumulative drops; only the increase since the last
	// tick is added to the counter.
	lastDrops := make(map[string]uint64)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.bus.Stats()
			for name, depth := range stats.QueueDepth {
				p.busQueueDepth.WithLabelValues(name).Set(float64(depth))
			}
			for name, drops := range stats.DroppedBySubscriber {
				if drops > lastDrops[name] {
					p.eventsDropped.WithLabelValues(name).Add(float64(drops - lastDrops[name]))
				}
				lastDrops[name] = drops
			}
		}
	}
}
