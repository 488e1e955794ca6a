// Package trackinggc implements the Tracking GC (spec §4.6/§9): a
// periodic sweeper over long-lived kernel correlation hash maps
// (skb_tracking, OVS upcall_tracking, flow_exec_tracking), evicting
// entries whose 8-byte little-endian insertion timestamp is older than a
// configurable limit.
//
// No teacher analogue exists (its TCP/DNS probes carry no correlation
// state), so the goroutine shape is grounded on the ticking
// collect-and-sweep idiom in internal/export/prometheus.go's
// collectBusStats: a time.Ticker driven loop selecting on ctx.Done(),
// generalized from collecting metrics to enumerating and deleting kernel
// map entries.
package trackinggc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/kubearch/retisgo/internal/constants"
)

// TimestampDecoder extracts the little-endian nanosecond insertion
// timestamp prefix from a tracking map's raw value bytes (spec §9).
type TimestampDecoder func(value []byte) (uint64, error)

// DecodeLeadingTimestamp is the default TimestampDecoder: the first 8
// bytes of the value, little-endian (spec §9's "Tracking GC timestamp
// field" contract).
func DecodeLeadingTimestamp(value []byte) (uint64, error) {
	if len(value) < 8 {
		return 0, fmt.Errorf("trackinggc: value too short for timestamp prefix (%d bytes)", len(value))
	}
	return binary.LittleEndian.Uint64(value[:8]), nil
}

type watchedMap struct {
	name   string
	m      *ebpf.Map
	decode TimestampDecoder
}

// GC is the shared sweeper collectors hand their long-lived maps to.
type GC struct {
	logger   *zap.Logger
	interval time.Duration
	limit    time.Duration
	now      func() uint64

	mu   sync.Mutex
	maps []watchedMap

	reaped atomic.Uint64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Reaped returns the cumulative number of entries evicted across every
// watched map since the GC started, for the agent runtime's
// tracking_gc_reaped_total gauge.
func (g *GC) Reaped() uint64 { return g.reaped.Load() }

// Option configures New.
type Option func(*GC)

// WithInterval overrides the default sweep interval.
func WithInterval(d time.Duration) Option { return func(g *GC) { g.interval = d } }

// WithLimit overrides the default entry max age.
func WithLimit(d time.Duration) Option { return func(g *GC) { g.limit = d } }

// WithClock overrides the monotonic-nanosecond clock used to judge entry
// age, for tests.
func WithClock(now func() uint64) Option { return func(g *GC) { g.now = now } }

// New constructs a GC with spec-default interval (5s) and limit (60s).
func New(logger *zap.Logger, opts ...Option) *GC {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &GC{
		logger:   logger,
		interval: constants.TrackingGCInterval,
		limit:    constants.TrackingGCLimit,
		now: func() uint64 {
			var ts unix.Timespec
			if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
				return 0
			}
			return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Watch registers a long-lived correlation map for periodic sweeping
// (spec §4.6: "Any collector that installs a long-lived correlation hash
// map ... hands its map to a shared GC").
func (g *GC) Watch(name string, m *ebpf.Map, decode TimestampDecoder) {
	if decode == nil {
		decode = DecodeLeadingTimestamp
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maps = append(g.maps, watchedMap{name: name, m: m, decode: decode})
}

// Start arms the sweeper on its own goroutine (spec §4.6: "start(running)
// arms it").
func (g *GC) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.wg.Add(1)
	go g.run(ctx)
}

// Join waits for the sweeper goroutine to exit after Stop is called
// (spec §4.6: "join() waits for it to exit after running is cleared").
func (g *GC) Join() {
	g.wg.Wait()
}

// Stop clears the running flag; the sweeper goroutine exits immediately
// if idle, or once the sweep in progress has finished.
func (g *GC) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
}

func (g *GC) run(ctx context.Context) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepAll()
		}
	}
}

func (g *GC) sweepAll() {
	g.mu.Lock()
	maps := make([]watchedMap, len(g.maps))
	copy(maps, g.maps)
	g.mu.Unlock()

	now := g.now()
	limitNs := uint64(g.limit.Nanoseconds())

	for _, wm := range maps {
		reaped, err := g.sweepOne(wm, now, limitNs)
		if err != nil {
			// Transient per spec §7: a single entry/sweep failure is
			// logged at debug and does not abort the sweep.
			g.logger.Debug("trackinggc: sweep failed", zap.String("map", wm.name), zap.Error(err))
			continue
		}
		if reaped > 0 {
			g.reaped.Add(uint64(reaped))
			g.logger.Debug("trackinggc: reaped stale entries",
				zap.String("map", wm.name), zap.Int("count", reaped))
		}
	}
}

func (g *GC) sweepOne(wm watchedMap, now, limitNs uint64) (int, error) {
	var (
		key, value []byte
		stale      [][]byte
	)
	iter := wm.m.Iterate()
	for iter.Next(&key, &value) {
		ts, err := wm.decode(value)
		if err != nil {
			g.logger.Debug("trackinggc: decode timestamp failed",
				zap.String("map", wm.name), zap.Error(err))
			continue
		}
		if now > ts && now-ts > limitNs {
			stale = append(stale, append([]byte(nil), key...))
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("trackinggc: iterating %q: %w", wm.name, err)
	}

	reaped := 0
	for _, k := range stale {
		if err := wm.m.Delete(k); err != nil {
			g.logger.Debug("trackinggc: delete failed",
				zap.String("map", wm.name), zap.Error(err))
			continue
		}
		reaped++
	}
	return reaped, nil
}
