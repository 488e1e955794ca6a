// Package skbtracking implements the packet fingerprint collector (spec
// §12 supplement): a kprobe pair that assigns a (orig_head, timestamp)
// identity to a flow the first time it is seen and clears it when the
// flow closes, feeding the Tracking GC's periodic sweep.
//
// Grounded on the teacher's internal/probes/tcp/tcp.go (kprobe pair on
// tcp_connect/tcp_close, ring-buffer consumer), adapted from latency
// measurement to fingerprint lifecycle tracking: tcp_connect assigns the
// fingerprint, tcp_close is the signal the correlation map entry may be
// reaped (internal/trackinggc).
package skbtracking

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -type event skbtracking bpf/skbtracking.c -- -I../../../bpf/include

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/codec"
	"github.com/kubearch/retisgo/internal/collector"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/probe"
	"github.com/kubearch/retisgo/internal/trackinggc"
)

const hookName = "skbtracking"

const rawRecordSize = 16

// Collector attaches tcp_connect/tcp_close and registers the SkbTracking
// Section Factory. The correlation map populated by the BPF side
// (skb_tracking, keyed by orig_head) is handed to the shared Tracking GC
// once the probe is attached.
type Collector struct {
	logger  *zap.Logger
	manager *probe.Manager
	gc      collector.TrackingGCSink
}

func New() *Collector { return &Collector{} }

func (c *Collector) Name() string              { return constants.ModuleSkbTracking }
func (c *Collector) KnownKernelTypes() []string { return []string{"struct sock *"} }
func (c *Collector) CanRun() error              { return nil }

func (c *Collector) Init(_ context.Context, deps collector.Dependencies) error {
	c.logger = deps.Logger
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.manager = deps.Manager
	c.gc = deps.TrackingGC

	spec, err := loadSkbtracking()
	if err != nil {
		return fmt.Errorf("skbtracking: loading BPF spec: %w", err)
	}

	p := probe.Probe{
		Kind:   probe.Kprobe,
		Symbol: "tcp_connect",
		Hooks: []probe.Hook{
			{Name: hookName, Spec: spec, ProgName: "kprobe_tcp_connect"},
		},
	}
	if err := deps.Manager.Register(p); err != nil {
		return fmt.Errorf("skbtracking: registering tcp_connect probe: %w", err)
	}
	closeProbe := probe.Probe{
		Kind:   probe.Kprobe,
		Symbol: "tcp_close",
		Hooks: []probe.Hook{
			{Name: hookName, Spec: spec, ProgName: "kprobe_tcp_close"},
		},
	}
	if err := deps.Manager.Register(closeProbe); err != nil {
		return fmt.Errorf("skbtracking: registering tcp_close probe: %w", err)
	}

	return deps.Codec.Register(event.SkbTracking, decodeSkbTracking)
}

// Start hands the correlation map populated by the now-attached probes to
// the Tracking GC. It does not block: consumption happens centrally in
// internal/ringreader.
func (c *Collector) Start(context.Context) error {
	if c.manager == nil || c.gc == nil {
		return nil
	}
	m, ok := c.manager.CollectionMap(hookName, "skb_tracking")
	if !ok {
		c.logger.Debug("skbtracking: no correlation map to watch")
		return nil
	}
	c.gc.Watch("skb_tracking", m, trackinggc.DecodeLeadingTimestamp)
	return nil
}

func (c *Collector) Stop(context.Context) error { return nil }

func decodeSkbTracking(records []codec.RawSection, e *event.Event) error {
	for _, rec := range records {
		if len(rec.Data) < rawRecordSize {
			return fmt.Errorf("skbtracking: record too short (%d bytes)", len(rec.Data))
		}
		sec := event.SkbTrackingEvent{
			OrigHead:  binary.LittleEndian.Uint64(rec.Data[0:8]),
			Timestamp: binary.LittleEndian.Uint64(rec.Data[8:16]),
		}
		if err := e.InsertSkbTracking(sec); err != nil {
			return err
		}
	}
	return nil
}
