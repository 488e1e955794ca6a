// Package skbdrop implements the packet-drop collector (spec §12
// supplement): a single raw tracepoint on skb:kfree_skb producing one
// SkbDrop section per drop.
//
// Grounded on the teacher's internal/probes/drop/drop.go (tracepoint
// attach + fixed-layout ring buffer record), adapted from the teacher's
// flat Event{Type,Labels,Numeric} shape to a codec Section Factory that
// feeds the shared TLV events ring buffer (internal/codec,
// internal/ringreader) instead of owning a private ring buffer reader.
package skbdrop

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -type event skbdrop bpf/skbdrop.c -- -I../../../bpf/include

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/bpfutil"
	"github.com/kubearch/retisgo/internal/codec"
	"github.com/kubearch/retisgo/internal/collector"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/probe"
)

const hookName = "skbdrop"

// rawRecord is the BPF-side layout for a kfree_skb_reason hit
// (byte-identical to the C struct the tracepoint program writes).
type rawRecord struct {
	OrigHead  uint64
	Timestamp uint64
	Reason    uint32
	_         uint32
}

const rawRecordSize = 24

// Collector attaches skb:kfree_skb and registers the SkbDrop Section
// Factory.
type Collector struct {
	logger *zap.Logger
}

func New() *Collector { return &Collector{} }

func (c *Collector) Name() string                  { return constants.ModuleSkbDrop }
func (c *Collector) KnownKernelTypes() []string     { return []string{"struct sk_buff *"} }
func (c *Collector) CanRun() error                  { return nil }

func (c *Collector) Init(_ context.Context, deps collector.Dependencies) error {
	c.logger = deps.Logger
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	spec, err := loadSkbdrop()
	if err != nil {
		return fmt.Errorf("skbdrop: loading BPF spec: %w", err)
	}

	p := probe.Probe{
		Kind:  probe.RawTracepoint,
		Group: "skb",
		Name:  "kfree_skb",
		Hooks: []probe.Hook{{Name: hookName, Spec: spec, ProgName: "tracepoint_kfree_skb"}},
	}
	if err := deps.Manager.Register(p); err != nil {
		return fmt.Errorf("skbdrop: registering probe: %w", err)
	}

	return deps.Codec.Register(event.SkbDrop, decodeSkbDrop)
}

func (c *Collector) Start(context.Context) error { return nil }
func (c *Collector) Stop(context.Context) error  { return nil }

func decodeSkbDrop(records []codec.RawSection, e *event.Event) error {
	for _, rec := range records {
		if len(rec.Data) < rawRecordSize {
			return fmt.Errorf("skbdrop: record too short (%d bytes)", len(rec.Data))
		}
		var raw rawRecord
		raw.OrigHead = binary.LittleEndian.Uint64(rec.Data[0:8])
		raw.Timestamp = binary.LittleEndian.Uint64(rec.Data[8:16])
		raw.Reason = binary.LittleEndian.Uint32(rec.Data[16:20])

		sec := event.SkbDropEvent{
			Reason: bpfutil.DropReasonString(raw.Reason),
			Tracking: event.SkbTrackingEvent{
				OrigHead:  raw.OrigHead,
				Timestamp: raw.Timestamp,
			},
		}
		if err := e.InsertSkbDrop(sec); err != nil {
			return err
		}
	}
	return nil
}
