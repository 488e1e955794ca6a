// Package ovs implements the Open vSwitch upcall collector (spec §12
// supplement): a kprobe/kretprobe pair around the upcall enqueue path
// producing paired "upcall-enqueue"/"upcall-return" OvsEvent sections,
// plus a long-lived correlation map handed to the Tracking GC.
//
// Grounded on the teacher's internal/probes/fileio/fileio.go (the
// kprobe+kretprobe entry/exit pairing shape), adapted from file I/O
// latency timing to upcall enqueue/return pairing: the entry probe
// records a batch/port identity, the return probe reports its outcome,
// which is the same "paired probe with a tracking map in between" shape
// file I/O used for latency, repurposed for OvsEvent.Kind pairing.
package ovs

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -type event ovs bpf/ovs.c -- -I../../../bpf/include

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

const hookName = "ovs"

// DataType values distinguish the enqueue record (written by the kprobe)
// from the return record (written by the kretprobe) within one frame.
const (
	dataTypeEnqueue uint8 = iota
	dataTypeReturn
)

// rawEnqueueSize is the size of the record written by the kprobe on the
// upcall enqueue path.
const rawEnqueueSize = 20

// rawReturnSize is the size of the record written by the kretprobe,
// keyed to the same port/batch identity.
const rawReturnSize = 12

// Collector attaches the OVS upcall enqueue/return probes and registers
// the Ovs Section Factory. The upcall_tracking correlation map is handed
// to the Tracking GC once attached.
type Collector struct {
	logger  *zap.Logger
	manager *probe.Manager
	gc      collector.TrackingGCSink
}

func New() *Collector { return &Collector{} }

func (c *Collector) Name() string              { return constants.ModuleOvs }
func (c *Collector) KnownKernelTypes() []string { return []string{"struct sk_buff *"} }
func (c *Collector) CanRun() error              { return nil }

func (c *Collector) Init(_ context.Context, deps collector.Dependencies) error {
	c.logger = deps.Logger
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.manager = deps.Manager
	c.gc = deps.TrackingGC

	spec, err := loadOvs()
	if err != nil {
		return fmt.Errorf("ovs: loading BPF spec: %w", err)
	}

	enqueue := probe.Probe{
		Kind:   probe.Kprobe,
		Symbol: "ovs_dp_upcall",
		Hooks: []probe.Hook{
			{Name: hookName, Spec: spec, ProgName: "kprobe_ovs_dp_upcall"},
		},
	}
	if err := deps.Manager.Register(enqueue); err != nil {
		return fmt.Errorf("ovs: registering upcall enqueue probe: %w", err)
	}

	ret := probe.Probe{
		Kind:   probe.Kretprobe,
		Symbol: "ovs_dp_upcall",
		Hooks: []probe.Hook{
			{Name: hookName, Spec: spec, ProgName: "kretprobe_ovs_dp_upcall"},
		},
	}
	if err := deps.Manager.Register(ret); err != nil {
		return fmt.Errorf("ovs: registering upcall return probe: %w", err)
	}

	return deps.Codec.Register(event.Ovs, decodeOvs)
}

// Start hands the upcall_tracking correlation map to the Tracking GC, the
// same way skbtracking hands off skb_tracking.
func (c *Collector) Start(context.Context) error {
	if c.manager == nil || c.gc == nil {
		return nil
	}
	m, ok := c.manager.CollectionMap(hookName, "upcall_tracking")
	if !ok {
		c.logger.Debug("ovs: no correlation map to watch")
		return nil
	}
	c.gc.Watch("upcall_tracking", m, trackinggc.DecodeLeadingTimestamp)
	return nil
}

func (c *Collector) Stop(context.Context) error { return nil }

func decodeOvs(records []codec.RawSection, e *event.Event) error {
	for _, rec := range records {
		switch rec.DataType {
		case dataTypeEnqueue:
			if len(rec.Data) < rawEnqueueSize {
				return fmt.Errorf("ovs: enqueue record too short (%d bytes)", len(rec.Data))
			}
			sec := event.OvsEvent{
				Kind:      "upcall-enqueue",
				PortNo:    binary.LittleEndian.Uint32(rec.Data[0:4]),
				UpcallPid: binary.LittleEndian.Uint32(rec.Data[4:8]),
				BatchTs:   binary.LittleEndian.Uint64(rec.Data[8:16]),
				BatchIdx:  binary.LittleEndian.Uint32(rec.Data[16:20]),
			}
			if err := e.InsertOvs(sec); err != nil {
				return err
			}
		case dataTypeReturn:
			if len(rec.Data) < rawReturnSize {
				return fmt.Errorf("ovs: return record too short (%d bytes)", len(rec.Data))
			}
			sec := event.OvsEvent{
				Kind:     "upcall-return",
				Cmd:      rec.Data[0],
				QueueId:  binary.LittleEndian.Uint32(rec.Data[4:8]),
				RecircId: binary.LittleEndian.Uint32(rec.Data[8:12]),
			}
			if err := e.InsertOvs(sec); err != nil {
				return err
			}
		default:
			return fmt.Errorf("ovs: unknown record data type %d", rec.DataType)
		}
	}
	return nil
}
