// Package kerneloom implements the OOM-kill collector (spec §12
// supplement, ambient task/process visibility): a single tracepoint on
// oom:mark_victim.
//
// Grounded on the teacher's internal/probes/oom/oom.go (tracepoint
// attach + fixed-layout ring buffer record). As with kernelexec, process
// identity rides in the Common section every probe already emits; there
// is no dedicated OOM section in the wire format, so the teacher's
// memory-footprint fields (TotalVM, AnonRSS, OOMScoreAdj) have no
// section to land in and are dropped rather than forced into an
// unrelated one.
package kerneloom

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -type event kerneloom bpf/kerneloom.c -- -I../../../bpf/include

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/collector"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/probe"
)

// kernelDataType is this collector's tag within the shared Kernel owner,
// distinct from kernelexec.Collector's tag.
const kernelDataType uint8 = 2

// Collector attaches oom:mark_victim. Its BPF program contributes a
// Common-owned record (decoded centrally) and a Kernel-owned record
// tagged kernelDataType.
type Collector struct {
	logger *zap.Logger
}

func New() *Collector { return &Collector{} }

func (c *Collector) Name() string              { return constants.ModuleKernelOOM }
func (c *Collector) KnownKernelTypes() []string { return nil }
func (c *Collector) CanRun() error              { return nil }

func (c *Collector) Init(_ context.Context, deps collector.Dependencies) error {
	c.logger = deps.Logger
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	spec, err := loadKerneloom()
	if err != nil {
		return fmt.Errorf("kerneloom: loading BPF spec: %w", err)
	}

	p := probe.Probe{
		Kind:  probe.RawTracepoint,
		Group: "oom",
		Name:  "mark_victim",
		Hooks: []probe.Hook{{Name: "kerneloom", Spec: spec, ProgName: "tracepoint_oom_mark_victim"}},
	}
	if err := deps.Manager.Register(p); err != nil {
		return fmt.Errorf("kerneloom: registering probe: %w", err)
	}

	deps.Codec.RegisterKernelOrigin(kernelDataType, "mark_victim", "raw_tracepoint")
	return nil
}

func (c *Collector) Start(context.Context) error { return nil }
func (c *Collector) Stop(context.Context) error  { return nil }
