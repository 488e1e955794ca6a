// Package probe implements the Probe Manager (spec §4.5): a deduplicating
// catalogue of probe attachment points, shared-map reuse between the
// programs attached under them, and a single atomic "attach all" step.
//
// Grounded on the teacher's internal/loader/loader.go for the cilium/ebpf
// load → rewrite-maps → link.Kprobe/Kretprobe/Tracepoint attach sequence,
// generalized from eight hardcoded probes to an arbitrary registered set,
// and on _examples/original_source/src/collect/collector.rs for the
// catalogue/dedup contract and probe-spec parsing rules (see parse.go).
package probe

import (
	"fmt"

	"github.com/cilium/ebpf"
)

// Kind is the tagged-variant discriminant of Probe (spec §4.5).
type Kind uint8

const (
	Kprobe Kind = iota
	Kretprobe
	RawTracepoint
	Usdt
)

func (k Kind) String() string {
	switch k {
	case Kprobe:
		return "kprobe"
	case Kretprobe:
		return "kretprobe"
	case RawTracepoint:
		return "raw_tracepoint"
	case Usdt:
		return "usdt"
	default:
		return "unknown"
	}
}

// Hook is one opaque BPF program blob attached under a Probe. Spec.Maps
// that have no shared-map replacement registered with the Manager keep
// their program-local definition; the caller (a Collector) is responsible
// for compiling the spec — loading and linking are the Manager's job
// (spec §1: probe-program compilation is an external, opaque input).
type Hook struct {
	Name     string
	Spec     *ebpf.CollectionSpec
	ProgName string
}

// Options are per-probe attachment options (spec §4.5: "currently:
// request-stack-trace").
type Options struct {
	StackTrace bool
}

// Probe is the tagged variant of spec §4.5. Exactly the fields relevant to
// Kind are meaningful; the rest are zero.
type Probe struct {
	Kind Kind

	// Kprobe / Kretprobe target symbol.
	Symbol string
	// RawTracepoint group and name (e.g. "skb", "kfree_skb").
	Group string
	Name  string
	// Usdt target process and provider::probe.
	Process  string
	Provider string

	Hooks []Hook
	Opts  Options
}

// key is the catalogue's dedup key (spec §4.5: "a set keyed by
// (kind, target)").
type key struct {
	kind   Kind
	target string
}

func (p Probe) key() key {
	switch p.Kind {
	case Kprobe, Kretprobe:
		return key{p.Kind, p.Symbol}
	case RawTracepoint:
		return key{p.Kind, p.Group + ":" + p.Name}
	case Usdt:
		return key{p.Kind, p.Process + ":" + p.Provider + "::" + p.Name}
	default:
		return key{p.Kind, ""}
	}
}

// Target returns the human-readable attachment target, used in Attach's
// error messages. No "useless probe" warning is emitted.
func (p Probe) Target() string {
	switch p.Kind {
	case Kprobe, Kretprobe:
		return p.Symbol
	case RawTracepoint:
		return fmt.Sprintf("%s:%s", p.Group, p.Name)
	case Usdt:
		return fmt.Sprintf("%s:%s::%s", p.Process, p.Provider, p.Name)
	default:
		return ""
	}
}
