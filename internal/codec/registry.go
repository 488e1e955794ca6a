package codec

import (
	"fmt"
	"sync"

	"github.com/kubearch/retisgo/internal/event"
)

// RawSection is one TLV record extracted from a frame, grouped by owner
// before being handed to its factory (spec §4.1 "grouped then dispatched").
type RawSection struct {
	DataType uint8
	Data     []byte
}

// SectionFactory turns every record for one owner into a typed section
// and inserts it into e. A factory may be called with more than one
// record (spec §3: "within one event, an owner may appear any number of
// times; its factory receives the whole record vector").
type SectionFactory func(records []RawSection, e *event.Event) error

// Registry is the Section Factory Registry (spec §4.2): a mapping from
// owner SectionId to the factory that builds it, built once from the set
// of enabled collectors and immutable thereafter. It is a plain
// constructed-once struct passed by reference, never a lazily
// initialized package-level singleton (spec §9 "Global state").
type Registry struct {
	mu        sync.RWMutex
	factories map[event.SectionId]SectionFactory
	byName    map[string]event.SectionId

	// kernelOrigins maps a probe's data-type tag (one per attached kprobe/
	// kretprobe/raw tracepoint) to the Symbol/ProbeType pair the Kernel
	// section factory reports for it. Unlike every other SectionId, Kernel
	// has no single owning collector — every probe contributes to it — so
	// collectors register their origin here instead of a factory of their
	// own (see RegisterKernelFactory).
	kernelOrigins map[uint8]event.KernelEvent
}

// NewRegistry returns an empty registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{
		factories:     make(map[event.SectionId]SectionFactory),
		byName:        make(map[string]event.SectionId),
		kernelOrigins: make(map[uint8]event.KernelEvent),
	}
}

// RegisterKernelOrigin associates dataType (the value a collector's BPF
// program tags its Kernel-owned record with) with the Symbol/ProbeType
// pair the decoded KernelEvent should carry. Collectors whose events
// should report their probe origin (spec's ambient "which probe fired"
// visibility) call this during Init instead of registering their own
// Kernel factory, avoiding the last-registration-wins collision every
// other owner would have if more than one collector claimed the same
// SectionId.
func (r *Registry) RegisterKernelOrigin(dataType uint8, symbol, probeType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernelOrigins[dataType] = event.KernelEvent{Symbol: symbol, ProbeType: probeType}
}

// Register associates id with factory. Re-registering the same id
// overwrites the previous factory, matching the teacher's "last
// registration wins" collector-registration idiom.
func (r *Registry) Register(id event.SectionId, factory SectionFactory) error {
	if !id.Valid() {
		return fmt.Errorf("codec: cannot register factory for invalid section id %d", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
	r.byName[id.String()] = id
	return nil
}

// Factory returns the factory registered for id, if any. The bool result
// mirrors the "missing section factory at decode time" fatal error path
// of spec §7: callers that find no factory must fail the frame.
func (r *Registry) Factory(id event.SectionId) (SectionFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	return f, ok
}

// Lookup resolves a section's textual name (used by the file-format path,
// spec §4.1) back to its SectionId, restricted to ids that have a
// registered factory.
func (r *Registry) Lookup(name string) (event.SectionId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

// kernelOrigin returns the Symbol/ProbeType registered for dataType, if
// any.
func (r *Registry) kernelOrigin(dataType uint8) (event.KernelEvent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kernelOrigins[dataType]
	return k, ok
}
