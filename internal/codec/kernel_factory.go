package codec

import (
	"fmt"

	"github.com/kubearch/retisgo/internal/event"
)

// RegisterKernelFactory wires the always-enabled Kernel section factory
// into registry, the same way RegisterCommonFactory wires Common: Kernel
// has no single owning collector either, since every attached probe may
// contribute one record describing itself. Collectors identify their
// origin via RegisterKernelOrigin during Init rather than registering a
// competing factory.
func RegisterKernelFactory(registry *Registry) error {
	return registry.Register(event.Kernel, registry.decodeKernel)
}

// decodeKernel resolves each record's data-type tag (the per-probe origin
// id a collector registered via RegisterKernelOrigin) back to a
// KernelEvent. A frame may carry more than one Kernel record only when
// more than one attached probe fired within the same capture window; the
// last one decoded wins, matching the "last insert wins" idiom Insert
// itself forbids for every other section — Kernel is explicitly
// many-per-event by construction, so this factory, not Event.Insert,
// owns the merge behavior.
func (r *Registry) decodeKernel(records []RawSection, e *event.Event) error {
	var k event.KernelEvent
	found := false

	for _, rec := range records {
		origin, ok := r.kernelOrigin(rec.DataType)
		if !ok {
			return fmt.Errorf("kernel: no registered origin for data type %d", rec.DataType)
		}
		k = origin
		found = true
	}

	if !found {
		return nil
	}
	return e.InsertKernel(k)
}
