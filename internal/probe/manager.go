package probe

import (
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"go.uber.org/zap"
)

// Manager is the Probe Manager of spec §4.5: a deduplicating catalogue of
// probe attachment points, shared-map reuse, and a single atomic attach
// step invoked exactly once at start.
type Manager struct {
	mu       sync.Mutex
	logger   *zap.Logger
	resolver SymbolResolver

	order     []key
	catalogue map[key]*Probe

	sharedMaps map[string]*ebpf.Map

	attached    bool
	links       []link.Link
	colls       []*ebpf.Collection
	collByHook  map[string]*ebpf.Collection
	collBySpec  map[*ebpf.CollectionSpec]*ebpf.Collection
}

// NewManager constructs an empty Manager. resolver is the external
// kernel-symbol/BTF oracle (spec §1, out of scope: assumed as a queryable
// oracle) used to expand kprobe wildcards.
func NewManager(resolver SymbolResolver, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:     logger,
		resolver:   resolver,
		catalogue:  make(map[key]*Probe),
		sharedMaps: make(map[string]*ebpf.Map),
	}
}

// ReuseMap registers a shared BPF map that subsequently loaded hooks'
// programs should bind to in place of their own map definition of the
// same name. The runtime registers the shared "events" and "log" ring
// buffers this way; no shared stack map is created.
func (m *Manager) ReuseMap(name string, mp *ebpf.Map) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharedMaps[name] = mp
}

// SharedMap returns a previously registered shared map, if any. Collectors
// use this to read back the maps they handed to the Manager (e.g. to hand
// them on to the Tracking GC).
func (m *Manager) SharedMap(name string) (*ebpf.Map, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.sharedMaps[name]
	return mp, ok
}

// Register adds p to the catalogue. Registering the same (kind, target)
// twice merges hook lists and options rather than creating a second
// attachment point (spec §4.5, §8 testable property).
func (m *Manager) Register(p Probe) error {
	if m.attached {
		return fmt.Errorf("probe: cannot register after Attach")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := p.key()
	if existing, ok := m.catalogue[k]; ok {
		existing.Hooks = append(existing.Hooks, p.Hooks...)
		existing.Opts.StackTrace = existing.Opts.StackTrace || p.Opts.StackTrace
		return nil
	}

	cp := p
	m.catalogue[k] = &cp
	m.order = append(m.order, k)
	return nil
}

// Probes returns a snapshot of the registered catalogue, in registration
// order, for inspection/testing.
func (m *Manager) Probes() []Probe {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Probe, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, *m.catalogue[k])
	}
	return out
}

// Attach loads every unique hook program, rewrites its maps to any shared
// maps registered via ReuseMap, and attaches every probe in one batch
// (spec §4.5). It must be called exactly once, at start; partial failure
// is fatal and unwinds everything attached so far.
func (m *Manager) Attach() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attached {
		return fmt.Errorf("probe: Attach called twice")
	}
	m.attached = true

	for _, k := range m.order {
		p := m.catalogue[k]
		for _, h := range p.Hooks {
			if err := m.attachHook(*p, h); err != nil {
				m.closeLocked()
				return fmt.Errorf("probe: attaching %s hook %q for %s %s: %w",
					p.Kind, h.Name, p.Kind, p.Target(), err)
			}
		}
	}
	return nil
}

// attachHook loads h.Spec's collection once per distinct spec value and
// reuses it for every subsequent hook that shares the same spec pointer
// (e.g. two kprobes attached from programs in the same compilation unit,
// such as skbtracking's tcp_connect/tcp_close pair) so they observe the
// same map instances rather than independent copies.
func (m *Manager) attachHook(p Probe, h Hook) error {
	if m.collBySpec == nil {
		m.collBySpec = make(map[*ebpf.CollectionSpec]*ebpf.Collection)
	}
	coll, ok := m.collBySpec[h.Spec]
	if !ok {
		opts := ebpf.CollectionOptions{MapReplacements: m.replacementsFor(h.Spec)}
		var err error
		coll, err = ebpf.NewCollectionWithOptions(h.Spec, opts)
		if err != nil {
			return fmt.Errorf("loading collection: %w", err)
		}
		m.colls = append(m.colls, coll)
		m.collBySpec[h.Spec] = coll
	}
	if m.collByHook == nil {
		m.collByHook = make(map[string]*ebpf.Collection)
	}
	m.collByHook[h.Name] = coll

	prog, ok := coll.Programs[h.ProgName]
	if !ok {
		return fmt.Errorf("program %q not found in hook %q", h.ProgName, h.Name)
	}

	lnk, err := m.attachProgram(p, prog)
	if err != nil {
		return err
	}
	m.links = append(m.links, lnk)
	return nil
}

func (m *Manager) attachProgram(p Probe, prog *ebpf.Program) (link.Link, error) {
	switch p.Kind {
	case Kprobe:
		return link.Kprobe(p.Symbol, prog, nil)
	case Kretprobe:
		return link.Kretprobe(p.Symbol, prog, nil)
	case RawTracepoint:
		return link.AttachRawTracepoint(link.RawTracepointOptions{
			Name:    p.Name,
			Program: prog,
		})
	case Usdt:
		exe, err := link.OpenExecutable(p.Process)
		if err != nil {
			return nil, fmt.Errorf("opening usdt target %q: %w", p.Process, err)
		}
		return exe.Usdt(p.Provider, p.Name, prog, nil)
	default:
		return nil, fmt.Errorf("unknown probe kind %d", p.Kind)
	}
}

func (m *Manager) replacementsFor(spec *ebpf.CollectionSpec) map[string]*ebpf.Map {
	if spec == nil {
		return nil
	}
	out := make(map[string]*ebpf.Map)
	for name := range spec.Maps {
		if shared, ok := m.sharedMaps[name]; ok {
			out[name] = shared
		}
	}
	return out
}

// CollectionMap returns a map by name from the collection loaded for the
// hook named hookName, once Attach has run. Collectors use this to fetch
// the concrete *ebpf.Map backing a shared map they registered via
// ReuseMap (e.g. the events ring buffer) for their own bookkeeping, or a
// hook-local map (e.g. a correlation map) to hand to the Tracking GC.
func (m *Manager) CollectionMap(hookName, mapName string) (*ebpf.Map, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collByHook[hookName]
	if !ok {
		return nil, false
	}
	mp, ok := coll.Maps[mapName]
	return mp, ok
}

// Detach tears down every attached link and loaded collection. Safe to
// call multiple times.
func (m *Manager) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	var firstErr error
	for _, l := range m.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.links = nil
	for _, c := range m.colls {
		c.Close()
	}
	m.colls = nil
	m.collByHook = nil
	m.collBySpec = nil
	return firstErr
}
