package collector

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/config"
)

// Mode selects how CanRun failures are handled (spec §4.6).
type Mode int

const (
	// AutoDetect demotes a CanRun failure to a debug log and skips the
	// collector silently. This is the default when the operator did not
	// explicitly request a set of collectors.
	AutoDetect Mode = iota
	// Explicit aborts startup on the first CanRun failure.
	Explicit
)

// Registry is the Collector Registry of spec §4.6: an ordered, named set
// of collectors sharing one init → start → stop lifecycle.
type Registry struct {
	logger *zap.Logger
	mode   Mode
	cfg    *config.Config

	mu         sync.Mutex
	order      []string
	collectors map[string]Collector
	running    map[string]bool
}

// NewRegistry constructs an empty Registry in the given Mode. cfg supplies
// each collector's per-module config (ring buffer size, sampling rate) at
// Init; it may be nil, in which case every collector gets config.Default's
// module defaults.
func NewRegistry(mode Mode, cfg *config.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Registry{
		logger:     logger,
		mode:       mode,
		cfg:        cfg,
		collectors: make(map[string]Collector),
		running:    make(map[string]bool),
	}
}

// Register adds c to the registry. Registering the same name twice is an
// error — unlike the Probe Manager's catalogue, collectors are not
// merged.
func (r *Registry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, ok := r.collectors[name]; ok {
		return fmt.Errorf("collector: %q already registered", name)
	}
	r.collectors[name] = c
	r.order = append(r.order, name)
	return nil
}

// Init runs CanRun and, on success, Init for every registered collector
// in registration order. In AutoDetect mode a CanRun failure is logged at
// debug and the collector is dropped from the active set; in Explicit
// mode the first failure aborts and returns the error. The names that
// actually initialized are returned for the startup summary (spec §4.6:
// "the set of collectors that actually initialized is reported once at
// startup").
func (r *Registry) Init(ctx context.Context, deps Dependencies) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var initialized []string
	for _, name := range r.order {
		c := r.collectors[name]
		if err := c.CanRun(); err != nil {
			if r.mode == AutoDetect {
				r.logger.Debug("collector skipped: prerequisites not met",
					zap.String("collector", name), zap.Error(err))
				continue
			}
			return initialized, fmt.Errorf("collector %q: prerequisites not met: %w", name, err)
		}

		deps.Config = r.cfg.ModuleConf(name)
		if err := c.Init(ctx, deps); err != nil {
			if r.mode == AutoDetect {
				r.logger.Debug("collector skipped: init failed",
					zap.String("collector", name), zap.Error(err))
				continue
			}
			return initialized, fmt.Errorf("collector %q: init: %w", name, err)
		}

		r.running[name] = true
		initialized = append(initialized, name)
	}

	r.logger.Info("collectors initialized", zap.Strings("collectors", initialized))
	return initialized, nil
}

// Start launches Start for every initialized collector in its own
// goroutine, returning once all of them have returned. Errors are logged
// and do not stop sibling collectors — each collector owns its own
// failure domain.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	names := make([]string, 0, len(r.running))
	for _, name := range r.order {
		if r.running[name] {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		c := r.collectors[name]
		wg.Add(1)
		go func(name string, c Collector) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("collector exited", zap.String("collector", name), zap.Error(err))
			}
		}(name, c)
	}
	wg.Wait()
}

// Stop calls Stop on every initialized collector, in reverse registration
// order, collecting the first error encountered.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if !r.running[name] {
			continue
		}
		if err := r.collectors[name].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("collector %q: stop: %w", name, err)
		}
		r.running[name] = false
	}
	return firstErr
}

// Active returns the names of collectors that successfully initialized,
// in registration order.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.running))
	for _, name := range r.order {
		if r.running[name] {
			out = append(out, name)
		}
	}
	return out
}
