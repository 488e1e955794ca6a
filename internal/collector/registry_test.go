package collector

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubCollector struct {
	name      string
	canRunErr error
	initErr   error
	started   chan struct{}
	stopped   bool
}

func newStub(name string) *stubCollector {
	return &stubCollector{name: name, started: make(chan struct{}, 1)}
}

func (s *stubCollector) Name() string                { return s.name }
func (s *stubCollector) KnownKernelTypes() []string   { return nil }
func (s *stubCollector) CanRun() error                { return s.canRunErr }
func (s *stubCollector) Init(context.Context, Dependencies) error { return s.initErr }

func (s *stubCollector) Start(ctx context.Context) error {
	s.started <- struct{}{}
	<-ctx.Done()
	return nil
}

func (s *stubCollector) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

func TestRegistry_AutoDetectSkipsFailingCollector(t *testing.T) {
	r := NewRegistry(AutoDetect, nil, zap.NewNop())
	ok := newStub("ok")
	bad := newStub("bad")
	bad.canRunErr = errors.New("missing kernel symbol")

	if err := r.Register(ok); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(bad); err != nil {
		t.Fatal(err)
	}

	active, err := r.Init(context.Background(), Dependencies{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(active) != 1 || active[0] != "ok" {
		t.Errorf("Init() active = %v, want [ok]", active)
	}
}

func TestRegistry_ExplicitModeAbortsOnFailure(t *testing.T) {
	r := NewRegistry(Explicit, nil, zap.NewNop())
	bad := newStub("bad")
	bad.canRunErr = errors.New("missing kernel symbol")
	if err := r.Register(bad); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Init(context.Background(), Dependencies{}); err == nil {
		t.Error("expected Explicit mode to abort on CanRun failure")
	}
}

func TestRegistry_StartStopLifecycle(t *testing.T) {
	r := NewRegistry(AutoDetect, nil, zap.NewNop())
	c := newStub("ok")
	if err := r.Register(c); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Init(context.Background(), Dependencies{}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	<-c.started
	cancel()
	<-done

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !c.stopped {
		t.Error("expected Stop to be called on the collector")
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry(AutoDetect, nil, zap.NewNop())
	if err := r.Register(newStub("dup")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(newStub("dup")); err == nil {
		t.Error("expected duplicate collector name to be rejected")
	}
}
