// Package startup implements the one-shot startup collector (spec §12
// supplement): it carries no kernel probe, registers nothing with the
// Probe Manager, and instead publishes a single StartupEvent the moment
// the runtime's pipeline comes up.
//
// Grounded on _examples/original_source/retis-events/src/common.rs's
// CommonEventMd (retis_version + CLOCK_MONOTONIC-to-wall-clock offset),
// reproduced here as event.StartupEvent so a consumer tailing the stream
// can line up every other event's CLOCK_MONOTONIC timestamp against wall
// time without depending on the collecting machine's clock at query time.
package startup

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/kubearch/retisgo/internal/collector"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/event"
)

// Collector publishes one StartupEvent at Start and then does nothing
// further; it owns no probe and contributes no section factory.
type Collector struct {
	logger *zap.Logger
	bus    *event.Bus
}

func New() *Collector { return &Collector{} }

func (c *Collector) Name() string              { return constants.ModuleStartup }
func (c *Collector) KnownKernelTypes() []string { return nil }
func (c *Collector) CanRun() error              { return nil }

func (c *Collector) Init(_ context.Context, deps collector.Dependencies) error {
	c.logger = deps.Logger
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.bus = deps.EventBus
	return nil
}

func (c *Collector) Start(context.Context) error {
	offset, err := monotonicOffsetNs()
	if err != nil {
		c.logger.Warn("startup: reading clock offset failed, recording zero offset", zap.Error(err))
	}

	e := event.Acquire()
	if err := e.InsertCommon(event.CommonEvent{Timestamp: monotonicNowNs()}); err != nil {
		e.Release()
		return err
	}
	if err := e.InsertStartup(event.StartupEvent{
		RetisVersion:           constants.Version,
		ClockMonotonicOffsetNs: offset,
	}); err != nil {
		e.Release()
		return err
	}

	c.bus.Publish(e)
	return nil
}

func (c *Collector) Stop(context.Context) error { return nil }

// monotonicNowNs reads CLOCK_MONOTONIC, the same clock every kernel-side
// collector's CommonEvent.Timestamp is captured against.
func monotonicNowNs() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
}

// monotonicOffsetNs returns CLOCK_REALTIME minus CLOCK_MONOTONIC, in
// nanoseconds, so event.DisplayFormat{Time: TimeUtc} can convert any
// event's monotonic Timestamp back to wall-clock time (spec §9).
func monotonicOffsetNs() (int64, error) {
	var mono, real unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &mono); err != nil {
		return 0, err
	}
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &real); err != nil {
		return 0, err
	}
	realNs := real.Sec*1e9 + real.Nsec
	monoNs := mono.Sec*1e9 + mono.Nsec
	return realNs - monoNs, nil
}
