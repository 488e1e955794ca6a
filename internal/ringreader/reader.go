// Package ringreader implements the Ring-Buffer Reader (spec §4.4): two
// kernel ring buffers (events, log) each drained by their own goroutine,
// decoded through the shared codec.Registry, and delivered to the
// consumer over an unbounded channel.
//
// Grounded on the teacher's internal/loader/loader.go
// (ringbuf.NewReader + blocking Read loop, ringbuf.ErrClosed on Stop) and
// internal/probes/tcp/tcp.go's consumer goroutine shape, generalized from
// a single fixed-layout raw struct per probe to the shared TLV codec of
// spec §4.1, and from unconditional blocking Read to the poll-with-
// timeout + atomic running flag cancellation model of spec §5 ("-EINTR"
// semantics) using ringbuf.Reader.SetDeadline.
package ringreader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/codec"
	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/stream"
)

// Reader owns the events and log ring-buffer readers and the decode
// pipeline feeding their consumers.
type Reader struct {
	logger   *zap.Logger
	registry *codec.Registry

	events *ringbuf.Reader
	log    *ringbuf.Reader

	queue   *unboundedQueue
	running atomic.Bool
	done    chan struct{}
}

// New wraps the given ring buffer maps. eventsMap is required; logMap may
// be nil if the probe set doesn't use a separate log channel.
func New(eventsMap, logMap *ebpf.Map, registry *codec.Registry, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	eventsReader, err := ringbuf.NewReader(eventsMap)
	if err != nil {
		return nil, fmt.Errorf("ringreader: creating events reader: %w", err)
	}

	var logReader *ringbuf.Reader
	if logMap != nil {
		logReader, err = ringbuf.NewReader(logMap)
		if err != nil {
			eventsReader.Close()
			return nil, fmt.Errorf("ringreader: creating log reader: %w", err)
		}
	}

	r := &Reader{
		logger:   logger,
		registry: registry,
		events:   eventsReader,
		log:      logReader,
		queue:    newUnboundedQueue(),
		done:     make(chan struct{}),
	}
	r.running.Store(true)
	return r, nil
}

// Start launches the events and (if present) log reader goroutines. It
// returns immediately; call Stop to tear them down.
func (r *Reader) Start(ctx context.Context) {
	go r.pollLoop(ctx, r.events, r.decodeAndQueue)
	if r.log != nil {
		go r.pollLoop(ctx, r.log, r.logRecord)
	}
}

func (r *Reader) pollLoop(ctx context.Context, reader *ringbuf.Reader, handle func(ringbuf.Record)) {
	for r.running.Load() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := reader.SetDeadline(time.Now().Add(constants.RingBufPollTimeout)); err != nil {
			r.logger.Warn("ringreader: set deadline failed", zap.Error(err))
		}

		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue // transient: poll timeout, spec §7
			}
			r.logger.Debug("ringreader: poll error", zap.Error(err))
			continue
		}

		handle(record)
	}
}

func (r *Reader) decodeAndQueue(record ringbuf.Record) {
	e, err := codec.Decode(record.RawSample, r.registry, r.logger)
	if err != nil {
		r.logger.Error("ringreader: frame decode failed, dropping frame", zap.Error(err))
		return
	}
	r.queue.push(e)
}

func (r *Reader) logRecord(record ringbuf.Record) {
	r.logger.Info("kernel log", zap.ByteString("message", record.RawSample))
}

// Next implements the live side of the next_event contract (spec §5/§7):
// it blocks until an event is available, ctx is cancelled, or the
// optional timeout elapses.
func (r *Reader) Next(ctx context.Context, timeout time.Duration) stream.Result {
	if e, ok := r.queue.tryPop(); ok {
		return stream.Result{Outcome: stream.OutcomeEvent, Event: e}
	}
	if r.queue.isClosed() {
		return stream.Result{Outcome: stream.OutcomeTimeout}
	}

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-r.queue.notify:
		if e, ok := r.queue.tryPop(); ok {
			return stream.Result{Outcome: stream.OutcomeEvent, Event: e}
		}
		return stream.Result{Outcome: stream.OutcomeTimeout}
	case <-timeoutCh:
		return stream.Result{Outcome: stream.OutcomeTimeout}
	case <-ctx.Done():
		return stream.Result{Outcome: stream.OutcomeTimeout}
	}
}

// Stop clears the running flag, closes both ring-buffer readers (which
// unblocks any in-flight poll via ringbuf.ErrClosed), and closes the
// delivery queue. Safe to call once.
func (r *Reader) Stop() error {
	r.running.Store(false)
	var firstErr error
	if err := r.events.Close(); err != nil {
		firstErr = err
	}
	if r.log != nil {
		if err := r.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.queue.close()
	return firstErr
}
