// Package sorter implements the Event Sorter (spec §4.7): a buffered
// reorderer that reconstructs per-tracking-id series from an interleaved
// event stream, with bounded total-event memory.
//
// New package; the teacher's flat TCP/DNS probes carry no cross-event
// correlation state to sort. Grounded entirely on
// _examples/original_source/src/process/cli/sort.rs's main loop (series
// keyed by tracking id, oldest-series-first eviction on buffer pressure,
// a final oldest-first drain at EOF) — that file's series.len() gate is
// explicitly reinterpreted here as a total-event count rather than a
// series count, per this system's stated Insert contract.
package sorter

import (
	"container/list"

	"github.com/kubearch/retisgo/internal/event"
)

// Series is an ordered run of events sharing one tracking id, ordered by
// arrival.
type Series struct {
	TrackingId    uint64
	HasTrackingId bool
	Events        []*event.Event
}

// Sorter buffers events into Series, evicting the oldest series once the
// total buffered event count reaches MaxBuffer.
type Sorter struct {
	maxBuffer int

	order *list.List // of *Series, oldest first
	byID  map[uint64]*list.Element

	totalEvents int
}

// New constructs a Sorter. maxBuffer == 0 means unbounded (spec §4.7).
func New(maxBuffer int) *Sorter {
	return &Sorter{
		maxBuffer: maxBuffer,
		order:     list.New(),
		byID:      make(map[uint64]*list.Element),
	}
}

// Add inserts e into its series, creating a new tail series if none
// exists yet for its tracking id (or if it has none at all, its own
// singleton series). If MaxBuffer is set and reaching, the oldest series
// is evicted and returned for emission.
func (s *Sorter) Add(e *event.Event) *Series {
	id, ok := e.TrackingId()

	var elem *list.Element
	if ok {
		elem = s.byID[id]
	}

	if elem == nil {
		series := &Series{TrackingId: id, HasTrackingId: ok}
		elem = s.order.PushBack(series)
		if ok {
			s.byID[id] = elem
		}
	}

	series := elem.Value.(*Series)
	series.Events = append(series.Events, e)
	s.totalEvents++

	if s.maxBuffer != 0 && s.totalEvents >= s.maxBuffer {
		return s.PopOldest()
	}
	return nil
}

// PopOldest evicts and returns the oldest series, or nil if the sorter is
// empty.
func (s *Sorter) PopOldest() *Series {
	front := s.order.Front()
	if front == nil {
		return nil
	}
	s.order.Remove(front)
	series := front.Value.(*Series)
	if series.HasTrackingId {
		delete(s.byID, series.TrackingId)
	}
	s.totalEvents -= len(series.Events)
	return series
}

// Len returns the total number of buffered events across all series
// (spec §4.7: "the sorter's total event count").
func (s *Sorter) Len() int { return s.totalEvents }

// SeriesCount returns the number of distinct series currently buffered.
func (s *Sorter) SeriesCount() int { return s.order.Len() }

// Drain pops every remaining series, oldest first (spec §4.7: EOF
// behavior).
func (s *Sorter) Drain() []*Series {
	var out []*Series
	for {
		series := s.PopOldest()
		if series == nil {
			return out
		}
		out = append(out, series)
	}
}
