package sorter

import (
	"testing"

	"github.com/kubearch/retisgo/internal/event"
)

func withTrackingId(id uint64) *event.Event {
	e := event.Acquire()
	if err := e.InsertTracking(event.TrackingEvent{TrackingId: id}); err != nil {
		panic(err)
	}
	return e
}

func TestSorter_GroupsByTrackingId(t *testing.T) {
	s := New(0)
	a1 := withTrackingId(1)
	b1 := withTrackingId(2)
	a2 := withTrackingId(1)

	s.Add(a1)
	s.Add(b1)
	s.Add(a2)

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	if s.SeriesCount() != 2 {
		t.Fatalf("SeriesCount() = %d, want 2", s.SeriesCount())
	}

	series := s.Drain()
	if len(series) != 2 {
		t.Fatalf("Drain() returned %d series, want 2", len(series))
	}
	if series[0].TrackingId != 1 || len(series[0].Events) != 2 {
		t.Errorf("first series = %+v, want tracking id 1 with 2 events", series[0])
	}
	if series[1].TrackingId != 2 || len(series[1].Events) != 1 {
		t.Errorf("second series = %+v, want tracking id 2 with 1 event", series[1])
	}
}

func TestSorter_NoTrackingIdIsSingleton(t *testing.T) {
	s := New(0)
	s.Add(event.Acquire())
	s.Add(event.Acquire())

	if s.SeriesCount() != 2 {
		t.Errorf("SeriesCount() = %d, want 2 (each untracked event is its own series)", s.SeriesCount())
	}
}

func TestSorter_MaxBufferEvictsOldest(t *testing.T) {
	s := New(2)
	a := withTrackingId(1)
	b := withTrackingId(2)

	if evicted := s.Add(a); evicted != nil {
		t.Fatalf("expected no eviction on first insert, got %+v", evicted)
	}
	evicted := s.Add(b)
	if evicted == nil {
		t.Fatal("expected eviction once total event count reaches max_buffer")
	}
	if evicted.TrackingId != 1 {
		t.Errorf("evicted series tracking id = %d, want 1 (oldest)", evicted.TrackingId)
	}
	if s.Len() != 1 {
		t.Errorf("Len() after eviction = %d, want 1 (b still buffered)", s.Len())
	}
}

func TestSorter_ZeroMaxBufferIsUnbounded(t *testing.T) {
	s := New(0)
	for i := uint64(0); i < 100; i++ {
		if evicted := s.Add(withTrackingId(i)); evicted != nil {
			t.Fatalf("unbounded sorter evicted at i=%d", i)
		}
	}
	if s.Len() != 100 {
		t.Errorf("Len() = %d, want 100", s.Len())
	}
}

func TestSorter_DrainOldestFirst(t *testing.T) {
	s := New(0)
	s.Add(withTrackingId(1))
	s.Add(withTrackingId(2))
	s.Add(withTrackingId(3))

	series := s.Drain()
	if len(series) != 3 {
		t.Fatalf("Drain() = %d series, want 3", len(series))
	}
	for i, want := range []uint64{1, 2, 3} {
		if series[i].TrackingId != want {
			t.Errorf("series[%d].TrackingId = %d, want %d", i, series[i].TrackingId, want)
		}
	}
	if s.Len() != 0 || s.SeriesCount() != 0 {
		t.Errorf("expected sorter empty after Drain, got Len=%d SeriesCount=%d", s.Len(), s.SeriesCount())
	}
}

func TestSorter_PopOldestOnEmptyReturnsNil(t *testing.T) {
	s := New(0)
	if got := s.PopOldest(); got != nil {
		t.Errorf("PopOldest() on empty sorter = %+v, want nil", got)
	}
}
