// Package event implements the Event Aggregate (spec §4.3): a heterogeneous,
// keyed container of Sections, one per SectionId, with fixed display and
// serialization rules. Storage is a tagged variant — one optional field per
// SectionId — rather than a map of `any`, per the design note in spec §9:
// the SectionId set is closed and small, so a downcast-based or
// map-of-interface approach would only add indirection for no benefit.
package event

import (
	"fmt"
	"sort"
	"sync"
)

// Event is the unified envelope every record in the pipeline is assembled
// into. Sections are exclusively owned by the Event; once built by the
// Codec (internal/codec) an Event is immutable until released back to the
// pool.
type Event struct {
	present [sectionIdMax]bool

	CommonSec    CommonEvent
	KernelSec    KernelEvent
	UserspaceSec UserspaceEvent
	TrackingSec  TrackingEvent
	SkbTrackSec  SkbTrackingEvent
	SkbDropSec   SkbDropEvent
	SkbSec       SkbEvent
	OvsSec       OvsEvent
	NftSec       NftEvent
	CtSec        CtEvent
	StartupSec   StartupEvent
}

var pool = sync.Pool{
	New: func() any { return &Event{} },
}

// Acquire returns a zeroed Event from the pool. Callers must call Release
// when finished.
func Acquire() *Event {
	return pool.Get().(*Event)
}

// Release clears e and returns it to the pool. e must not be used
// afterwards.
func (e *Event) Release() {
	*e = Event{}
	pool.Put(e)
}

// ErrDuplicateSection is returned by Insert when the Event already carries
// a section with the given id (spec §4.1, "DuplicateSection (fatal for the
// frame)").
type ErrDuplicateSection struct{ Id SectionId }

func (err ErrDuplicateSection) Error() string {
	return fmt.Sprintf("duplicate section %s in event", err.Id)
}

// Has reports whether section id is present.
func (e *Event) Has(id SectionId) bool {
	return id.Valid() && e.present[id]
}

// Sections returns the present SectionIds in ascending numeric order
// (spec §4.3 "sections()").
func (e *Event) Sections() []SectionId {
	ids := make([]SectionId, 0, sectionIdMax)
	for id := Common; id < sectionIdMax; id++ {
		if e.present[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// InsertCommon inserts the CommonEvent section, failing if one is already
// present.
func (e *Event) InsertCommon(s CommonEvent) error { return e.insert(Common, func() { e.CommonSec = s }) }

// InsertKernel inserts the KernelEvent section.
func (e *Event) InsertKernel(s KernelEvent) error { return e.insert(Kernel, func() { e.KernelSec = s }) }

// InsertUserspace inserts the UserspaceEvent section.
func (e *Event) InsertUserspace(s UserspaceEvent) error {
	return e.insert(Userspace, func() { e.UserspaceSec = s })
}

// InsertTracking inserts the TrackingEvent section.
func (e *Event) InsertTracking(s TrackingEvent) error {
	return e.insert(Tracking, func() { e.TrackingSec = s })
}

// InsertSkbTracking inserts the SkbTrackingEvent section.
func (e *Event) InsertSkbTracking(s SkbTrackingEvent) error {
	return e.insert(SkbTracking, func() { e.SkbTrackSec = s })
}

// InsertSkbDrop inserts the SkbDropEvent section.
func (e *Event) InsertSkbDrop(s SkbDropEvent) error {
	return e.insert(SkbDrop, func() { e.SkbDropSec = s })
}

// InsertSkb inserts the SkbEvent section.
func (e *Event) InsertSkb(s SkbEvent) error { return e.insert(Skb, func() { e.SkbSec = s }) }

// InsertOvs inserts the OvsEvent section.
func (e *Event) InsertOvs(s OvsEvent) error { return e.insert(Ovs, func() { e.OvsSec = s }) }

// InsertNft inserts the NftEvent section.
func (e *Event) InsertNft(s NftEvent) error { return e.insert(Nft, func() { e.NftSec = s }) }

// InsertCt inserts the CtEvent section.
func (e *Event) InsertCt(s CtEvent) error { return e.insert(Ct, func() { e.CtSec = s }) }

// InsertStartup inserts the StartupEvent section.
func (e *Event) InsertStartup(s StartupEvent) error {
	return e.insert(Startup, func() { e.StartupSec = s })
}

func (e *Event) insert(id SectionId, set func()) error {
	if e.present[id] {
		return ErrDuplicateSection{Id: id}
	}
	set()
	e.present[id] = true
	return nil
}

// TrackingId returns the correlation identity used by the Event Sorter, if
// any. Events with no Tracking section have no derivable identity and
// become their own singleton series (spec §4.7).
func (e *Event) TrackingId() (uint64, bool) {
	if !e.present[Tracking] {
		return 0, false
	}
	return e.TrackingSec.TrackingId, true
}
