package event

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"
)

func TestSectionId_StringRoundTrip(t *testing.T) {
	tests := []struct {
		id   SectionId
		name string
	}{
		{Common, "common"},
		{Kernel, "kernel"},
		{Userspace, "userspace"},
		{Tracking, "tracking"},
		{SkbTracking, "skb-tracking"},
		{SkbDrop, "skb-drop"},
		{Skb, "skb"},
		{Ovs, "ovs"},
		{Nft, "nft"},
		{Ct, "ct"},
		{Startup, "startup"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.name {
			t.Errorf("SectionId(%d).String() = %q, want %q", tt.id, got, tt.name)
		}
		back, ok := SectionIdFromString(tt.name)
		if !ok || back != tt.id {
			t.Errorf("SectionIdFromString(%q) = (%d, %v), want (%d, true)", tt.name, back, ok, tt.id)
		}
	}
	if _, ok := SectionIdFromString("bogus"); ok {
		t.Error("expected unknown section name to fail")
	}
}

func TestEvent_InsertDuplicateFails(t *testing.T) {
	e := Acquire()
	defer e.Release()

	if err := e.InsertCommon(CommonEvent{Timestamp: 42}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := e.InsertCommon(CommonEvent{Timestamp: 43}); err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
}

func TestEvent_Sections_NumericOrder(t *testing.T) {
	e := Acquire()
	defer e.Release()

	_ = e.InsertCt(CtEvent{})
	_ = e.InsertCommon(CommonEvent{})
	_ = e.InsertKernel(KernelEvent{})

	got := e.Sections()
	want := []SectionId{Common, Kernel, Ct}
	if len(got) != len(want) {
		t.Fatalf("Sections() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sections()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEvent_TrackingId(t *testing.T) {
	e := Acquire()
	defer e.Release()

	if _, ok := e.TrackingId(); ok {
		t.Error("expected no tracking id on a fresh event")
	}
	_ = e.InsertTracking(TrackingEvent{TrackingId: 7})
	id, ok := e.TrackingId()
	if !ok || id != 7 {
		t.Errorf("TrackingId() = (%d, %v), want (7, true)", id, ok)
	}
}

func TestEvent_ToText_DispatchOrder(t *testing.T) {
	e := Acquire()
	defer e.Release()

	_ = e.InsertCommon(CommonEvent{Timestamp: 42, SmpId: 1})
	_ = e.InsertKernel(KernelEvent{Symbol: "consume_skb", ProbeType: "kprobe"})
	_ = e.InsertCt(CtEvent{})

	got := e.ToText(DisplayFormat{})
	want := "42 (1) [k] consume_skb ct_state UNTRACKED "
	if got != want {
		t.Errorf("ToText() = %q, want %q", got, want)
	}
}

func TestEvent_ToText_StackTraceMultiline(t *testing.T) {
	e := Acquire()
	defer e.Release()

	_ = e.InsertCommon(CommonEvent{Timestamp: 1})
	_ = e.InsertKernel(KernelEvent{
		Symbol:     "tcp_v4_rcv",
		ProbeType:  "kretprobe",
		StackTrace: []string{"tcp_v4_rcv", "ip_rcv"},
	})

	got := e.ToText(DisplayFormat{Multiline: true})
	want := "1 (0) [kr] tcp_v4_rcv\n    tcp_v4_rcv\n    ip_rcv"
	if got != want {
		t.Errorf("ToText(multiline) = %q, want %q", got, want)
	}
}

func TestEvent_StructuredRoundTrip(t *testing.T) {
	e := Acquire()
	defer e.Release()

	_ = e.InsertCommon(CommonEvent{Timestamp: 42, SmpId: 3, Task: &TaskEvent{Pid: 100, Tgid: 100, Comm: "test"}})
	_ = e.InsertSkbTracking(SkbTrackingEvent{OrigHead: 0xdead, Timestamp: 99})

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to raw: %v", err)
	}
	if _, ok := raw["common"]; !ok {
		t.Error("missing \"common\" top-level key")
	}
	if _, ok := raw["skb-tracking"]; !ok {
		t.Error("missing \"skb-tracking\" top-level key")
	}

	got, err := FromStructured(raw)
	if err != nil {
		t.Fatalf("FromStructured: %v", err)
	}
	defer got.Release()

	if got.CommonSec.Timestamp != 42 || got.CommonSec.Task == nil || got.CommonSec.Task.Comm != "test" {
		t.Errorf("round-tripped CommonSec = %+v", got.CommonSec)
	}
	if got.SkbTrackSec.OrigHead != 0xdead {
		t.Errorf("round-tripped SkbTrackSec = %+v", got.SkbTrackSec)
	}
}

func TestFromStructured_UnknownKeyIsError(t *testing.T) {
	raw := map[string]json.RawMessage{"bogus-section": json.RawMessage(`{}`)}
	if _, err := FromStructured(raw); err == nil {
		t.Error("expected unknown top-level key to be rejected")
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	defer bus.Close()

	ch := bus.Subscribe("test")

	e := Acquire()
	_ = e.InsertCommon(CommonEvent{Timestamp: 42})
	bus.Publish(e)

	received := <-ch
	if received.CommonSec.Timestamp != 42 {
		t.Errorf("got timestamp %d, want 42", received.CommonSec.Timestamp)
	}
}

func TestBus_DropOnOverflow(t *testing.T) {
	bus := NewBus(2, zap.NewNop())
	defer bus.Close()

	bus.Subscribe("slow")

	for i := 0; i < 10; i++ {
		e := Acquire()
		bus.Publish(e)
	}

	stats := bus.Stats()
	if stats.Published != 10 {
		t.Errorf("published = %d, want 10", stats.Published)
	}
	if dropped := stats.DroppedBySubscriber["slow"]; dropped != 8 {
		t.Errorf("dropped = %d, want 8", dropped)
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	defer bus.Close()

	ch1 := bus.Subscribe("sub1")
	ch2 := bus.Subscribe("sub2")

	e := Acquire()
	_ = e.InsertStartup(StartupEvent{RetisVersion: "go-test"})
	bus.Publish(e)

	r1 := <-ch1
	r2 := <-ch2
	if r1.StartupSec.RetisVersion != "go-test" || r2.StartupSec.RetisVersion != "go-test" {
		t.Error("both subscribers should receive the event")
	}
}
