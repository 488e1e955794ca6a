package codec

import (
	"encoding/binary"
	"testing"

	"github.com/kubearch/retisgo/internal/event"
)

// captureFactory records every record vector it is invoked with and does
// not touch the Event, letting tests assert on Decode's grouping/dispatch
// behavior (spec §4.1) independent of any one owner's real semantics.
func captureFactory(out *[][]RawSection) SectionFactory {
	return func(records []RawSection, e *event.Event) error {
		*out = append(*out, records)
		return e.InsertCommon(event.CommonEvent{})
	}
}

func u64le(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// TestDecode_SingleSection ports scenario 1 of spec §8: a frame with one
// Common record carrying a single u64 payload of 42.
func TestDecode_SingleSection(t *testing.T) {
	frame := []byte{12, 0, 1, 1, 8, 0, 42, 0, 0, 0, 0, 0, 0, 0}

	var captured [][]RawSection
	reg := NewRegistry()
	if err := reg.Register(event.Common, captureFactory(&captured)); err != nil {
		t.Fatal(err)
	}

	e, err := Decode(frame, reg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer e.Release()

	if len(captured) != 1 || len(captured[0]) != 1 {
		t.Fatalf("expected a single factory call with one record, got %v", captured)
	}
	if got := binary.LittleEndian.Uint64(captured[0][0].Data); got != 42 {
		t.Errorf("payload u64 = %d, want 42", got)
	}
	if ids := e.Sections(); len(ids) != 1 || ids[0] != event.Common {
		t.Errorf("Sections() = %v, want only Common", ids)
	}
}

// TestDecode_MultiRecordSameOwner ports scenario 2: three Common records
// (data types 1,1,2) are merged and handed to the owner's factory in one
// call.
func TestDecode_MultiRecordSameOwner(t *testing.T) {
	var payload []byte
	appendRecord := func(dataType uint8, data []byte) {
		hdr := []byte{uint8(event.Common), dataType, 0, 0}
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(data)))
		payload = append(payload, hdr...)
		payload = append(payload, data...)
	}
	appendRecord(1, u64le(42))
	appendRecord(1, u64le(1337))
	appendRecord(2, append(u64le(42), u64le(1337)...))

	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(payload)))
	copy(frame[2:], payload)

	var captured [][]RawSection
	reg := NewRegistry()
	if err := reg.Register(event.Common, captureFactory(&captured)); err != nil {
		t.Fatal(err)
	}

	e, err := Decode(frame, reg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer e.Release()

	if len(captured) != 1 || len(captured[0]) != 3 {
		t.Fatalf("expected one factory call with three records, got %v", captured)
	}
	if got := binary.LittleEndian.Uint64(captured[0][0].Data); got != 42 {
		t.Errorf("record[0] u64 = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint64(captured[0][1].Data); got != 1337 {
		t.Errorf("record[1] u64 = %d, want 1337", got)
	}
	if got := binary.LittleEndian.Uint64(captured[0][2].Data[8:16]); got != 1337 {
		t.Errorf("record[2] second u64 = %d, want 1337", got)
	}
}

// TestDecode_UnknownOwnerIgnored ports scenario 3: an unknown owner is
// skipped, producing an empty Event without failing the frame.
func TestDecode_UnknownOwnerIgnored(t *testing.T) {
	frame := []byte{5, 0, 255, 0, 1, 0, 0}
	reg := NewRegistry()

	e, err := Decode(frame, reg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer e.Release()

	if ids := e.Sections(); len(ids) != 0 {
		t.Errorf("Sections() = %v, want empty", ids)
	}
}

// TestDecode_BoundaryRejections covers spec §8's boundary behaviors for
// frame sizes 0, 1, 2 and L=0.
func TestDecode_BoundaryRejections(t *testing.T) {
	reg := NewRegistry()
	cases := map[string][]byte{
		"empty":       {},
		"one byte":    {0},
		"two bytes L0": {0, 0},
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(frame, reg, nil); err == nil {
				t.Error("expected decode to fail")
			}
		})
	}
}

// TestDecode_LengthMismatch rejects a declared length exceeding the frame.
func TestDecode_LengthMismatch(t *testing.T) {
	reg := NewRegistry()
	frame := []byte{200, 0, 1, 1, 8, 0}
	if _, err := Decode(frame, reg, nil); err == nil {
		t.Error("expected length-mismatch rejection")
	}
}

// TestDecode_ZeroSizeRecordSkipped ensures a size=0 record is skipped
// without failing the frame, and a following well-formed record is still
// processed.
func TestDecode_ZeroSizeRecordSkipped(t *testing.T) {
	var payload []byte
	payload = append(payload, uint8(event.Common), 1, 0, 0) // zero-size record
	rec := []byte{1, 1, 8, 0}
	rec = append(rec, u64le(42)...)
	payload = append(payload, rec...)

	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(payload)))
	copy(frame[2:], payload)

	var captured [][]RawSection
	reg := NewRegistry()
	if err := reg.Register(event.Common, captureFactory(&captured)); err != nil {
		t.Fatal(err)
	}

	e, err := Decode(frame, reg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer e.Release()

	if len(captured) != 1 || len(captured[0]) != 1 {
		t.Fatalf("expected the zero-size record to be skipped, got %v", captured)
	}
}

// TestDecode_MissingFactoryIsFatal exercises the "missing section factory
// at decode time" fatal path of spec §7.
func TestDecode_MissingFactoryIsFatal(t *testing.T) {
	reg := NewRegistry() // no factories registered at all
	frame := []byte{12, 0, uint8(event.Common), 1, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	if _, err := Decode(frame, reg, nil); err == nil {
		t.Error("expected missing-factory decode to fail")
	}
}

func TestCommonFactory_TimestampAndTask(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterCommonFactory(reg); err != nil {
		t.Fatal(err)
	}

	var payload []byte
	// Build a core record (timestamp=42, smp_id=7) by hand: 8 bytes ts + 4 bytes smp.
	coreData := make([]byte, 12)
	binary.LittleEndian.PutUint64(coreData[0:8], 42)
	binary.LittleEndian.PutUint32(coreData[8:12], 7)

	appendRecord := func(dataType uint8, data []byte) {
		hdr := []byte{uint8(event.Common), dataType, 0, 0}
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(data)))
		payload = append(payload, hdr...)
		payload = append(payload, data...)
	}
	appendRecord(commonSectionCore, coreData)

	// task record: pid=5 (upper 32 bits), tgid=5 (lower 32), comm="test"
	taskData := make([]byte, 8+commCommSize)
	binary.LittleEndian.PutUint64(taskData[0:8], (uint64(5)<<32)|5)
	copy(taskData[8:], "test")
	appendRecord(commonSectionTask, taskData)

	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(payload)))
	copy(frame[2:], payload)

	e, err := Decode(frame, reg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer e.Release()

	if e.CommonSec.Timestamp != 42 || e.CommonSec.SmpId != 7 {
		t.Errorf("CommonSec = %+v, want timestamp=42 smp_id=7", e.CommonSec)
	}
	if e.CommonSec.Task == nil || e.CommonSec.Task.Comm != "test" || e.CommonSec.Task.Pid != 5 || e.CommonSec.Task.Tgid != 5 {
		t.Errorf("CommonSec.Task = %+v, want pid=5 tgid=5 comm=test", e.CommonSec.Task)
	}
}

func TestCommonFactory_EmptyCommMeansNoTask(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterCommonFactory(reg); err != nil {
		t.Fatal(err)
	}

	taskData := make([]byte, 8+commCommSize) // all zero: pid/tgid 0, comm all-NUL
	var payload []byte
	hdr := []byte{uint8(event.Common), commonSectionTask, 0, 0}
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(taskData)))
	payload = append(payload, hdr...)
	payload = append(payload, taskData...)

	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(payload)))
	copy(frame[2:], payload)

	e, err := Decode(frame, reg, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer e.Release()

	if e.CommonSec.Task != nil {
		t.Errorf("expected nil Task for all-NUL comm, got %+v", e.CommonSec.Task)
	}
}
