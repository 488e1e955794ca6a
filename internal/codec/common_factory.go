package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kubearch/retisgo/internal/event"
)

// Data types within the Common owner (grounded on CommonEventFactory in
// _examples/original_source/retis/src/core/events/bpf.rs).
const (
	commonSectionCore uint8 = 0
	commonSectionTask uint8 = 1

	commCommSize = 64
)

// RegisterCommonFactory wires the always-enabled Common section factory
// into registry. Unlike every other SectionId, Common has no owning
// collector — it is emitted by every kernel probe program — so it is
// registered unconditionally by whoever constructs the Registry
// (see internal/agent.NewRuntime).
func RegisterCommonFactory(registry *Registry) error {
	return registry.Register(event.Common, decodeCommon)
}

func decodeCommon(records []RawSection, e *event.Event) error {
	var common event.CommonEvent
	var task *event.TaskEvent

	for _, rec := range records {
		switch rec.DataType {
		case commonSectionCore:
			if len(rec.Data) < 12 {
				return fmt.Errorf("common: core record too short (%d bytes)", len(rec.Data))
			}
			common.Timestamp = binary.LittleEndian.Uint64(rec.Data[0:8])
			common.SmpId = binary.LittleEndian.Uint32(rec.Data[8:12])
		case commonSectionTask:
			if len(rec.Data) < 8+commCommSize {
				return fmt.Errorf("common: task record too short (%d bytes)", len(rec.Data))
			}
			raw := binary.LittleEndian.Uint64(rec.Data[0:8])
			comm, err := decodeComm(rec.Data[8 : 8+commCommSize])
			if err != nil {
				return fmt.Errorf("common: %w", err)
			}
			if comm != "" {
				task = &event.TaskEvent{
					Tgid: int32(raw & 0xFFFFFFFF),
					Pid:  int32(raw >> 32),
					Comm: comm,
				}
			}
		default:
			// Unknown data types within a known owner are ignored at the
			// section level (spec §4.1: invalid data_type only affects the
			// owning factory, never the codec's frame-level success).
		}
	}

	common.Task = task
	return e.InsertCommon(common)
}

// decodeComm reads a fixed-size, NUL-terminated C string. A buffer with no
// NUL byte is a decode error (spec §8); an all-NUL buffer decodes to the
// empty string.
func decodeComm(buf []byte) (string, error) {
	idx := bytes.IndexByte(buf, 0)
	if idx < 0 {
		return "", fmt.Errorf("comm field has no NUL terminator")
	}
	return string(buf[:idx]), nil
}
