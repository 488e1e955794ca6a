// Package codec implements the Raw Event Codec (spec §4.1): decoding the
// length-prefixed TLV byte frames the kernel side writes into the events
// ring buffer into a grouped set of (owner, data-type, bytes) records,
// dispatched to per-owner factories that materialize typed Sections inside
// an Event.
//
// Grounded on _examples/original_source/retis/src/core/events/bpf.rs
// (parse_raw_event) for the exact algorithm and its byte-level test
// vectors.
package codec

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/event"
)

const (
	// RawEventDataSize is the payload capacity of one kernel->user frame
	// (spec §3: total RawEvent size 1024 = 2-byte length prefix + 1022).
	RawEventDataSize = 1022
	// RawEventSize is the total wire size of one frame.
	RawEventSize = 2 + RawEventDataSize
	// rawHeaderSize is the size of one RawHeader{owner, data_type, size}.
	rawHeaderSize = 4
)

// Decode implements the algorithm of spec §4.1. registry supplies the
// per-owner factories; logger receives non-fatal diagnostics (truncated
// trailing record at Debug, skipped zero-size record at Warn, unknown
// owner at Error), matching the
// teacher's structured-logging idiom.
func Decode(frame []byte, registry *Registry, logger *zap.Logger) (*event.Event, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(frame) < 2 {
		return nil, &DecodeError{Op: "read length prefix", Offset: 0, Err: ErrFrameTooShort}
	}

	l := binary.LittleEndian.Uint16(frame[0:2])
	if l == 0 {
		return nil, &DecodeError{Op: "validate length prefix", Offset: 0, Err: fmt.Errorf("zero-length frame")}
	}
	if int(l)+2 > len(frame) {
		return nil, &DecodeError{Op: "validate length prefix", Offset: 0, Err: ErrLengthMismatch}
	}

	end := int(l) + 2
	groups := make(map[event.SectionId][]RawSection)
	order := make([]event.SectionId, 0, 4)

	c := 2
	for c < end {
		if end-c < rawHeaderSize {
			logger.Debug("codec: truncated record header, stopping frame", zap.Int("offset", c))
			break
		}

		owner := frame[c]
		dataType := frame[c+1]
		size := binary.LittleEndian.Uint16(frame[c+2 : c+4])

		if size == 0 {
			logger.Warn("codec: skipping zero-size record", zap.Int("offset", c), zap.Uint8("owner", owner))
			c += rawHeaderSize
			continue
		}

		if c+rawHeaderSize+int(size) > end {
			logger.Debug("codec: record extends past frame length, stopping", zap.Int("offset", c))
			break
		}

		id := event.SectionId(owner)
		if !id.Valid() {
			logger.Error("codec: unknown record owner, skipping", zap.Uint8("owner", owner))
			c += rawHeaderSize + int(size)
			continue
		}

		data := frame[c+rawHeaderSize : c+rawHeaderSize+int(size)]
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], RawSection{DataType: dataType, Data: data})

		c += rawHeaderSize + int(size)
	}

	e := event.Acquire()
	for _, id := range order {
		factory, ok := registry.Factory(id)
		if !ok {
			e.Release()
			return nil, &SectionDecodeError{Owner: uint8(id), Err: fmt.Errorf("%w: %s", ErrMissingFactory, id)}
		}
		if err := factory(groups[id], e); err != nil {
			e.Release()
			return nil, &SectionDecodeError{Owner: uint8(id), Err: err}
		}
	}

	return e, nil
}

// Encode serializes sections back into the binary wire frame, the inverse
// of Decode used by §8's round-trip property. encoders maps a SectionId to
// a function producing its raw record bytes (one entry per record — most
// sections produce exactly one).
type RawSectionEncoder func(e *event.Event) ([]RawSection, error)

// Encode builds a single frame from the sections present in e, using
// encoders to turn each present SectionId back into raw records. Sections
// with no registered encoder are skipped (the frame only ever needs to
// round-trip sections the local build actually understands).
func Encode(e *event.Event, encoders map[event.SectionId]RawSectionEncoder) ([]byte, error) {
	var payload []byte
	for _, id := range e.Sections() {
		enc, ok := encoders[id]
		if !ok {
			continue
		}
		records, err := enc(e)
		if err != nil {
			return nil, fmt.Errorf("codec: encode section %s: %w", id, err)
		}
		for _, rec := range records {
			if len(rec.Data) == 0 {
				continue
			}
			hdr := make([]byte, rawHeaderSize)
			hdr[0] = uint8(id)
			hdr[1] = rec.DataType
			binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(rec.Data)))
			payload = append(payload, hdr...)
			payload = append(payload, rec.Data...)
		}
	}

	if len(payload)+2 > RawEventSize {
		return nil, fmt.Errorf("codec: encoded payload %d bytes exceeds frame capacity", len(payload))
	}

	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(payload)))
	copy(frame[2:], payload)
	return frame, nil
}
