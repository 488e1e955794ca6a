// Package filesource implements the External File Source/Sink
// (spec §4.8): a line-delimited JSON reader/writer sharing event.Event's
// structured JSON form, with the same next_event contract as the live
// ring-buffer reader.
//
// Grounded on _examples/original_source/src/process/cli/sort.rs's file
// I/O wiring (FileEventsFactory, the main next_event(None) loop) and
// retis-events/src/events.rs's to_json/from_json, translated to Go's
// bufio.Scanner/encoding/json idiom as used throughout the teacher's
// config and export packages.
package filesource

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/stream"
)

// Source reads one event per line from a line-delimited JSON file.
type Source struct {
	file    *os.File
	scanner *bufio.Scanner
}

// Open opens path for reading.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filesource: opening %q: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Source{file: f, scanner: scanner}, nil
}

// Next implements the next_event contract (spec §7): unlike the live
// reader, a file source returns OutcomeEof once exhausted and never
// OutcomeTimeout (there is nothing to wait on).
func (s *Source) Next(ctx context.Context) stream.Result {
	if err := ctx.Err(); err != nil {
		return stream.Result{Outcome: stream.OutcomeEof}
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			// Frame-level error (spec §7): drop the offending line, keep
			// reading.
			continue
		}
		e, err := event.FromStructured(raw)
		if err != nil {
			continue
		}
		return stream.Result{Outcome: stream.OutcomeEvent, Event: e}
	}
	return stream.Result{Outcome: stream.OutcomeEof}
}

// Close releases the underlying file.
func (s *Source) Close() error { return s.file.Close() }

// Sink writes one event per line as structured JSON.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// Create truncates (or creates) path for writing.
func Create(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filesource: creating %q: %w", path, err)
	}
	return &Sink{w: bufio.NewWriter(f), closer: f}, nil
}

// NewSink wraps an arbitrary writer (e.g. os.Stdout) that the caller owns
// and will close itself.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Write appends e as one JSON line.
func (s *Sink) Write(e *event.Event) error {
	data, err := e.MarshalJSON()
	if err != nil {
		return fmt.Errorf("filesource: marshaling event: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("filesource: writing event: %w", err)
	}
	if _, err := s.w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("filesource: writing newline: %w", err)
	}
	return nil
}

// Flush flushes any buffered output.
func (s *Sink) Flush() error {
	if f, ok := s.w.(*bufio.Writer); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes and closes the sink, if it owns its underlying file.
func (s *Sink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
