package filesource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/stream"
)

func TestSinkSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	sink, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	e1 := event.Acquire()
	if err := e1.InsertCommon(event.CommonEvent{Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	e2 := event.Acquire()
	if err := e2.InsertCommon(event.CommonEvent{Timestamp: 2}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(e1); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(e2); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	src, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx := context.Background()
	var got []uint64
	for {
		res := src.Next(ctx)
		if res.Outcome == stream.OutcomeEof {
			break
		}
		if res.Outcome != stream.OutcomeEvent {
			t.Fatalf("unexpected outcome %v", res.Outcome)
		}
		got = append(got, res.Event.CommonSec.Timestamp)
		res.Event.Release()
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestSourceEmptyFileIsImmediateEof(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	res := src.Next(context.Background())
	if res.Outcome != stream.OutcomeEof {
		t.Errorf("Next() outcome = %v, want Eof", res.Outcome)
	}
}

func TestSourceSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixed.jsonl")
	content := "not json at all\n{\"common\":{\"timestamp\":42,\"smp_id\":0}}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	res := src.Next(context.Background())
	if res.Outcome != stream.OutcomeEvent {
		t.Fatalf("outcome = %v, want Event", res.Outcome)
	}
	if res.Event.CommonSec.Timestamp != 42 {
		t.Errorf("Timestamp = %d, want 42", res.Event.CommonSec.Timestamp)
	}
	res.Event.Release()
}
