package trackinggc

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDecodeLeadingTimestamp(t *testing.T) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint64(buf[:8], 123456789)

	got, err := DecodeLeadingTimestamp(buf)
	if err != nil {
		t.Fatalf("DecodeLeadingTimestamp: %v", err)
	}
	if got != 123456789 {
		t.Errorf("got %d, want 123456789", got)
	}
}

func TestDecodeLeadingTimestamp_TooShort(t *testing.T) {
	if _, err := DecodeLeadingTimestamp([]byte{1, 2, 3}); err == nil {
		t.Error("expected short value to error")
	}
}

func TestGC_StartStopWithNoMaps(t *testing.T) {
	g := New(zap.NewNop(), WithInterval(10*time.Millisecond))
	ctx := context.Background()
	g.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	g.Stop()
	g.Join()
}

func TestGC_DefaultsApplied(t *testing.T) {
	g := New(nil)
	if g.interval == 0 || g.limit == 0 {
		t.Errorf("expected non-zero defaults, got interval=%v limit=%v", g.interval, g.limit)
	}
}
