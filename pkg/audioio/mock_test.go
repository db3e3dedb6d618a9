package audioio

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStartedMockOutput(t *testing.T) *MockOutput {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	m := NewMockOutput(cfg, quietLogger())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func chunk20ms() AudioChunk {
	return AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
}

func TestMockOutputCompletesInScheduleOrder(t *testing.T) {
	m := newStartedMockOutput(t)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		at := time.Duration(i) * 20 * time.Millisecond
		if err := m.PlayAt(chunk20ms(), at, func() { order = append(order, i) }); err != nil {
			t.Fatalf("PlayAt(%d) failed: %v", i, err)
		}
	}

	m.AdvanceTo(30 * time.Millisecond)
	if len(order) != 1 || order[0] != 0 {
		t.Fatalf("after 30ms completions = %v, want [0]", order)
	}

	m.AdvanceTo(time.Second)
	if len(order) != 3 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("final completions = %v, want [0 1 2]", order)
	}
	if m.PendingCount() != 0 {
		t.Errorf("pending %d, want 0", m.PendingCount())
	}
}

func TestMockOutputClampsPastStart(t *testing.T) {
	m := newStartedMockOutput(t)
	m.AdvanceTo(100 * time.Millisecond)

	if err := m.PlayAt(chunk20ms(), 40*time.Millisecond, nil); err != nil {
		t.Fatalf("PlayAt failed: %v", err)
	}

	recs := m.Scheduled()
	if len(recs) != 1 || recs[0].At != 100*time.Millisecond {
		t.Errorf("scheduled at %v, want clamped to 100ms", recs[0].At)
	}
}

func TestMockOutputStopAllSuppressesCallbacks(t *testing.T) {
	m := newStartedMockOutput(t)

	fired := false
	m.PlayAt(chunk20ms(), 0, func() { fired = true })
	m.StopAll()
	m.AdvanceTo(time.Second)

	if fired {
		t.Error("done callback fired for a discarded buffer")
	}
	if m.PendingCount() != 0 {
		t.Errorf("pending %d after StopAll, want 0", m.PendingCount())
	}
	if got := m.Stats().BuffersDropped; got != 1 {
		t.Errorf("dropped %d, want 1", got)
	}
}

func TestMockOutputClockIsMonotonic(t *testing.T) {
	m := newStartedMockOutput(t)
	m.AdvanceTo(50 * time.Millisecond)
	m.AdvanceTo(20 * time.Millisecond) // ignored, clock never rewinds

	if c := m.Clock(); c != 50*time.Millisecond {
		t.Errorf("clock %v, want 50ms", c)
	}
}

func TestMockSourcePushAndRead(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	src := NewMockSource(cfg, quietLogger())
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer src.Close()

	want := AudioChunk{Samples: []int16{1, 2, 3}, SampleRate: cfg.SampleRate, Channels: 1}
	src.Push(want)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The generator may interleave silence chunks; scan for the pushed one.
	for {
		got, err := src.Read(ctx)
		if err != nil {
			t.Fatalf("pushed chunk never surfaced: %v", err)
		}
		if len(got.Samples) == 3 && got.Samples[0] == 1 {
			return
		}
	}
}
