package ntp

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingClock struct {
	slewed  []time.Duration
	stepped []time.Time
	err     error
}

func newTestAdjuster(limit time.Duration, now time.Time) (*ClockAdjuster, *recordingClock) {
	clock := &recordingClock{}
	a := NewClockAdjuster(limit)
	a.slew = func(offset time.Duration) error {
		clock.slewed = append(clock.slewed, offset)
		return clock.err
	}
	a.step = func(t time.Time) error {
		clock.stepped = append(clock.stepped, t)
		return clock.err
	}
	a.now = func() time.Time { return now }
	return a, clock
}

func TestClockAdjusterSlewsSmallOffsets(t *testing.T) {
	a, clock := newTestAdjuster(DefaultStepLimit, time.Now())

	for _, offset := range []time.Duration{10 * time.Millisecond, -DefaultStepLimit} {
		if err := a.Adjust(context.Background(), offset); err != nil {
			t.Fatal(err)
		}
	}
	if len(clock.slewed) != 2 || clock.slewed[0] != 10*time.Millisecond || clock.slewed[1] != -DefaultStepLimit {
		t.Fatalf("slewed %v", clock.slewed)
	}
	if len(clock.stepped) != 0 {
		t.Fatalf("stepped %v, want nothing", clock.stepped)
	}
}

func TestClockAdjusterStepsLargeOffsets(t *testing.T) {
	now := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	a, clock := newTestAdjuster(DefaultStepLimit, now)

	if err := a.Adjust(context.Background(), -3*time.Second); err != nil {
		t.Fatal(err)
	}
	if len(clock.stepped) != 1 || !clock.stepped[0].Equal(now.Add(-3*time.Second)) {
		t.Fatalf("stepped %v, want %v", clock.stepped, now.Add(-3*time.Second))
	}
}

func TestClockAdjusterIgnoresZeroOffset(t *testing.T) {
	a, clock := newTestAdjuster(DefaultStepLimit, time.Now())
	if err := a.Adjust(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if len(clock.slewed)+len(clock.stepped) != 0 {
		t.Fatal("clock touched for zero offset")
	}
}

func TestClockAdjusterReturnsErrors(t *testing.T) {
	a, clock := newTestAdjuster(DefaultStepLimit, time.Now())
	clock.err = errors.New("operation not permitted")

	if err := a.Adjust(context.Background(), time.Millisecond); !errors.Is(err, clock.err) {
		t.Fatalf("slew err = %v", err)
	}
	if err := a.Adjust(context.Background(), time.Minute); !errors.Is(err, clock.err) {
		t.Fatalf("step err = %v", err)
	}
}
