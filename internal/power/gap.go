package power

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultGapSample    = time.Second
	defaultGapThreshold = 1500 * time.Millisecond
)

// WakeGapSource detects a sleep/resume cycle after the fact: when two wall
// clock samples lie further apart than Sample+Threshold the process was not
// scheduled in between, so it reports Suspend immediately followed by Resume.
type WakeGapSource struct {
	Sample    time.Duration
	Threshold time.Duration
	Clock     clockwork.Clock
}

func (s *WakeGapSource) Watch(ctx context.Context, fn func(Mode)) {
	sample := s.Sample
	if sample <= 0 {
		sample = defaultGapSample
	}
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = defaultGapThreshold
	}
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// Round(0) drops the monotonic reading, which does not advance while
	// the machine is suspended.
	last := clock.Now().Round(0)
	ticker := clock.NewTicker(sample)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		now := clock.Now().Round(0)
		gap := now.Sub(last)
		last = now
		if gap >= sample+threshold {
			fn(Suspend)
			fn(Resume)
		}
	}
}
