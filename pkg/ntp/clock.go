package ntp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AndrewLester/ntpmon/internal/sugar"
	"github.com/AndrewLester/ntpmon/internal/system/adjtime"
	"github.com/AndrewLester/ntpmon/internal/system/settimeofday"
)

// ClockAdjuster corrects the system clock from published offsets. Offsets
// within StepLimit are slewed, larger ones are stepped.
type ClockAdjuster struct {
	StepLimit time.Duration
	Logger    *slog.Logger

	slew func(offset time.Duration) error
	step func(t time.Time) error
	now  func() time.Time
}

func NewClockAdjuster(stepLimit time.Duration) *ClockAdjuster {
	return &ClockAdjuster{
		StepLimit: stepLimit,
		slew:      adjtime.Adjtime,
		step:      settimeofday.Settimeofday,
		now:       time.Now,
	}
}

// Adjust matches OffsetFunc so the adjuster can subscribe to a Monitor.
func (a *ClockAdjuster) Adjust(ctx context.Context, offset time.Duration) error {
	if offset == 0 {
		return nil
	}
	logger := sugar.Or(a.Logger)

	if offset.Abs() > a.StepLimit {
		now := a.now()
		logger.Info("stepping clock", "current", now, "offset", offset)
		if err := a.step(now.Add(offset)); err != nil {
			return fmt.Errorf("stepping clock by %v: %w", offset, err)
		}
		return nil
	}

	logger.Debug("slewing clock", "offset", offset)
	if err := a.slew(offset); err != nil {
		return fmt.Errorf("slewing clock by %v: %w", offset, err)
	}
	return nil
}
