// Package timer implements a rescheduling timer that pauses while the
// machine sleeps and picks up its remaining schedule when it wakes.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AndrewLester/ntpmon/internal/power"
	"github.com/AndrewLester/ntpmon/internal/subscription"
	"github.com/AndrewLester/ntpmon/internal/sugar"
)

type State int

const (
	Stop State = iota
	Run
	Suspend
	Unknown
)

func (s State) String() string {
	switch s {
	case Stop:
		return "stop"
	case Run:
		return "run"
	case Suspend:
		return "suspend"
	default:
		return "unknown"
	}
}

const (
	minDelay    = time.Millisecond
	resumeDelay = 100 * time.Millisecond
)

// TickFunc is called once per tick. The context is cancelled when the timer
// is closed.
type TickFunc func(ctx context.Context) error

type Option func(*Timer)

func WithClock(clock clockwork.Clock) Option {
	return func(t *Timer) { t.clock = clock }
}

// WithPowerSource replaces the process-wide power observer. A nil source
// disables power awareness.
func WithPowerSource(source power.Source) Option {
	return func(t *Timer) { t.power = source }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Timer) { t.logger = logger }
}

type Timer struct {
	clock  clockwork.Clock
	power  power.Source
	logger *slog.Logger

	mu        sync.Mutex
	interval  time.Duration
	state     State
	next      time.Time
	last      time.Time
	remaining time.Duration
	pending   clockwork.Timer
	gen       uint64

	// tickMu keeps ticks from overlapping when a restart schedules a new
	// fire while the previous handlers are still running.
	tickMu   sync.Mutex
	handlers subscription.List[TickFunc]

	ctx              context.Context
	cancel           context.CancelFunc
	unsubscribePower func()
}

// New returns a stopped timer firing every interval once started.
func New(interval time.Duration, opts ...Option) *Timer {
	t := &Timer{
		clock:    clockwork.NewRealClock(),
		power:    power.Default(),
		interval: interval,
		state:    Stop,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = sugar.Or(t.logger)
	t.ctx, t.cancel = context.WithCancel(context.Background())
	if t.power != nil {
		t.unsubscribePower = t.power.Subscribe(t.onPowerModeChanged)
	}
	return t
}

// Subscribe registers fn to run on every tick, after the handlers registered
// before it.
func (t *Timer) Subscribe(fn TickFunc) (unsubscribe func()) {
	return t.handlers.Add(fn)
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval changes the interval used from the next schedule on. Call
// Reset to apply it immediately.
func (t *Timer) SetInterval(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = interval
}

// Next is the time the timer is scheduled to fire.
func (t *Timer) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Last is the signal time of the most recent tick, or the zero time.
func (t *Timer) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Start runs a stopped timer after delay, or resumes a suspended one after
// the larger of delay and its remaining budget.
func (t *Timer) Start(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Run:
		return
	case Suspend:
		t.resume(delay)
	default:
		t.state = Run
		t.schedule(delay)
	}
}

// Suspend cancels the pending fire but keeps the remaining budget for the
// next Start. It does nothing unless the timer is running.
func (t *Timer) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Run {
		t.suspend()
	}
}

func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelPending()
	t.remaining = 0
	t.state = Stop
}

// Reset moves the schedule to one interval from now. A running timer is
// rescheduled right away.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Run:
		t.schedule(t.interval)
	case Suspend:
		t.next = t.clock.Now().Add(t.interval)
		t.remaining = t.interval
	default:
		t.next = t.clock.Now().Add(t.interval)
	}
}

// Close stops the timer, detaches it from power events and cancels the
// context passed to running handlers. It returns once an in-flight tick has
// finished, so it must not be called from a TickFunc.
func (t *Timer) Close() {
	t.Stop()
	if t.unsubscribePower != nil {
		t.unsubscribePower()
	}
	t.cancel()

	t.tickMu.Lock()
	t.tickMu.Unlock()
}

func (t *Timer) suspend() {
	t.remaining = t.next.Sub(t.clock.Now())
	t.cancelPending()
	t.state = Suspend
}

func (t *Timer) resume(delay time.Duration) {
	wait := t.remaining
	if wait < delay {
		wait = delay
	}
	t.remaining = 0
	t.state = Run
	t.schedule(wait)
}

// schedule must be called with t.mu held.
func (t *Timer) schedule(delay time.Duration) {
	if delay < minDelay {
		delay = minDelay
	}
	t.cancelPending()
	gen := t.gen
	t.next = t.clock.Now().Add(delay)
	t.pending = t.clock.AfterFunc(delay, func() { t.fire(gen) })
}

// cancelPending must be called with t.mu held. Bumping gen invalidates a
// fire that already left the clock but has not taken the lock yet.
func (t *Timer) cancelPending() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.gen++
}

func (t *Timer) fire(gen uint64) {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	t.mu.Lock()
	if gen != t.gen || t.state != Run {
		t.mu.Unlock()
		return
	}
	signal := t.clock.Now()
	t.pending = nil
	t.last = signal
	interval := t.interval
	t.mu.Unlock()

	t.runHandlers()
	elapsed := t.clock.Since(signal)

	t.mu.Lock()
	defer t.mu.Unlock()

	// Stopped, suspended or restarted while the handlers ran.
	if gen != t.gen || t.state != Run {
		return
	}
	t.schedule(nextDelay(interval, elapsed))
}

func (t *Timer) runHandlers() {
	for _, fn := range t.handlers.Snapshot() {
		err := sugar.Safe(func() error { return fn(t.ctx) })
		if err != nil {
			t.logger.Warn("timer tick handler failed", "err", err)
		}
	}
}

func (t *Timer) onPowerModeChanged(mode power.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mode {
	case power.Resume:
		if t.state == Suspend {
			t.logger.Debug("timer resuming after system wake")
			t.resume(resumeDelay)
		}
	case power.Suspend:
		if t.state == Run {
			t.logger.Debug("timer suspending for system sleep")
			t.suspend()
		}
	}
}

// nextDelay keeps slow handlers from eating the whole interval while still
// spacing ticks at least a tenth of the interval apart.
func nextDelay(interval, elapsed time.Duration) time.Duration {
	delay := interval - elapsed
	if floor := interval / 10; delay < floor {
		delay = floor
	}
	if delay < minDelay {
		delay = minDelay
	}
	return delay
}
