// Package monitor drives a network probe from a wakeable timer, retrying
// failed attempts according to a Policy.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AndrewLester/ntpmon/internal/netcheck"
	"github.com/AndrewLester/ntpmon/internal/power"
	"github.com/AndrewLester/ntpmon/internal/sugar"
	"github.com/AndrewLester/ntpmon/internal/timer"
)

const (
	DefaultRetryCount    = 3
	DefaultRetryInterval = 10 * time.Second
	DefaultTimeout       = 500 * time.Millisecond
)

// Policy bounds are not validated. A RetryCount below one makes Retry give
// up without attempting anything.
type Policy struct {
	RetryCount    int           `yaml:"retry"`
	RetryInterval time.Duration `yaml:"retryinterval"`
	Timeout       time.Duration `yaml:"timeout"`
}

func DefaultPolicy() Policy {
	return Policy{
		RetryCount:    DefaultRetryCount,
		RetryInterval: DefaultRetryInterval,
		Timeout:       DefaultTimeout,
	}
}

// Handler is the per-tick probe. Tick runs once per timer fire and never
// overlaps with itself.
type Handler interface {
	Tick(ctx context.Context) error
}

type HandlerFunc func(ctx context.Context) error

func (f HandlerFunc) Tick(ctx context.Context) error { return f(ctx) }

type Option func(*Monitor)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) {
		m.clock = clock
		m.timerOpts = append(m.timerOpts, timer.WithClock(clock))
	}
}

func WithPowerSource(source power.Source) Option {
	return func(m *Monitor) {
		m.timerOpts = append(m.timerOpts, timer.WithPowerSource(source))
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func WithPolicy(policy Policy) Option {
	return func(m *Monitor) { m.policy = policy }
}

// WithNetworkCheck replaces netcheck.Available.
func WithNetworkCheck(available func() bool) Option {
	return func(m *Monitor) { m.network = available }
}

// WithName tags the monitor's log records.
func WithName(name string) Option {
	return func(m *Monitor) { m.name = name }
}

type Monitor struct {
	name    string
	clock   clockwork.Clock
	logger  *slog.Logger
	network func() bool
	timer   *timer.Timer

	timerOpts []timer.Option

	mu     sync.Mutex
	policy Policy
}

// New returns a stopped monitor calling handler every interval.
func New(interval time.Duration, handler Handler, opts ...Option) *Monitor {
	m := &Monitor{
		clock:   clockwork.NewRealClock(),
		network: netcheck.Available,
		policy:  DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.logger = sugar.Or(m.logger)
	if m.name != "" {
		m.logger = m.logger.With("monitor", m.name)
	}
	m.timer = timer.New(interval, append(m.timerOpts, timer.WithLogger(m.logger))...)
	m.timer.Subscribe(handler.Tick)
	return m
}

func (m *Monitor) Name() string { return m.name }

func (m *Monitor) Policy() Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

func (m *Monitor) SetPolicy(policy Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = policy
}

func (m *Monitor) Logger() *slog.Logger { return m.logger }

func (m *Monitor) Clock() clockwork.Clock { return m.clock }

func (m *Monitor) State() timer.State { return m.timer.State() }

func (m *Monitor) Interval() time.Duration { return m.timer.Interval() }

func (m *Monitor) SetInterval(interval time.Duration) { m.timer.SetInterval(interval) }

func (m *Monitor) Last() time.Time { return m.timer.Last() }

func (m *Monitor) Next() time.Time { return m.timer.Next() }

// Start runs the first probe right away.
func (m *Monitor) Start() { m.StartAfter(0) }

func (m *Monitor) StartAfter(delay time.Duration) {
	if m.timer.State() == timer.Run {
		m.logger.Debug("monitor already running")
		return
	}
	m.logger.Info("starting monitor", "delay", delay, "interval", m.timer.Interval())
	m.timer.Start(delay)
}

func (m *Monitor) Stop() {
	if m.timer.State() == timer.Stop {
		m.logger.Debug("monitor already stopped")
		return
	}
	m.logger.Info("stopping monitor")
	m.timer.Stop()
}

func (m *Monitor) Suspend() { m.timer.Suspend() }

func (m *Monitor) Reset() { m.timer.Reset() }

func (m *Monitor) Close() { m.timer.Close() }

// NetworkAvailable reports whether probing makes sense right now.
func (m *Monitor) NetworkAvailable() bool {
	return m.network == nil || m.network()
}

// Running reports whether the timer still wants this tick to continue.
func (m *Monitor) Running(ctx context.Context) bool {
	return ctx.Err() == nil && m.timer.State() == timer.Run
}

// Sleep waits d on the monitor clock. It returns false when ctx is done or
// the monitor left the Run state before or during the wait.
func (m *Monitor) Sleep(ctx context.Context, d time.Duration) bool {
	if !m.Running(ctx) {
		return false
	}
	select {
	case <-m.clock.After(d):
	case <-ctx.Done():
		return false
	}
	return m.Running(ctx)
}

// Retry calls attempt up to Policy.RetryCount times, sleeping
// Policy.RetryInterval between failures. Errors and panics count as failed
// attempts. It reports whether an attempt succeeded.
func (m *Monitor) Retry(ctx context.Context, attempt func(ctx context.Context) error) bool {
	policy := m.Policy()
	for i := 0; i < policy.RetryCount; i++ {
		if i > 0 && !m.Sleep(ctx, policy.RetryInterval) {
			m.logger.Debug("retry cancelled", "attempt", i+1)
			return false
		}
		if !m.Running(ctx) {
			return false
		}

		err := sugar.Safe(func() error { return attempt(ctx) })
		if err == nil {
			return true
		}
		m.logger.Warn("attempt failed", "attempt", i+1, "retries", policy.RetryCount, "err", err)
	}
	return false
}
