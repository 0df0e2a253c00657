// Package power broadcasts system power-state transitions to timers that
// want to stop firing while the machine sleeps.
package power

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AndrewLester/ntpmon/internal/sugar"
	"github.com/AndrewLester/ntpmon/internal/subscription"
)

type Mode int

const (
	Resume Mode = iota
	Suspend
	StatusChange
)

func (m Mode) String() string {
	switch m {
	case Resume:
		return "resume"
	case Suspend:
		return "suspend"
	case StatusChange:
		return "status-change"
	default:
		return "unknown"
	}
}

// Source is anything power-aware components can subscribe to.
type Source interface {
	Subscribe(fn func(Mode)) (unsubscribe func())
}

// EventSource produces raw power events until ctx is cancelled.
type EventSource interface {
	Watch(ctx context.Context, fn func(Mode))
}

// Context holds the last observed power mode and the event source feeding it.
// IgnoreStatusChanged must be set before the context is configured.
type Context struct {
	IgnoreStatusChanged bool

	source EventSource

	mu      sync.Mutex
	mode    Mode
	handler func(Mode)
	cancel  context.CancelFunc
}

// NewContext returns a context in Resume mode fed by source. A nil source is
// valid; events then only arrive through Notify.
func NewContext(source EventSource) *Context {
	return &Context{
		IgnoreStatusChanged: true,
		source:              source,
		mode:                Resume,
	}
}

func (c *Context) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Notify delivers an event as if it came from the operating system.
func (c *Context) Notify(mode Mode) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler != nil {
		handler(mode)
	}
}

// update records mode and reports whether subscribers should hear about it.
func (c *Context) update(mode Mode) bool {
	if mode == StatusChange && c.IgnoreStatusChanged {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == mode {
		return false
	}
	c.mode = mode
	return true
}

func (c *Context) attach(handler func(Mode)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler = handler
	if c.source != nil && c.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.source.Watch(ctx, c.Notify)
	}
}

func (c *Context) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler = nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Observer fans power events out to its subscribers. Subscribers survive a
// Configure call; only the context feeding them is replaced.
type Observer struct {
	Logger *slog.Logger

	current     atomic.Pointer[Context]
	subscribers subscription.List[func(Mode)]
}

func NewObserver(c *Context) *Observer {
	o := &Observer{}
	o.Configure(c)
	return o
}

// Configure makes c the active context. The previous context stops
// delivering events before c starts.
func (o *Observer) Configure(c *Context) {
	if c == nil {
		c = NewContext(nil)
	}
	if old := o.current.Swap(c); old != nil && old != c {
		old.detach()
	}
	c.attach(func(mode Mode) { o.handle(c, mode) })
}

// Context returns the active context.
func (o *Observer) Context() *Context {
	return o.current.Load()
}

func (o *Observer) Mode() Mode {
	return o.current.Load().Mode()
}

func (o *Observer) Subscribe(fn func(Mode)) (unsubscribe func()) {
	return o.subscribers.Add(fn)
}

func (o *Observer) handle(c *Context, mode Mode) {
	if o.current.Load() != c {
		return
	}
	if !c.update(mode) {
		return
	}

	logger := sugar.Or(o.Logger)
	logger.Info("power mode changed", "mode", mode)
	for _, fn := range o.subscribers.Snapshot() {
		err := sugar.Safe(func() error {
			fn(mode)
			return nil
		})
		if err != nil {
			logger.Error("power mode subscriber failed", "mode", mode, "err", err)
		}
	}
}

var (
	defaultOnce     sync.Once
	defaultObserver *Observer
)

// Default returns the process-wide observer.
func Default() *Observer {
	defaultOnce.Do(func() {
		defaultObserver = NewObserver(NewContext(nil))
	})
	return defaultObserver
}
