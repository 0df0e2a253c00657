package ntp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AndrewLester/ntpmon/internal/monitor"
	"github.com/AndrewLester/ntpmon/internal/ntp"
	"github.com/AndrewLester/ntpmon/internal/subscription"
	"github.com/AndrewLester/ntpmon/internal/sugar"
)

// Replies taken right after a wake or start tend to be skewed.
const settleDelay = 500 * time.Millisecond

var ErrInvalidPacket = errors.New("ntp: server reply is not valid")

// OffsetFunc receives the local clock offset of every successful query.
type OffsetFunc func(ctx context.Context, offset time.Duration) error

// Dialer builds the Querier used for a single attempt.
type Dialer func(server Server) (Querier, error)

// DialClient is the default Dialer.
func DialClient(server Server) (Querier, error) {
	var opts []ClientOption
	if server.DSCP > 0 {
		opts = append(opts, WithDSCP(server.DSCP))
	}
	return NewClient(server.Host, server.Port, server.Timeout, opts...)
}

// Monitor periodically queries one server and publishes the offset.
type Monitor struct {
	*monitor.Monitor

	server      Server
	dial        Dialer
	subscribers subscription.List[OffsetFunc]

	mu     sync.Mutex
	result *ntp.Packet
}

// NewMonitor returns a stopped monitor for server. A nil dial uses
// DialClient.
func NewMonitor(server Server, dial Dialer, opts ...monitor.Option) *Monitor {
	server.applyDefaults()
	if dial == nil {
		dial = DialClient
	}

	m := &Monitor{server: server, dial: dial}
	opts = append([]monitor.Option{
		monitor.WithName(server.Address()),
		monitor.WithPolicy(server.Policy),
	}, opts...)
	m.Monitor = monitor.New(server.Interval, m, opts...)
	return m
}

func (m *Monitor) Server() Server { return m.server }

func (m *Monitor) Subscribe(fn OffsetFunc) (unsubscribe func()) {
	return m.subscribers.Add(fn)
}

// Result is the last valid reply, or nil.
func (m *Monitor) Result() *ntp.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *Monitor) setResult(packet *ntp.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = packet
}

// Tick queries the server unless nobody listens or the network is down.
func (m *Monitor) Tick(ctx context.Context) error {
	logger := m.Logger()
	if m.subscribers.Len() == 0 {
		logger.Debug("skipping query without subscribers")
		return nil
	}
	if !m.NetworkAvailable() {
		logger.Info("skipping query, network unavailable")
		return nil
	}
	if !m.Sleep(ctx, settleDelay) {
		return nil
	}

	if !m.Retry(ctx, m.query) {
		logger.Warn("no usable reply this interval")
	}
	return nil
}

func (m *Monitor) query(ctx context.Context) error {
	server := m.server
	server.Policy = m.Policy()

	client, err := m.dial(server)
	if err != nil {
		return err
	}
	packet, err := client.Query(ctx)
	if err != nil {
		return err
	}
	if !packet.Valid() {
		return fmt.Errorf("%w: leap indicator %v", ErrInvalidPacket, packet.LeapIndicator())
	}

	m.setResult(packet)
	offset := packet.LocalClockOffset()
	m.Logger().Debug("query succeeded", "offset", offset, "delay", packet.NetworkDelay(), "stratum", packet.StratumLevel())
	m.publish(ctx, offset)
	return nil
}

func (m *Monitor) publish(ctx context.Context, offset time.Duration) {
	for _, fn := range m.subscribers.Snapshot() {
		if err := sugar.Safe(func() error { return fn(ctx, offset) }); err != nil {
			m.Logger().Error("offset subscriber failed", "offset", offset, "err", err)
		}
	}
}
