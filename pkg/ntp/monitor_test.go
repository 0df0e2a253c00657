package ntp

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AndrewLester/ntpmon/internal/monitor"
	"github.com/AndrewLester/ntpmon/internal/ntp"
)

var errRefused = errors.New("connection refused")

type querierFunc func(ctx context.Context) (*ntp.Packet, error)

func (f querierFunc) Query(ctx context.Context) (*ntp.Packet, error) { return f(ctx) }

type countingDialer struct {
	dials  atomic.Int32
	server atomic.Value
	query  querierFunc
}

func (d *countingDialer) Dial(server Server) (Querier, error) {
	d.dials.Add(1)
	d.server.Store(server)
	if d.query == nil {
		return nil, errRefused
	}
	return d.query, nil
}

// packetWithOffset is a reply whose offset is 55ms and delay -10ms.
func packetWithOffset(t *testing.T, leap ntp.LeapIndicator) *ntp.Packet {
	t.Helper()
	t0 := time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC)
	raw := make([]byte, ntp.PacketSize)
	raw[0] = byte(leap)<<6 | 3<<3 | byte(ntp.ModeServer)
	raw[1] = 2
	binary.BigEndian.PutUint64(raw[24:], uint64(ntp.ToTimestamp(t0)))
	binary.BigEndian.PutUint64(raw[32:], uint64(ntp.ToTimestamp(t0.Add(50*time.Millisecond))))
	binary.BigEndian.PutUint64(raw[40:], uint64(ntp.ToTimestamp(t0.Add(60*time.Millisecond))))

	packet, err := ntp.Parse(raw, t0)
	if err != nil {
		t.Fatal(err)
	}
	return packet
}

func newTestMonitor(t *testing.T, dialer *countingDialer, network bool, policy monitor.Policy) (*Monitor, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	server := Server{Host: "time.example.com", Interval: time.Minute, Policy: policy}
	m := NewMonitor(server, dialer.Dial,
		monitor.WithClock(clock),
		monitor.WithPowerSource(nil),
		monitor.WithNetworkCheck(func() bool { return network }),
	)
	t.Cleanup(m.Close)
	return m, clock
}

func runTick(m *Monitor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Tick(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Tick() err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Tick")
	}
}

func TestMonitorRetryExhaustion(t *testing.T) {
	dialer := &countingDialer{}
	m, clock := newTestMonitor(t, dialer, true, monitor.DefaultPolicy())
	published := 0
	m.Subscribe(func(context.Context, time.Duration) error { published++; return nil })
	m.StartAfter(time.Hour)

	done := runTick(m)

	// Settle delay, then two sleeps between three failed attempts.
	clock.BlockUntil(2)
	clock.Advance(settleDelay)
	begin := clock.Now()
	for i := 0; i < 2; i++ {
		clock.BlockUntil(2)
		clock.Advance(monitor.DefaultRetryInterval)
	}
	waitDone(t, done)

	if got := dialer.dials.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if slept := clock.Since(begin); slept != 2*monitor.DefaultRetryInterval {
		t.Fatalf("slept %v between attempts, want %v", slept, 2*monitor.DefaultRetryInterval)
	}
	if published != 0 {
		t.Fatalf("published %d offsets, want 0", published)
	}
	if m.Result() != nil {
		t.Fatal("Result() set after failed attempts")
	}
}

func TestMonitorPublishesOffset(t *testing.T) {
	want := packetWithOffset(t, ntp.NoWarning)
	dialer := &countingDialer{query: func(context.Context) (*ntp.Packet, error) { return want, nil }}
	m, clock := newTestMonitor(t, dialer, true, monitor.DefaultPolicy())

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) OffsetFunc {
		return func(_ context.Context, offset time.Duration) error {
			if offset != 55*time.Millisecond {
				t.Errorf("%s got offset %v, want 55ms", name, offset)
			}
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	m.Subscribe(record("first"))
	m.Subscribe(func(context.Context, time.Duration) error { return errors.New("sink unavailable") })
	m.Subscribe(record("second"))
	m.StartAfter(time.Hour)

	done := runTick(m)
	clock.BlockUntil(2)
	clock.Advance(settleDelay)
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("subscribers ran as %v, want [first second]", order)
	}
	if m.Result() != want {
		t.Fatal("Result() is not the received packet")
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}

	server := dialer.server.Load().(Server)
	if server.Port != DefaultPort || server.Timeout != monitor.DefaultTimeout {
		t.Fatalf("dialed %+v, want default port and timeout", server)
	}
}

func TestMonitorTreatsInvalidPacketAsFailure(t *testing.T) {
	alarm := packetWithOffset(t, ntp.Alarm)
	dialer := &countingDialer{query: func(context.Context) (*ntp.Packet, error) { return alarm, nil }}
	m, clock := newTestMonitor(t, dialer, true, monitor.Policy{RetryCount: 1, RetryInterval: time.Second, Timeout: time.Second})
	published := 0
	m.Subscribe(func(context.Context, time.Duration) error { published++; return nil })
	m.StartAfter(time.Hour)

	done := runTick(m)
	clock.BlockUntil(2)
	clock.Advance(settleDelay)
	waitDone(t, done)

	if published != 0 {
		t.Fatalf("published %d offsets, want 0", published)
	}
	if m.Result() != nil {
		t.Fatal("Result() set from invalid packet")
	}
}

func TestMonitorSkipsWithoutSubscribers(t *testing.T) {
	dialer := &countingDialer{}
	m, _ := newTestMonitor(t, dialer, true, monitor.DefaultPolicy())
	m.StartAfter(time.Hour)

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := dialer.dials.Load(); got != 0 {
		t.Fatalf("attempts = %d, want 0", got)
	}
}

func TestMonitorSkipsWhenNetworkDown(t *testing.T) {
	dialer := &countingDialer{}
	m, _ := newTestMonitor(t, dialer, false, monitor.DefaultPolicy())
	m.Subscribe(func(context.Context, time.Duration) error { return nil })
	m.StartAfter(time.Hour)

	if err := m.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := dialer.dials.Load(); got != 0 {
		t.Fatalf("attempts = %d, want 0", got)
	}
}

func TestMonitorAbortsWhenStoppedDuringSettle(t *testing.T) {
	dialer := &countingDialer{}
	m, clock := newTestMonitor(t, dialer, true, monitor.DefaultPolicy())
	m.Subscribe(func(context.Context, time.Duration) error { return nil })
	m.StartAfter(time.Hour)

	done := runTick(m)
	clock.BlockUntil(2)
	m.Stop()
	clock.Advance(settleDelay)
	waitDone(t, done)

	if got := dialer.dials.Load(); got != 0 {
		t.Fatalf("attempts = %d, want 0", got)
	}
}

func TestMonitorOverLoopback(t *testing.T) {
	host, port := startFakeServer(t, -time.Second, ntp.NoWarning, false)

	clock := clockwork.NewFakeClock()
	m := NewMonitor(Server{Host: host, Port: port, Interval: time.Minute}, nil,
		monitor.WithClock(clock),
		monitor.WithPowerSource(nil),
		monitor.WithNetworkCheck(func() bool { return true }),
	)
	t.Cleanup(m.Close)

	offsets := make(chan time.Duration, 1)
	m.Subscribe(func(_ context.Context, offset time.Duration) error {
		offsets <- offset
		return nil
	})
	m.StartAfter(time.Hour)

	done := runTick(m)
	clock.BlockUntil(2)
	clock.Advance(settleDelay)
	waitDone(t, done)

	select {
	case offset := <-offsets:
		assertNear(t, "offset", offset, -time.Second, 100*time.Millisecond)
	default:
		t.Fatal("no offset published")
	}
}
