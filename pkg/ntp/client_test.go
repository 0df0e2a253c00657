package ntp

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	beevik "github.com/beevik/ntp"
	"golang.org/x/net/nettest"

	"github.com/AndrewLester/ntpmon/internal/ntp"
)

type fakeServer struct {
	conn   net.PacketConn
	offset time.Duration
	leap   ntp.LeapIndicator
	silent bool
}

// startFakeServer answers requests on a loopback socket with a clock running
// offset ahead of the local one.
func startFakeServer(t *testing.T, offset time.Duration, leap ntp.LeapIndicator, silent bool) (string, int) {
	t.Helper()
	conn, err := nettest.NewLocalPacketListener("udp")
	if err != nil {
		t.Skipf("no loopback udp: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := &fakeServer{conn: conn, offset: offset, leap: leap, silent: silent}
	go s.serve()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), addr.Port
}

func (s *fakeServer) serve() {
	buf := make([]byte, 128)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if s.silent || n < ntp.PacketSize {
			continue
		}
		s.conn.WriteTo(s.reply(buf[:n], time.Now()), addr)
	}
}

func (s *fakeServer) reply(request []byte, now time.Time) []byte {
	raw := make([]byte, ntp.PacketSize)
	raw[0] = byte(s.leap)<<6 | 3<<3 | byte(ntp.ModeServer)
	raw[1] = 2
	raw[2] = 6
	raw[3] = 0xEC
	binary.BigEndian.PutUint32(raw[12:], 0x7F000001)

	serverNow := uint64(ntp.ToTimestamp(now.Add(s.offset)))
	binary.BigEndian.PutUint64(raw[16:], serverNow)
	copy(raw[24:32], request[40:48])
	binary.BigEndian.PutUint64(raw[32:], serverNow)
	binary.BigEndian.PutUint64(raw[40:], serverNow)
	return raw
}

func assertNear(t *testing.T, name string, got, want, tolerance time.Duration) {
	t.Helper()
	if diff := (got - want).Abs(); diff > tolerance {
		t.Fatalf("%s = %v, want %v within %v", name, got, want, tolerance)
	}
}

func TestClientQuery(t *testing.T) {
	host, port := startFakeServer(t, 2*time.Second, ntp.NoWarning, false)

	client, err := NewClient(host, port, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	packet, err := client.Query(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !packet.Valid() {
		t.Error("Valid() = false")
	}
	if packet.Mode() != ntp.ModeServer {
		t.Errorf("Mode() = %v, want server", packet.Mode())
	}
	if packet.ReferenceID() != "127.0.0.1" {
		t.Errorf("ReferenceID() = %q", packet.ReferenceID())
	}
	assertNear(t, "LocalClockOffset()", packet.LocalClockOffset(), 2*time.Second, 100*time.Millisecond)
	assertNear(t, "NetworkDelay()", packet.NetworkDelay(), 0, 100*time.Millisecond)
}

func TestClientAgreesWithBeevik(t *testing.T) {
	host, port := startFakeServer(t, 2*time.Second, ntp.NoWarning, false)

	response, err := beevik.QueryWithOptions(host, beevik.QueryOptions{Port: port, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}

	client, err := NewClient(host, port, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	packet, err := client.Query(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	assertNear(t, "LocalClockOffset()", packet.LocalClockOffset(), response.ClockOffset, 100*time.Millisecond)
}

func TestClientTimeout(t *testing.T) {
	host, port := startFakeServer(t, 0, ntp.NoWarning, true)

	client, err := NewClient(host, port, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Query(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Query() err = %v, want ErrTimeout", err)
	}
}

func TestClientContextCancel(t *testing.T) {
	host, port := startFakeServer(t, 0, ntp.NoWarning, true)

	client, err := NewClient(host, port, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	if _, err := client.Query(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Query() err = %v, want context.Canceled", err)
	}
}

func TestClientDSCP(t *testing.T) {
	host, port := startFakeServer(t, 0, ntp.NoWarning, false)

	client, err := NewClient(host, port, time.Second, WithDSCP(46))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Query(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestNewClientResolutionError(t *testing.T) {
	if _, err := NewClient("host.invalid", DefaultPort, time.Second); err == nil {
		t.Fatal("NewClient() with unresolvable host succeeded")
	}
}
