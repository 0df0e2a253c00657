// Package ntp queries NTP servers and publishes the measured clock offset.
package ntp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/AndrewLester/ntpmon/internal/ntp"
)

const (
	DefaultPort = 123

	// Large enough for a packet carrying a key ID and digest.
	receiveBufferSize = 128
)

var ErrTimeout = errors.New("ntp: request timed out")

// Querier performs one NTP request/response exchange.
type Querier interface {
	Query(ctx context.Context) (*ntp.Packet, error)
}

type ClientOption func(*Client)

// WithDSCP marks outgoing requests with the given differentiated services
// code point.
func WithDSCP(dscp int) ClientOption {
	return func(c *Client) { c.dscp = dscp }
}

type Client struct {
	addr    *net.UDPAddr
	timeout time.Duration
	dscp    int
	now     func() time.Time
}

// NewClient resolves host once. Resolution errors are returned as is.
func NewClient(host string, port int, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	c := &Client{addr: addr, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Addr() *net.UDPAddr { return c.addr }

// Query sends a single request and waits for the first reply. The socket is
// connected, so datagrams from other sources are dropped by the kernel. The
// caller decides whether the returned packet is Valid.
func (c *Client) Query(ctx context.Context) (*ntp.Packet, error) {
	conn, err := net.DialUDP("udp", nil, c.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if c.dscp > 0 {
		if err := c.markDSCP(conn); err != nil {
			return nil, fmt.Errorf("setting dscp: %w", err)
		}
	}

	deadline := c.now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	request := ntp.NewRequest(c.now())
	if _, err := conn.Write(request.Bytes()); err != nil {
		return nil, c.wrap(ctx, err)
	}

	buf := make([]byte, receiveBufferSize)
	n, err := conn.Read(buf)
	created := c.now()
	if err != nil {
		return nil, c.wrap(ctx, err)
	}
	return ntp.Parse(buf[:n], created)
}

func (c *Client) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %v: %s", ErrTimeout, c.timeout, c.addr)
	}
	return err
}

func (c *Client) markDSCP(conn *net.UDPConn) error {
	tos := c.dscp << 2
	if c.addr.IP.To4() != nil {
		return ipv4.NewConn(conn).SetTOS(tos)
	}
	return ipv6.NewConn(conn).SetTrafficClass(tos)
}
