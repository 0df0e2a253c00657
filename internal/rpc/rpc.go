// Package rpc exposes monitor status over net/rpc on a unix socket.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"os"
	"time"

	"github.com/AndrewLester/ntpmon/internal/sugar"
)

const serviceName = "Status"

// MonitorStatus is one row of the status table.
type MonitorStatus struct {
	Server   string
	State    string
	Interval time.Duration
	LastRun  time.Time
	NextRun  time.Time
	Synced   bool
	Offset   time.Duration
	Delay    time.Duration
	Stratum  int
}

// StatusFunc snapshots every monitor.
type StatusFunc func() []MonitorStatus

type Status struct {
	fetch StatusFunc
}

// Fetch ignores args.
func (s *Status) Fetch(args int, reply *[]MonitorStatus) error {
	*reply = s.fetch()
	return nil
}

type Server struct {
	Socket string
	Logger *slog.Logger

	status StatusFunc
}

func NewServer(socket string, status StatusFunc) *Server {
	return &Server{Socket: socket, status: status}
}

// Serve accepts connections until ctx is done. A stale socket file from a
// previous run is removed first.
func (s *Server) Serve(ctx context.Context) error {
	logger := sugar.Or(s.Logger)

	server := rpc.NewServer()
	if err := server.RegisterName(serviceName, &Status{fetch: s.status}); err != nil {
		return err
	}

	err := os.Remove(s.Socket)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("bind error: %w", err)
	}
	l, err := net.Listen("unix", s.Socket)
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	defer os.Remove(s.Socket)

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	logger.Info("rpc listening", "socket", s.Socket)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go server.ServeConn(conn)
	}
}

// Fetch dials socket and returns the daemon's monitor status.
func Fetch(socket string) ([]MonitorStatus, error) {
	client, err := rpc.Dial("unix", socket)
	if err != nil {
		return nil, fmt.Errorf("connecting to ntpmon daemon: %w", err)
	}
	defer client.Close()

	var status []MonitorStatus
	if err := client.Call(serviceName+".Fetch", 0, &status); err != nil {
		return nil, err
	}
	return status, nil
}
