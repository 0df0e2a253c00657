package main

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AndrewLester/ntpmon/internal/monitor"
	"github.com/AndrewLester/ntpmon/internal/power"
	"github.com/AndrewLester/ntpmon/internal/rpc"
	"github.com/AndrewLester/ntpmon/internal/sugar"
	"github.com/AndrewLester/ntpmon/pkg/ntp"
)

// run monitors every configured server and serves their status until ctx
// is done.
func run(ctx context.Context, cfg *ntp.Config) error {
	logger := sugar.Logger()
	power.Default().Configure(power.NewContext(&power.WakeGapSource{}))

	monitors := buildMonitors(cfg, logger)
	for _, m := range monitors {
		m.Start()
		defer m.Close()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rpc.NewServer(cfg.Socket, statusOf(monitors)).Serve(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "monitors", len(monitors))
		return nil
	})
	return g.Wait()
}

func buildMonitors(cfg *ntp.Config, logger *slog.Logger) []*ntp.Monitor {
	logger = sugar.Or(logger)

	var adjuster *ntp.ClockAdjuster
	if cfg.Adjust {
		adjuster = ntp.NewClockAdjuster(cfg.StepLimit)
		adjuster.Logger = logger
	}

	monitors := make([]*ntp.Monitor, 0, len(cfg.Servers))
	for i, server := range cfg.Servers {
		m := ntp.NewMonitor(server, nil, monitor.WithLogger(logger))
		m.Subscribe(logOffset(logger, server.Address()))
		// Only the first server disciplines the clock.
		if adjuster != nil && i == 0 {
			m.Subscribe(adjuster.Adjust)
		}
		monitors = append(monitors, m)
	}
	return monitors
}

func logOffset(logger *slog.Logger, server string) ntp.OffsetFunc {
	return func(_ context.Context, offset time.Duration) error {
		logger.Info("clock offset", "server", server, "offset", offset)
		return nil
	}
}

func statusOf(monitors []*ntp.Monitor) rpc.StatusFunc {
	return func() []rpc.MonitorStatus {
		rows := make([]rpc.MonitorStatus, 0, len(monitors))
		for _, m := range monitors {
			row := rpc.MonitorStatus{
				Server:   m.Server().Address(),
				State:    m.State().String(),
				Interval: m.Interval(),
				LastRun:  m.Last(),
				NextRun:  m.Next(),
			}
			if result := m.Result(); result != nil {
				row.Synced = true
				row.Offset = result.LocalClockOffset()
				row.Delay = result.NetworkDelay()
				row.Stratum = result.StratumLevel()
			}
			rows = append(rows, row)
		}
		return rows
	}
}
