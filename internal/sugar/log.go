package sugar

import (
	"log/slog"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// Logger returns the process logger. DEBUG=1 and INFO=1 lower the level,
// everything else only reports warnings and errors.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level()}))
	})
	return logger
}

// Or returns l, or the process logger when l is nil.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}

func level() slog.Level {
	switch {
	case isDebug():
		return slog.LevelDebug
	case isInfo():
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

func isInfo() bool {
	return os.Getenv("INFO") == "1"
}

func isDebug() bool {
	return os.Getenv("DEBUG") == "1"
}
