//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package settimeofday

import (
	"time"

	"golang.org/x/sys/unix"
)

// Settimeofday steps the system clock to t.
func Settimeofday(t time.Time) error {
	timeVal := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&timeVal)
}
