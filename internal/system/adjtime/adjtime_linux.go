package adjtime

import (
	"time"

	"golang.org/x/sys/unix"
)

// Adjtime shifts the system clock by offset.
func Adjtime(offset time.Duration) error {
	buf := &unix.Timex{
		Time:  unix.NsecToTimeval(offset.Nanoseconds()),
		Modes: unix.ADJ_SETOFFSET,
	}
	_, err := unix.Adjtimex(buf)
	return err
}
