package ntp

import (
	"math"
	"time"
)

const (
	EraLength     int64   = 4_294_967_296 // 2^32
	UnixEraOffset int64   = 2_208_988_800 // 1970 - 1900 in seconds
	ShortLength   float64 = 65536         // 2^16
)

// Pivot is the start of NTP era 1, when the 32-bit seconds field of era 0
// wraps.
var Pivot = time.Unix(EraLength-UnixEraOffset, 0).UTC()

// ToTimestamp encodes t as a 64-bit NTP timestamp: whole seconds since the
// era origin in the top 32 bits and the binary fraction in the low 32 bits.
// Times at or after Pivot are counted from Pivot, earlier ones from 1900.
func ToTimestamp(t time.Time) int64 {
	origin := -UnixEraOffset
	if !t.Before(Pivot) {
		origin = EraLength - UnixEraOffset
	}

	seconds := uint32(t.Unix() - origin)
	fraction := (uint64(t.Nanosecond())<<32 + 500_000_000) / 1_000_000_000
	return int64(uint64(seconds)<<32 | fraction)
}

// ToTime decodes an NTP timestamp. A seconds field with the top bit set is
// counted from 1900, one with the top bit clear from Pivot, which covers
// 1968 through 2104.
func ToTime(timestamp int64) time.Time {
	encoded := uint64(timestamp)
	seconds := int64(encoded >> 32)
	fraction := encoded & 0xFFFF_FFFF

	origin := EraLength - UnixEraOffset
	if seconds&0x8000_0000 != 0 {
		origin = -UnixEraOffset
	}

	nanos := (fraction*1_000_000_000 + 1<<31) >> 32
	return time.Unix(origin+seconds, int64(nanos)).UTC()
}

// ShortToSeconds decodes a 16.16 fixed point value. Only the low 15 bits of
// the fraction are used.
func ShortToSeconds(raw uint32) float64 {
	return float64(int16(raw>>16)) + float64(uint16(raw&0x7FFF))/ShortLength
}

// Log2ToDouble returns 2^a.
func Log2ToDouble(a int8) float64 {
	return math.Ldexp(1, int(a))
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
