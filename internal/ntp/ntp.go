// Package ntp encodes and decodes NTP (RFC 2030) timestamps and packets.
package ntp

const (
	Port       = "123" // NTP port number
	Version    = 3
	PacketSize = 48
)

type LeapIndicator byte

const (
	NoWarning LeapIndicator = iota
	LastMinute61
	LastMinute59
	Alarm
)

func (l LeapIndicator) String() string {
	switch l {
	case NoWarning:
		return "no-warning"
	case LastMinute61:
		return "last-minute-61"
	case LastMinute59:
		return "last-minute-59"
	case Alarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// Mode values match the wire encoding. Reserved wire values 0, 6 and 7
// decode as ModeUnknown.
type Mode byte

const (
	ModeUnknown Mode = iota
	ModeSymmetricActive
	ModeSymmetricPassive
	ModeClient
	ModeServer
	ModeBroadcast
)

func modeFromWire(b byte) Mode {
	if b >= byte(ModeSymmetricActive) && b <= byte(ModeBroadcast) {
		return Mode(b)
	}
	return ModeUnknown
}

func (m Mode) String() string {
	switch m {
	case ModeSymmetricActive:
		return "symmetric-active"
	case ModeSymmetricPassive:
		return "symmetric-passive"
	case ModeClient:
		return "client"
	case ModeServer:
		return "server"
	case ModeBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

type Stratum byte

const (
	StratumUnspecified Stratum = iota
	StratumPrimary
	StratumSecondary
	StratumReserved
)

func stratumFromWire(b byte) Stratum {
	switch {
	case b == 0:
		return StratumUnspecified
	case b == 1:
		return StratumPrimary
	case b <= 15:
		return StratumSecondary
	default:
		return StratumReserved
	}
}

func (s Stratum) String() string {
	switch s {
	case StratumUnspecified:
		return "unspecified"
	case StratumPrimary:
		return "primary-reference"
	case StratumSecondary:
		return "secondary-reference"
	default:
		return "reserved"
	}
}
