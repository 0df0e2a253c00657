package ntp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

const (
	keyIDSize  = 4
	digestSize = 16
	maxPollExp = 33
)

var ErrShortPacket = errors.New("ntp: packet shorter than 48 bytes")

// FieldsEncoded is the wire layout of bytes 1 through 47.
type FieldsEncoded struct {
	Stratum        byte
	Poll           int8
	Precision      int8
	RootDelay      uint32
	RootDispersion uint32
	ReferenceID    uint32
	ReferenceTime  uint64
	OriginTime     uint64
	ReceiveTime    uint64
	TransmitTime   uint64
}

// Packet is a decoded NTP datagram together with the local time it was
// created or received at.
type Packet struct {
	leap    LeapIndicator
	version byte
	mode    byte
	FieldsEncoded

	keyID     *uint32
	digest    []byte
	createdAt time.Time
}

// NewRequest builds the client request sent to a server: version 3, client
// mode, transmit timestamp set to now.
func NewRequest(now time.Time) *Packet {
	return &Packet{
		leap:    NoWarning,
		version: Version,
		mode:    byte(ModeClient),
		FieldsEncoded: FieldsEncoded{
			TransmitTime: uint64(ToTimestamp(now)),
		},
		createdAt: now,
	}
}

// Parse decodes a datagram received at created. Buffers shorter than 48
// bytes fail with ErrShortPacket. A key ID and message digest are decoded
// when the buffer is long enough to carry them.
func Parse(raw []byte, created time.Time) (*Packet, error) {
	if len(raw) < PacketSize {
		return nil, fmt.Errorf("%w: got %d", ErrShortPacket, len(raw))
	}

	reader := bytes.NewReader(raw[:PacketSize])
	firstByte, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	packet := &Packet{
		leap:      LeapIndicator(firstByte >> 6),
		version:   (firstByte >> 3) & 0b111,
		mode:      firstByte & 0b111,
		createdAt: created,
	}
	if err := binary.Read(reader, binary.BigEndian, &packet.FieldsEncoded); err != nil {
		return nil, err
	}

	if len(raw) >= PacketSize+keyIDSize {
		keyID := binary.BigEndian.Uint32(raw[PacketSize:])
		packet.keyID = &keyID
	}
	if end := PacketSize + keyIDSize + digestSize; len(raw) >= end {
		packet.digest = bytes.Clone(raw[PacketSize+keyIDSize : end])
	}
	return packet, nil
}

// Bytes encodes the packet. The key ID and digest are appended when present.
func (p *Packet) Bytes() []byte {
	firstByte := (byte(p.leap) << 6) | (p.version&0b111)<<3 | p.mode&0b111

	var buffer bytes.Buffer
	buffer.WriteByte(firstByte)
	binary.Write(&buffer, binary.BigEndian, &p.FieldsEncoded)
	if p.keyID != nil {
		binary.Write(&buffer, binary.BigEndian, *p.keyID)
		if p.digest != nil {
			buffer.Write(p.digest)
		}
	}
	return buffer.Bytes()
}

func (p *Packet) LeapIndicator() LeapIndicator { return p.leap }

func (p *Packet) Version() int { return int(p.version) }

func (p *Packet) Mode() Mode { return modeFromWire(p.mode) }

func (p *Packet) Stratum() Stratum { return stratumFromWire(p.FieldsEncoded.Stratum) }

// StratumLevel is the raw stratum byte.
func (p *Packet) StratumLevel() int { return int(p.FieldsEncoded.Stratum) }

// PollInterval is 2^(poll-1) seconds for a positive poll exponent and zero
// otherwise.
func (p *Packet) PollInterval() time.Duration {
	exp := p.Poll
	if exp <= 0 {
		return 0
	}
	if exp > maxPollExp {
		exp = maxPollExp
	}
	return time.Duration(int64(1)<<(exp-1)) * time.Second
}

// Precision is 2^precision seconds.
func (p *Packet) Precision() float64 { return Log2ToDouble(p.FieldsEncoded.Precision) }

func (p *Packet) RootDelay() time.Duration {
	return secondsToDuration(ShortToSeconds(p.FieldsEncoded.RootDelay))
}

func (p *Packet) RootDispersion() time.Duration {
	return secondsToDuration(ShortToSeconds(p.FieldsEncoded.RootDispersion))
}

// ReferenceID is the four character clock identifier of stratum 0 and 1
// servers, the upstream IPv4 address of version 3 secondary servers, and
// empty otherwise.
func (p *Packet) ReferenceID() string {
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], p.FieldsEncoded.ReferenceID)

	switch p.Stratum() {
	case StratumUnspecified, StratumPrimary:
		return strings.TrimRight(string(id[:]), "\x00")
	case StratumSecondary:
		if p.version == 3 {
			return netip.AddrFrom4(id).String()
		}
	}
	return ""
}

func (p *Packet) ReferenceTimestamp() time.Time { return ToTime(int64(p.ReferenceTime)) }

func (p *Packet) OriginateTimestamp() time.Time { return ToTime(int64(p.OriginTime)) }

func (p *Packet) ReceiveTimestamp() time.Time { return ToTime(int64(p.ReceiveTime)) }

func (p *Packet) TransmitTimestamp() time.Time { return ToTime(int64(p.TransmitTime)) }

// CreationTime is when the packet was built or received locally.
func (p *Packet) CreationTime() time.Time { return p.createdAt }

func (p *Packet) KeyID() (uint32, bool) {
	if p.keyID == nil {
		return 0, false
	}
	return *p.keyID, true
}

func (p *Packet) MessageDigest() ([]byte, bool) {
	return p.digest, p.digest != nil
}

// Valid reports whether the server clock is synchronized.
func (p *Packet) Valid() bool {
	return p.leap != Alarm
}

// NetworkDelay is the round trip time minus the time the server spent
// between receiving the request and sending the reply.
func (p *Packet) NetworkDelay() time.Duration {
	return p.createdAt.Sub(p.OriginateTimestamp()) - p.TransmitTimestamp().Sub(p.ReceiveTimestamp())
}

// LocalClockOffset is how far the server clock is ahead of the local one.
func (p *Packet) LocalClockOffset() time.Duration {
	return (p.ReceiveTimestamp().Sub(p.OriginateTimestamp()) + p.TransmitTimestamp().Sub(p.createdAt)) / 2
}
