package groupnet

import (
	"encoding/binary"

	"github.com/robotalks/groupnet/pkg/radio"
)

// PacketType tells how a packet is processed on arrival.
type PacketType uint16

// Packet types.
const (
	TypeData   PacketType = 0
	TypeBeacon PacketType = 1
)

const (
	// TypeLen is the length of the type field.
	TypeLen = 2
	// HeaderLen is the length of address and type preceding the payload.
	HeaderLen = radio.AddrLen + TypeLen
	// BeaconLen is the length of a beacon payload.
	BeaconLen = 4
)

// String implements fmt.Stringer.
func (t PacketType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeBeacon:
		return "BEACON"
	}
	return "UNKNOWN"
}

// Packet is the unit carried through the send and receive rings.
// Addr is the destination when sending and the source when received.
type Packet struct {
	Addr    radio.Address
	Type    PacketType
	Payload []byte
}

// Len returns the encoded length.
func (p *Packet) Len() int {
	return HeaderLen + len(p.Payload)
}

// EncodeTo writes the packet into b which must be at least Len() bytes.
func (p *Packet) EncodeTo(b []byte) {
	copy(b, p.Addr[:])
	binary.LittleEndian.PutUint16(b[radio.AddrLen:], uint16(p.Type))
	copy(b[HeaderLen:], p.Payload)
}

// Encode returns the encoded packet.
func (p *Packet) Encode() []byte {
	b := make([]byte, p.Len())
	p.EncodeTo(b)
	return b
}

// Frame returns what goes on the air: type and payload.
func (p *Packet) Frame() []byte {
	b := make([]byte, TypeLen+len(p.Payload))
	binary.LittleEndian.PutUint16(b, uint16(p.Type))
	copy(b[TypeLen:], p.Payload)
	return b
}

// DecodePacket decodes an item from a ring. The payload references b.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < HeaderLen {
		return nil, ErrSizeExceeded
	}
	p := &Packet{
		Type:    PacketType(binary.LittleEndian.Uint16(b[radio.AddrLen:])),
		Payload: b[HeaderLen:],
	}
	copy(p.Addr[:], b)
	return p, nil
}

// ParseFrame decodes a frame heard from src. The payload references data.
func ParseFrame(src radio.Address, data []byte) (*Packet, bool) {
	if len(data) < TypeLen {
		return nil, false
	}
	return &Packet{
		Addr:    src,
		Type:    PacketType(binary.LittleEndian.Uint16(data)),
		Payload: data[TypeLen:],
	}, true
}

// BeaconPacket builds the beacon announcing the group id.
func BeaconPacket(id uint32) *Packet {
	p := &Packet{Addr: radio.Broadcast, Type: TypeBeacon, Payload: make([]byte, BeaconLen)}
	binary.LittleEndian.PutUint32(p.Payload, id)
	return p
}

// BeaconID extracts the group id from a beacon payload.
func BeaconID(payload []byte) (uint32, bool) {
	if len(payload) != BeaconLen {
		return 0, false
	}
	return binary.LittleEndian.Uint32(payload), true
}
