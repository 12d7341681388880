package radio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AddrLen is the length of an address in bytes.
const AddrLen = 6

// MaxDataLen is the maximum frame size carried by a radio.
const MaxDataLen = 250

// Address identifies a radio.
type Address [AddrLen]byte

var (
	// Broadcast reaches every radio on the channel.
	Broadcast = Address{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// Group is not routable; it stands for all registered peers.
	Group = Address{0x03, 0x00, 0x00, 0x00, 0x00, 0x00}
)

// IsBroadcast tells if the address is Broadcast.
func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

// IsGroup tells if the address is the Group sentinel.
func (a Address) IsGroup() bool {
	return a == Group
}

// IsReserved tells if the address is Broadcast or Group.
func (a Address) IsReserved() bool {
	return a.IsBroadcast() || a.IsGroup()
}

// String formats the address as aa:bb:cc:dd:ee:ff.
func (a Address) String() string {
	var sb strings.Builder
	for n, b := range a {
		if n > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

// ParseAddress parses aa:bb:cc:dd:ee:ff, aa-bb-... or aabbccddeeff.
func ParseAddress(s string) (a Address, err error) {
	s = strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(s) != AddrLen*2 {
		return a, fmt.Errorf("invalid address %q", s)
	}
	if _, err = hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("invalid address %q: %v", s, err)
	}
	return a, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) (err error) {
	*a, err = ParseAddress(string(text))
	return
}

var (
	// ErrNotOpen indicates the adapter is not open.
	ErrNotOpen = errors.New("radio not open")
	// ErrPeerNotFound indicates a unicast destination not in the peer table.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrPeerExists indicates the peer is already in the table.
	ErrPeerExists = errors.New("peer exists")
	// ErrPeerTableFull indicates the peer table is full.
	ErrPeerTableFull = errors.New("peer table full")
	// ErrInvalidPeer indicates the address can't be a peer.
	ErrInvalidPeer = errors.New("invalid peer address")
	// ErrFrameSize indicates the frame is empty or exceeds MaxDataLen.
	ErrFrameSize = errors.New("invalid frame size")
)

// Handler receives notifications from an adapter.
type Handler interface {
	// SendDone reports the outcome of an accepted Send.
	SendDone(dst Address, err error)
	// Received reports an arrived frame. data is owned by the handler.
	Received(src Address, data []byte)
}

// Transport is a best-effort datagram radio.
type Transport interface {
	// Open brings up the radio on the channel.
	Open(channel int) error
	// Close shuts down the radio and clears the peer table.
	Close() error
	// SetHandler registers the notification handler, nil unregisters.
	SetHandler(Handler) error
	// Send queues data for transmission to dst.
	Send(dst Address, data []byte) error
	// LocalAddr returns the address of this radio.
	LocalAddr() Address
	// MaxDataLen returns the maximum frame size.
	MaxDataLen() int

	// Peers gives access to the peer table.
	Peers() Peers
}

// Peers is the bounded peer table of an adapter.
type Peers interface {
	Add(Address) error
	Remove(Address) error
	Has(Address) bool
	List() ([]Address, error)
	Count() (int, error)
}
