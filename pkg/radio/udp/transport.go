// Package udp emulates a radio medium with IPv4 multicast on a LAN.
// Every radio joins the same group; a datagram carries the channel,
// source and destination so receivers can filter what they'd hear.
package udp

import (
	"context"
	"net"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	fx "github.com/robotalks/groupnet/pkg/framework"
	"github.com/robotalks/groupnet/pkg/radio"
)

// DefaultGroup is the default multicast group address.
const DefaultGroup = "239.0.0.1:7007"

// HeaderLen is the length of channel, source and destination.
const HeaderLen = 1 + 2*radio.AddrLen

// Frame is a datagram on the medium.
type Frame struct {
	Channel int
	Src     radio.Address
	Dst     radio.Address
	Data    []byte
}

// Encode encodes the frame.
func (f *Frame) Encode() []byte {
	b := make([]byte, HeaderLen+len(f.Data))
	b[0] = byte(f.Channel)
	copy(b[1:], f.Src[:])
	copy(b[1+radio.AddrLen:], f.Dst[:])
	copy(b[HeaderLen:], f.Data)
	return b
}

// DecodeFrame decodes a datagram. Data references b.
func DecodeFrame(b []byte) (*Frame, error) {
	if len(b) <= HeaderLen {
		return nil, radio.ErrFrameSize
	}
	f := &Frame{Channel: int(b[0]), Data: b[HeaderLen:]}
	copy(f.Src[:], b[1:])
	copy(f.Dst[:], b[1+radio.AddrLen:])
	return f, nil
}

// Accepts tells if a radio with addr on channel hears the frame.
func (f *Frame) Accepts(addr radio.Address, channel int) bool {
	return f.Channel == channel && f.Src != addr && (f.Dst == addr || f.Dst.IsBroadcast())
}

// Transport implements radio.Transport on IPv4 multicast.
type Transport struct {
	// Interface selects the interface to join the group, nil for default.
	Interface *net.Interface

	group    *net.UDPAddr
	addr     radio.Address
	peers    *radio.PeerTable
	notifier *radio.Notifier

	lock    sync.RWMutex
	conn    *ipv4.PacketConn
	channel int
	reader  *fx.Task
}

// NewTransport creates a Transport on the multicast group, e.g. DefaultGroup.
func NewTransport(group string, addr radio.Address) (*Transport, error) {
	groupAddr, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", group)
	}
	if !groupAddr.IP.IsMulticast() {
		return nil, errors.Errorf("%s is not a multicast address", group)
	}
	return &Transport{
		group:    groupAddr,
		addr:     addr,
		peers:    radio.NewPeerTable(radio.DefaultMaxPeers),
		notifier: radio.NewNotifier(radio.DefaultNotifyDepth),
	}, nil
}

// Open implements radio.Transport.
func (t *Transport) Open(channel int) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.conn != nil {
		return nil
	}
	c, err := net.ListenPacket("udp4", t.group.String())
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	conn := ipv4.NewPacketConn(c)
	if err := conn.JoinGroup(t.Interface, &net.UDPAddr{IP: t.group.IP}); err != nil {
		conn.Close()
		return errors.Wrap(err, "join group")
	}
	if err := conn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return errors.Wrap(err, "multicast loopback")
	}
	if err := conn.SetMulticastTTL(1); err != nil {
		conn.Close()
		return errors.Wrap(err, "multicast ttl")
	}
	t.conn, t.channel = conn, channel
	t.notifier.Start()
	t.reader = fx.StartTask(context.Background(), "udp-reader", fx.RunFunc(func(ctx context.Context) error {
		return t.read(ctx, conn, channel)
	}))
	glog.V(2).Infof("radio %s on udp %s channel %d", t.addr, t.group, channel)
	return nil
}

// Close implements radio.Transport.
func (t *Transport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	if rerr := t.reader.Stop(); rerr != nil {
		glog.Warningf("udp reader: %v", rerr)
	}
	t.conn, t.reader = nil, nil
	t.notifier.Stop()
	t.peers.Reset()
	return err
}

// SetHandler implements radio.Transport.
func (t *Transport) SetHandler(h radio.Handler) error {
	t.notifier.SetHandler(h)
	return nil
}

// LocalAddr implements radio.Transport.
func (t *Transport) LocalAddr() radio.Address {
	return t.addr
}

// MaxDataLen implements radio.Transport.
func (t *Transport) MaxDataLen() int {
	return radio.MaxDataLen
}

// Peers implements radio.Transport.
func (t *Transport) Peers() radio.Peers {
	return t.peers
}

// Send implements radio.Transport. A datagram is written per target and
// the completion carries the first write error.
func (t *Transport) Send(dst radio.Address, data []byte) error {
	t.lock.RLock()
	conn, channel := t.conn, t.channel
	t.lock.RUnlock()
	if conn == nil {
		return radio.ErrNotOpen
	}
	if len(data) == 0 || len(data) > radio.MaxDataLen {
		return radio.ErrFrameSize
	}
	targets, err := t.peers.Resolve(dst)
	if err != nil {
		return err
	}
	frames := make([][]byte, 0, len(targets))
	for _, target := range targets {
		f := &Frame{Channel: channel, Src: t.addr, Dst: target, Data: data}
		frames = append(frames, f.Encode())
	}
	gen := t.notifier.Generation()
	go func() {
		var err error
		for _, b := range frames {
			if _, e := conn.WriteTo(b, nil, t.group); e != nil && err == nil {
				err = e
			}
		}
		t.notifier.NotifySent(gen, dst, err)
	}()
	return nil
}

func (t *Transport) read(ctx context.Context, conn *ipv4.PacketConn, channel int) error {
	buf := make([]byte, HeaderLen+radio.MaxDataLen)
	for {
		n, _, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		f, err := DecodeFrame(buf[:n])
		if err != nil || !f.Accepts(t.addr, channel) {
			continue
		}
		t.notifier.NotifyReceived(f.Src, append([]byte(nil), f.Data...))
	}
}
