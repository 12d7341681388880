package groupnet

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/groupnet/pkg/radio"
	"github.com/robotalks/groupnet/pkg/ringbuf"
)

// Recv waits up to wait for the oldest received DATA packet and copies
// its payload into buf. A payload longer than buf is truncated.
func (n *Node) Recv(buf []byte, wait time.Duration) (radio.Address, int, error) {
	ctx, cancel := waitContext(wait)
	defer cancel()
	return n.RecvContext(ctx, buf)
}

// RecvContext is Recv waiting until ctx is done.
func (n *Node) RecvContext(ctx context.Context, buf []byte) (src radio.Address, size int, err error) {
	pkt, err := n.receive(ctx)
	if err != nil {
		return src, 0, err
	}
	return pkt.Addr, copy(buf, pkt.Payload), nil
}

// Receive is Recv returning the whole payload.
func (n *Node) Receive(wait time.Duration) (radio.Address, []byte, error) {
	ctx, cancel := waitContext(wait)
	defer cancel()
	pkt, err := n.receive(ctx)
	if err != nil {
		return radio.Address{}, nil, err
	}
	return pkt.Addr, pkt.Payload, nil
}

func (n *Node) receive(ctx context.Context) (*Packet, error) {
	res, err := n.ready()
	if err != nil {
		return nil, err
	}
	item, err := res.rbuf.Receive(ctx)
	if err != nil {
		return nil, ringError(err, ErrBufferAcquire)
	}
	return DecodePacket(item)
}

// notifyHandler runs in the notification context of the radio.
type notifyHandler struct {
	node     *Node
	peers    radio.Peers
	rbuf     *ringbuf.Ring
	sendDone chan struct{}
}

// SendDone implements radio.Handler.
func (h *notifyHandler) SendDone(dst radio.Address, err error) {
	if err != nil {
		glog.Errorf("send to %s fail (completion): %v", dst, err)
		h.node.Metrics.txError("completion")
	}
	select {
	case h.sendDone <- struct{}{}:
	default:
		glog.Warningf("unexpected send completion for %s", dst)
	}
}

// Received implements radio.Handler.
func (h *notifyHandler) Received(src radio.Address, data []byte) {
	pkt, ok := ParseFrame(src, data)
	if !ok {
		glog.V(4).Infof("drop runt frame of %d bytes from %s", len(data), src)
		return
	}
	switch pkt.Type {
	case TypeData:
		h.queue(pkt)
	case TypeBeacon:
		h.node.matchBeacon(h.peers, pkt)
	default:
		glog.V(4).Infof("drop frame of unknown type %d from %s", pkt.Type, src)
	}
}

func (h *notifyHandler) queue(pkt *Packet) {
	slot, err := h.rbuf.TryAcquire(pkt.Len())
	if err != nil {
		glog.V(2).Infof("drop packet from %s: %v", pkt.Addr, err)
		h.node.Metrics.RxDropped.Inc()
		return
	}
	pkt.EncodeTo(slot.Bytes())
	if err := h.rbuf.Commit(slot); err != nil {
		h.rbuf.Release(slot)
		h.node.Metrics.RxDropped.Inc()
		return
	}
	h.node.Metrics.RxPackets.Inc()
}
