package groupnet

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/groupnet/pkg/radio"
	"github.com/robotalks/groupnet/pkg/ringbuf"
)

// Send queues buf for dst, or for all registered peers if dst is nil,
// waiting up to wait for space in the send ring. It returns len(buf) once
// the packet is queued; delivery is not reported.
func (n *Node) Send(dst *radio.Address, buf []byte, wait time.Duration) (int, error) {
	ctx, cancel := waitContext(wait)
	defer cancel()
	return n.SendContext(ctx, dst, buf)
}

// SendContext is Send waiting until ctx is done.
func (n *Node) SendContext(ctx context.Context, dst *radio.Address, buf []byte) (int, error) {
	if len(buf) > n.MaxPayload() {
		return 0, ErrSizeExceeded
	}
	res, err := n.ready()
	if err != nil {
		return 0, err
	}
	pkt := &Packet{Addr: radio.Group, Type: TypeData, Payload: buf}
	if dst != nil {
		pkt.Addr = *dst
	}
	if err := enqueue(ctx, res.sbuf, pkt); err != nil {
		return 0, err
	}
	glog.V(4).Infof("queued %d bytes to %s", len(buf), pkt.Addr)
	return len(buf), nil
}

func enqueue(ctx context.Context, sbuf *ringbuf.Ring, pkt *Packet) error {
	slot, err := sbuf.Acquire(ctx, pkt.Len())
	if err != nil {
		return ringError(err, ErrBufferAcquire)
	}
	pkt.EncodeTo(slot.Bytes())
	if err := sbuf.Commit(slot); err != nil {
		sbuf.Release(slot)
		return ringError(err, ErrBufferReturn)
	}
	return nil
}

func ringError(err error, code *Error) error {
	switch err {
	case ringbuf.ErrClosed:
		return ErrNotReady
	case ringbuf.ErrTooLarge:
		return ErrSizeExceeded
	}
	return errors.Wrap(code, err.Error())
}

// sendWorker drains the send ring with at most one transmission in flight.
type sendWorker struct {
	transport radio.Transport
	sbuf      *ringbuf.Ring
	sendDone  chan struct{}
	metrics   *Metrics
}

// Run implements framework.Runnable.
func (w *sendWorker) Run(ctx context.Context) error {
	for {
		item, err := w.sbuf.Receive(ctx)
		if err != nil {
			return err
		}
		pkt, err := DecodePacket(item)
		if err != nil {
			glog.Errorf("send ring: malformed item of %d bytes", len(item))
			continue
		}
		select {
		case <-w.sendDone:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := w.transport.Send(pkt.Addr, pkt.Frame()); err != nil {
			glog.Errorf("send %s to %s fail: %v", pkt.Type, pkt.Addr, err)
			w.metrics.txError("send")
			// no completion follows a rejected send.
			select {
			case w.sendDone <- struct{}{}:
			default:
			}
			continue
		}
		w.metrics.TxPackets.Inc()
	}
}
