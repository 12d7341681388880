package groupnet

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/groupnet/pkg/radio"
	"github.com/robotalks/groupnet/pkg/ringbuf"
)

// GroupOpen opens the group session with id and (re)starts beaconing.
func (n *Node) GroupOpen(id uint32) error {
	res, err := n.ready()
	if err != nil {
		return err
	}
	n.session.Store(groupOpenBit | uint64(id))
	if err := res.timer.command(true, n.TimerWait); err != nil {
		return errors.Wrapf(ErrFail, "group open: %v", err)
	}
	glog.V(2).Infof("group %08x open", id)
	return nil
}

// GroupClose closes the group session and stops beaconing.
// Registered peers are kept.
func (n *Node) GroupClose() error {
	n.session.Store(0)
	res, err := n.ready()
	if err != nil {
		return nil
	}
	if err := res.timer.command(false, n.TimerWait); err != nil {
		glog.Warningf("group close: %v", err)
	}
	return nil
}

// GroupClear removes all registered peers. The first failure aborts
// with the peers removed so far staying removed.
func (n *Node) GroupClear() error {
	res, err := n.ready()
	if err != nil {
		return err
	}
	addrs, err := res.peers.List()
	if err != nil {
		return errors.Wrapf(ErrPeer, "list peers: %v", err)
	}
	for _, addr := range addrs {
		if addr.IsReserved() {
			continue
		}
		if err := res.peers.Remove(addr); err != nil {
			return errors.Wrapf(ErrPeer, "remove peer %s: %v", addr, err)
		}
	}
	return nil
}

// GroupCount returns the number of registered peers.
func (n *Node) GroupCount() (int, error) {
	res, err := n.ready()
	if err != nil {
		return 0, err
	}
	count, err := res.peers.Count()
	if err != nil {
		return 0, errors.Wrapf(ErrPeer, "count peers: %v", err)
	}
	if res.peers.Has(radio.Broadcast) {
		count--
	}
	return count, nil
}

// GroupPeers lists the registered peers.
func (n *Node) GroupPeers() ([]radio.Address, error) {
	res, err := n.ready()
	if err != nil {
		return nil, err
	}
	addrs, err := res.peers.List()
	if err != nil {
		return nil, errors.Wrapf(ErrPeer, "list peers: %v", err)
	}
	peers := make([]radio.Address, 0, len(addrs))
	for _, addr := range addrs {
		if !addr.IsReserved() {
			peers = append(peers, addr)
		}
	}
	return peers, nil
}

// matchBeacon registers the sender of a beacon for the open group.
// It runs in the notification context and never blocks.
func (n *Node) matchBeacon(peers radio.Peers, pkt *Packet) {
	open, id := n.groupSession()
	if !open {
		return
	}
	if beaconID, ok := BeaconID(pkt.Payload); !ok || beaconID != id {
		return
	}
	if peers.Has(pkt.Addr) {
		return
	}
	if err := peers.Add(pkt.Addr); err != nil {
		if err != radio.ErrPeerExists {
			glog.Errorf("add peer %s fail: %v", pkt.Addr, err)
			n.Metrics.PeerErrors.Inc()
		}
		return
	}
	glog.V(2).Infof("peer %s joined group %08x", pkt.Addr, id)
	n.Metrics.PeersRegistered.Inc()
}

// beaconFunc is called on every tick of the beacon timer.
func (n *Node) beaconFunc(sbuf *ringbuf.Ring) func() {
	return func() {
		open, id := n.groupSession()
		if !open {
			return
		}
		ctx, cancel := waitContext(n.TimerWait)
		defer cancel()
		if err := enqueue(ctx, sbuf, BeaconPacket(id)); err != nil {
			glog.V(2).Infof("drop beacon: %v", err)
			n.Metrics.BeaconsDropped.Inc()
			return
		}
		n.Metrics.BeaconsSent.Inc()
	}
}

var (
	errTimerBusy    = errors.New("timer busy")
	errTimerStopped = errors.New("timer stopped")
)

type timerCommand struct {
	start bool
	ack   chan struct{}
}

// beaconTimer calls fire every period while started. Commands are
// processed in the timer goroutine so fire never overlaps a restart.
type beaconTimer struct {
	clock    clock.Clock
	period   time.Duration
	fire     func()
	commands chan timerCommand
	stopped  chan struct{}
}

func newBeaconTimer(clk clock.Clock, period time.Duration, fire func()) *beaconTimer {
	return &beaconTimer{
		clock:    clk,
		period:   period,
		fire:     fire,
		commands: make(chan timerCommand),
		stopped:  make(chan struct{}),
	}
}

// Run implements framework.Runnable.
func (t *beaconTimer) Run(ctx context.Context) error {
	defer close(t.stopped)
	var ticker *clock.Ticker
	var tickCh <-chan time.Time
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tickCh = nil, nil
		}
	}
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-t.commands:
			stop()
			if cmd.start {
				ticker = t.clock.Ticker(t.period)
				tickCh = ticker.C
			}
			close(cmd.ack)
		case <-tickCh:
			t.fire()
		}
	}
}

// command starts or stops the ticker. wait bounds the time to get the
// command accepted by the timer goroutine.
func (t *beaconTimer) command(start bool, wait time.Duration) error {
	if wait <= 0 {
		wait = DefaultTimerWait
	}
	cmd := timerCommand{start: start, ack: make(chan struct{})}
	timeout := time.NewTimer(wait)
	defer timeout.Stop()
	select {
	case t.commands <- cmd:
	case <-timeout.C:
		return errTimerBusy
	case <-t.stopped:
		return errTimerStopped
	}
	select {
	case <-cmd.ack:
		return nil
	case <-t.stopped:
		return errTimerStopped
	}
}
