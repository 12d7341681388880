package groupnet

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	fx "github.com/robotalks/groupnet/pkg/framework"
	"github.com/robotalks/groupnet/pkg/radio"
	"github.com/robotalks/groupnet/pkg/ringbuf"
	"github.com/robotalks/groupnet/pkg/store"
)

// State is the lifecycle state of a Node.
type State int32

// States.
const (
	StateUninit State = iota
	StateInitializing
	StateReady
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninit:
		return "UNINIT"
	case StateInitializing:
		return "INITIALIZING"
	case StateReady:
		return "READY"
	}
	return "UNKNOWN"
}

const groupOpenBit = uint64(1) << 32

// Node is the messaging layer on top of a radio.Transport.
type Node struct {
	Config
	Transport radio.Transport
	Clock     clock.Clock
	Metrics   *Metrics

	state   atomic.Int32
	session atomic.Uint64

	lock sync.RWMutex
	res  *resources

	// resources acquired by Init, released by Deinit.
	store      *store.Store
	stackOpen  bool
	rbuf       *ringbuf.Ring
	sbuf       *ringbuf.Ring
	sendDone   chan struct{}
	handlerSet bool
	worker     *fx.Task
	timer      *beaconTimer
	timerTask  *fx.Task
}

// resources is the snapshot used by operations on a READY node.
type resources struct {
	peers radio.Peers
	rbuf  *ringbuf.Ring
	sbuf  *ringbuf.Ring
	timer *beaconTimer
}

// NewNode creates a Node on the transport.
func NewNode(t radio.Transport, conf Config) *Node {
	return &Node{
		Config:    conf,
		Transport: t,
		Clock:     clock.New(),
		Metrics:   NewMetrics(nil),
	}
}

// State returns the lifecycle state.
func (n *Node) State() State {
	return State(n.state.Load())
}

// LocalAddr returns the address of the radio.
func (n *Node) LocalAddr() radio.Address {
	return n.Transport.LocalAddr()
}

// MaxPayload returns the largest payload accepted by Send.
func (n *Node) MaxPayload() int {
	return n.Transport.MaxDataLen() - HeaderLen
}

// Init acquires all resources and starts the background tasks.
// It's a no-op on a READY node. On failure, everything acquired is
// released and the node stays UNINIT.
func (n *Node) Init() error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.State() == StateReady {
		return nil
	}
	n.state.Store(int32(StateInitializing))
	if err := n.init(); err != nil {
		glog.Errorf("init fail: %v", err)
		if terr := n.teardown(); terr != nil {
			glog.Warningf("init rollback: %v", terr)
		}
		n.state.Store(int32(StateUninit))
		return errors.Wrapf(ErrFail, "init: %v", err)
	}
	n.res = &resources{
		peers: n.Transport.Peers(),
		rbuf:  n.rbuf,
		sbuf:  n.sbuf,
		timer: n.timer,
	}
	n.state.Store(int32(StateReady))
	glog.Infof("node %s ready", n.LocalAddr())
	return nil
}

func (n *Node) init() (err error) {
	if n.store, err = store.Open(n.StorePath); err != nil {
		return errors.Wrap(err, "store")
	}
	channel := n.Channel
	if channel <= 0 {
		channel = DefaultChannel
		if val, ok := n.store.Int(ChannelKey); ok && val > 0 {
			channel = val
		}
	}
	if err = n.store.SetInt(ChannelKey, channel); err == nil {
		err = n.store.Commit()
	}
	if err != nil {
		return errors.Wrap(err, "store")
	}

	if err = n.Transport.Open(channel); err != nil {
		return errors.Wrap(err, "radio open")
	}
	n.stackOpen = true

	if n.rbuf, err = ringbuf.New(n.RecvBufferSize); err != nil {
		return errors.Wrap(err, "recv ring")
	}
	if n.sbuf, err = ringbuf.New(n.SendBufferSize); err != nil {
		return errors.Wrap(err, "send ring")
	}

	// the worker holds the only token while a transmission is in flight.
	n.sendDone = make(chan struct{}, 1)
	n.sendDone <- struct{}{}
	handler := &notifyHandler{node: n, peers: n.Transport.Peers(), rbuf: n.rbuf, sendDone: n.sendDone}
	if err = n.Transport.SetHandler(handler); err != nil {
		return errors.Wrap(err, "register callbacks")
	}
	n.handlerSet = true

	if err = n.Transport.Peers().Add(radio.Broadcast); err != nil && err != radio.ErrPeerExists {
		return errors.Wrap(err, "add broadcast peer")
	}

	n.worker = fx.StartTask(context.Background(), "groupnet-send", &sendWorker{
		transport: n.Transport,
		sbuf:      n.sbuf,
		sendDone:  n.sendDone,
		metrics:   n.Metrics,
	})

	if n.BeaconPeriod <= 0 {
		return errors.Errorf("timer create: invalid period %v", n.BeaconPeriod)
	}
	n.timer = newBeaconTimer(n.Clock, n.BeaconPeriod, n.beaconFunc(n.sbuf))
	n.timerTask = fx.StartTask(context.Background(), "groupnet-beacon", n.timer)
	return nil
}

// Deinit stops the background tasks and releases all resources in
// reverse order of Init. It's safe on a node in any state.
func (n *Node) Deinit() error {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.res = nil
	n.state.Store(int32(StateUninit))
	err := n.teardown()
	if err != nil {
		glog.Warningf("deinit: %v", err)
	}
	return err
}

func (n *Node) teardown() error {
	errs := &fx.AggregatedError{}
	n.session.Store(0)
	if n.timerTask != nil {
		errs.Add(n.timerTask.Stop())
		n.timerTask, n.timer = nil, nil
	}
	if n.worker != nil {
		errs.Add(n.worker.Stop())
		n.worker = nil
	}
	if n.handlerSet {
		errs.Add(n.Transport.SetHandler(nil))
		n.handlerSet = false
	}
	if n.stackOpen {
		errs.Add(n.Transport.Close())
		n.stackOpen = false
	}
	if n.rbuf != nil {
		n.rbuf.Close()
		n.rbuf = nil
	}
	if n.sbuf != nil {
		n.sbuf.Close()
		n.sbuf = nil
	}
	n.sendDone = nil
	if n.store != nil {
		errs.Add(n.store.Close())
		n.store = nil
	}
	return errs.Aggregate()
}

func (n *Node) ready() (*resources, error) {
	n.lock.RLock()
	defer n.lock.RUnlock()
	if n.res == nil {
		return nil, ErrNotReady
	}
	return n.res, nil
}

// groupSession returns the open flag and group id as one snapshot.
func (n *Node) groupSession() (bool, uint32) {
	val := n.session.Load()
	return val&groupOpenBit != 0, uint32(val)
}

func waitContext(wait time.Duration) (context.Context, context.CancelFunc) {
	if wait < 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), wait)
}
