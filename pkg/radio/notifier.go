package radio

import (
	"context"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/groupnet/pkg/framework"
)

// DefaultNotifyDepth is the default number of pending notifications.
const DefaultNotifyDepth = 32

// Notifier is the notification context of an adapter: it delivers
// send completions and arrivals to the Handler serially from a
// single goroutine. Every Start begins a new generation; completions
// of transmissions started in an earlier generation are dropped.
type Notifier struct {
	lock    sync.RWMutex
	handler Handler
	events  chan notification
	stopCh  chan struct{}
	task    *fx.Task
	gen     uint64
}

type notification struct {
	gen  uint64
	sent bool
	addr Address
	data []byte
	err  error
}

// NewNotifier creates a Notifier holding up to depth pending notifications.
func NewNotifier(depth int) *Notifier {
	if depth <= 0 {
		depth = DefaultNotifyDepth
	}
	return &Notifier{events: make(chan notification, depth)}
}

// SetHandler sets the Handler, nil disables delivery.
func (n *Notifier) SetHandler(h Handler) {
	n.lock.Lock()
	n.handler = h
	n.lock.Unlock()
}

// Start starts delivering. Notifications left from a previous run are dropped.
func (n *Notifier) Start() {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.task != nil {
		return
	}
	for len(n.events) > 0 {
		<-n.events
	}
	n.gen++
	n.stopCh = make(chan struct{})
	n.task = fx.StartTask(context.Background(), "radio-notify", fx.RunFunc(n.run))
}

// Stop stops delivering and waits for the delivering goroutine to exit.
func (n *Notifier) Stop() {
	n.lock.Lock()
	task, stopCh := n.task, n.stopCh
	n.task, n.stopCh = nil, nil
	n.lock.Unlock()
	if task != nil {
		close(stopCh)
		task.Stop()
	}
}

// Generation returns the current generation, to be captured by an
// adapter when a transmission starts and passed to NotifySent.
func (n *Notifier) Generation() uint64 {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.gen
}

// NotifySent queues the completion of a transmission started in
// generation gen. Completions of the current generation are never
// dropped while running: it waits for room in the queue.
func (n *Notifier) NotifySent(gen uint64, dst Address, err error) {
	n.lock.RLock()
	stopCh, current := n.stopCh, n.gen
	n.lock.RUnlock()
	if stopCh == nil {
		return
	}
	if gen != current {
		glog.V(2).Infof("radio: drop stale completion to %s", dst)
		return
	}
	select {
	case n.events <- notification{gen: gen, sent: true, addr: dst, err: err}:
	case <-stopCh:
	}
}

// NotifyReceived queues an arrival without waiting. It returns false
// when the frame is dropped because the queue is full or not running.
func (n *Notifier) NotifyReceived(src Address, data []byte) bool {
	n.lock.RLock()
	running, gen := n.stopCh != nil, n.gen
	n.lock.RUnlock()
	if !running {
		return false
	}
	select {
	case n.events <- notification{gen: gen, addr: src, data: data}:
		return true
	default:
		glog.V(2).Infof("radio: notify queue full, drop frame from %s", src)
		return false
	}
}

func (n *Notifier) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-n.events:
			n.lock.RLock()
			h, gen := n.handler, n.gen
			n.lock.RUnlock()
			if h == nil || ev.gen != gen {
				continue
			}
			if ev.sent {
				h.SendDone(ev.addr, ev.err)
			} else {
				h.Received(ev.addr, ev.data)
			}
		}
	}
}
