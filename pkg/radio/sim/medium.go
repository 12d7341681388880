// Package sim provides an in-process radio medium. Radios attached to the
// same Medium and tuned to the same channel hear each other. Faults can be
// injected per radio, which makes it the transport of choice for tests.
package sim

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/robotalks/groupnet/pkg/radio"
)

// Medium is the shared air.
type Medium struct {
	// Drop, when set, decides whether a frame is lost in the air.
	Drop func(src, dst radio.Address, data []byte) bool

	lock   sync.RWMutex
	radios map[radio.Address]*Radio
}

var (
	sharedLock  sync.Mutex
	sharedMedia = make(map[string]*Medium)
)

// NewMedium creates an empty Medium.
func NewMedium() *Medium {
	return &Medium{radios: make(map[radio.Address]*Radio)}
}

// Shared returns the process wide Medium registered under name.
func Shared(name string) *Medium {
	sharedLock.Lock()
	defer sharedLock.Unlock()
	m := sharedMedia[name]
	if m == nil {
		m = NewMedium()
		sharedMedia[name] = m
	}
	return m
}

// NewRadio attaches a new radio with addr to the medium.
// A radio previously attached with the same address is replaced.
func (m *Medium) NewRadio(addr radio.Address) *Radio {
	r := &Radio{
		medium:   m,
		addr:     addr,
		peers:    radio.NewPeerTable(radio.DefaultMaxPeers),
		notifier: radio.NewNotifier(radio.DefaultNotifyDepth),
	}
	m.lock.Lock()
	m.radios[addr] = r
	m.lock.Unlock()
	return r
}

// Detach removes the radio from the medium.
func (m *Medium) Detach(r *Radio) {
	m.lock.Lock()
	if m.radios[r.addr] == r {
		delete(m.radios, r.addr)
	}
	m.lock.Unlock()
}

func (m *Medium) transmit(from *Radio, channel int, dst radio.Address, data []byte) {
	m.lock.RLock()
	var receivers []*Radio
	if dst.IsBroadcast() {
		receivers = make([]*Radio, 0, len(m.radios))
		for addr, r := range m.radios {
			if addr != from.addr {
				receivers = append(receivers, r)
			}
		}
	} else if r := m.radios[dst]; r != nil && r != from {
		receivers = []*Radio{r}
	}
	m.lock.RUnlock()
	for _, r := range receivers {
		if m.Drop != nil && m.Drop(from.addr, r.addr, data) {
			continue
		}
		r.hear(from.addr, channel, data)
	}
}

// Faults are errors injected into a Radio. A nil field means no fault.
type Faults struct {
	Open       error
	SetHandler error
	// Send rejects Send synchronously.
	Send error
	// SendDone is reported asynchronously for every accepted Send.
	SendDone error
	AddPeer  error
	DelPeer  error
	ListPeer error
	Count    error
}

// Radio implements radio.Transport on a Medium.
type Radio struct {
	// CompletionDelay delays send completions.
	CompletionDelay time.Duration

	medium   *Medium
	addr     radio.Address
	peers    *radio.PeerTable
	notifier *radio.Notifier

	lock    sync.RWMutex
	open    bool
	channel int
	faults  Faults

	inflight      atomic.Int32
	maxInflight   atomic.Int32
	transmissions atomic.Int32
}

// SetFaults replaces the injected faults.
func (r *Radio) SetFaults(f Faults) {
	r.lock.Lock()
	r.faults = f
	r.lock.Unlock()
}

func (r *Radio) currentFaults() Faults {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.faults
}

// IsOpen tells if the radio is open.
func (r *Radio) IsOpen() bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.open
}

// Channel returns the channel the radio was opened on.
func (r *Radio) Channel() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.channel
}

// MaxInFlight returns the maximum number of transmissions observed
// waiting for completion at the same time.
func (r *Radio) MaxInFlight() int {
	return int(r.maxInflight.Load())
}

// Transmissions returns the number of accepted Sends.
func (r *Radio) Transmissions() int {
	return int(r.transmissions.Load())
}

// Open implements radio.Transport.
func (r *Radio) Open(channel int) error {
	if err := r.currentFaults().Open; err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.open {
		r.open, r.channel = true, channel
		r.notifier.Start()
	}
	return nil
}

// Close implements radio.Transport.
func (r *Radio) Close() error {
	r.lock.Lock()
	wasOpen := r.open
	r.open = false
	r.lock.Unlock()
	if wasOpen {
		r.notifier.Stop()
		r.peers.Reset()
	}
	return nil
}

// SetHandler implements radio.Transport.
func (r *Radio) SetHandler(h radio.Handler) error {
	if err := r.currentFaults().SetHandler; err != nil && h != nil {
		return err
	}
	r.notifier.SetHandler(h)
	return nil
}

// LocalAddr implements radio.Transport.
func (r *Radio) LocalAddr() radio.Address {
	return r.addr
}

// MaxDataLen implements radio.Transport.
func (r *Radio) MaxDataLen() int {
	return radio.MaxDataLen
}

// Peers implements radio.Transport.
func (r *Radio) Peers() radio.Peers {
	return (*faultyPeers)(r)
}

// Send implements radio.Transport.
func (r *Radio) Send(dst radio.Address, data []byte) error {
	r.lock.RLock()
	open, channel, faults := r.open, r.channel, r.faults
	r.lock.RUnlock()
	if !open {
		return radio.ErrNotOpen
	}
	if faults.Send != nil {
		return faults.Send
	}
	if len(data) == 0 || len(data) > radio.MaxDataLen {
		return radio.ErrFrameSize
	}
	targets, err := r.peers.Resolve(dst)
	if err != nil {
		return err
	}
	r.transmissions.Inc()
	if n := r.inflight.Inc(); n > r.maxInflight.Load() {
		r.maxInflight.Store(n)
	}
	frame := append([]byte(nil), data...)
	for _, target := range targets {
		r.medium.transmit(r, channel, target, frame)
	}
	gen := r.notifier.Generation()
	complete := func() {
		r.inflight.Dec()
		r.notifier.NotifySent(gen, dst, faults.SendDone)
	}
	if r.CompletionDelay > 0 {
		time.AfterFunc(r.CompletionDelay, complete)
	} else {
		complete()
	}
	return nil
}

func (r *Radio) hear(src radio.Address, channel int, data []byte) {
	r.lock.RLock()
	ok := r.open && r.channel == channel
	r.lock.RUnlock()
	if ok {
		r.notifier.NotifyReceived(src, append([]byte(nil), data...))
	}
}

type faultyPeers Radio

func (p *faultyPeers) Add(addr radio.Address) error {
	if err := (*Radio)(p).currentFaults().AddPeer; err != nil {
		return err
	}
	return p.peers.Add(addr)
}

func (p *faultyPeers) Remove(addr radio.Address) error {
	if err := (*Radio)(p).currentFaults().DelPeer; err != nil {
		return err
	}
	return p.peers.Remove(addr)
}

func (p *faultyPeers) Has(addr radio.Address) bool {
	return p.peers.Has(addr)
}

func (p *faultyPeers) List() ([]radio.Address, error) {
	if err := (*Radio)(p).currentFaults().ListPeer; err != nil {
		return nil, err
	}
	return p.peers.List()
}

func (p *faultyPeers) Count() (int, error) {
	if err := (*Radio)(p).currentFaults().Count; err != nil {
		return 0, err
	}
	return p.peers.Count()
}
