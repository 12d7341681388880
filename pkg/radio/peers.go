package radio

import "sync"

// DefaultMaxPeers is the default capacity of a PeerTable.
const DefaultMaxPeers = 20

// PeerTable is a bounded, concurrency safe Peers implementation
// shared by the adapters.
type PeerTable struct {
	MaxPeers int

	lock  sync.RWMutex
	index map[Address]int
	peers []Address
}

// NewPeerTable creates a PeerTable with the given capacity.
func NewPeerTable(maxPeers int) *PeerTable {
	return &PeerTable{MaxPeers: maxPeers}
}

// Add implements Peers.
func (t *PeerTable) Add(addr Address) error {
	if addr.IsGroup() {
		return ErrInvalidPeer
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.index[addr]; ok {
		return ErrPeerExists
	}
	max := t.MaxPeers
	if max <= 0 {
		max = DefaultMaxPeers
	}
	if len(t.peers) >= max {
		return ErrPeerTableFull
	}
	if t.index == nil {
		t.index = make(map[Address]int)
	}
	t.index[addr] = len(t.peers)
	t.peers = append(t.peers, addr)
	return nil
}

// Remove implements Peers.
func (t *PeerTable) Remove(addr Address) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	n, ok := t.index[addr]
	if !ok {
		return ErrPeerNotFound
	}
	last := len(t.peers) - 1
	if n != last {
		t.peers[n] = t.peers[last]
		t.index[t.peers[n]] = n
	}
	t.peers = t.peers[:last]
	delete(t.index, addr)
	return nil
}

// Has implements Peers.
func (t *PeerTable) Has(addr Address) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	_, ok := t.index[addr]
	return ok
}

// List implements Peers.
func (t *PeerTable) List() ([]Address, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return append([]Address(nil), t.peers...), nil
}

// Count implements Peers.
func (t *PeerTable) Count() (int, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.peers), nil
}

// Reset removes all peers.
func (t *PeerTable) Reset() {
	t.lock.Lock()
	t.index, t.peers = nil, nil
	t.lock.Unlock()
}

// Resolve expands dst into the list of radios a frame is sent to.
// Group expands to all peers except Broadcast and may be empty,
// any other destination must be in the table.
func (t *PeerTable) Resolve(dst Address) ([]Address, error) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if dst.IsGroup() {
		targets := make([]Address, 0, len(t.peers))
		for _, addr := range t.peers {
			if !addr.IsBroadcast() {
				targets = append(targets, addr)
			}
		}
		return targets, nil
	}
	if _, ok := t.index[dst]; !ok {
		return nil, ErrPeerNotFound
	}
	return []Address{dst}, nil
}
