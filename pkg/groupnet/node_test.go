package groupnet

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/groupnet/pkg/radio"
	"github.com/robotalks/groupnet/pkg/radio/sim"
)

var (
	addrA = radio.Address{0x26, 0, 0, 0, 0, 0xa}
	addrB = radio.Address{0x26, 0, 0, 0, 0, 0xb}
	addrC = radio.Address{0x26, 0, 0, 0, 0, 0xc}
	addrD = radio.Address{0x26, 0, 0, 0, 0, 0xd}

	errInjected = errors.New("injected")
)

func newNode(t *testing.T, m *sim.Medium, addr radio.Address, configure func(*Node)) (*Node, *sim.Radio) {
	r := m.NewRadio(addr)
	n := NewNode(r, DefaultConfig())
	if configure != nil {
		configure(n)
	}
	require.NoError(t, n.Init())
	t.Cleanup(func() { n.Deinit() })
	return n, r
}

func mustRecv(t *testing.T, n *Node) (radio.Address, string) {
	src, payload, err := n.Receive(time.Second)
	require.NoError(t, err)
	return src, string(payload)
}

func TestSendRecvRoundTrip(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	b, _ := newNode(t, m, addrB, nil)
	require.NoError(t, ra.Peers().Add(addrB))

	size, err := a.Send(&addrB, []byte("hello"), WaitForever)
	require.NoError(t, err)
	assert.Equal(t, 5, size)

	buf := make([]byte, 64)
	src, size, err := b.Recv(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, addrA, src)
	assert.Equal(t, "hello", string(buf[:size]))
}

func TestBroadcastNeedsNoRegistration(t *testing.T) {
	m := sim.NewMedium()
	a, _ := newNode(t, m, addrA, nil)
	b, _ := newNode(t, m, addrB, nil)
	c, _ := newNode(t, m, addrC, nil)

	_, err := a.Send(&radio.Broadcast, []byte("all"), WaitForever)
	require.NoError(t, err)
	for _, n := range []*Node{b, c} {
		src, payload := mustRecv(t, n)
		assert.Equal(t, addrA, src)
		assert.Equal(t, "all", payload)
	}
}

func TestSendOrdering(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	b, _ := newNode(t, m, addrB, nil)
	ra.CompletionDelay = time.Millisecond
	require.NoError(t, ra.Peers().Add(addrB))

	for i := 0; i < 20; i++ {
		_, err := a.Send(&addrB, []byte(fmt.Sprintf("%02d", i)), WaitForever)
		require.NoError(t, err)
	}
	for i := 0; i < 20; i++ {
		_, payload := mustRecv(t, b)
		assert.Equal(t, fmt.Sprintf("%02d", i), payload)
	}
	assert.Equal(t, 1, ra.MaxInFlight())
}

func TestOneTransmissionInFlight(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	ra.CompletionDelay = 5 * time.Millisecond

	for i := 0; i < 10; i++ {
		_, err := a.Send(&radio.Broadcast, []byte{byte(i)}, WaitForever)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return ra.Transmissions() == 10 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, ra.MaxInFlight())
	assert.Equal(t, float64(10), testutil.ToFloat64(a.Metrics.TxPackets))
}

func TestReinitIgnoresEarlierCompletion(t *testing.T) {
	m := sim.NewMedium()
	r := m.NewRadio(addrA)
	r.CompletionDelay = 100 * time.Millisecond
	n := NewNode(r, DefaultConfig())
	require.NoError(t, n.Init())
	t.Cleanup(func() { n.Deinit() })

	_, err := n.Send(&radio.Broadcast, []byte("old"), WaitForever)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Transmissions() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, n.Deinit())
	// the first completion falls due while the next transmission is pending
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, n.Init())

	for _, payload := range []string{"new1", "new2"} {
		_, err := n.Send(&radio.Broadcast, []byte(payload), WaitForever)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return r.Transmissions() == 2 }, time.Second, time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, r.Transmissions())
	require.Eventually(t, func() bool { return r.Transmissions() == 3 }, time.Second, time.Millisecond)
}

func TestSendSizeLimit(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	b, _ := newNode(t, m, addrB, nil)
	assert.Equal(t, radio.MaxDataLen-HeaderLen, a.MaxPayload())

	_, err := a.Send(&radio.Broadcast, make([]byte, a.MaxPayload()+1), 0)
	assert.Equal(t, CodeSizeExceeded, CodeOf(err))
	assert.Zero(t, ra.Transmissions())

	size, err := a.Send(&radio.Broadcast, make([]byte, a.MaxPayload()), WaitForever)
	require.NoError(t, err)
	assert.Equal(t, a.MaxPayload(), size)
	_, payload := mustRecv(t, b)
	assert.Len(t, payload, a.MaxPayload())
}

func TestSendRingFull(t *testing.T) {
	m := sim.NewMedium()
	a, _ := newNode(t, m, addrA, func(n *Node) {
		n.SendBufferSize = 64
	})
	// an item larger than the ring can never be queued.
	_, err := a.Send(&radio.Broadcast, make([]byte, 100), 0)
	assert.Equal(t, CodeSizeExceeded, CodeOf(err))
}

func TestRecvTimeout(t *testing.T) {
	m := sim.NewMedium()
	a, _ := newNode(t, m, addrA, nil)
	buf := make([]byte, 8)

	_, _, err := a.Recv(buf, 0)
	assert.Equal(t, CodeBufferAcquire, CodeOf(err))

	start := time.Now()
	_, _, err = a.Recv(buf, 20*time.Millisecond)
	assert.Equal(t, CodeBufferAcquire, CodeOf(err))
	assert.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestRecvTruncates(t *testing.T) {
	m := sim.NewMedium()
	a, _ := newNode(t, m, addrA, nil)
	b, _ := newNode(t, m, addrB, nil)

	_, err := a.Send(&radio.Broadcast, []byte("0123456789"), WaitForever)
	require.NoError(t, err)
	buf := make([]byte, 4)
	src, size, err := b.Recv(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, addrA, src)
	assert.Equal(t, 4, size)
	assert.Equal(t, "0123", string(buf))

	_, _, err = b.Recv(buf, 20*time.Millisecond)
	assert.Equal(t, CodeBufferAcquire, CodeOf(err))
}

func TestReceiveDropsNewest(t *testing.T) {
	m := sim.NewMedium()
	a, _ := newNode(t, m, addrA, nil)
	// 3 items of 2 bytes payload fit.
	b, _ := newNode(t, m, addrB, func(n *Node) {
		n.RecvBufferSize = 64
	})

	for i := 0; i < 6; i++ {
		_, err := a.Send(&radio.Broadcast, []byte(fmt.Sprintf("p%d", i)), WaitForever)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.Metrics.RxPackets)+testutil.ToFloat64(b.Metrics.RxDropped) == 6
	}, time.Second, time.Millisecond)
	assert.Equal(t, float64(3), testutil.ToFloat64(b.Metrics.RxDropped))

	for i := 0; i < 3; i++ {
		_, payload := mustRecv(t, b)
		assert.Equal(t, fmt.Sprintf("p%d", i), payload)
	}
	_, _, err := b.Receive(0)
	assert.Equal(t, CodeBufferAcquire, CodeOf(err))
}

func TestSyncRejectDoesNotStall(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	b, _ := newNode(t, m, addrB, nil)

	// addrC is not a peer, the radio rejects it synchronously.
	_, err := a.Send(&addrC, []byte("lost"), WaitForever)
	require.NoError(t, err)
	_, err = a.Send(&radio.Broadcast, []byte("next"), WaitForever)
	require.NoError(t, err)

	_, payload := mustRecv(t, b)
	assert.Equal(t, "next", payload)
	assert.Equal(t, float64(1), testutil.ToFloat64(a.Metrics.TxErrors.WithLabelValues("send")))
	assert.Equal(t, 1, ra.Transmissions())
}

func TestAsyncFailureIsCounted(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	ra.SetFaults(sim.Faults{SendDone: errInjected})

	for i := 0; i < 3; i++ {
		_, err := a.Send(&radio.Broadcast, []byte("x"), WaitForever)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(a.Metrics.TxErrors.WithLabelValues("completion")) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, ra.Transmissions())
}

func TestNotReady(t *testing.T) {
	m := sim.NewMedium()
	n := NewNode(m.NewRadio(addrA), DefaultConfig())
	assert.Equal(t, StateUninit, n.State())

	_, err := n.Send(nil, []byte("x"), 0)
	assert.Equal(t, ErrNotReady, err)
	_, _, err = n.Recv(make([]byte, 1), 0)
	assert.Equal(t, ErrNotReady, err)
	assert.Equal(t, ErrNotReady, n.GroupOpen(1))
	assert.NoError(t, n.GroupClose())
	assert.Equal(t, ErrNotReady, n.GroupClear())
	_, err = n.GroupCount()
	assert.Equal(t, CodeFail, CodeOf(err))
	assert.NoError(t, n.Deinit())
}

func TestInitDeinitIdempotent(t *testing.T) {
	m := sim.NewMedium()
	r := m.NewRadio(addrA)
	n := NewNode(r, DefaultConfig())

	require.NoError(t, n.Init())
	require.NoError(t, n.Init())
	assert.Equal(t, StateReady, n.State())
	assert.True(t, r.IsOpen())

	require.NoError(t, n.Deinit())
	require.NoError(t, n.Deinit())
	assert.Equal(t, StateUninit, n.State())
	assert.False(t, r.IsOpen())
	_, err := n.Send(nil, []byte("x"), 0)
	assert.Equal(t, ErrNotReady, err)

	require.NoError(t, n.Init())
	count, err := n.GroupCount()
	require.NoError(t, err)
	assert.Zero(t, count)
	require.NoError(t, n.Deinit())
}

func TestInitFailureRollsBack(t *testing.T) {
	cases := []struct {
		name      string
		faults    sim.Faults
		configure func(*Node)
	}{
		{name: "store", configure: func(n *Node) { n.StorePath = t.TempDir() }},
		{name: "open", faults: sim.Faults{Open: errInjected}},
		{name: "recv ring", configure: func(n *Node) { n.RecvBufferSize = -1 }},
		{name: "send ring", configure: func(n *Node) { n.SendBufferSize = 0 }},
		{name: "callbacks", faults: sim.Faults{SetHandler: errInjected}},
		{name: "broadcast peer", faults: sim.Faults{AddPeer: errInjected}},
		{name: "timer", configure: func(n *Node) { n.BeaconPeriod = 0 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := sim.NewMedium()
			r := m.NewRadio(addrA)
			r.SetFaults(c.faults)
			n := NewNode(r, DefaultConfig())
			if c.configure != nil {
				c.configure(n)
			}
			err := n.Init()
			require.Error(t, err)
			assert.Equal(t, CodeFail, CodeOf(err))
			assert.Equal(t, StateUninit, n.State())
			assert.False(t, r.IsOpen())
			assert.Nil(t, n.store)
			assert.Nil(t, n.worker)
			assert.Nil(t, n.timerTask)
			assert.NoError(t, n.Deinit())

			r.SetFaults(sim.Faults{})
			n.Config = DefaultConfig()
			require.NoError(t, n.Init())
			require.NoError(t, n.Deinit())
		})
	}
}

func TestChannelFromStore(t *testing.T) {
	m := sim.NewMedium()
	path := filepath.Join(t.TempDir(), "node.store")
	run := func(channel int) *sim.Radio {
		r := m.NewRadio(addrA)
		defer m.Detach(r)
		conf := DefaultConfig()
		conf.StorePath, conf.Channel = path, channel
		n := NewNode(r, conf)
		require.NoError(t, n.Init())
		defer n.Deinit()
		return r
	}
	assert.Equal(t, DefaultChannel, run(0).Channel())
	assert.Equal(t, 6, run(6).Channel())
	assert.Equal(t, 6, run(0).Channel())
}

func TestGroupDiscovery(t *testing.T) {
	m := sim.NewMedium()
	clk := clock.NewMock()
	useMock := func(n *Node) { n.Clock = clk }
	a, ra := newNode(t, m, addrA, useMock)
	b, _ := newNode(t, m, addrB, useMock)
	c, _ := newNode(t, m, addrC, useMock)
	// d beacons a different group.
	d, _ := newNode(t, m, addrD, useMock)

	for _, n := range []*Node{a, b, c} {
		require.NoError(t, n.GroupOpen(0x600d))
	}
	require.NoError(t, d.GroupOpen(0xbad))

	for i := 1; i <= 3; i++ {
		clk.Add(DefaultBeaconPeriod)
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(a.Metrics.BeaconsSent) == float64(i) &&
				testutil.ToFloat64(d.Metrics.BeaconsSent) == float64(i)
		}, time.Second, time.Millisecond)
	}
	for _, n := range []*Node{a, b, c} {
		require.Eventually(t, func() bool {
			count, err := n.GroupCount()
			return err == nil && count == 2
		}, time.Second, time.Millisecond)
	}
	// repeated beacons register once.
	assert.Equal(t, float64(2), testutil.ToFloat64(a.Metrics.PeersRegistered))
	peers, err := a.GroupPeers()
	require.NoError(t, err)
	assert.ElementsMatch(t, []radio.Address{addrB, addrC}, peers)
	count, err := d.GroupCount()
	require.NoError(t, err)
	assert.Zero(t, count)

	// group send reaches registered peers only.
	_, err = a.Send(nil, []byte("team"), WaitForever)
	require.NoError(t, err)
	for _, n := range []*Node{b, c} {
		src, payload := mustRecv(t, n)
		assert.Equal(t, addrA, src)
		assert.Equal(t, "team", payload)
	}
	_, _, err = d.Receive(50 * time.Millisecond)
	assert.Equal(t, CodeBufferAcquire, CodeOf(err))
	assert.True(t, ra.Transmissions() >= 4)
}

func TestGroupSendWithoutPeers(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	b, _ := newNode(t, m, addrB, nil)

	size, err := a.Send(nil, []byte("nobody"), WaitForever)
	require.NoError(t, err)
	assert.Equal(t, 6, size)
	require.Eventually(t, func() bool { return ra.Transmissions() == 1 }, time.Second, time.Millisecond)
	_, _, err = b.Receive(50 * time.Millisecond)
	assert.Equal(t, CodeBufferAcquire, CodeOf(err))
}

func TestBeaconTimer(t *testing.T) {
	m := sim.NewMedium()
	clk := clock.NewMock()
	a, ra := newNode(t, m, addrA, func(n *Node) { n.Clock = clk })

	clk.Add(DefaultBeaconPeriod)
	require.NoError(t, a.GroupOpen(7))
	require.NoError(t, a.GroupOpen(7))
	for i := 1; i <= 3; i++ {
		clk.Add(DefaultBeaconPeriod)
		require.Eventually(t, func() bool {
			return ra.Transmissions() == i
		}, time.Second, time.Millisecond)
	}
	require.NoError(t, a.GroupClose())
	require.NoError(t, a.GroupClose())
	clk.Add(5 * DefaultBeaconPeriod)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, ra.Transmissions())
	assert.Equal(t, float64(3), testutil.ToFloat64(a.Metrics.BeaconsSent))
}

func TestBeaconMatching(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	peers := ra.Peers()
	beacon := func(src radio.Address, payload []byte) *Packet {
		return &Packet{Addr: src, Type: TypeBeacon, Payload: payload}
	}

	// closed group ignores beacons.
	a.matchBeacon(peers, beacon(addrB, BeaconPacket(5).Payload))
	assert.False(t, peers.Has(addrB))

	require.NoError(t, a.GroupOpen(5))
	a.matchBeacon(peers, beacon(addrB, BeaconPacket(6).Payload))
	a.matchBeacon(peers, beacon(addrB, []byte{5, 0, 0}))
	a.matchBeacon(peers, beacon(addrB, []byte{5, 0, 0, 0, 0}))
	assert.False(t, peers.Has(addrB))

	a.matchBeacon(peers, beacon(addrB, BeaconPacket(5).Payload))
	a.matchBeacon(peers, beacon(addrB, BeaconPacket(5).Payload))
	assert.True(t, peers.Has(addrB))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.Metrics.PeersRegistered))

	// registration failure is not fatal.
	ra.SetFaults(sim.Faults{AddPeer: errInjected})
	a.matchBeacon(peers, beacon(addrC, BeaconPacket(5).Payload))
	assert.False(t, peers.Has(addrC))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.Metrics.PeerErrors))

	count, err := a.GroupCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGroupClear(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	for _, addr := range []radio.Address{addrB, addrC, addrD} {
		require.NoError(t, ra.Peers().Add(addr))
	}
	count, err := a.GroupCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, a.GroupClear())
	count, err = a.GroupCount()
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.True(t, ra.Peers().Has(radio.Broadcast))
	require.NoError(t, a.GroupClear())
}

func TestGroupPeerErrors(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	require.NoError(t, ra.Peers().Add(addrB))
	require.NoError(t, ra.Peers().Add(addrC))

	ra.SetFaults(sim.Faults{DelPeer: errInjected})
	assert.Equal(t, CodePeer, CodeOf(a.GroupClear()))
	ra.SetFaults(sim.Faults{ListPeer: errInjected})
	assert.Equal(t, CodePeer, CodeOf(a.GroupClear()))
	ra.SetFaults(sim.Faults{Count: errInjected})
	_, err := a.GroupCount()
	assert.Equal(t, CodePeer, CodeOf(err))

	ra.SetFaults(sim.Faults{})
	count, err := a.GroupCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestClearRacesRegistration(t *testing.T) {
	m := sim.NewMedium()
	a, ra := newNode(t, m, addrA, nil)
	require.NoError(t, a.GroupOpen(9))
	payload := BeaconPacket(9).Payload

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			a.matchBeacon(ra.Peers(), &Packet{Addr: radio.Address{0x26, 1, 0, 0, 0, byte(i)}, Type: TypeBeacon, Payload: payload})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			assert.NoError(t, a.GroupClear())
		}
	}()
	wg.Wait()

	// registrations racing a clear may survive it.
	count, err := a.GroupCount()
	require.NoError(t, err)
	assert.True(t, count <= radio.DefaultMaxPeers-1)
	require.NoError(t, a.GroupClose())
	require.NoError(t, a.GroupClear())
	count, err = a.GroupCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}
