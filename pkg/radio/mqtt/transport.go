package mqtt

import (
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/groupnet/pkg/radio"
)

// AirPrefix is the root of all air topics: air/<channel>/<dst>.
const AirPrefix = "air/"

// BroadcastTopic is the dst topic level of broadcast frames.
const BroadcastTopic = "bcast"

// DefaultConnectTimeout is the timeout connecting to the broker.
const DefaultConnectTimeout = 5 * time.Second

var (
	// ErrConnectTimeout indicates the broker is not reachable.
	ErrConnectTimeout = errors.New("connect timeout")
	// ErrInvalidTopic indicates a topic which is not an air topic.
	ErrInvalidTopic = errors.New("invalid air topic")
)

// AirTopic returns the topic frames for dst on channel are published to.
func AirTopic(channel int, dst radio.Address) string {
	name := BroadcastTopic
	if !dst.IsBroadcast() {
		name = hex.EncodeToString(dst[:])
	}
	return AirPrefix + strconv.Itoa(channel) + "/" + name
}

// ParseAirTopic is the reverse of AirTopic.
func ParseAirTopic(topic string) (channel int, dst radio.Address, err error) {
	items := strings.Split(topic, "/")
	if len(items) != 3 || items[0]+"/" != AirPrefix {
		return 0, dst, ErrInvalidTopic
	}
	if channel, err = strconv.Atoi(items[1]); err != nil {
		return 0, dst, ErrInvalidTopic
	}
	if items[2] == BroadcastTopic {
		return channel, radio.Broadcast, nil
	}
	if dst, err = radio.ParseAddress(items[2]); err != nil {
		return 0, dst, ErrInvalidTopic
	}
	return channel, dst, nil
}

// EncodeFrame prefixes data with the source address.
func EncodeFrame(src radio.Address, data []byte) []byte {
	b := make([]byte, radio.AddrLen+len(data))
	copy(b, src[:])
	copy(b[radio.AddrLen:], data)
	return b
}

// DecodeFrame splits a published payload into source and data.
func DecodeFrame(payload []byte) (src radio.Address, data []byte, err error) {
	if len(payload) <= radio.AddrLen {
		return src, nil, radio.ErrFrameSize
	}
	copy(src[:], payload)
	return src, payload[radio.AddrLen:], nil
}

// Transport implements radio.Transport over an MQTT broker. Every radio
// subscribes to its own topic and the broadcast topic of its channel.
type Transport struct {
	Queue          *Queue
	ConnectTimeout time.Duration

	addr     radio.Address
	peers    *radio.PeerTable
	notifier *radio.Notifier

	lock    sync.RWMutex
	open    bool
	channel int
	subs    []*Subscription
}

// NewTransport creates a Transport on q.
func NewTransport(q *Queue, addr radio.Address) *Transport {
	return &Transport{
		Queue:          q,
		ConnectTimeout: DefaultConnectTimeout,
		addr:           addr,
		peers:          radio.NewPeerTable(radio.DefaultMaxPeers),
		notifier:       radio.NewNotifier(radio.DefaultNotifyDepth),
	}
}

// NewTransportFromURL creates a Transport connecting to brokerURL.
func NewTransportFromURL(brokerURL string, addr radio.Address) (*Transport, error) {
	opts, prefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	if opts.ClientID == "" {
		opts.SetClientID("groupnet-" + hex.EncodeToString(addr[:]))
	}
	return NewTransport(NewQueue(opts, prefix), addr), nil
}

// Open implements radio.Transport.
func (t *Transport) Open(channel int) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.open {
		return nil
	}
	token := t.Queue.Connect()
	if !token.WaitTimeout(t.ConnectTimeout) {
		t.Queue.Close()
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		t.Queue.Close()
		return errors.Wrap(err, "mqtt connect")
	}
	t.notifier.Start()
	for _, dst := range []radio.Address{t.addr, radio.Broadcast} {
		sub := t.Queue.Subscribe(AirTopic(channel, dst), t.hear)
		if sub.Token.Wait(); sub.Token.Error() != nil {
			err := sub.Token.Error()
			t.closeLocked()
			return errors.Wrap(err, "mqtt subscribe")
		}
		t.subs = append(t.subs, sub)
	}
	t.open, t.channel = true, channel
	glog.V(2).Infof("radio %s on mqtt channel %d", t.addr, channel)
	return nil
}

// Close implements radio.Transport.
func (t *Transport) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	var err error
	for _, sub := range t.subs {
		if e := sub.Close(); e != nil && err == nil {
			err = e
		}
	}
	t.subs = nil
	t.Queue.Close()
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

// Send implements radio.Transport. The completion is reported once the
// broker acknowledged all publishes.
func (t *Transport) Send(dst radio.Address, data []byte) error {
	t.lock.RLock()
	open, channel := t.open, t.channel
	t.lock.RUnlock()
	if !open {
		return radio.ErrNotOpen
	}
	if len(data) == 0 || len(data) > radio.MaxDataLen {
		return radio.ErrFrameSize
	}
	targets, err := t.peers.Resolve(dst)
	if err != nil {
		return err
	}
	payload := EncodeFrame(t.addr, data)
	tokens := make([]paho.Token, 0, len(targets))
	for _, target := range targets {
		tokens = append(tokens, t.Queue.Publish(AirTopic(channel, target), payload))
	}
	gen := t.notifier.Generation()
	go func() {
		var err error
		for _, token := range tokens {
			if token.Wait(); token.Error() != nil && err == nil {
				err = token.Error()
			}
		}
		t.notifier.NotifySent(gen, dst, err)
	}()
	return nil
}

func (t *Transport) hear(topic string, payload []byte) {
	src, data, err := DecodeFrame(payload)
	if err != nil {
		glog.V(4).Infof("drop frame on %q: %v", topic, err)
		return
	}
	if src == t.addr {
		return
	}
	t.notifier.NotifyReceived(src, append([]byte(nil), data...))
}
