package mqtt

import (
	"net/url"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler is the callback when a message is received.
// topic has the topic prefix removed.
type Handler func(topic string, payload []byte)

// Queue wraps the MQTT client with topic prefixing and local dispatching,
// so a single broker subscription per filter serves any number of handlers.
type Queue struct {
	Client      paho.Client
	TopicPrefix string

	lock sync.RWMutex
	subs map[string][]*Subscription
}

// Subscription is a handler subscribed to a topic filter.
type Subscription struct {
	Token paho.Token

	queue   *Queue
	filter  string
	handler Handler
}

// MatchTopic matches topic with filter.
func MatchTopic(topic, filter string) bool {
	tokensT, tokensF := strings.Split(topic, "/"), strings.Split(filter, "/")
	for i, token := range tokensF {
		if token == "#" && i+1 == len(tokensF) {
			return true
		}
		if i >= len(tokensT) {
			return false
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensF) == len(tokensT)
}

// ClientOptionsFromURL creates ClientOptions and the topic prefix from
// mqtt://[user:pass@]host:port/prefix/?client-id=ID.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	scheme := u.Scheme
	if scheme == "" || scheme == "mqtt" {
		scheme = "tcp"
	}
	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	if clientID := u.Query().Get("client-id"); clientID != "" {
		opts.SetClientID(clientID)
	}
	return opts, strings.TrimPrefix(u.Path, "/"), nil
}

// NewQueue creates a Queue with a new client.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{TopicPrefix: topicPrefix}
	options.SetOnConnectHandler(q.onConnect)
	options.SetConnectionLostHandler(q.onConnectionLost)
	q.Client = paho.NewClient(options)
	return q
}

// NewQueueFromURL creates a Queue from a broker URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts, topicPrefix), nil
}

// Connect connects the client.
func (q *Queue) Connect() paho.Token {
	return q.Client.Connect()
}

// Close disconnects the client.
func (q *Queue) Close() error {
	q.Client.Disconnect(0)
	return nil
}

// Subscribe adds handler for the topic filter. The broker subscription is
// only made for the first handler of a filter.
func (q *Queue) Subscribe(filter string, handler Handler) *Subscription {
	sub := &Subscription{queue: q, filter: filter, handler: handler}
	q.lock.Lock()
	if q.subs == nil {
		q.subs = make(map[string][]*Subscription)
	}
	first := len(q.subs[filter]) == 0
	q.subs[filter] = append(q.subs[filter], sub)
	q.lock.Unlock()

	if first {
		sub.Token = q.subscribe(filter)
	} else {
		sub.Token = &paho.DummyToken{}
	}
	return sub
}

// Publish publishes payload to the topic.
func (q *Queue) Publish(topic string, payload []byte) paho.Token {
	return q.Client.Publish(q.TopicPrefix+topic, 0, false, payload)
}

// Resubscribe subscribes all filters again, after a reconnect.
func (q *Queue) Resubscribe() error {
	q.lock.RLock()
	filters := make([]string, 0, len(q.subs))
	for filter := range q.subs {
		filters = append(filters, filter)
	}
	q.lock.RUnlock()
	for _, filter := range filters {
		token := q.subscribe(filter)
		if token.Wait(); token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

// subscribe makes the broker subscription of filter, delivering to the
// handlers of that filter only.
func (q *Queue) subscribe(filter string) paho.Token {
	glog.V(2).Infof("SUB %q", q.TopicPrefix+filter)
	return q.Client.Subscribe(q.TopicPrefix+filter, 0, func(c paho.Client, msg paho.Message) {
		q.dispatch(filter, msg)
	})
}

func (q *Queue) onConnect(paho.Client) {
	glog.Info("mqtt connected")
	if err := q.Resubscribe(); err != nil {
		glog.Errorf("mqtt resubscribe: %v", err)
	}
}

func (q *Queue) onConnectionLost(c paho.Client, err error) {
	glog.Warningf("mqtt connection lost: %v", err)
}

func (q *Queue) dispatch(filter string, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(4).Infof("RCV %q", topic)
	q.lock.RLock()
	subs := append([]*Subscription(nil), q.subs[filter]...)
	q.lock.RUnlock()
	payload := msg.Payload()
	for _, sub := range subs {
		sub.handler(topic, payload)
	}
}

// Close removes the handler, and unsubscribes the filter from the broker
// when it was the last one.
func (s *Subscription) Close() error {
	q := s.queue
	q.lock.Lock()
	subs := q.subs[s.filter]
	for i, sub := range subs {
		if sub == s {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	last := len(subs) == 0
	if last {
		delete(q.subs, s.filter)
	} else {
		q.subs[s.filter] = subs
	}
	q.lock.Unlock()
	if !last {
		return nil
	}
	glog.V(2).Infof("UNSUB %q", q.TopicPrefix+s.filter)
	token := q.Client.Unsubscribe(q.TopicPrefix + s.filter)
	token.Wait()
	return token.Error()
}
