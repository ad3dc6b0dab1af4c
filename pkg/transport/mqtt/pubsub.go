// Package mqtt carries firmware lines over an MQTT broker.
package mqtt

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

// Handler is the callback when a message is received.
type Handler func(topic string, payload []byte)

// ConnectHandler is to handle connect/disconnect events.
type ConnectHandler func(*Queue)

// DefaultQoS delivers every line at least once and in order.
const DefaultQoS byte = 1

// Queue wraps MQTT client with topic prefix and local dispatching.
type Queue struct {
	Client       paho.Client
	TopicPrefix  string
	QoS          byte
	OnConnect    ConnectHandler
	OnDisconnect ConnectHandler

	subsLock sync.RWMutex
	subs     map[string][]*Subscription
}

// Subscription is a subscribed topic pattern.
type Subscription struct {
	Token paho.Token

	queue   *Queue
	pattern string
	handler Handler
}

// MatchTopic matches topic with pattern, supporting '+' and a trailing '#'.
func MatchTopic(topic, pattern string) bool {
	tokensT, tokensP := strings.Split(topic, "/"), strings.Split(pattern, "/")
	for i, token := range tokensP {
		if token == "#" && i+1 == len(tokensP) {
			return true
		}
		if i >= len(tokensT) {
			return false
		}
		if token != "+" && token != tokensT[i] {
			return false
		}
	}
	return len(tokensT) == len(tokensP)
}

// ClientOptionsFromURL creates ClientOptions from URL and returns the
// topic prefix taken from the URL path.
func ClientOptionsFromURL(serverURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, "", err
	}
	var scheme string
	switch u.Scheme {
	case "", "mqtt", "tcp":
		scheme = "tcp"
	case "mqtts", "ssl", "tls":
		scheme = "ssl"
	case "ws", "wss":
		scheme = u.Scheme
	default:
		return nil, "", fmt.Errorf("unsupported MQTT scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, "", fmt.Errorf("MQTT broker host missing in %q", serverURL)
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

// NewQueue creates Queue.
func NewQueue(options *paho.ClientOptions, topicPrefix string) *Queue {
	q := &Queue{
		TopicPrefix: topicPrefix,
		QoS:         DefaultQoS,
		subs:        make(map[string][]*Subscription),
	}
	options.SetOnConnectHandler(q.onConnect)
	options.SetConnectionLostHandler(q.onConnectionLost)
	q.Client = paho.NewClient(options)
	return q
}

// NewQueueFromURL creates Queue from URL.
func NewQueueFromURL(brokerURL string) (*Queue, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewQueue(opts, topicPrefix), nil
}

// Connect connects the client and waits for the result.
func (q *Queue) Connect() error {
	token := q.Client.Connect()
	token.Wait()
	return token.Error()
}

// Close implements io.Closer.
func (q *Queue) Close() error {
	q.Client.Disconnect(250)
	return nil
}

// Sub subscribes a topic pattern.
func (q *Queue) Sub(pattern string, handler Handler) *Subscription {
	sub := &Subscription{queue: q, pattern: pattern, handler: handler}
	q.subsLock.Lock()
	subs := q.subs[pattern]
	q.subs[pattern] = append(subs, sub)
	q.subsLock.Unlock()
	if len(subs) == 0 {
		glog.V(2).Infof("SUB %q", q.TopicPrefix+pattern)
		sub.Token = q.Client.Subscribe(q.TopicPrefix+pattern, q.QoS, q.dispatch)
	} else {
		sub.Token = &paho.DummyToken{}
	}
	return sub
}

// Pub publishes to a topic with the queue QoS.
func (q *Queue) Pub(topic string, payload []byte) paho.Token {
	return q.PubWith(topic, payload, q.QoS, false)
}

// PubWith publishes with QoS and retain settings.
func (q *Queue) PubWith(topic string, payload []byte, qos byte, retain bool) paho.Token {
	return q.Client.Publish(q.TopicPrefix+topic, qos, retain, payload)
}

// Resubscribe subscribes all existing patterns again after reconnect.
func (q *Queue) Resubscribe() paho.Token {
	filters := make(map[string]byte)
	q.subsLock.RLock()
	for pattern := range q.subs {
		filters[q.TopicPrefix+pattern] = q.QoS
	}
	q.subsLock.RUnlock()
	if len(filters) == 0 {
		return &paho.DummyToken{}
	}
	return q.Client.SubscribeMultiple(filters, q.dispatch)
}

func (q *Queue) onConnect(paho.Client) {
	glog.Info("MQTT connected")
	q.Resubscribe()
	if h := q.OnConnect; h != nil {
		h(q)
	}
}

func (q *Queue) onConnectionLost(_ paho.Client, err error) {
	glog.Warningf("MQTT connection lost: %v", err)
	if h := q.OnDisconnect; h != nil {
		h(q)
	}
}

func (q *Queue) dispatch(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	if !strings.HasPrefix(topic, q.TopicPrefix) {
		return
	}
	topic = topic[len(q.TopicPrefix):]
	glog.V(3).Infof("RCV %q", topic)
	var handlers []Handler
	q.subsLock.RLock()
	for pattern, subs := range q.subs {
		if MatchTopic(topic, pattern) {
			for _, sub := range subs {
				handlers = append(handlers, sub.handler)
			}
		}
	}
	q.subsLock.RUnlock()
	payload := msg.Payload()
	for _, h := range handlers {
		h(topic, payload)
	}
}

// Close unsubscribes the handler, and the pattern when it's the last one.
func (s *Subscription) Close() error {
	q := s.queue
	q.subsLock.Lock()
	subs := q.subs[s.pattern]
	for n, sub := range subs {
		if sub == s {
			subs = append(subs[:n], subs[n+1:]...)
			break
		}
	}
	unsub := len(subs) == 0
	if unsub {
		delete(q.subs, s.pattern)
	} else {
		q.subs[s.pattern] = subs
	}
	q.subsLock.Unlock()
	if !unsub {
		return nil
	}
	glog.V(2).Infof("UNSUB %q", q.TopicPrefix+s.pattern)
	token := q.Client.Unsubscribe(q.TopicPrefix + s.pattern)
	token.Wait()
	return token.Error()
}
