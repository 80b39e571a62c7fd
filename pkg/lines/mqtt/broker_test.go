package mqtt

import (
	"sync"
	"testing"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// loopBroker routes publishes between in-process clients. Each client
// delivers in order on its own goroutine, like the paho router.
type loopBroker struct {
	lock     sync.Mutex
	retained map[string][]byte
	subs     []*loopSub
}

type loopSub struct {
	client  *loopClient
	filter  string
	handler paho.MessageHandler
}

type delivery struct {
	handler paho.MessageHandler
	msg     *loopMessage
}

func newLoopBroker() *loopBroker {
	return &loopBroker{retained: make(map[string][]byte)}
}

// queue creates a Queue connected to the broker.
func (b *loopBroker) queue(t *testing.T) *Queue {
	q := NewQueue(paho.NewClientOptions(), "")
	c := &loopClient{broker: b, inbox: make(chan delivery, 1024), done: make(chan struct{})}
	go c.run()
	q.Client = c
	t.Cleanup(func() { q.Close() })
	return q
}

func (b *loopBroker) publish(topic string, payload []byte, retain bool) {
	b.lock.Lock()
	if retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = payload
		}
	}
	var targets []*loopSub
	for _, sub := range b.subs {
		if MatchTopic(topic, sub.filter) {
			targets = append(targets, sub)
		}
	}
	b.lock.Unlock()
	for _, sub := range targets {
		sub.client.deliver(sub.handler, &loopMessage{topic: topic, payload: payload})
	}
}

func (b *loopBroker) subscribe(sub *loopSub) {
	b.lock.Lock()
	b.subs = append(b.subs, sub)
	var msgs []*loopMessage
	for topic, payload := range b.retained {
		if MatchTopic(topic, sub.filter) {
			msgs = append(msgs, &loopMessage{topic: topic, payload: payload, retained: true})
		}
	}
	b.lock.Unlock()
	for _, msg := range msgs {
		sub.client.deliver(sub.handler, msg)
	}
}

func (b *loopBroker) unsubscribe(c *loopClient, filters ...string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	subs := b.subs[:0]
	for _, sub := range b.subs {
		drop := sub.client == c && (filters == nil || containsString(filters, sub.filter))
		if !drop {
			subs = append(subs, sub)
		}
	}
	b.subs = subs
}

func (b *loopBroker) retainedPayload(topic string) []byte {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.retained[topic]
}

func containsString(strs []string, str string) bool {
	for _, s := range strs {
		if s == str {
			return true
		}
	}
	return false
}

type loopClient struct {
	broker *loopBroker
	inbox  chan delivery
	done   chan struct{}
	once   sync.Once
}

func (c *loopClient) run() {
	for {
		select {
		case <-c.done:
			return
		case d := <-c.inbox:
			d.handler(c, d.msg)
		}
	}
}

func (c *loopClient) deliver(handler paho.MessageHandler, msg *loopMessage) {
	select {
	case c.inbox <- delivery{handler: handler, msg: msg}:
	case <-c.done:
	}
}

func (c *loopClient) IsConnected() bool      { return true }
func (c *loopClient) IsConnectionOpen() bool { return true }
func (c *loopClient) Connect() paho.Token    { return &paho.DummyToken{} }

func (c *loopClient) Disconnect(uint) {
	c.broker.unsubscribe(c)
	c.once.Do(func() { close(c.done) })
}

func (c *loopClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	data, _ := payload.([]byte)
	c.broker.publish(topic, data, retained)
	return &paho.DummyToken{}
}

func (c *loopClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.broker.subscribe(&loopSub{client: c, filter: topic, handler: callback})
	return &paho.DummyToken{}
}

func (c *loopClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for filter := range filters {
		c.broker.subscribe(&loopSub{client: c, filter: filter, handler: callback})
	}
	return &paho.DummyToken{}
}

func (c *loopClient) Unsubscribe(topics ...string) paho.Token {
	c.broker.unsubscribe(c, topics...)
	return &paho.DummyToken{}
}

func (c *loopClient) AddRoute(string, paho.MessageHandler) {}

func (c *loopClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

type loopMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func (m *loopMessage) Duplicate() bool   { return false }
func (m *loopMessage) Qos() byte         { return 1 }
func (m *loopMessage) Retained() bool    { return m.retained }
func (m *loopMessage) Topic() string     { return m.topic }
func (m *loopMessage) MessageID() uint16 { return 0 }
func (m *loopMessage) Payload() []byte   { return m.payload }
func (m *loopMessage) Ack()              {}
