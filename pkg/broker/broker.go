// Package broker fans realtime messages out to in-process subscribers. Each
// subscription is registered explicitly and torn down by Close or by its context.
package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
)

const defaultBuffer = 16

// ErrClosed is returned when subscribing to a broker that has been shut down.
var ErrClosed = errors.New("broker closed")

// Message is one published item.
type Message struct {
	Topic string
	Data  any
	At    time.Time
}

// Broker is a topic-keyed fan-out. The zero value is not usable; call New.
type Broker struct {
	mu      sync.RWMutex
	topics  map[string]map[uint64]*Subscription
	nextID  uint64
	count   int
	closed  bool
	metrics *metrics.BrokerMetrics
}

// New builds an empty broker. m may be nil.
func New(m *metrics.BrokerMetrics) *Broker {
	return &Broker{
		topics:  make(map[string]map[uint64]*Subscription),
		metrics: m,
	}
}

// Subscription receives messages for one topic until closed.
type Subscription struct {
	id     uint64
	topic  string
	ch     chan Message
	broker *Broker
	done   chan struct{}
	once   sync.Once
}

// Subscribe registers a subscriber on topic. The subscription is removed when
// ctx is cancelled, when Close is called, or when the broker shuts down.
func (b *Broker) Subscribe(ctx context.Context, topic string, buffer int) (*Subscription, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		topic:  topic,
		ch:     make(chan Message, buffer),
		broker: b,
		done:   make(chan struct{}),
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]*Subscription)
	}
	b.topics[topic][sub.id] = sub
	b.count++
	b.metrics.SetSubscribers(b.count)
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish delivers msg to every subscriber of topic without blocking. Subscribers
// whose buffer is full miss the message. It returns the number of deliveries.
func (b *Broker) Publish(topic string, data any) int {
	msg := Message{Topic: topic, Data: data, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	delivered := 0
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			b.metrics.IncDropped()
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close removes every subscription and rejects new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*Subscription
	for _, topicSubs := range b.topics {
		for _, sub := range topicSubs {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topicSubs, ok := b.topics[sub.topic]; ok {
		if _, ok := topicSubs[sub.id]; ok {
			delete(topicSubs, sub.id)
			b.count--
			b.metrics.SetSubscribers(b.count)
		}
		if len(topicSubs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
	// Publishers hold the read lock while sending, so closing here cannot race a send.
	close(sub.ch)
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.done)
	})
}
