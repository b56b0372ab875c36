// Package events is the gateway's in-process pub/sub bus for the
// gateway:status, gateway:attempt, gateway:request, and gateway:circuit
// topics consumed by the admin status API. Publishing never blocks the
// request plane: when a subscriber's buffer is full, the new event is
// skipped for that subscriber and counted in metrics.EventBusDropped; the
// subscriber stays subscribed.
package events

import (
	"sync"

	"github.com/cligateway/hub/internal/metrics"
)

// Topic names the four event streams named in the external interfaces spec.
type Topic string

const (
	TopicStatus   Topic = "gateway:status"
	TopicAttempt  Topic = "gateway:attempt"
	TopicRequest  Topic = "gateway:request"
	TopicCircuit  Topic = "gateway:circuit"
)

const subscriberBufferSize = 64

type subscriber struct {
	ch chan any
}

// Bus fans out published events to all current subscribers of a topic.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]*subscriber)}
}

// Subscribe registers a new subscriber for topic and returns a receive-only
// channel. Call Unsubscribe when done to release it.
func (b *Bus) Subscribe(topic Topic) <-chan any {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{ch: make(chan any, subscriberBufferSize)}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub.ch
}

// Unsubscribe removes a subscriber channel previously returned by Subscribe.
func (b *Bus) Unsubscribe(topic Topic, ch <-chan any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.ch == ch {
			close(s.ch)
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish fans event out to every current subscriber of topic. A subscriber
// whose buffer is full is dropped for this event (counted in a metric)
// rather than blocking the publisher.
func (b *Bus) Publish(topic Topic, event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- event:
		default:
			metrics.EventBusDropped.WithLabelValues(string(topic)).Inc()
		}
	}
}

// SubscriberCount reports how many subscribers a topic currently has, for
// diagnostics.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
