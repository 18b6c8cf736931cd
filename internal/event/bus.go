// Package event is a small in-process publish/subscribe bus for contribution
// lifecycle events. Subscribers are side effects (audit, cache, metrics); a
// failing subscriber never affects the operation that published.
package event

import (
	"sync"
	"time"

	"github.com/damoang/angple-contrib/pkg/logger"
)

// Lifecycle topics
const (
	TopicSubmitted = "contribution.submitted"
	TopicApproved  = "contribution.approved"
	TopicRejected  = "contribution.rejected"
	TopicWithdrawn = "contribution.withdrawn"
)

// Topics lists every lifecycle topic
var Topics = []string{TopicSubmitted, TopicApproved, TopicRejected, TopicWithdrawn}

// Event is one published lifecycle change
type Event struct {
	Topic          string                 `json:"topic"`
	ActorID        string                 `json:"actorId"`
	ContributorID  string                 `json:"contributorId"`
	ContributionID string                 `json:"contributionId"`
	EntityType     string                 `json:"entityType"`
	EntityID       string                 `json:"entityId"`
	RequestID      string                 `json:"requestId,omitempty"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Handler handles one event
type Handler func(e Event)

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events to subscribers synchronously, in subscription order
type Bus struct {
	subscribers map[string][]subscription // topic -> handlers
	mu          sync.RWMutex
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers handler for topic under name
func (b *Bus) Subscribe(name, topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], subscription{name: name, handler: handler})
	logger.GetLogger().Debug().Str("subscriber", name).Str("topic", topic).Msg("event subscription added")
}

// SubscribeAll registers handler for every lifecycle topic
func (b *Bus) SubscribeAll(name string, handler Handler) {
	for _, topic := range Topics {
		b.Subscribe(name, topic, handler)
	}
}

// Unsubscribe removes every subscription registered under name
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subscribers {
		var remaining []subscription
		for _, s := range subs {
			if s.name != name {
				remaining = append(remaining, s)
			}
		}
		if len(remaining) == 0 {
			delete(b.subscribers, topic)
		} else {
			b.subscribers[topic] = remaining
		}
	}
}

// Publish delivers e to every subscriber of e.Topic. Panics are recovered
// and logged per subscriber.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers[e.Topic]))
	copy(subs, b.subscribers[e.Topic])
	b.mu.RUnlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.GetLogger().Error().
						Str("topic", e.Topic).
						Str("subscriber", s.name).
						Interface("panic", r).
						Msg("event handler panicked")
				}
			}()
			s.handler(e)
		}()
	}
}

// Subscriptions returns subscriber names per topic
func (b *Bus) Subscriptions() map[string][]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make(map[string][]string)
	for topic, subs := range b.subscribers {
		for _, s := range subs {
			result[topic] = append(result[topic], s.name)
		}
	}
	return result
}
