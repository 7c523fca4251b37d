// Package intercept carries the host's intercepted request/response pairs to
// whoever subscribed to them.
//
// The host transport publishes every intercepted search request and response
// on one Bus; each custom list holds its own filtered Subscription keyed by
// the query string it owns, so concurrent lists never see each other's traffic.
package intercept

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType discriminates intercepted traffic
type EventType string

const (
	// QueryIntercepted is an outgoing search request the host is about to send
	QueryIntercepted EventType = "queryIntercepted"
	// ResponseIntercepted is a search response the host is about to render
	ResponseIntercepted EventType = "responseIntercepted"
)

// Event is one intercepted request or response
type Event struct {
	Type      EventType
	Query     string
	Start     int
	Response  string
	Seq       int64
	Timestamp time.Time
}

// Filter selects the events a subscription receives
type Filter func(Event) bool

// Subscription is one filtered view of the bus
type Subscription struct {
	ID     string
	C      <-chan Event
	ch     chan Event
	filter Filter
}

const subscriptionBuffer = 64

// Bus is an in-process broadcast channel for intercepted events
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription
	seq         int64
	dropped     atomic.Int64
	onPublish   func(Event)
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*Subscription)}
}

// SetOnPublish installs a callback run for every published event, outside the lock
func (b *Bus) SetOnPublish(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish fans ev out to every matching subscriber. Sequence numbering and
// fan-out happen under one lock so subscribers observe events in Seq order.
// A subscriber whose buffer is full misses the event rather than blocking the host.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	b.seq++
	ev.Seq = b.seq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	onPub := b.onPublish
	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.Unlock()

	if onPub != nil {
		onPub(ev)
	}
}

// Subscribe registers a filtered subscription. A nil filter receives everything.
// Subscribing again with the same id replaces (and closes) the previous one.
func (b *Bus) Subscribe(id string, filter Filter) *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	sub := &Subscription{ID: id, C: ch, ch: ch, filter: filter}

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subscribers[id]; ok {
		close(old.ch)
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// MatchQuery selects events of one type for exactly one query string
func MatchQuery(t EventType, query string) Filter {
	return func(ev Event) bool {
		return ev.Type == t && ev.Query == query
	}
}

// MatchQueryStart additionally pins the start offset
func MatchQueryStart(t EventType, query string, start int) Filter {
	return func(ev Event) bool {
		return ev.Type == t && ev.Query == query && ev.Start == start
	}
}
