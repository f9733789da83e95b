// Package tailbroker is the single-process, in-memory fan-out that
// pushes newly-committed entries to live subscribers (§4.9). It
// generalizes the teacher's clients map/mutex pattern with a bounded
// per-subscriber queue, lag detection, a wall-clock subscription limit
// and an idle heartbeat.
package tailbroker

import (
	"sync"
	"sync/atomic"
	"time"

	"containerlogd/pkg/ingesterr"
	"containerlogd/pkg/store"
)

// Kind labels the variety of a Message delivered to a subscriber.
type Kind string

const (
	KindLog       Kind = "log"
	KindLagged    Kind = "lagged"
	KindHeartbeat Kind = "heartbeat"
	KindClose     Kind = "close"
)

type Message struct {
	Kind  Kind
	Entry *store.LogEntry
}

// Filter restricts a subscriber to entries from a container and/or
// level, applied server-side before enqueue.
type Filter struct {
	Container string
	Level     string
}

func (f Filter) matches(e store.LogEntry) bool {
	if f.Container != "" && f.Container != e.Container {
		return false
	}
	if f.Level != "" && f.Level != e.Level {
		return false
	}
	return true
}

// Subscriber is a live tail subscription. Callers read Messages() until
// it closes (on wall-clock expiry, explicit Unsubscribe, or broker
// shutdown).
type Subscriber struct {
	filter    Filter
	ch        chan Message
	lagged    atomic.Bool
	createdAt time.Time
	closeOnce sync.Once
}

func (s *Subscriber) Messages() <-chan Message { return s.ch }

// Broker owns the live subscriber set.
type Broker struct {
	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	maxSubs   int
	queueSize int
	ttl       time.Duration
	heartbeat time.Duration
}

// New builds a Broker. maxSubs, queueSize, ttl and heartbeat correspond
// directly to the spec's defaults (5, 256, 30 minutes, 15 seconds);
// callers pass the configured values.
func New(maxSubs, queueSize int, ttl, heartbeat time.Duration) *Broker {
	return &Broker{
		subs:      make(map[*Subscriber]struct{}),
		maxSubs:   maxSubs,
		queueSize: queueSize,
		ttl:       ttl,
		heartbeat: heartbeat,
	}
}

// TTL and Heartbeat expose the broker's configured durations so HTTP
// handlers can drive their own timers without duplicating config.
func (b *Broker) TTL() time.Duration       { return b.ttl }
func (b *Broker) Heartbeat() time.Duration { return b.heartbeat }

// Subscribe registers a new subscriber, failing with
// ingesterr.ErrTooManySubscribers once the cap is reached. The broker
// unsubscribes it (closing its channel) once it outlives the TTL.
func (b *Broker) Subscribe(f Filter) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= b.maxSubs {
		return nil, ingesterr.ErrTooManySubscribers
	}
	sub := &Subscriber{
		filter:    f,
		ch:        make(chan Message, b.queueSize),
		createdAt: time.Now(),
	}
	b.subs[sub] = struct{}{}
	time.AfterFunc(b.ttl, func() { b.Unsubscribe(sub) })
	return sub, nil
}

// Unsubscribe removes sub from the live set and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if ok {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}

// Publish delivers entry, in commit order, to every subscriber whose
// filter matches. A full subscriber queue drops its oldest message and
// flags the subscriber lagged rather than blocking the publisher.
func (b *Broker) Publish(entry store.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg := Message{Kind: KindLog, Entry: &entry}
	for sub := range b.subs {
		if !sub.filter.matches(entry) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
			sub.lagged.Store(true)
		}
	}
}

// Shutdown empties the live subscriber set and closes every subscriber's
// channel. It sends no close message itself; readers see the channel
// close.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.ch) })
	}
}

// Expired reports whether sub has outlived the broker's wall-clock
// subscription limit.
func (b *Broker) Expired(sub *Subscriber) bool {
	return time.Since(sub.createdAt) >= b.ttl
}

// ConsumeLagged clears and reports sub's lag flag, so the caller can
// attach a lagged marker to the very next delivery.
func ConsumeLagged(sub *Subscriber) bool {
	return sub.lagged.Swap(false)
}
