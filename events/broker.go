package events

import (
	"errors"
	"sync"

	"passlog/logger"
	"passlog/store"
)

// ErrSlowSubscriber is reported by a subscription that was dropped because
// its queue filled up.
var ErrSlowSubscriber = errors.New("subscriber too slow, dropped")

// ErrClosed is reported by subscriptions ended by Broker.Close.
var ErrClosed = errors.New("broker closed")

// Subscription receives committed changes in commit order until it is
// dropped, unsubscribed or the broker closes.
type Subscription struct {
	C <-chan store.Change

	ch    chan store.Change
	kinds map[store.Kind]bool

	mu  sync.Mutex
	err error
}

// Err reports why the channel was closed, or nil while it is open or after
// a plain Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) wants(kind store.Kind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// Broker fans committed changes out to subscribers. It implements
// store.Publisher and never blocks the publisher.
type Broker struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBroker returns a broker whose subscribers buffer up to queueSize changes.
func NewBroker(queueSize int) *Broker {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Broker{
		queueSize: queueSize,
		subs:      make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber. With no kinds it receives every change.
func (b *Broker) Subscribe(kinds ...store.Kind) *Subscription {
	ch := make(chan store.Change, b.queueSize)
	sub := &Subscription{C: ch, ch: ch}
	if len(kinds) > 0 {
		sub.kinds = make(map[store.Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.err = ErrClosed
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	logger.Logger.Debug().Int("subscribers", len(b.subs)).Msg("watch subscriber connected")
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. It is safe to
// call on an already dropped subscription.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub, nil)
	logger.Logger.Debug().Int("subscribers", len(b.subs)).Msg("watch subscriber disconnected")
}

// remove must be called with b.mu held for writing.
func (b *Broker) remove(sub *Subscription, reason error) {
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.mu.Lock()
	sub.err = reason
	sub.mu.Unlock()
	close(sub.ch)
}

// Publish delivers change to every interested subscriber without waiting.
// Subscribers whose queue is full are dropped.
func (b *Broker) Publish(change store.Change) {
	var slow []*Subscription

	b.mu.RLock()
	for sub := range b.subs {
		if !sub.wants(change.Kind) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	b.mu.Lock()
	for _, sub := range slow {
		b.remove(sub, ErrSlowSubscriber)
	}
	b.mu.Unlock()
	logger.Logger.Warn().Int("dropped", len(slow)).Int64("seq", change.Seq).Msg("dropped slow watch subscribers")
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber. Later subscriptions are closed immediately.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for sub := range b.subs {
		b.remove(sub, ErrClosed)
	}
}
