// ABOUTME: EventBus fans out committed run events to subscribers without blocking the producer.
// ABOUTME: A full subscriber buffer drops the oldest entry, not the newest.
package bus

import (
	"sync"

	"github.com/2389-research/graphrun/core"
)

// DefaultBufferSize is the per-subscriber channel depth before drop-oldest kicks in.
const DefaultBufferSize = 1024

// EventBus is an in-process, non-blocking fan-out of core.Event to any
// number of subscribers. It implements core.EventSink.
type EventBus struct {
	mu          sync.Mutex
	bufferSize  int
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	ch      chan core.Event
	filter  func(core.Event) bool
	dropped func(n int)

	mu       sync.Mutex
	pending  []core.Event
	dropCnt  int
}

// New creates an EventBus with the default per-subscriber buffer size.
func New() *EventBus {
	return NewWithBuffer(DefaultBufferSize)
}

// NewWithBuffer creates an EventBus with an explicit per-subscriber buffer size.
func NewWithBuffer(size int) *EventBus {
	return &EventBus{bufferSize: size, subscribers: make(map[*subscriber]struct{})}
}

// Subscription is a live handle returned by Subscribe.
type Subscription struct {
	bus *EventBus
	sub *subscriber
}

// Events returns the channel on which this subscriber receives events, in
// commit order, strictly FIFO within what it was able to buffer.
func (s *Subscription) Events() <-chan core.Event { return s.sub.ch }

// Unsubscribe stops delivery and closes the channel.
func (s *Subscription) Unsubscribe() { s.bus.unsubscribe(s.sub) }

// Subscribe registers a new subscriber. filter, if non-nil, restricts which
// events are delivered (e.g. events for a single runId). dropped, if
// non-nil, is invoked synchronously from Publish whenever an event is dropped
// to keep the subscriber's bounded buffer from blocking the publisher.
func (b *EventBus) Subscribe(filter func(core.Event) bool, dropped func(n int)) *Subscription {
	sub := &subscriber{
		ch:      make(chan core.Event, b.bufferSize),
		filter:  filter,
		dropped: dropped,
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return &Subscription{bus: b, sub: sub}
}

func (b *EventBus) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// Publish implements core.EventSink. It never blocks: a subscriber whose
// channel is full has its oldest buffered event silently discarded to make
// room, and dropped is invoked with the subscriber's running drop count.
func (b *EventBus) Publish(ev core.Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		s.send(ev)
	}
}

// send delivers ev to the subscriber, dropping the oldest buffered event on
// overflow instead of the newest so a slow consumer still observes the most
// recent state rather than stalling on history it may never catch up on.
func (s *subscriber) send(ev core.Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case <-s.ch:
			s.dropCnt++
		default:
		}
		select {
		case s.ch <- ev:
			if s.dropped != nil {
				s.dropped(s.dropCnt)
			}
			return
		default:
			// Raced with another producer refilling the buffer; retry.
		}
	}
}
