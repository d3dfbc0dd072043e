package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]*subscriber
	dropped atomic.Uint64
}

type subscriber struct {
	ch     chan Envelope
	once   sync.Once
	topics []Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]*subscriber)}
}

// Subscribe registers one listener for the given topics, or for every topic
// when none are given. It returns the channel and an unsubscribe function
// that closes it.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Envelope, func()) {
	if len(topics) == 0 {
		topics = All
	}
	s := &subscriber{ch: make(chan Envelope, buffer), topics: topics}

	b.mu.Lock()
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], s)
	}
	b.mu.Unlock()

	unsub := func() {
		s.once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range s.topics {
				subs := b.subs[e]
				for i, c := range subs {
					if c == s {
						b.subs[e] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish fans the envelope out without blocking. Slow subscribers miss it.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[env.Type] {
		select {
		case s.ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts envelopes discarded because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers counts the listeners of one topic.
func (b *Bus) Subscribers(e Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[e])
}
