// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"tclab/pkg/logger"
)

var log = logger.New("EventBus")

type Topic string
type Event = any

// Bus implements an in-memory pub/sub where the most recent event
// is the only one kept per subscriber. Publish never blocks, so a slow
// subscriber only misses intermediate events.
type Bus struct {
	mu        sync.RWMutex
	subs      map[Topic]map[uint64]chan Event
	last      map[Topic]Event
	idCounter atomic.Uint64
	closed    atomic.Bool

	eventCount   atomic.Int64
	sendCount    atomic.Int64
	dropCount    atomic.Int64
	replaceCount atomic.Int64
}

// Stats counts deliveries since the bus was created.
type Stats struct {
	Events   int64 `json:"events"`
	Sent     int64 `json:"sent"`
	Replaced int64 `json:"replaced"`
	Dropped  int64 `json:"dropped"`
}

// New returns an initialized Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[Topic]map[uint64]chan Event),
		last: make(map[Topic]Event),
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		Events:   b.eventCount.Load(),
		Sent:     b.sendCount.Load(),
		Replaced: b.replaceCount.Load(),
		Dropped:  b.dropCount.Load(),
	}
}

// Publish stores ev as the last event of topic and offers it to every
// subscriber, replacing whatever the subscriber has not read yet.
func (b *Bus) Publish(topic Topic, ev Event) {
	if b.closed.Load() {
		return
	}
	b.eventCount.Add(1)

	// storing last and sending happen under one lock so a concurrent
	// Subscribe(withLast) sees each event exactly once. Sends never block.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last[topic] = ev
	for _, ch := range b.subs[topic] {
		b.publishReplace(ch, ev)
	}
}

// publishReplace delivers ev to ch, dropping the unread value if ch is
// full. All operations are non-blocking.
func (b *Bus) publishReplace(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		b.sendCount.Add(1)
		return
	default:
	}

	select {
	case <-ch:
		b.replaceCount.Add(1)
	default:
	}
	select {
	case ch <- ev:
		b.sendCount.Add(1)
	default:
		log.Debug("dropped event: %+v", ev)
		b.dropCount.Add(1)
	}
}

// Subscribe subscribes to a topic and returns a receive-only channel and an unsubscribe func.
// If withLast is true and there is a stored "last" event, that event will be delivered immediately.
// The channel is closed when ctx is cancelled, on unsubscribe, or when the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, withLast bool) (<-chan Event, func()) {
	ch := make(chan Event, 1)
	id := b.idCounter.Add(1)

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]chan Event)
	}
	b.subs[topic][id] = ch
	if withLast {
		if last, ok := b.last[topic]; ok {
			b.publishReplace(ch, last)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsub := func() { once.Do(func() { close(done) }) }

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		// Close may have already taken ownership of ch
		if m, ok := b.subs[topic]; ok {
			if _, mine := m[id]; mine {
				delete(m, id)
				if len(m) == 0 {
					delete(b.subs, topic)
				}
				close(ch)
			}
		}
	}()

	return ch, unsub
}

// GetLast returns the last published event for a topic (if any).
func (b *Bus) GetLast(topic Topic) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.last[topic]
	return v, ok
}

// Close closes the bus and all subscriber channels. After Close, Publish is a no-op and Subscribe
// returns a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return
	}
	for _, m := range b.subs {
		for _, ch := range m {
			close(ch)
		}
	}
	b.subs = make(map[Topic]map[uint64]chan Event)
	b.last = make(map[Topic]Event)
	s := b.Stats()
	log.Info("closed: %d events, %d sent, %d replaced, %d dropped", s.Events, s.Sent, s.Replaced, s.Dropped)
}
