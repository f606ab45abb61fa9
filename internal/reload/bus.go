// Package reload provides the in-process signal bus that links file
// watchers, page builders and the dev server.
package reload

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	uerrors "github.com/conneroisu/unifee/internal/errors"
)

// GlobalTopic is published after any page rebuilt successfully. The dev
// server forwards it to every connected browser.
const GlobalTopic = "hotreload"

// AssetsTopic returns the per-page topic on which watcher events for the
// builder with the given id are published.
func AssetsTopic(id string) string {
	return "assets:" + id
}

// Signal is a payload-free notification tagged with its topic.
type Signal struct {
	Topic string
}

// ErrClosed is returned by Publish once the bus has been closed.
var ErrClosed = uerrors.NewInternalError("reload bus is closed", nil)

// Bus is a topic-keyed, non-durable pub/sub for reload signals.
//
// Publish blocks until every subscriber registered at publish time has
// accepted the signal or ctx is done. Signals are not replayed to late
// subscribers.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[uint64]*subscriber
	nextID    atomic.Uint64
	isClosed  atomic.Bool
	closeOnce sync.Once
}

type subscriber struct {
	ch   chan Signal
	done chan struct{}

	// mu is held for reading while a send is in flight so the channel is
	// only closed once no sender can touch it.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func (s *subscriber) send(ctx context.Context, sig Signal) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- sig:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return uerrors.NewInternalError("reload publish canceled", ctx.Err()).WithOp(sig.Topic)
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// NewBus creates an open bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[uint64]*subscriber),
	}
}

// Subscribe registers interest in topic. The returned channel is closed by
// unsubscribe or by Close. Subscribing to a closed bus yields a closed
// channel.
func (b *Bus) Subscribe(topic string, buffer int) (<-chan Signal, func()) {
	sub := &subscriber{
		ch:   make(chan Signal, buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.isClosed.Load() {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	id := b.nextID.Add(1)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*subscriber)
	}
	b.subs[topic][id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if topicSubs, ok := b.subs[topic]; ok {
				delete(topicSubs, id)
				if len(topicSubs) == 0 {
					delete(b.subs, topic)
				}
			}
			b.mu.Unlock()
			sub.close()
		})
	}

	return sub.ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers on topic.
func (b *Bus) SubscriberCount(topic string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Publish delivers one signal on topic to each current subscriber, in
// subscription order.
func (b *Bus) Publish(ctx context.Context, topic string) error {
	if b.isClosed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	topicSubs := b.subs[topic]
	ids := make([]uint64, 0, len(topicSubs))
	for id := range topicSubs {
		ids = append(ids, id)
	}
	targets := make(map[uint64]*subscriber, len(topicSubs))
	for id, s := range topicSubs {
		targets[id] = s
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	sig := Signal{Topic: topic}
	for _, id := range ids {
		if err := targets[id].send(ctx, sig); err != nil {
			return err
		}
	}
	return nil
}

// Close rejects further publishes and closes every subscription channel.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.isClosed.Store(true)

		b.mu.Lock()
		var toClose []*subscriber
		for _, topicSubs := range b.subs {
			for _, s := range topicSubs {
				toClose = append(toClose, s)
			}
		}
		b.subs = make(map[string]map[uint64]*subscriber)
		b.mu.Unlock()

		for _, s := range toClose {
			s.close()
		}
	})
}
