// Package changefeed fans out "the scheme table changed" notices. Notices
// carry no diff; receivers refetch.
package changefeed

import (
	"context"
	"sync"
)

// Publisher announces that the watched collection changed.
type Publisher interface {
	Publish(ctx context.Context) error
}

// Source feeds notices from an external system into a hub until ctx ends.
type Source interface {
	Run(ctx context.Context, hub *Hub) error
}

// Hub delivers notices to in-process subscribers. Each subscriber runs its
// callback on its own goroutine and notices that arrive while a callback is
// running collapse into a single follow-up call.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

type subscriber struct {
	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers fn. The returned function unsubscribes; it is safe to
// call more than once, and once it returns fn will not run again. It must not
// be called from inside fn.
func (h *Hub) Subscribe(fn func()) func() {
	sub := &subscriber{
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-sub.stop:
				return
			case <-sub.signal:
				select {
				case <-sub.stop:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.stop)
		})
		<-sub.done
	}
}

// Notify wakes every subscriber without blocking.
func (h *Hub) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

// Publish lets a hub stand in as the publisher for a single instance.
func (h *Hub) Publish(context.Context) error {
	h.Notify()
	return nil
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
