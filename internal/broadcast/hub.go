// Package broadcast fans coordinator events out to observers such as overlays,
// side panels and event-stream clients.
package broadcast

import (
	"fmt"
	"sync"

	"github.com/hpungsan/scribbly/internal/logger"
)

// DefaultBuffer is the per-subscriber queue length used when Subscribe is
// given a non-positive buffer.
const DefaultBuffer = 32

// Hub delivers messages to subscribers without blocking the publisher.
// A subscriber whose queue is full misses the message; the drop is logged.
type Hub[T any] struct {
	log logger.Logger

	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// Subscription is one observer. Tab is zero for observers not bound to a tab.
type Subscription[T any] struct {
	C   <-chan T
	Tab int

	ch   chan T
	hub  *Hub[T]
	once sync.Once
}

// NewHub creates an empty Hub.
func NewHub[T any](log logger.Logger) *Hub[T] {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub[T]{log: log, subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers an observer. tab binds it to a tab for SendToTab.
func (h *Hub[T]) Subscribe(tab, buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan T, buffer)
	s := &Subscription[T]{C: ch, Tab: tab, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[s]; ok {
			delete(h.subs, s)
			close(s.ch)
		}
	})
}

// Broadcast delivers msg to every subscriber and returns how many received it.
func (h *Hub[T]) Broadcast(msg T) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.subs) == 0 {
		h.log.Debug("broadcast has no listeners")
		return 0
	}
	delivered := 0
	for s := range h.subs {
		if h.deliver(s, msg) {
			delivered++
		}
	}
	return delivered
}

// SendToTab delivers msg to the subscribers bound to tab.
// It fails when no subscriber for that tab exists.
func (h *Hub[T]) SendToTab(tab int, msg T) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	found := false
	for s := range h.subs {
		if s.Tab != tab {
			continue
		}
		found = true
		h.deliver(s, msg)
	}
	if !found {
		return fmt.Errorf("no listener for tab %d", tab)
	}
	return nil
}

func (h *Hub[T]) deliver(s *Subscription[T], msg T) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		h.log.Warn("broadcast dropped for slow subscriber", "tab", s.Tab)
		return false
	}
}

// Len returns the number of live subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later subscriptions are closed immediately.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}
