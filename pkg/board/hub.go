package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/roffe/canfw"
)

var ErrSubscriberClosed = errors.New("subscriber closed")

// Hub fans received frames out to subscribers. Delivery never blocks: a
// subscriber that is not keeping up loses frames and the hub counts them.
type Hub struct {
	mu     sync.RWMutex
	byID   map[uint32]map[*Subscriber]struct{}
	global []*Subscriber

	dropped atomic.Uint32
}

func NewHub() *Hub {
	return &Hub{byID: make(map[uint32]map[*Subscriber]struct{})}
}

type Subscriber struct {
	hub       *Hub
	ids       []uint32
	ch        chan canfw.Frame
	closeOnce sync.Once
}

// Subscribe returns a subscriber for ids, or for every frame when ids is
// empty. depth is the channel buffer.
func (h *Hub) Subscribe(depth int, ids ...uint32) *Subscriber {
	s := &Subscriber{
		hub: h,
		ids: append([]uint32(nil), ids...),
		ch:  make(chan canfw.Frame, depth),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(s.ids) == 0 {
		h.global = append(h.global, s)
		return s
	}
	for _, id := range s.ids {
		if _, ok := h.byID[id]; !ok {
			h.byID[id] = make(map[*Subscriber]struct{})
		}
		h.byID[id][s] = struct{}{}
	}
	return s
}

func (h *Hub) unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(s.ids) == 0 {
		for i, g := range h.global {
			if g == s {
				h.global = append(h.global[:i], h.global[i+1:]...)
				break
			}
		}
		close(s.ch)
		return
	}
	for _, id := range s.ids {
		if subs, ok := h.byID[id]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.byID, id)
			}
		}
	}
	close(s.ch)
}

// Deliver hands f to every interested subscriber. The read lock is held
// while sending so unsubscribe cannot close a channel mid-send.
func (h *Hub) Deliver(f canfw.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.global {
		h.offer(s, f)
	}
	for s := range h.byID[f.ID()] {
		h.offer(s, f)
	}
}

func (h *Hub) offer(s *Subscriber, f canfw.Frame) {
	select {
	case s.ch <- f:
	default:
		h.dropped.Add(1)
	}
}

// Dropped counts frames lost to full subscriber channels.
func (h *Hub) Dropped() uint32 {
	return h.dropped.Load()
}

func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
	})
}

func (s *Subscriber) Chan() <-chan canfw.Frame {
	return s.ch
}

// Wait returns the next frame or gives up when ctx is done.
func (s *Subscriber) Wait(ctx context.Context) (canfw.Frame, error) {
	select {
	case <-ctx.Done():
		return canfw.Frame{}, fmt.Errorf("wait: %w", ctx.Err())
	case f, ok := <-s.ch:
		if !ok {
			return canfw.Frame{}, ErrSubscriberClosed
		}
		return f, nil
	}
}
