// Package pubsub delivers change events to observers: an in-process Hub for
// subscribers of this instance, and a Redis publisher/relay pair that carries
// events between instances.
package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"signoff-backend/internal/domain/event"
)

var (
	// ErrSubscriberLagging ends a subscription whose buffer filled up. The
	// observer missed events and must re-read state before subscribing again.
	ErrSubscriberLagging = errors.New("pubsub: subscriber lagging, refresh state")
	ErrHubClosed         = errors.New("pubsub: hub closed")
)

const defaultBuffer = 64

// Hub fans events out to in-process subscriptions. Publish holds the hub lock
// for the whole batch, so two batches never interleave and every subscriber
// sees a submission's events in publish order.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
	log    *slog.Logger
}

var (
	_ event.Publisher  = (*Hub)(nil)
	_ event.Subscriber = (*Hub)(nil)
)

func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		log:    log.With("component", "hub"),
	}
}

type Subscription struct {
	id    uint64
	scope event.Scope
	ch    chan event.ChangeEvent
	hub   *Hub
	stop  func() bool
	err   error
}

// Events is closed when the subscription ends; check Err afterwards.
func (s *Subscription) Events() <-chan event.ChangeEvent { return s.ch }

// Err reports why the subscription ended: nil after Cancel or context
// cancellation, ErrSubscriberLagging or ErrHubClosed otherwise.
func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s, nil)
}

// Subscribe registers a subscription that lives until ctx is done, Cancel is
// called, the subscriber lags, or the hub closes.
func (h *Hub) Subscribe(ctx context.Context, scope event.Scope) (event.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{
		id:    h.nextID,
		scope: scope,
		ch:    make(chan event.ChangeEvent, h.buffer),
		hub:   h,
	}
	h.subs[sub.id] = sub
	// runs in its own goroutine, never under h.mu
	sub.stop = context.AfterFunc(ctx, sub.Cancel)
	h.log.Debug("subscribed", "subscription", sub.id, "scope", scope.String())
	return sub, nil
}

// Publish never blocks on a slow subscriber.
func (h *Hub) Publish(_ context.Context, events ...event.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for _, ev := range events {
		for _, sub := range h.subs {
			if !sub.scope.Matches(ev) {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				h.log.Warn("dropping lagging subscriber",
					"subscription", sub.id, "scope", sub.scope.String(), "buffer", h.buffer)
				h.removeLocked(sub, ErrSubscriberLagging)
			}
		}
	}
	return nil
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription with ErrHubClosed. Later Subscribe and
// Publish calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		h.removeLocked(sub, ErrHubClosed)
	}
}

// only the hub closes subscription channels, and only here
func (h *Hub) removeLocked(sub *Subscription, err error) {
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	sub.err = err
	close(sub.ch)
	if sub.stop != nil {
		sub.stop()
	}
}
