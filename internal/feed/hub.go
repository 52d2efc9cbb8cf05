package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"ephemeral-chat/internal/message"
)

// Channel is the Redis pub/sub channel every instance publishes row changes
// on.
const Channel = "realtime:messages"

const subscriberBuffer = 64

var ErrHubClosed = errors.New("feed: hub is closed")

// Filter selects the changes a subscription wants.
type Filter func(message.Change) bool

// Hub fans Redis change events out to local subscriptions. Run owns the
// subscription set; everything else talks to it through channels.
type Hub struct {
	subs       map[*Subscription]bool
	broadcast  chan message.Change
	register   chan *Subscription
	unregister chan *Subscription
	done       chan struct{}
	redis      *redis.Client
	logger     *slog.Logger
}

func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	return &Hub{
		subs:       make(map[*Subscription]bool),
		broadcast:  make(chan message.Change),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		done:       make(chan struct{}),
		redis:      redisClient,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled. Subscriptions still open at that point
// have their event channel closed.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for sub := range h.subs {
			delete(h.subs, sub)
			close(sub.events)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case sub := <-h.register:
			h.subs[sub] = true

		case sub := <-h.unregister:
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.events)
			}

		case change := <-h.broadcast:
			for sub := range h.subs {
				if sub.table != change.Table || (sub.filter != nil && !sub.filter(change)) {
					continue
				}
				select {
				case sub.events <- change:
				default:
					// Slow consumer: drop it, the owner re-subscribes.
					h.logger.Warn("dropping slow feed subscriber", "table", sub.table)
					delete(h.subs, sub)
					close(sub.events)
				}
			}
		}
	}
}

// SubscribeToRedis forwards changes published by any instance into the local
// fan-out. It returns when ctx is cancelled or the Redis subscription ends.
func (h *Hub) SubscribeToRedis(ctx context.Context) error {
	pubsub := h.redis.Subscribe(ctx, Channel)
	defer pubsub.Close()

	// Wait for the confirmation so publishes issued after this returns are
	// not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change message.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				h.logger.Warn("malformed feed payload", "err", err)
				continue
			}
			h.Deliver(change)
		}
	}
}

// Publish sends a change to every instance, this one included.
func (h *Hub) Publish(ctx context.Context, change message.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, Channel, payload).Err()
}

// Deliver fans a change out to local subscribers only.
func (h *Hub) Deliver(change message.Change) {
	select {
	case h.broadcast <- change:
	case <-h.done:
	}
}

// SubscribeChanges registers a filtered subscription on table.
func (h *Hub) SubscribeChanges(ctx context.Context, table string, filter Filter) (*Subscription, error) {
	sub := &Subscription{
		hub:    h,
		table:  table,
		filter: filter,
		events: make(chan message.Change, subscriberBuffer),
	}
	select {
	case h.register <- sub:
		return sub, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type Subscription struct {
	hub       *Hub
	table     string
	filter    Filter
	events    chan message.Change
	closeOnce sync.Once
}

// Events is closed when the subscription is closed, when the hub drops it
// for falling behind, or when the hub stops.
func (s *Subscription) Events() <-chan message.Change {
	return s.events
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
	})
}
