package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ephemeral-chat/internal/feed"
	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
)

// Feed is the realtime change stream.
type Feed interface {
	SubscribeChanges(ctx context.Context, table string, filter feed.Filter) (*feed.Subscription, error)
}

// Handler receives a message mapped from a feed event.
type Handler func(message.Message)

// Channel delivers the realtime inserts of one conversation. A Channel holds
// at most one subscription; subscribing again replaces it.
type Channel struct {
	feed       Feed
	logger     *slog.Logger
	onUpdate   Handler
	resync     func(context.Context)
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	live   atomic.Bool
}

type Option func(*Channel)

// WithUpdates delivers read receipts (row updates) to fn.
func WithUpdates(fn Handler) Option {
	return func(c *Channel) { c.onUpdate = fn }
}

// WithResync runs fn each time the subscription is re-established, so the
// caller can fetch what was inserted while events were not flowing. It runs
// on the channel's goroutine after the new subscription is in place; ctx is
// cancelled by Unsubscribe.
func WithResync(fn func(ctx context.Context)) Option {
	return func(c *Channel) { c.resync = fn }
}

// WithBackOff sets the retry policy used to re-establish the subscription.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Channel) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

func NewChannel(f Feed, logger *slog.Logger, opts ...Option) (*Channel, error) {
	if f == nil {
		return nil, errors.New("delivery: feed must not be nil")
	}
	if logger == nil {
		return nil, errors.New("delivery: logger must not be nil")
	}
	c := &Channel{feed: f, logger: logger, newBackOff: defaultBackOff}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Subscribe starts delivering inserts between localUserID and peerID to
// onInsert. A failed first attempt returns a subscription error; the channel
// keeps retrying in the background and the caller runs on history alone
// until it succeeds. Handlers run on the channel's goroutine and must not
// call Unsubscribe.
func (c *Channel) Subscribe(ctx context.Context, localUserID, peerID string, onInsert Handler) error {
	if onInsert == nil {
		return errors.New("delivery: insert handler must not be nil")
	}
	c.Unsubscribe()

	pair := message.NewPair(localUserID, peerID)
	filter := func(ch message.Change) bool {
		return pair.Matches(ch.Record.SenderID, ch.Record.ReceiverID)
	}

	sub, err := c.feed.SubscribeChanges(ctx, message.Table, filter)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, done, sub, filter, onInsert)

	if err != nil {
		c.logger.Warn("realtime subscription failed, history only until it recovers",
			"conversation", pair.Key(), "err", err)
		return appErrors.ErrSubscriptionFailed(err)
	}
	return nil
}

// Unsubscribe stops delivery and waits for the handlers to return.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Live reports whether events are currently flowing.
func (c *Channel) Live() bool {
	return c.live.Load()
}

func (c *Channel) run(ctx context.Context, done chan struct{}, sub *feed.Subscription, filter feed.Filter, onInsert Handler) {
	defer close(done)
	for {
		if sub == nil {
			sub = c.resubscribe(ctx, filter)
			if sub == nil {
				return
			}
			c.live.Store(true)
			if c.resync != nil {
				c.resync(ctx)
			}
		}

		c.live.Store(true)
		c.consume(ctx, sub, onInsert)
		c.live.Store(false)
		sub.Close()
		sub = nil

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("realtime subscription lost, reconnecting")
	}
}

func (c *Channel) resubscribe(ctx context.Context, filter feed.Filter) *feed.Subscription {
	var sub *feed.Subscription
	op := func() error {
		s, err := c.feed.SubscribeChanges(ctx, message.Table, filter)
		if errors.Is(err, feed.ErrHubClosed) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		sub = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("realtime subscription retry", "err", err, "retry_in", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("realtime subscription abandoned", "err", err)
		}
		return nil
	}
	return sub
}

func (c *Channel) consume(ctx context.Context, sub *feed.Subscription, onInsert Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-sub.Events():
			if !ok {
				return
			}
			c.dispatch(ch, onInsert)
		}
	}
}

func (c *Channel) dispatch(ch message.Change, onInsert Handler) {
	m, err := message.FromRow(ch.Record)
	if err != nil {
		c.logger.Warn("dropping malformed feed event", "type", ch.Type, "err", err)
		return
	}
	switch ch.Type {
	case message.ChangeInsert:
		onInsert(m)
	case message.ChangeUpdate:
		if c.onUpdate != nil {
			c.onUpdate(m)
		}
	default:
		c.logger.Debug("ignoring feed event", "type", ch.Type, "message_id", m.ID)
	}
}
