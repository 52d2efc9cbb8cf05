package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	appErrors "ephemeral-chat/pkg/errors"
)

const (
	DefaultInterval = 60 * time.Second
	defaultTimeout  = 10 * time.Second
)

// ActivityUpdater records that a user was active at a point in time.
type ActivityUpdater interface {
	UpdateUserActivity(ctx context.Context, userID string, at time.Time) error
}

// Ticker stamps a user's activity while a conversation is open. Stamps are
// best effort: failures are logged and never reach the caller.
type Ticker struct {
	updater  ActivityUpdater
	logger   *slog.Logger
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Ticker)

func WithClock(c clock.Clock) Option {
	return func(t *Ticker) { t.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTimeout bounds each stamp.
func WithTimeout(d time.Duration) Option {
	return func(t *Ticker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

func NewTicker(updater ActivityUpdater, logger *slog.Logger, opts ...Option) (*Ticker, error) {
	if updater == nil {
		return nil, errors.New("presence: activity updater must not be nil")
	}
	if logger == nil {
		return nil, errors.New("presence: logger must not be nil")
	}
	t := &Ticker{
		updater:  updater,
		logger:   logger,
		clock:    clock.New(),
		interval: DefaultInterval,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Start stamps userID now and then every interval until Stop. Starting again
// replaces the running ticker.
func (t *Ticker) Start(userID string) {
	t.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := t.clock.Ticker(t.interval)
	first := t.clock.Now()

	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		defer ticker.Stop()

		t.stamp(ctx, userID, first)
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				t.stamp(ctx, userID, at)
			}
		}
	}()
}

// Stop halts the ticker. A stamp in flight is cancelled.
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Ticker) stamp(ctx context.Context, userID string, at time.Time) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.updater.UpdateUserActivity(ctx, userID, at.UTC()); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		t.logger.Warn("presence stamp failed", "user_id", userID, "err", appErrors.ErrPresenceFailed(err))
	}
}
