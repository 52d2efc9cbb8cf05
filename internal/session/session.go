package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"ephemeral-chat/internal/attachment"
	"ephemeral-chat/internal/composer"
	"ephemeral-chat/internal/conversation"
	"ephemeral-chat/internal/delivery"
	"ephemeral-chat/internal/message"
	"ephemeral-chat/internal/presence"
	appErrors "ephemeral-chat/pkg/errors"
)

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Backend          conversation.Backend
	Feed             delivery.Feed
	Activity         presence.ActivityUpdater
	Pipeline         *attachment.Pipeline
	Logger           *slog.Logger
	Clock            clock.Clock
	PersistTimeout   time.Duration
	PresenceInterval time.Duration
}

// Observer receives everything the conversation screen renders. Any field
// may be nil.
type Observer struct {
	Messages   func([]conversation.View)
	Attachment func(attachment.Attachment)
	Draft      func(composer.State)
}

// Session is one open conversation view.
type Session struct {
	selfID string
	peerID string
	logger *slog.Logger

	store    *conversation.Store
	channel  *delivery.Channel
	ticker   *presence.Ticker
	tray     *attachment.Tray
	composer *composer.Composer
	recorder *composer.BufferRecorder
}

// Open subscribes to the realtime feed, loads the history, marks it read and
// starts presence stamps. A feed that cannot be reached leaves the session
// on history alone; a history that cannot be loaded fails the open.
func Open(ctx context.Context, deps Deps, selfID, peerID string, obs Observer) (*Session, error) {
	if deps.Backend == nil || deps.Feed == nil || deps.Activity == nil || deps.Pipeline == nil || deps.Logger == nil {
		return nil, errors.New("session: missing dependency")
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	pair := message.NewPair(selfID, peerID)
	log := deps.Logger.With("user_id", selfID, "peer_id", peerID)

	store, err := conversation.New(selfID, peerID, deps.Backend, log,
		conversation.WithClock(deps.Clock),
		conversation.WithPersistTimeout(deps.PersistTimeout))
	if err != nil {
		return nil, err
	}
	if obs.Messages != nil {
		store.OnChange(obs.Messages)
	}

	channel, err := delivery.NewChannel(deps.Feed, log,
		delivery.WithUpdates(func(m message.Message) {
			store.ApplyReadReceipt(m)
		}),
		delivery.WithResync(func(ctx context.Context) {
			n, err := store.Catchup(ctx)
			if err != nil {
				log.Warn("catching up after reconnect failed", "err", err)
				return
			}
			log.Info("realtime delivery restored", "missed", n)
		}))
	if err != nil {
		store.Close()
		return nil, err
	}
	ticker, err := presence.NewTicker(deps.Activity, log,
		presence.WithClock(deps.Clock),
		presence.WithInterval(deps.PresenceInterval))
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Session{
		selfID:   selfID,
		peerID:   peerID,
		logger:   log,
		store:    store,
		channel:  channel,
		ticker:   ticker,
		recorder: composer.NewBufferRecorder(""),
	}
	s.tray = deps.Pipeline.NewTray(selfID, pair.Key(), obs.Attachment)

	opts := []composer.Option{composer.WithRecorder(s.recorder)}
	if obs.Draft != nil {
		opts = append(opts, composer.WithObserver(obs.Draft))
	}
	s.composer, err = composer.New(selfID, peerID, store, s.tray, log, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Subscribe before loading so nothing inserted in between is missed.
	if err := channel.Subscribe(ctx, selfID, peerID, func(m message.Message) {
		store.Insert(m)
	}); err != nil && appErrors.CodeOf(err) != appErrors.CodeSubscription {
		s.Close()
		return nil, err
	}

	if _, err := store.LoadHistory(ctx, peerID); err != nil {
		s.Close()
		return nil, err
	}
	if _, err := store.MarkRead(ctx, peerID); err != nil {
		log.Warn("mark read on open failed", "err", err)
	}
	ticker.Start(selfID)
	return s, nil
}

func (s *Session) SelfID() string { return s.selfID }
func (s *Session) PeerID() string { return s.peerID }

func (s *Session) Store() *conversation.Store { return s.store }

func (s *Session) Composer() *composer.Composer { return s.composer }

// Recorder receives the voice chunks of a running recording.
func (s *Session) Recorder() *composer.BufferRecorder { return s.recorder }

// Live reports whether realtime delivery is up.
func (s *Session) Live() bool { return s.channel.Live() }

// MarkRead marks the peer's messages read, for when the view regains focus.
func (s *Session) MarkRead(ctx context.Context) (int, error) {
	return s.store.MarkRead(ctx, s.peerID)
}

// Send sends the draft.
func (s *Session) Send(ctx context.Context) ([]message.Message, error) {
	return s.composer.Send(ctx)
}

// Close stops presence, delivery, uploads and countdowns, in that order.
func (s *Session) Close() {
	s.ticker.Stop()
	s.channel.Unsubscribe()
	if s.tray != nil {
		s.tray.Close()
	}
	s.store.Close()
}
