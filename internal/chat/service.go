package chat

import (
	"context"
	"log/slog"
	"time"

	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
)

// Publisher pushes row changes onto the realtime feed.
type Publisher interface {
	Publish(ctx context.Context, change message.Change) error
}

type messageStore interface {
	InsertMessage(ctx context.Context, d message.Draft) (message.Message, error)
	ListConversation(ctx context.Context, a, b string) ([]message.Message, error)
	MarkRead(ctx context.Context, receiverID, senderID string, at time.Time) ([]message.Message, error)
	UpsertContact(ctx context.Context, userID, contactID string) error
}

// Service is the message backend: persistence plus change publication.
type Service struct {
	repo      messageStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo messageStore, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) InsertMessage(ctx context.Context, d message.Draft) (message.Message, error) {
	if err := d.Validate(); err != nil {
		return message.Message{}, err
	}

	m, err := s.repo.InsertMessage(ctx, d)
	if err != nil {
		return message.Message{}, appErrors.ErrPersistFailed("message insert", err)
	}

	// The message is stored at this point; a missing contact row or a lost
	// feed event must not turn the send into a failure.
	s.ensureContacts(ctx, m.SenderID, m.ReceiverID)
	s.publish(ctx, message.ChangeInsert, m)
	return m, nil
}

func (s *Service) QueryMessages(ctx context.Context, a, b string) ([]message.Message, error) {
	msgs, err := s.repo.ListConversation(ctx, a, b)
	if err != nil {
		return nil, appErrors.ErrPersistFailed("history query", err)
	}
	return msgs, nil
}

// MarkRead marks everything senderID sent to receiverID as read and returns
// the messages that changed.
func (s *Service) MarkRead(ctx context.Context, receiverID, senderID string) ([]message.Message, error) {
	updated, err := s.repo.MarkRead(ctx, receiverID, senderID, s.now())
	if err != nil {
		return nil, appErrors.ErrPersistFailed("read receipt", err)
	}
	for _, m := range updated {
		s.publish(ctx, message.ChangeUpdate, m)
	}
	return updated, nil
}

func (s *Service) ensureContacts(ctx context.Context, a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if err := s.repo.UpsertContact(ctx, pair[0], pair[1]); err != nil {
			s.logger.Warn("contact upsert failed", "user", pair[0], "contact", pair[1], "err", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, typ message.ChangeType, m message.Message) {
	if s.publisher == nil {
		return
	}
	change := message.Change{Table: message.Table, Type: typ, Record: message.ToRow(m)}
	if err := s.publisher.Publish(ctx, change); err != nil {
		s.logger.Warn("change publish failed", "type", typ, "message_id", m.ID, "err", err)
	}
}
