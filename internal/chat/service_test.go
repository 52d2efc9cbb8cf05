package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
	"ephemeral-chat/pkg/logger"
)

type fakeStore struct {
	inserted   []message.Draft
	insertErr  error
	listOut    []message.Message
	listErr    error
	readOut    []message.Message
	readErr    error
	readAt     time.Time
	contacts   [][2]string
	contactErr error
}

func (f *fakeStore) InsertMessage(_ context.Context, d message.Draft) (message.Message, error) {
	f.inserted = append(f.inserted, d)
	if f.insertErr != nil {
		return message.Message{}, f.insertErr
	}
	return message.Message{ID: "m-1", SenderID: d.SenderID, ReceiverID: d.ReceiverID, Kind: d.Kind, Body: d.Body, CreatedAt: time.Now().UTC()}, nil
}

func (f *fakeStore) ListConversation(_ context.Context, _, _ string) ([]message.Message, error) {
	return f.listOut, f.listErr
}

func (f *fakeStore) MarkRead(_ context.Context, _, _ string, at time.Time) ([]message.Message, error) {
	f.readAt = at
	return f.readOut, f.readErr
}

func (f *fakeStore) UpsertContact(_ context.Context, userID, contactID string) error {
	f.contacts = append(f.contacts, [2]string{userID, contactID})
	return f.contactErr
}

type fakePublisher struct {
	changes []message.Change
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, c message.Change) error {
	f.changes = append(f.changes, c)
	return f.err
}

func TestService_InsertMessage(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	svc := NewService(store, pub, logger.Discard())

	m, err := svc.InsertMessage(context.Background(), message.Draft{SenderID: "a", ReceiverID: "b", Kind: message.KindText, Body: "hi"})
	require.NoError(t, err)
	require.Equal(t, "m-1", m.ID)
	require.Equal(t, [][2]string{{"a", "b"}, {"b", "a"}}, store.contacts)
	require.Len(t, pub.changes, 1)
	require.Equal(t, message.ChangeInsert, pub.changes[0].Type)
	require.Equal(t, message.Table, pub.changes[0].Table)
	require.Equal(t, "m-1", pub.changes[0].Record.ID)
}

func TestService_InsertMessage_ValidatesBeforeIO(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, &fakePublisher{}, logger.Discard())

	_, err := svc.InsertMessage(context.Background(), message.Draft{SenderID: "a", ReceiverID: "b", Kind: message.KindText, Body: " "})
	require.ErrorIs(t, err, appErrors.ErrEmptyMessage)
	require.Empty(t, store.inserted)
}

func TestService_InsertMessage_PersistError(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down")}
	pub := &fakePublisher{}
	svc := NewService(store, pub, logger.Discard())

	_, err := svc.InsertMessage(context.Background(), message.Draft{SenderID: "a", ReceiverID: "b", Kind: message.KindText, Body: "hi"})
	require.Equal(t, appErrors.CodePersist, appErrors.CodeOf(err))
	require.Empty(t, pub.changes)
	require.Empty(t, store.contacts)
}

func TestService_InsertMessage_SideEffectFailuresAreNotFatal(t *testing.T) {
	store := &fakeStore{contactErr: errors.New("fk violation")}
	pub := &fakePublisher{err: errors.New("redis down")}
	svc := NewService(store, pub, logger.Discard())

	_, err := svc.InsertMessage(context.Background(), message.Draft{SenderID: "a", ReceiverID: "b", Kind: message.KindText, Body: "hi"})
	require.NoError(t, err)
}

func TestService_MarkRead_PublishesUpdates(t *testing.T) {
	at := time.Now().UTC()
	store := &fakeStore{readOut: []message.Message{
		{ID: "m-1", SenderID: "a", ReceiverID: "b", Kind: message.KindText, Body: "x", CreatedAt: at, ReadAt: &at},
		{ID: "m-2", SenderID: "a", ReceiverID: "b", Kind: message.KindText, Body: "y", CreatedAt: at, ReadAt: &at},
	}}
	pub := &fakePublisher{}
	svc := NewService(store, pub, logger.Discard())

	updated, err := svc.MarkRead(context.Background(), "b", "a")
	require.NoError(t, err)
	require.Len(t, updated, 2)
	require.False(t, store.readAt.IsZero())
	require.Len(t, pub.changes, 2)
	require.Equal(t, message.ChangeUpdate, pub.changes[1].Type)
}

func TestService_MarkRead_Error(t *testing.T) {
	svc := NewService(&fakeStore{readErr: errors.New("boom")}, nil, logger.Discard())
	_, err := svc.MarkRead(context.Background(), "b", "a")
	require.Equal(t, appErrors.CodePersist, appErrors.CodeOf(err))
}

func TestService_QueryMessages(t *testing.T) {
	store := &fakeStore{listOut: []message.Message{{ID: "m-1"}}}
	svc := NewService(store, nil, logger.Discard())

	msgs, err := svc.QueryMessages(context.Background(), "a", "b")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	store.listErr = errors.New("boom")
	_, err = svc.QueryMessages(context.Background(), "a", "b")
	require.Equal(t, appErrors.CodePersist, appErrors.CodeOf(err))
}
