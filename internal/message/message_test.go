package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "ephemeral-chat/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func TestPair_IsUnordered(t *testing.T) {
	p := NewPair("bob", "alice")
	require.Equal(t, NewPair("alice", "bob"), p)
	require.Equal(t, "alice:bob", p.Key())
	require.True(t, p.Matches("alice", "bob"))
	require.True(t, p.Matches("bob", "alice"))
	require.False(t, p.Matches("alice", "carol"))
	require.False(t, p.Matches("alice", "alice"))
}

func TestDraftValidate(t *testing.T) {
	cases := []struct {
		name  string
		draft Draft
		err   error
	}{
		{name: "text ok", draft: Draft{SenderID: "a", ReceiverID: "b", Kind: KindText, Body: "hi"}},
		{name: "image ok", draft: Draft{SenderID: "a", ReceiverID: "b", Kind: KindImage, MediaRef: "https://cdn/x.png"}},
		{name: "missing sender", draft: Draft{ReceiverID: "b", Kind: KindText, Body: "hi"}, err: appErrors.ErrInvalidMessage},
		{name: "self", draft: Draft{SenderID: "a", ReceiverID: "a", Kind: KindText, Body: "hi"}, err: appErrors.ErrInvalidMessage},
		{name: "unknown kind", draft: Draft{SenderID: "a", ReceiverID: "b", Kind: "sticker", Body: "hi"}, err: appErrors.ErrInvalidMessage},
		{name: "text with media", draft: Draft{SenderID: "a", ReceiverID: "b", Kind: KindText, Body: "hi", MediaRef: "x"}, err: appErrors.ErrInvalidMessage},
		{name: "video without media", draft: Draft{SenderID: "a", ReceiverID: "b", Kind: KindVideo}, err: appErrors.ErrInvalidMessage},
		{name: "blank text", draft: Draft{SenderID: "a", ReceiverID: "b", Kind: KindText, Body: "  \n"}, err: appErrors.ErrEmptyMessage},
		{name: "zero self destruct", draft: Draft{SenderID: "a", ReceiverID: "b", Kind: KindText, Body: "hi", SelfDestruct: &SelfDestruct{}}, err: appErrors.ErrInvalidMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.draft.Validate()
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestKindForContentType(t *testing.T) {
	k, ok := KindForContentType("image/png")
	require.True(t, ok)
	require.Equal(t, KindImage, k)
	k, ok = KindForContentType("Video/MP4")
	require.True(t, ok)
	require.Equal(t, KindVideo, k)
	k, ok = KindForContentType("audio/webm")
	require.True(t, ok)
	require.Equal(t, KindVoice, k)
	_, ok = KindForContentType("application/pdf")
	require.False(t, ok)
}

func TestFromRow_MapsFeedPayload(t *testing.T) {
	raw := `{"table":"messages","type":"INSERT","record":{
		"id":"m-1","sender_id":"a","receiver_id":"b","message_type":"image",
		"content":"look","media_url":"https://cdn/a.png",
		"created_at":"2026-10-18T10:00:00Z","read_at":null,"self_destruct_seconds":5}}`

	var ch Change
	require.NoError(t, json.Unmarshal([]byte(raw), &ch))
	require.Equal(t, ChangeInsert, ch.Type)

	m, err := FromRow(ch.Record)
	require.NoError(t, err)
	require.Equal(t, "m-1", m.ID)
	require.Equal(t, KindImage, m.Kind)
	require.Equal(t, "https://cdn/a.png", m.MediaRef)
	require.Nil(t, m.ReadAt)
	require.Equal(t, 5*time.Second, m.Duration())
}

func TestFromRow_Defaults(t *testing.T) {
	m, err := FromRow(Row{ID: "m-2", SenderID: "a", ReceiverID: "b", Content: "hi", CreatedAt: time.Now(), SelfDestructSeconds: ptr(0)})
	require.NoError(t, err)
	require.Equal(t, KindText, m.Kind)
	require.Nil(t, m.SelfDestruct)
	require.Zero(t, m.Duration())
}

func TestFromRow_Rejects(t *testing.T) {
	now := time.Now()
	_, err := FromRow(Row{SenderID: "a", ReceiverID: "b", CreatedAt: now})
	require.ErrorIs(t, err, appErrors.ErrInvalidMessage)
	_, err = FromRow(Row{ID: "x", SenderID: "a", CreatedAt: now})
	require.ErrorIs(t, err, appErrors.ErrInvalidMessage)
	_, err = FromRow(Row{ID: "x", SenderID: "a", ReceiverID: "b", MessageType: "gif", CreatedAt: now})
	require.ErrorIs(t, err, appErrors.ErrInvalidMessage)
	_, err = FromRow(Row{ID: "x", SenderID: "a", ReceiverID: "b"})
	require.ErrorIs(t, err, appErrors.ErrInvalidMessage)
}

func TestToRow_RoundTripsThroughFromRow(t *testing.T) {
	read := time.Date(2026, 10, 18, 10, 5, 0, 0, time.UTC)
	in := Message{
		ID: "m-3", SenderID: "a", ReceiverID: "b", Kind: KindVoice, Body: "🎤 Voice message",
		MediaRef: "https://cdn/v.webm", CreatedAt: read.Add(-time.Minute), ReadAt: &read,
		SelfDestruct: &SelfDestruct{TotalSeconds: 30},
	}
	out, err := FromRow(ToRow(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestWithReadAt(t *testing.T) {
	at := time.Now().UTC()
	unread := Message{ID: "m", SenderID: "a", ReceiverID: "b"}

	got, ok := unread.WithReadAt(Message{ID: "m", ReadAt: &at})
	require.True(t, ok)
	require.Equal(t, at, *got.ReadAt)
	require.True(t, unread.IsUnreadFor("b"))
	require.False(t, got.IsUnreadFor("b"))

	later := at.Add(time.Hour)
	again, ok := got.WithReadAt(Message{ID: "m", ReadAt: &later})
	require.False(t, ok)
	require.Equal(t, at, *again.ReadAt)

	_, ok = unread.WithReadAt(Message{ID: "other", ReadAt: &at})
	require.False(t, ok)
}

func TestPlaceholder(t *testing.T) {
	require.NotEmpty(t, Placeholder(KindImage))
	require.NotEmpty(t, Placeholder(KindVideo))
	require.NotEmpty(t, Placeholder(KindVoice))
	require.Empty(t, Placeholder(KindText))
}
