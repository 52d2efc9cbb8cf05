package message

import (
	"time"

	appErrors "ephemeral-chat/pkg/errors"
)

// Row is a messages row as the store returns it and as the realtime feed
// carries it.
type Row struct {
	ID                  string     `json:"id"`
	SenderID            string     `json:"sender_id"`
	ReceiverID          string     `json:"receiver_id"`
	MessageType         string     `json:"message_type"`
	Content             string     `json:"content"`
	MediaURL            *string    `json:"media_url"`
	CreatedAt           time.Time  `json:"created_at"`
	ReadAt              *time.Time `json:"read_at"`
	SelfDestructSeconds *int       `json:"self_destruct_seconds"`
}

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
)

// Change is one row-level event from the realtime feed.
type Change struct {
	Table  string     `json:"table"`
	Type   ChangeType `json:"type"`
	Record Row        `json:"record"`
}

// FromRow is the single mapping from raw rows to Message. History loads and
// the realtime feed both go through it.
func FromRow(r Row) (Message, error) {
	if r.ID == "" {
		return Message{}, appErrors.InvalidMessage("row has no id")
	}
	if r.SenderID == "" || r.ReceiverID == "" {
		return Message{}, appErrors.InvalidMessage("row has no sender or receiver")
	}
	kind := Kind(r.MessageType)
	if kind == "" {
		kind = KindText
	}
	if !kind.Valid() {
		return Message{}, appErrors.InvalidMessage("row has unknown message type " + r.MessageType)
	}
	if r.CreatedAt.IsZero() {
		return Message{}, appErrors.InvalidMessage("row has no created_at")
	}

	m := Message{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Kind:       kind,
		Body:       r.Content,
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if r.MediaURL != nil {
		m.MediaRef = *r.MediaURL
	}
	if r.ReadAt != nil {
		at := r.ReadAt.UTC()
		m.ReadAt = &at
	}
	if r.SelfDestructSeconds != nil && *r.SelfDestructSeconds > 0 {
		m.SelfDestruct = &SelfDestruct{TotalSeconds: *r.SelfDestructSeconds}
	}
	return m, nil
}

func ToRow(m Message) Row {
	r := Row{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		MessageType: string(m.Kind),
		Content:     m.Body,
		CreatedAt:   m.CreatedAt,
		ReadAt:      m.ReadAt,
	}
	if m.MediaRef != "" {
		ref := m.MediaRef
		r.MediaURL = &ref
	}
	if m.SelfDestruct != nil {
		secs := m.SelfDestruct.TotalSeconds
		r.SelfDestructSeconds = &secs
	}
	return r
}
