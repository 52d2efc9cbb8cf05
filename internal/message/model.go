package message

import (
	"strings"
	"time"

	appErrors "ephemeral-chat/pkg/errors"
)

// Table is the realtime feed table carrying message rows.
const Table = "messages"

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindVoice Kind = "voice"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindVoice:
		return true
	}
	return false
}

// KindForContentType maps a MIME type onto a media kind. ok is false for
// anything that cannot be attached.
func KindForContentType(contentType string) (Kind, bool) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage, true
	case strings.HasPrefix(ct, "video/"):
		return KindVideo, true
	case strings.HasPrefix(ct, "audio/"):
		return KindVoice, true
	}
	return "", false
}

// Placeholder is the body shown for a media message sent without a caption.
func Placeholder(k Kind) string {
	switch k {
	case KindImage:
		return "📷 Photo"
	case KindVideo:
		return "🎬 Video"
	case KindVoice:
		return "🎤 Voice message"
	}
	return ""
}

type SelfDestruct struct {
	TotalSeconds int `json:"total_seconds"`
}

// Message is the one shape used by history loads, realtime delivery and the
// view layer.
type Message struct {
	ID           string        `json:"id"`
	SenderID     string        `json:"sender_id"`
	ReceiverID   string        `json:"receiver_id"`
	Kind         Kind          `json:"kind"`
	Body         string        `json:"body"`
	MediaRef     string        `json:"media_ref,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ReadAt       *time.Time    `json:"read_at,omitempty"`
	SelfDestruct *SelfDestruct `json:"self_destruct,omitempty"`
}

func (m Message) IsUnreadFor(userID string) bool {
	return m.ReceiverID == userID && m.ReadAt == nil
}

// Duration returns the self-destruct time-to-live, or 0 when the message
// does not expire.
func (m Message) Duration() time.Duration {
	if m.SelfDestruct == nil {
		return 0
	}
	return time.Duration(m.SelfDestruct.TotalSeconds) * time.Second
}

// WithReadAt applies a read receipt from other. It is the only mutation a
// message allows: other must be the same message, carry a readAt, and m must
// still be unread. ok reports whether anything changed.
func (m Message) WithReadAt(other Message) (Message, bool) {
	if m.ID != other.ID || m.ReadAt != nil || other.ReadAt == nil {
		return m, false
	}
	at := *other.ReadAt
	m.ReadAt = &at
	return m, true
}

// Draft holds the fields a client supplies when inserting a message. The
// store assigns ID and CreatedAt.
type Draft struct {
	SenderID     string
	ReceiverID   string
	Kind         Kind
	Body         string
	MediaRef     string
	SelfDestruct *SelfDestruct
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.SenderID) == "" {
		return appErrors.InvalidMessage("sender is required")
	}
	if strings.TrimSpace(d.ReceiverID) == "" {
		return appErrors.InvalidMessage("receiver is required")
	}
	if d.SenderID == d.ReceiverID {
		return appErrors.InvalidMessage("sender and receiver must differ")
	}
	if !d.Kind.Valid() {
		return appErrors.InvalidMessage("unknown message kind " + string(d.Kind))
	}
	if d.Kind == KindText && d.MediaRef != "" {
		return appErrors.InvalidMessage("text messages cannot carry media")
	}
	if d.Kind != KindText && d.MediaRef == "" {
		return appErrors.InvalidMessage("media messages need a media reference")
	}
	if d.Kind == KindText && strings.TrimSpace(d.Body) == "" {
		return appErrors.ErrEmptyMessage
	}
	if d.SelfDestruct != nil && d.SelfDestruct.TotalSeconds <= 0 {
		return appErrors.InvalidMessage("self-destruct duration must be positive")
	}
	return nil
}
