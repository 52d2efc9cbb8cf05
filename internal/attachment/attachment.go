package attachment

import (
	"github.com/google/uuid"

	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
)

const (
	MaxAttachments = 10
	MaxTotalBytes  = 500 << 20
)

// Attachment is a staged file and its progress through the pipeline.
type Attachment struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	ContentType  string       `json:"content_type"`
	Size         int64        `json:"size"`
	Kind         message.Kind `json:"kind"`
	Caption      string       `json:"caption,omitempty"`
	Position     int          `json:"position"`
	Status       Status       `json:"status"`
	Progress     int          `json:"progress"`
	Error        string       `json:"error,omitempty"`
	PreviewURL   string       `json:"preview_url,omitempty"`
	MediaURL     string       `json:"media_url,omitempty"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
	RecordID     string       `json:"record_id,omitempty"`

	source Source
}

// Stage wraps src as a pending attachment. Only images get a local preview.
func Stage(src Source, position int) (Attachment, error) {
	if src == nil || src.Size() <= 0 {
		return Attachment{}, appErrors.ErrEmptyAttachment
	}
	kind, ok := message.KindForContentType(src.ContentType())
	if !ok {
		return Attachment{}, appErrors.ErrUnsupportedMedia
	}

	a := Attachment{
		ID:          uuid.NewString(),
		Name:        src.Name(),
		ContentType: src.ContentType(),
		Size:        src.Size(),
		Kind:        kind,
		Position:    position,
		Status:      StatusPending,
		source:      src,
	}
	if p, ok := src.(previewer); ok && kind == message.KindImage {
		a.PreviewURL = p.PreviewURL()
	}
	return a, nil
}

// ValidateBatch checks adding incoming to staged against the per-message
// limits. The whole batch is rejected on any violation.
func ValidateBatch(staged []Attachment, incoming []Source) error {
	if len(staged)+len(incoming) > MaxAttachments {
		return appErrors.ErrTooManyAttachments
	}
	var total int64
	for _, a := range staged {
		total += a.Size
	}
	for _, src := range incoming {
		if src == nil {
			return appErrors.ErrEmptyAttachment
		}
		total += src.Size()
	}
	if total > MaxTotalBytes {
		return appErrors.ErrAttachmentsTooLarge
	}
	return nil
}
