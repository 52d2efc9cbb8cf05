package media

import (
	"time"

	"ephemeral-chat/internal/message"
)

// Record is the persisted form of an uploaded attachment.
type Record struct {
	ID           string       `json:"id"`
	ParentID     string       `json:"parent_id"`
	OwnerID      string       `json:"owner_id"`
	URL          string       `json:"media_url"`
	Kind         message.Kind `json:"media_type"`
	Size         int64        `json:"file_size"`
	Caption      string       `json:"caption,omitempty"`
	Position     int          `json:"position"`
	ThumbnailURL string       `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}
