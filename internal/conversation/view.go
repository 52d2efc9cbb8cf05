package conversation

import (
	"math"
	"time"

	"ephemeral-chat/internal/message"
)

// View is a message as the conversation screen renders it.
type View struct {
	message.Message
	Mine             bool `json:"mine"`
	Read             bool `json:"read"`
	RemainingSeconds int  `json:"remaining_seconds,omitempty"`
}

func newView(m message.Message, selfID string, deadline time.Time, counting bool, now time.Time) View {
	v := View{Message: m, Mine: m.SenderID == selfID, Read: m.ReadAt != nil}
	if counting {
		left := deadline.Sub(now)
		if left < 0 {
			left = 0
		}
		v.RemainingSeconds = int(math.Ceil(left.Seconds()))
	}
	return v
}
