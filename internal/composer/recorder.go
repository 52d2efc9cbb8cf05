package composer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ephemeral-chat/internal/attachment"
	appErrors "ephemeral-chat/pkg/errors"
)

// Recorder captures one voice message at a time.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (attachment.Source, error)
}

var errRecorderIdle = errors.New("composer: recorder is not capturing")

// BufferRecorder collects audio chunks pushed by the transport, such as
// binary websocket frames, between Start and Stop.
type BufferRecorder struct {
	contentType string
	now         func() time.Time

	mu     sync.Mutex
	active bool
	buf    bytes.Buffer
}

func NewBufferRecorder(contentType string) *BufferRecorder {
	if contentType == "" {
		contentType = "audio/webm"
	}
	return &BufferRecorder{contentType: contentType, now: time.Now}
}

func (r *BufferRecorder) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return appErrors.ErrRecordingActive
	}
	r.active = true
	r.buf.Reset()
	return nil
}

// Write appends a chunk to the running recording.
func (r *BufferRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return 0, errRecorderIdle
	}
	return r.buf.Write(p)
}

// Stop ends the recording and returns it as an attachment source.
func (r *BufferRecorder) Stop(context.Context) (attachment.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil, appErrors.ErrNotRecording
	}
	r.active = false
	if r.buf.Len() == 0 {
		return nil, appErrors.ErrEmptyAttachment
	}
	data := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()

	name := fmt.Sprintf("voice_%d.%s", r.now().UnixMilli(), subtype(r.contentType))
	return attachment.NewMemorySource(name, r.contentType, data), nil
}

func (r *BufferRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func subtype(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	_, sub, ok := strings.Cut(strings.TrimSpace(ct), "/")
	if !ok || sub == "" {
		return "bin"
	}
	return sub
}
