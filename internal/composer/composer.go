package composer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"ephemeral-chat/internal/attachment"
	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
)

const (
	MinSelfDestructSeconds     = 1
	MaxSelfDestructSeconds     = 60
	DefaultSelfDestructSeconds = 10
)

// Sender persists one message and returns it as stored.
type Sender interface {
	Send(ctx context.Context, d message.Draft) (message.Message, error)
}

// State is the draft as the compose box renders it.
type State struct {
	Text                string                  `json:"text"`
	SelfDestruct        bool                    `json:"self_destruct"`
	SelfDestructSeconds int                     `json:"self_destruct_seconds"`
	Attachments         []attachment.Attachment `json:"attachments"`
	Recording           bool                    `json:"recording"`
	CanSend             bool                    `json:"can_send"`
}

// Composer is the draft of one conversation: text, self-destruct setting,
// staged attachments and the voice recorder.
type Composer struct {
	selfID   string
	peerID   string
	sender   Sender
	tray     *attachment.Tray
	recorder Recorder
	logger   *slog.Logger
	onChange func(State)

	sendMu sync.Mutex

	mu           sync.Mutex
	text         string
	selfDestruct bool
	seconds      int
	recording    bool
}

type Option func(*Composer)

// WithRecorder enables voice messages.
func WithRecorder(r Recorder) Option {
	return func(c *Composer) { c.recorder = r }
}

// WithObserver is called with the new state after every draft change.
func WithObserver(fn func(State)) Option {
	return func(c *Composer) { c.onChange = fn }
}

func New(selfID, peerID string, sender Sender, tray *attachment.Tray, logger *slog.Logger, opts ...Option) (*Composer, error) {
	if selfID == "" || peerID == "" {
		return nil, errors.New("composer: self and peer ids must not be empty")
	}
	if sender == nil {
		return nil, errors.New("composer: sender must not be nil")
	}
	if tray == nil {
		return nil, errors.New("composer: tray must not be nil")
	}
	if logger == nil {
		return nil, errors.New("composer: logger must not be nil")
	}
	c := &Composer{
		selfID:  selfID,
		peerID:  peerID,
		sender:  sender,
		tray:    tray,
		logger:  logger,
		seconds: DefaultSelfDestructSeconds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Composer) SetDraftText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
	c.changed()
}

func (c *Composer) ToggleSelfDestruct(enabled bool) {
	c.mu.Lock()
	c.selfDestruct = enabled
	c.mu.Unlock()
	c.changed()
}

// SetSelfDestructSeconds clamps n to [1, 60] and returns the value applied.
func (c *Composer) SetSelfDestructSeconds(n int) int {
	if n < MinSelfDestructSeconds {
		n = MinSelfDestructSeconds
	}
	if n > MaxSelfDestructSeconds {
		n = MaxSelfDestructSeconds
	}
	c.mu.Lock()
	c.seconds = n
	c.mu.Unlock()
	c.changed()
	return n
}

// AddFiles stages files on the draft and starts uploading them.
func (c *Composer) AddFiles(sources ...attachment.Source) ([]attachment.Attachment, error) {
	added, err := c.tray.Add(sources...)
	if err != nil {
		return nil, err
	}
	c.changed()
	return added, nil
}

func (c *Composer) RemoveAttachment(id string) error {
	if err := c.tray.Remove(id); err != nil {
		return err
	}
	c.changed()
	return nil
}

func (c *Composer) MoveAttachment(id string, delta int) error {
	if err := c.tray.Move(id, delta); err != nil {
		return err
	}
	c.changed()
	return nil
}

func (c *Composer) SetCaption(id, caption string) error {
	if err := c.tray.SetCaption(id, caption); err != nil {
		return err
	}
	c.changed()
	return nil
}

func (c *Composer) State() State {
	c.mu.Lock()
	s := State{
		Text:                c.text,
		SelfDestruct:        c.selfDestruct,
		SelfDestructSeconds: c.seconds,
		Recording:           c.recording,
	}
	c.mu.Unlock()

	s.Attachments = c.tray.Attachments()
	complete := 0
	inFlight := false
	for _, a := range s.Attachments {
		switch {
		case a.Status == attachment.StatusComplete:
			complete++
		case !a.Status.Terminal():
			inFlight = true
		}
	}
	s.CanSend = !inFlight && (strings.TrimSpace(s.Text) != "" || complete > 0)
	return s
}

// Send turns the draft into messages: one per complete attachment in
// position order, the text riding on the first as its caption, or a single
// text message when nothing is attached. Only what was sent leaves the draft:
// text typed and files added while the send runs are kept. If a later message
// fails, the ones already sent leave the draft and the error is returned with
// them.
func (c *Composer) Send(ctx context.Context) ([]message.Message, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	raw := c.text
	text := strings.TrimSpace(raw)
	enabled, seconds := c.selfDestruct, c.seconds
	c.mu.Unlock()
	var sd *message.SelfDestruct
	if enabled {
		sd = &message.SelfDestruct{TotalSeconds: seconds}
	}

	staged := c.tray.Attachments()
	complete := c.tray.Complete()
	if text == "" && len(complete) == 0 {
		return nil, appErrors.ErrEmptyMessage
	}
	if c.tray.InFlight() {
		return nil, appErrors.ErrAttachmentsInFlight
	}

	drafts := c.drafts(text, complete, sd)
	sent := make([]message.Message, 0, len(drafts))
	for i, d := range drafts {
		m, err := c.sender.Send(ctx, d)
		if err != nil {
			c.logger.Warn("send failed", "peer_id", c.peerID, "sent", i, "of", len(drafts), "err", err)
			c.dropSent(complete[:min(i, len(complete))], raw, i > 0)
			return sent, err
		}
		sent = append(sent, m)
	}

	// Errored files from the sent draft go with it.
	for _, a := range staged {
		if a.Status == attachment.StatusError {
			_ = c.tray.Remove(a.ID)
		}
	}
	for _, a := range complete {
		_ = c.tray.Remove(a.ID)
	}
	c.mu.Lock()
	if c.text == raw {
		c.text = ""
	}
	if c.selfDestruct == enabled && c.seconds == seconds {
		c.selfDestruct = false
		c.seconds = DefaultSelfDestructSeconds
	}
	c.mu.Unlock()
	c.changed()
	return sent, nil
}

func (c *Composer) drafts(text string, complete []attachment.Attachment, sd *message.SelfDestruct) []message.Draft {
	if len(complete) == 0 {
		return []message.Draft{{
			SenderID:     c.selfID,
			ReceiverID:   c.peerID,
			Kind:         message.KindText,
			Body:         text,
			SelfDestruct: sd,
		}}
	}
	out := make([]message.Draft, len(complete))
	for i, a := range complete {
		body := strings.TrimSpace(a.Caption)
		if i == 0 && text != "" {
			body = text
		}
		if body == "" {
			body = message.Placeholder(a.Kind)
		}
		out[i] = message.Draft{
			SenderID:     c.selfID,
			ReceiverID:   c.peerID,
			Kind:         a.Kind,
			Body:         body,
			MediaRef:     a.MediaURL,
			SelfDestruct: sd,
		}
	}
	return out
}

// dropSent removes the attachments already delivered by a partial send. The
// text went out with the first of them and is cleared unless it was edited
// since.
func (c *Composer) dropSent(delivered []attachment.Attachment, raw string, textSent bool) {
	for _, a := range delivered {
		_ = c.tray.Remove(a.ID)
	}
	if textSent {
		c.mu.Lock()
		if c.text == raw {
			c.text = ""
		}
		c.mu.Unlock()
	}
	if len(delivered) > 0 || textSent {
		c.changed()
	}
}

// StartRecording begins a voice message. Only one recording runs at a time.
func (c *Composer) StartRecording(ctx context.Context) error {
	if c.recorder == nil {
		return errors.New("composer: voice recording is not available")
	}
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return appErrors.ErrRecordingActive
	}
	if err := c.recorder.Start(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	c.recording = true
	c.mu.Unlock()
	c.changed()
	return nil
}

// StopRecording ends the voice message and stages it like a picked file.
func (c *Composer) StopRecording(ctx context.Context) (attachment.Attachment, error) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return attachment.Attachment{}, appErrors.ErrNotRecording
	}
	c.recording = false
	c.mu.Unlock()

	src, err := c.recorder.Stop(ctx)
	if err != nil {
		c.changed()
		return attachment.Attachment{}, err
	}
	added, err := c.AddFiles(src)
	if err != nil {
		c.changed()
		return attachment.Attachment{}, err
	}
	return added[0], nil
}

func (c *Composer) changed() {
	if c.onChange != nil {
		c.onChange(c.State())
	}
}
