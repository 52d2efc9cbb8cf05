package attachment

import (
	"context"
	"errors"
	"sync"

	appErrors "ephemeral-chat/pkg/errors"
)

var ErrTrayClosed = errors.New("attachment: tray is closed")

// Tray is the ordered set of attachments staged on one draft. Every file
// uploads on its own goroutine; the tray only records what they report.
type Tray struct {
	pipeline  *Pipeline
	ownerID   string
	contextID string
	observer  Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries []*entry
}

type entry struct {
	att    Attachment
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTray starts an empty tray. Media records created by its uploads are
// filed under contextID.
func (p *Pipeline) NewTray(ownerID, contextID string, observer Observer) *Tray {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tray{
		pipeline:  p,
		ownerID:   ownerID,
		contextID: contextID,
		observer:  observer,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Add validates and stages sources, then starts uploading them. Nothing is
// staged when any source is rejected or the batch breaks a limit.
func (t *Tray) Add(sources ...Source) ([]Attachment, error) {
	if t.ctx.Err() != nil {
		return nil, ErrTrayClosed
	}

	t.mu.Lock()
	staged := t.snapshotLocked()
	if err := ValidateBatch(staged, sources); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	atts := make([]Attachment, 0, len(sources))
	for i, src := range sources {
		att, err := Stage(src, len(staged)+i)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		atts = append(atts, att)
	}
	added := make([]*entry, 0, len(atts))
	for _, att := range atts {
		ctx, cancel := context.WithCancel(t.ctx)
		added = append(added, &entry{att: att, ctx: ctx, cancel: cancel, done: make(chan struct{})})
	}
	t.entries = append(t.entries, added...)
	out := make([]Attachment, len(added))
	for i, e := range added {
		out[i] = e.att
	}
	t.mu.Unlock()

	for _, e := range added {
		t.notify(e.att)
	}
	for _, e := range added {
		go t.run(e)
	}
	return out, nil
}

func (t *Tray) run(e *entry) {
	defer close(e.done)
	defer e.cancel()

	// Stays pending until an upload slot frees up.
	if err := t.pipeline.slots.Acquire(e.ctx, 1); err != nil {
		return
	}
	defer t.pipeline.slots.Release(1)

	t.mu.Lock()
	removed := !t.containsLocked(e)
	att := e.att
	t.mu.Unlock()
	if removed {
		return
	}

	_, _ = t.pipeline.Upload(e.ctx, att, t.ownerID, t.contextID, func(a Attachment) {
		t.apply(e, a)
	}, WithPlacement(func() (string, int) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return e.att.Caption, e.att.Position
	}))
}

func (t *Tray) apply(e *entry, a Attachment) {
	t.mu.Lock()
	if !t.containsLocked(e) {
		t.mu.Unlock()
		return
	}
	e.att.Status = a.Status
	e.att.Progress = a.Progress
	e.att.Error = a.Error
	e.att.MediaURL = a.MediaURL
	e.att.ThumbnailURL = a.ThumbnailURL
	e.att.RecordID = a.RecordID
	snap := e.att
	t.mu.Unlock()
	t.notify(snap)
}

// Remove drops an attachment in any status. An upload in flight is
// cancelled on a best-effort basis.
func (t *Tray) Remove(id string) error {
	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return appErrors.ErrAttachmentNotFound
	}
	e := t.entries[idx]
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	t.renumberLocked()
	t.mu.Unlock()

	e.cancel()
	return nil
}

// Move swaps an attachment with its neighbour; delta is -1 or +1. Errored
// attachments cannot be reordered.
func (t *Tray) Move(id string, delta int) error {
	if delta != -1 && delta != 1 {
		return appErrors.ErrInvalidMove
	}
	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return appErrors.ErrAttachmentNotFound
	}
	j := idx + delta
	if j < 0 || j >= len(t.entries) ||
		t.entries[idx].att.Status == StatusError || t.entries[j].att.Status == StatusError {
		t.mu.Unlock()
		return appErrors.ErrInvalidMove
	}
	t.entries[idx], t.entries[j] = t.entries[j], t.entries[idx]
	t.renumberLocked()
	a, b := t.entries[idx].att, t.entries[j].att
	t.mu.Unlock()

	t.notify(a)
	t.notify(b)
	return nil
}

func (t *Tray) SetCaption(id, caption string) error {
	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return appErrors.ErrAttachmentNotFound
	}
	t.entries[idx].att.Caption = caption
	snap := t.entries[idx].att
	t.mu.Unlock()
	t.notify(snap)
	return nil
}

// Attachments returns the staged attachments in position order.
func (t *Tray) Attachments() []Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Complete returns the attachments ready to be sent, in position order.
func (t *Tray) Complete() []Attachment {
	var out []Attachment
	for _, a := range t.Attachments() {
		if a.Status == StatusComplete {
			out = append(out, a)
		}
	}
	return out
}

func (t *Tray) InFlight() bool {
	for _, a := range t.Attachments() {
		if !a.Status.Terminal() {
			return true
		}
	}
	return false
}

// Wait blocks until every attachment staged so far has finished or ctx is
// done.
func (t *Tray) Wait(ctx context.Context) error {
	t.mu.Lock()
	dones := make([]chan struct{}, 0, len(t.entries))
	for _, e := range t.entries {
		dones = append(dones, e.done)
	}
	t.mu.Unlock()

	for _, d := range dones {
		select {
		case <-d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Clear removes every attachment and cancels their uploads.
func (t *Tray) Clear() {
	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

// Close clears the tray and refuses further adds.
func (t *Tray) Close() {
	t.Clear()
	t.cancel()
}

func (t *Tray) notify(a Attachment) {
	if t.observer != nil {
		t.observer(a)
	}
}

func (t *Tray) snapshotLocked() []Attachment {
	out := make([]Attachment, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.att
	}
	return out
}

func (t *Tray) indexLocked(id string) int {
	for i, e := range t.entries {
		if e.att.ID == id {
			return i
		}
	}
	return -1
}

func (t *Tray) containsLocked(e *entry) bool {
	for _, x := range t.entries {
		if x == e {
			return true
		}
	}
	return false
}

func (t *Tray) renumberLocked() {
	for i, e := range t.entries {
		e.att.Position = i
	}
}
