package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"

	"ephemeral-chat/internal/media"
	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
)

const (
	defaultUploadTimeout  = 2 * time.Minute
	defaultPersistTimeout = 15 * time.Second
	defaultMaxParallel    = 4
	defaultThumbnailURL   = "/static/video-placeholder.png"

	uploadCeiling     = 70
	processingStart   = 75
	processingCeiling = 90
)

type ObjectStore interface {
	UploadObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	PublicURL(ref string) (string, error)
}

type RecordStore interface {
	InsertMedia(ctx context.Context, rec media.Record) (media.Record, error)
}

// Observer receives a snapshot after every status or progress change.
type Observer func(Attachment)

type Pipeline struct {
	store          ObjectStore
	records        RecordStore
	logger         *slog.Logger
	clock          clock.Clock
	uploadTimeout  time.Duration
	persistTimeout time.Duration
	thumbnailURL   string
	slots          *semaphore.Weighted
}

type Option func(*Pipeline)

func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

func WithUploadTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.uploadTimeout = d
		}
	}
}

func WithPersistTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.persistTimeout = d
		}
	}
}

// WithThumbnailURL sets the placeholder thumbnail assigned to videos.
func WithThumbnailURL(u string) Option {
	return func(p *Pipeline) {
		if strings.TrimSpace(u) != "" {
			p.thumbnailURL = u
		}
	}
}

// WithMaxParallel bounds the number of uploads running at once across every
// tray of this pipeline.
func WithMaxParallel(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

func NewPipeline(store ObjectStore, records RecordStore, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("attachment: object store must not be nil")
	}
	if records == nil {
		return nil, errors.New("attachment: record store must not be nil")
	}
	if logger == nil {
		return nil, errors.New("attachment: logger must not be nil")
	}
	p := &Pipeline{
		store:          store,
		records:        records,
		logger:         logger,
		clock:          clock.New(),
		uploadTimeout:  defaultUploadTimeout,
		persistTimeout: defaultPersistTimeout,
		thumbnailURL:   defaultThumbnailURL,
		slots:          semaphore.NewWeighted(defaultMaxParallel),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Upload drives one pending attachment to complete or error, reporting each
// step to report. contextID is the parent the media record is filed under.
func (p *Pipeline) Upload(ctx context.Context, att Attachment, ownerID, contextID string, report Observer, opts ...UploadOption) (Attachment, error) {
	var cfg uploadConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if att.source == nil {
		return att, appErrors.ErrEmptyAttachment
	}
	tr := &tracker{att: att, report: report}
	if !tr.advance(StatusUploading, 0) {
		return att, fmt.Errorf("attachment: %s is %s, not pending", att.ID, att.Status)
	}

	key := ObjectKey(ownerID, att.Name, p.clock.Now())
	ref, err := p.transfer(ctx, tr, key)
	if err != nil {
		tr.fail(describe(err, "upload", p.uploadTimeout))
		return tr.snapshot(), appErrors.ErrUploadFailed(err)
	}

	tr.advance(StatusProcessing, processingStart)
	mediaURL, err := p.store.PublicURL(ref)
	if err != nil {
		tr.fail(err.Error())
		return tr.snapshot(), appErrors.ErrUploadFailed(err)
	}
	thumbnail := ""
	if att.Kind == message.KindVideo {
		thumbnail = p.thumbnailURL
	}
	tr.update(func(a *Attachment) {
		a.MediaURL = mediaURL
		a.ThumbnailURL = thumbnail
		a.Progress = processingCeiling
	})

	caption, position := att.Caption, att.Position
	if cfg.placement != nil {
		caption, position = cfg.placement()
	}
	pctx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	defer cancel()
	rec, err := p.records.InsertMedia(pctx, media.Record{
		ParentID:     contextID,
		OwnerID:      ownerID,
		URL:          mediaURL,
		Kind:         att.Kind,
		Size:         att.Size,
		Caption:      caption,
		Position:     position,
		ThumbnailURL: thumbnail,
	})
	if err != nil {
		// The object stays in storage without a record.
		p.logger.Error("media record insert failed, stored object orphaned",
			"attachment_id", att.ID, "object_key", ref, "err", err)
		tr.fail(describe(err, "saving attachment", p.persistTimeout))
		return tr.snapshot(), appErrors.ErrPersistFailed("media record", err)
	}

	tr.update(func(a *Attachment) { a.RecordID = rec.ID })
	tr.advance(StatusComplete, 100)
	return tr.snapshot(), nil
}

// Placement reports an attachment's caption and position as they are now.
type Placement func() (caption string, position int)

type uploadConfig struct {
	placement Placement
}

type UploadOption func(*uploadConfig)

// WithPlacement makes the media record take the caption and position current
// when it is written rather than those the upload started with.
func WithPlacement(fn Placement) UploadOption {
	return func(c *uploadConfig) { c.placement = fn }
}

func (p *Pipeline) transfer(ctx context.Context, tr *tracker, key string) (string, error) {
	src := tr.snapshot().source
	body, err := src.Open()
	if err != nil {
		return "", err
	}
	defer body.Close()

	uctx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
	defer cancel()

	pr := &progressReader{r: body, total: src.Size(), onProgress: func(pct int) {
		tr.update(func(a *Attachment) {
			if pct > a.Progress {
				a.Progress = pct
			}
		})
	}}
	return p.store.UploadObject(uctx, key, pr, src.Size(), src.ContentType())
}

func describe(err error, what string, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s timed out after %s", what, timeout)
	}
	if errors.Is(err, context.Canceled) {
		return what + " cancelled"
	}
	return err.Error()
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const maxNameLen = 100

// ObjectKey namespaces an upload by owner and makes it unique with the
// upload time.
func ObjectKey(ownerID, name string, at time.Time) string {
	return fmt.Sprintf("%s/%d_%s", ownerID, at.UnixNano(), sanitizeName(name))
}

func sanitizeName(name string) string {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	s := strings.Trim(unsafeName.ReplaceAllString(base, "_"), "._")
	if s == "" {
		return "file"
	}
	if len(s) > maxNameLen {
		ext := path.Ext(s)
		if len(ext) > 10 {
			ext = ""
		}
		s = s[:maxNameLen-len(ext)] + ext
	}
	return s
}

// tracker owns one attachment's state during an upload and refuses any
// transition that is not strictly forward.
type tracker struct {
	mu     sync.Mutex
	att    Attachment
	report Observer
}

func (t *tracker) advance(to Status, progress int) bool {
	t.mu.Lock()
	if !t.att.Status.CanTransition(to) {
		t.mu.Unlock()
		return false
	}
	t.att.Status = to
	if progress > t.att.Progress {
		t.att.Progress = progress
	}
	snap := t.att
	t.mu.Unlock()
	t.emit(snap)
	return true
}

func (t *tracker) fail(msg string) {
	t.mu.Lock()
	if t.att.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.att.Status = StatusError
	t.att.Error = msg
	snap := t.att
	t.mu.Unlock()
	t.emit(snap)
}

// update applies a change that does not move the status.
func (t *tracker) update(fn func(*Attachment)) {
	t.mu.Lock()
	if t.att.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	before := t.att
	fn(&t.att)
	changed := before.Progress != t.att.Progress ||
		before.MediaURL != t.att.MediaURL ||
		before.ThumbnailURL != t.att.ThumbnailURL ||
		before.RecordID != t.att.RecordID
	snap := t.att
	t.mu.Unlock()
	if changed {
		t.emit(snap)
	}
}

func (t *tracker) snapshot() Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.att
}

func (t *tracker) emit(a Attachment) {
	if t.report != nil {
		t.report(a)
	}
}

type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       int
	onProgress func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		pct := int(p.read * uploadCeiling / p.total)
		if pct > uploadCeiling {
			pct = uploadCeiling
		}
		if pct > p.last {
			p.last = pct
			p.onProgress(pct)
		}
	}
	return n, err
}
