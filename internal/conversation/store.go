package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"ephemeral-chat/internal/message"
	appErrors "ephemeral-chat/pkg/errors"
)

const (
	tickInterval          = time.Second
	defaultPersistTimeout = 15 * time.Second
)

var ErrStoreClosed = errors.New("conversation: store is closed")

// Backend is the message persistence the store reads from and writes to.
type Backend interface {
	QueryMessages(ctx context.Context, a, b string) ([]message.Message, error)
	InsertMessage(ctx context.Context, d message.Draft) (message.Message, error)
	MarkRead(ctx context.Context, receiverID, senderID string) ([]message.Message, error)
}

// Listener receives the rendered list after every change. It runs on the
// store's goroutine and must not call back into the store.
type Listener func([]View)

// Store holds the ordered message list of the conversation the local user
// has open. One goroutine owns the list; every read and write is a command
// sent to it, so feed inserts, history loads and countdown expiry never
// race.
type Store struct {
	selfID         string
	backend        Backend
	logger         *slog.Logger
	clock          clock.Clock
	persistTimeout time.Duration

	commands  chan func(*state)
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type state struct {
	selfID    string
	peerID    string
	msgs      []message.Message
	ids       map[string]struct{}
	expired   map[string]struct{}
	timers    *scheduler
	listeners []Listener
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithPersistTimeout bounds each send.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// New starts the store for selfID's conversation with peerID. Messages
// delivered before the first history load are kept. Close stops it.
func New(selfID, peerID string, backend Backend, logger *slog.Logger, opts ...Option) (*Store, error) {
	if strings.TrimSpace(selfID) == "" || strings.TrimSpace(peerID) == "" {
		return nil, errors.New("conversation: self and peer ids must not be empty")
	}
	if selfID == peerID {
		return nil, errors.New("conversation: self and peer must differ")
	}
	if backend == nil {
		return nil, errors.New("conversation: backend must not be nil")
	}
	if logger == nil {
		return nil, errors.New("conversation: logger must not be nil")
	}
	s := &Store{
		selfID:         selfID,
		backend:        backend,
		logger:         logger,
		clock:          clock.New(),
		persistTimeout: defaultPersistTimeout,
		commands:       make(chan func(*state)),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	st := &state{
		selfID:  selfID,
		peerID:  peerID,
		ids:     make(map[string]struct{}),
		expired: make(map[string]struct{}),
		timers:  newScheduler(),
	}
	ticker := s.clock.Ticker(tickInterval)
	go s.run(st, ticker)
	return s, nil
}

func (s *Store) run(st *state, ticker *clock.Ticker) {
	defer close(s.stopped)
	defer ticker.Stop()
	for {
		select {
		case cmd := <-s.commands:
			cmd(st)
		case <-ticker.C:
			s.expire(st)
		case <-s.done:
			return
		}
	}
}

// do runs fn on the store goroutine and waits for it.
func (s *Store) do(fn func(*state)) error {
	finished := make(chan struct{})
	cmd := func(st *state) {
		defer close(finished)
		fn(st)
	}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrStoreClosed
	}
	<-finished
	return nil
}

// Close stops the store and every countdown. It is safe to call more than
// once.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.stopped
}

// LoadHistory fetches the conversation with peerID and replaces the list
// with it. Messages already delivered live that are newer than the fetched
// tail are kept. Loading another peer switches the store to that
// conversation.
func (s *Store) LoadHistory(ctx context.Context, peerID string) ([]message.Message, error) {
	if strings.TrimSpace(peerID) == "" {
		return nil, appErrors.InvalidMessage("peer is required")
	}
	msgs, err := s.backend.QueryMessages(ctx, s.selfID, peerID)
	if err != nil {
		return nil, err
	}
	sortByCreated(msgs)

	var out []message.Message
	err = s.do(func(st *state) {
		st.replace(peerID, msgs, s.clock.Now())
		out = append([]message.Message(nil), st.msgs...)
		s.notify(st)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Catchup fetches the conversation again and merges what the realtime feed
// missed while it was down: new messages and read receipts. Unlike
// LoadHistory it never brings back a message that already self-destructed
// here. It returns the number of messages added.
func (s *Store) Catchup(ctx context.Context) (int, error) {
	var peerID string
	if err := s.do(func(st *state) { peerID = st.peerID }); err != nil {
		return 0, err
	}
	qctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	msgs, err := s.backend.QueryMessages(qctx, s.selfID, peerID)
	if err != nil {
		return 0, err
	}
	sortByCreated(msgs)

	added := 0
	err = s.do(func(st *state) {
		changed := false
		now := s.clock.Now()
		for _, m := range msgs {
			if st.insert(m, now) {
				added++
				changed = true
			} else if st.applyReceipt(m) {
				changed = true
			}
		}
		if changed {
			s.notify(st)
		}
	})
	return added, err
}

// Insert merges one message into the list. It reports false when the
// message was already present, has already expired here, or belongs to
// another conversation.
func (s *Store) Insert(m message.Message) bool {
	var added bool
	_ = s.do(func(st *state) {
		added = st.insert(m, s.clock.Now())
		if added {
			s.notify(st)
		}
	})
	return added
}

// ApplyReadReceipt records the readAt carried by m on the matching message.
func (s *Store) ApplyReadReceipt(m message.Message) bool {
	var changed bool
	_ = s.do(func(st *state) {
		changed = st.applyReceipt(m)
		if changed {
			s.notify(st)
		}
	})
	return changed
}

// MarkRead marks every unread message peerID sent to the local user as read
// and returns how many changed. Calling it again is a no-op.
func (s *Store) MarkRead(ctx context.Context, peerID string) (int, error) {
	updated, err := s.backend.MarkRead(ctx, s.selfID, peerID)
	if err != nil {
		return 0, err
	}
	if len(updated) == 0 {
		return 0, nil
	}
	err = s.do(func(st *state) {
		changed := false
		for _, m := range updated {
			if st.applyReceipt(m) {
				changed = true
			}
		}
		if changed {
			s.notify(st)
		}
	})
	return len(updated), err
}

// Send persists d and shows the saved message right away. The realtime echo
// of the same insert is dropped as a duplicate.
func (s *Store) Send(ctx context.Context, d message.Draft) (message.Message, error) {
	if d.SenderID == "" {
		d.SenderID = s.selfID
	}
	if d.SenderID != s.selfID {
		return message.Message{}, appErrors.InvalidMessage("sender must be the local user")
	}
	if d.ReceiverID == "" {
		if err := s.do(func(st *state) { d.ReceiverID = st.peerID }); err != nil {
			return message.Message{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	saved, err := s.backend.InsertMessage(ctx, d)
	if err != nil {
		if appErrors.CodeOf(err) == appErrors.CodeUnknown {
			err = appErrors.ErrPersistFailed("message insert", err)
		}
		return message.Message{}, err
	}
	s.Insert(saved)
	return saved, nil
}

// Messages returns the rendered list in ascending creation order.
func (s *Store) Messages() []View {
	var out []View
	_ = s.do(func(st *state) {
		out = st.views(s.clock.Now())
	})
	return out
}

func (s *Store) UnreadCount() int {
	var n int
	_ = s.do(func(st *state) {
		for _, m := range st.msgs {
			if m.IsUnreadFor(st.selfID) {
				n++
			}
		}
	})
	return n
}

// OnChange registers fn to receive the list after every change and every
// countdown tick.
func (s *Store) OnChange(fn Listener) {
	if fn == nil {
		return
	}
	_ = s.do(func(st *state) {
		st.listeners = append(st.listeners, fn)
	})
}

func (s *Store) expire(st *state) {
	now := s.clock.Now()
	ids := st.timers.due(now)
	for _, id := range ids {
		if st.remove(id) {
			st.expired[id] = struct{}{}
			s.logger.Debug("message self-destructed", "message_id", id)
		}
	}
	if len(ids) > 0 || st.timers.pending() > 0 {
		s.notify(st)
	}
}

func (s *Store) notify(st *state) {
	if len(st.listeners) == 0 {
		return
	}
	views := st.views(s.clock.Now())
	for _, fn := range st.listeners {
		fn(views)
	}
}

func (st *state) replace(peerID string, fetched []message.Message, now time.Time) {
	var live []message.Message
	if peerID == st.peerID {
		fetchedIDs := make(map[string]struct{}, len(fetched))
		for _, m := range fetched {
			fetchedIDs[m.ID] = struct{}{}
		}
		var tail time.Time
		if len(fetched) > 0 {
			tail = fetched[len(fetched)-1].CreatedAt
		}
		for _, m := range st.msgs {
			if _, dup := fetchedIDs[m.ID]; !dup && m.CreatedAt.After(tail) {
				live = append(live, m)
			}
		}
	}

	previous := st.timers
	st.peerID = peerID
	st.msgs = nil
	st.ids = make(map[string]struct{})
	st.expired = make(map[string]struct{})
	st.timers = newScheduler()

	for _, m := range append(fetched, live...) {
		if _, dup := st.ids[m.ID]; dup {
			continue
		}
		st.msgs = append(st.msgs, m)
		st.ids[m.ID] = struct{}{}
		if m.SelfDestruct == nil {
			continue
		}
		// A message still counting down keeps its deadline.
		if at, ok := previous.deadline(m.ID); ok {
			st.timers.schedule(m.ID, at)
		} else {
			st.timers.schedule(m.ID, now.Add(m.Duration()))
		}
	}
	previous.reset()
}

func (st *state) insert(m message.Message, now time.Time) bool {
	if m.ID == "" {
		return false
	}
	if !message.NewPair(st.selfID, st.peerID).Matches(m.SenderID, m.ReceiverID) {
		return false
	}
	if _, dup := st.ids[m.ID]; dup {
		return false
	}
	if _, gone := st.expired[m.ID]; gone {
		return false
	}

	n := len(st.msgs)
	if n == 0 || !m.CreatedAt.Before(st.msgs[n-1].CreatedAt) {
		st.msgs = append(st.msgs, m)
	} else {
		i := sort.Search(n, func(i int) bool { return st.msgs[i].CreatedAt.After(m.CreatedAt) })
		st.msgs = append(st.msgs, message.Message{})
		copy(st.msgs[i+1:], st.msgs[i:])
		st.msgs[i] = m
	}
	st.ids[m.ID] = struct{}{}
	if m.SelfDestruct != nil {
		st.timers.schedule(m.ID, now.Add(m.Duration()))
	}
	return true
}

func (st *state) applyReceipt(m message.Message) bool {
	for i := range st.msgs {
		if st.msgs[i].ID != m.ID {
			continue
		}
		updated, ok := st.msgs[i].WithReadAt(m)
		if ok {
			st.msgs[i] = updated
		}
		return ok
	}
	return false
}

func (st *state) remove(id string) bool {
	for i := range st.msgs {
		if st.msgs[i].ID == id {
			st.msgs = append(st.msgs[:i], st.msgs[i+1:]...)
			delete(st.ids, id)
			st.timers.cancel(id)
			return true
		}
	}
	return false
}

func (st *state) views(now time.Time) []View {
	out := make([]View, len(st.msgs))
	for i, m := range st.msgs {
		at, counting := st.timers.deadline(m.ID)
		out[i] = newView(m, st.selfID, at, counting, now)
	}
	return out
}

func sortByCreated(msgs []message.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
