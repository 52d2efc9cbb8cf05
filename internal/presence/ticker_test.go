package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"ephemeral-chat/pkg/logger"
)

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

type fakeUpdater struct {
	mu     sync.Mutex
	stamps []time.Time
	users  []string
	err    error
}

func (f *fakeUpdater) UpdateUserActivity(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stamps = append(f.stamps, at)
	f.users = append(f.users, userID)
	return f.err
}

func (f *fakeUpdater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stamps)
}

func newTicker(t *testing.T, u ActivityUpdater) (*Ticker, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(t0)
	tk, err := NewTicker(u, logger.Discard(), WithClock(mock))
	require.NoError(t, err)
	t.Cleanup(tk.Stop)
	return tk, mock
}

func TestNewTicker_Validates(t *testing.T) {
	_, err := NewTicker(nil, logger.Discard())
	require.Error(t, err)
	_, err = NewTicker(&fakeUpdater{}, nil)
	require.Error(t, err)
}

func TestTicker_StampsImmediatelyThenEveryInterval(t *testing.T) {
	u := &fakeUpdater{}
	tk, mock := newTicker(t, u)

	tk.Start("user-a")
	require.Eventually(t, func() bool { return u.count() == 1 }, time.Second, time.Millisecond)

	mock.Add(59 * time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, u.count())

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return u.count() == 2 }, time.Second, time.Millisecond)

	mock.Add(60 * time.Second)
	require.Eventually(t, func() bool { return u.count() == 3 }, time.Second, time.Millisecond)

	u.mu.Lock()
	require.Equal(t, []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)}, u.stamps)
	require.Equal(t, []string{"user-a", "user-a", "user-a"}, u.users)
	u.mu.Unlock()
}

func TestTicker_StopHaltsStamps(t *testing.T) {
	u := &fakeUpdater{}
	tk, mock := newTicker(t, u)

	tk.Start("user-a")
	require.Eventually(t, func() bool { return u.count() == 1 }, time.Second, time.Millisecond)
	tk.Stop()
	tk.Stop()

	mock.Add(5 * time.Minute)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 1, u.count())
}

func TestTicker_FailuresAreSwallowed(t *testing.T) {
	u := &fakeUpdater{err: errors.New("db down")}
	tk, mock := newTicker(t, u)

	tk.Start("user-a")
	require.Eventually(t, func() bool { return u.count() == 1 }, time.Second, time.Millisecond)
	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return u.count() == 2 }, time.Second, time.Millisecond)
}

func TestTicker_RestartSwitchesUser(t *testing.T) {
	u := &fakeUpdater{}
	tk, _ := newTicker(t, u)

	tk.Start("user-a")
	require.Eventually(t, func() bool { return u.count() == 1 }, time.Second, time.Millisecond)
	tk.Start("user-b")
	require.Eventually(t, func() bool { return u.count() == 2 }, time.Second, time.Millisecond)

	u.mu.Lock()
	require.Equal(t, []string{"user-a", "user-b"}, u.users)
	u.mu.Unlock()
}
