package clocksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTimeSource struct {
	now   time.Time
	err   error
	calls int
}

func (f *fakeTimeSource) ServerTime(ctx context.Context) (time.Time, error) {
	f.calls++
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.now, nil
}

func TestUnsyncedFallsBackToLocalTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := New(&fakeTimeSource{}, time.Minute, clock)

	assert.False(t, s.Synced())
	assert.Equal(t, time.Duration(0), s.Offset())
	assert.Equal(t, clock.Now(), s.Now())
}

func TestSyncNowComputesOffset(t *testing.T) {
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(local)
	src := &fakeTimeSource{now: local.Add(42 * time.Second)}
	s := New(src, time.Minute, clock)

	require.NoError(t, s.SyncNow(context.Background()))

	assert.True(t, s.Synced())
	assert.Equal(t, 42*time.Second, s.Offset())
	assert.Equal(t, local.Add(42*time.Second), s.Now())
}

func TestFailedSyncKeepsPreviousOffset(t *testing.T) {
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(local)
	src := &fakeTimeSource{now: local.Add(10 * time.Second)}
	s := New(src, time.Minute, clock)

	require.NoError(t, s.SyncNow(context.Background()))

	src.err = errors.New("network down")
	require.Error(t, s.SyncNow(context.Background()))

	assert.True(t, s.Synced())
	assert.Equal(t, 10*time.Second, s.Offset())
}

func TestLaterSyncReplacesOffsetEvenBackward(t *testing.T) {
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(local)
	src := &fakeTimeSource{now: local.Add(30 * time.Second)}
	s := New(src, time.Minute, clock)

	require.NoError(t, s.SyncNow(context.Background()))
	require.Equal(t, 30*time.Second, s.Offset())

	// A better estimate may move the offset backward; it still wins.
	src.now = local.Add(-5 * time.Second)
	require.NoError(t, s.SyncNow(context.Background()))
	assert.Equal(t, -5*time.Second, s.Offset())
}

func TestOffsetTakesEffectOnNextRead(t *testing.T) {
	local := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(local)
	src := &fakeTimeSource{err: errors.New("unreachable")}
	s := New(src, time.Minute, clock)

	before := s.Now()
	assert.Equal(t, local, before)

	src.err = nil
	src.now = local.Add(time.Hour)
	require.NoError(t, s.SyncNow(context.Background()))

	// No restart required: the very next read uses the new offset.
	assert.Equal(t, local.Add(time.Hour), s.Now())
}
