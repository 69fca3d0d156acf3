package notify

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	notifications []Notification
}

func (r *recordingSink) Notify(n Notification) {
	r.notifications = append(r.notifications, n)
}

func TestPublishReplacesSameKind(t *testing.T) {
	d := NewDispatcher(clockwork.NewFakeClock())

	first := uuid.New()
	second := uuid.New()

	d.Publish(KindWin, first, WinPayload{FinalAmount: 1_000_000})
	d.Publish(KindWin, second, WinPayload{FinalAmount: 2_000_000})

	// One modal at a time: the newer win replaces, never queues.
	n, ok := d.Active(KindWin)
	require.True(t, ok)
	assert.Equal(t, second, n.AuctionID)
}

func TestKindsAreIndependent(t *testing.T) {
	d := NewDispatcher(clockwork.NewFakeClock())

	winAuction := uuid.New()
	coveredAuction := uuid.New()

	d.Publish(KindWin, winAuction, nil)
	d.Publish(KindCovered, coveredAuction, nil)

	win, ok := d.Active(KindWin)
	require.True(t, ok)
	assert.Equal(t, winAuction, win.AuctionID)

	covered, ok := d.Active(KindCovered)
	require.True(t, ok)
	assert.Equal(t, coveredAuction, covered.AuctionID)
}

func TestDismiss(t *testing.T) {
	d := NewDispatcher(clockwork.NewFakeClock())

	d.Publish(KindCovered, uuid.New(), nil)
	d.Dismiss(KindCovered)

	_, ok := d.Active(KindCovered)
	assert.False(t, ok)
}

func TestSinksReceiveEveryPublish(t *testing.T) {
	d := NewDispatcher(clockwork.NewFakeClock())
	sink := &recordingSink{}
	d.Register(sink)

	d.Publish(KindWin, uuid.New(), nil)
	d.Publish(KindWin, uuid.New(), nil)
	d.Publish(KindInfo, uuid.New(), nil)

	// No deduplication here, by design: idempotency lives upstream.
	assert.Len(t, sink.notifications, 3)
}
