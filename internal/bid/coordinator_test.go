package bid

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lks90/transfermarket/internal/models"
	"github.com/lks90/transfermarket/internal/notify"
	"github.com/lks90/transfermarket/internal/store"
	"github.com/lks90/transfermarket/internal/view"
)

type fakeSubmitter struct {
	res     store.BidResult
	err     error
	calls   int32
	started chan struct{} // closed when the first call begins, if set
	release chan struct{} // blocks the call until closed, if set
}

func (f *fakeSubmitter) PlaceBid(ctx context.Context, auctionID, teamID uuid.UUID, amount int64) (store.BidResult, error) {
	if atomic.AddInt32(&f.calls, 1) == 1 && f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		<-f.release
	}
	return f.res, f.err
}

type fakeFunds struct {
	available int64
	err       error
}

func (f *fakeFunds) Available(ctx context.Context) (int64, error) {
	return f.available, f.err
}

type fakeReservations struct {
	refreshes int32
	forced    int32
}

func (f *fakeReservations) Refresh(ctx context.Context, force bool) error {
	atomic.AddInt32(&f.refreshes, 1)
	if force {
		atomic.AddInt32(&f.forced, 1)
	}
	return nil
}

type recordingSink struct {
	notifications []notify.Notification
}

func (r *recordingSink) Notify(n notify.Notification) {
	r.notifications = append(r.notifications, n)
}

type fixture struct {
	coord      *Coordinator
	submitter  *fakeSubmitter
	funds      *fakeFunds
	tracker    *fakeReservations
	cache      *view.Cache
	dispatcher *notify.Dispatcher
	sink       *recordingSink
	teamID     uuid.UUID
	auctionID  uuid.UUID
}

func newFixture(t *testing.T, currentBid int64) *fixture {
	t.Helper()

	f := &fixture{
		submitter: &fakeSubmitter{res: store.BidResult{Success: true}},
		funds:     &fakeFunds{available: 50_000_000},
		tracker:   &fakeReservations{},
		cache:     view.NewCache(),
		sink:      &recordingSink{},
		teamID:    uuid.New(),
		auctionID: uuid.New(),
	}
	f.dispatcher = notify.NewDispatcher(clockwork.NewFakeClock())
	f.dispatcher.Register(f.sink)

	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.True(t, f.cache.Apply(models.Auction{
		ID:         f.auctionID,
		PlayerID:   uuid.New(),
		StartPrice: 1_000_000,
		CurrentBid: currentBid,
		Status:     models.AuctionStatusActive,
		EndTime:    &end,
		UpdatedAt:  end.Add(-time.Hour),
	}))

	f.coord = NewCoordinator(f.submitter, f.funds, f.cache, f.tracker, f.dispatcher, f.teamID)
	return f
}

func TestLocalRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		amount  int64
		wantErr error
	}{
		{"zero amount", nil, 0, ErrInvalidAmount},
		{"negative amount", nil, -5, ErrInvalidAmount},
		{"not above current bid", nil, 20_000_000, ErrBidTooLow},
		{"below current bid", nil, 19_000_000, ErrBidTooLow},
		{
			"insufficient funds",
			func(f *fixture) { f.funds.available = 20_500_000 },
			21_000_000,
			ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 20_000_000)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.coord.PlaceBid(context.Background(), f.auctionID, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
			// Rejected locally: no remote call was made.
			assert.Equal(t, int32(0), atomic.LoadInt32(&f.submitter.calls))
		})
	}
}

func TestUnknownAuctionRejectedLocally(t *testing.T) {
	f := newFixture(t, 20_000_000)
	_, err := f.coord.PlaceBid(context.Background(), uuid.New(), 21_000_000)
	assert.ErrorIs(t, err, ErrUnknownAuction)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.submitter.calls))
}

func TestSingleFlightPerClient(t *testing.T) {
	f := newFixture(t, 20_000_000)
	f.submitter.started = make(chan struct{})
	f.submitter.release = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.coord.PlaceBid(context.Background(), f.auctionID, 21_000_000)
		assert.NoError(t, err)
	}()

	<-f.submitter.started

	// Second attempt, even on a different auction, is rejected locally
	// while the first is outstanding.
	otherAuction := uuid.New()
	end := time.Now().Add(time.Hour)
	require.True(t, f.cache.Apply(models.Auction{
		ID: otherAuction, CurrentBid: 1_000_000, Status: models.AuctionStatusActive,
		EndTime: &end, UpdatedAt: time.Now(),
	}))
	_, err := f.coord.PlaceBid(context.Background(), otherAuction, 2_000_000)
	assert.ErrorIs(t, err, ErrBidInFlight)

	close(f.submitter.release)
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.submitter.calls))

	// After resolution the next bid goes through.
	_, err = f.coord.PlaceBid(context.Background(), otherAuction, 2_000_000)
	assert.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.submitter.calls))
}

func TestAcceptedBidForcesReservationRefresh(t *testing.T) {
	f := newFixture(t, 20_000_000)
	f.coord.SetDraft(f.auctionID, 21_000_000)

	res, err := f.coord.PlaceBid(context.Background(), f.auctionID, 21_000_000)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.tracker.forced))

	// Draft cleared so stale UI state cannot be resubmitted.
	_, ok := f.coord.Draft(f.auctionID)
	assert.False(t, ok)
}

func TestTimeExtendedPatchesCachedEndTime(t *testing.T) {
	f := newFixture(t, 20_000_000)
	newEnd := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	f.submitter.res = store.BidResult{
		Success:      true,
		FinalPrice:   21_000_000,
		TimeExtended: true,
		NewEndTime:   &newEnd,
	}

	_, err := f.coord.PlaceBid(context.Background(), f.auctionID, 21_000_000)
	require.NoError(t, err)

	// The returned end time is authoritative and adopted immediately,
	// not on the next poll.
	got, _ := f.cache.Get(f.auctionID)
	assert.Equal(t, newEnd, *got.EndTime)

	n, ok := f.dispatcher.Active(notify.KindInfo)
	require.True(t, ok)
	assert.Equal(t, f.auctionID, n.AuctionID)
}

func TestRemoteRejectionSurfacedVerbatim(t *testing.T) {
	f := newFixture(t, 20_000_000)
	f.coord.SetDraft(f.auctionID, 21_000_000)
	// Cached bid is stale: the store already saw a higher one.
	f.submitter.res = store.BidResult{Success: false, Message: "bid must exceed current bid of 21000000"}
	f.submitter.err = &store.BidRejectedError{Message: "bid must exceed current bid of 21000000"}

	before, _ := f.cache.Get(f.auctionID)
	_, err := f.coord.PlaceBid(context.Background(), f.auctionID, 21_000_000)

	require.Error(t, err)
	assert.True(t, store.IsBidRejected(err))
	assert.Contains(t, err.Error(), "bid must exceed current bid of 21000000")

	// No optimistic local state was applied and no retry happened.
	after, _ := f.cache.Get(f.auctionID)
	assert.Equal(t, before, after)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.submitter.calls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.tracker.refreshes))

	// Draft cleared on failure too.
	_, ok := f.coord.Draft(f.auctionID)
	assert.False(t, ok)
}

func TestTransientFailureNotRetried(t *testing.T) {
	f := newFixture(t, 20_000_000)
	f.submitter.err = errors.New("connection reset")

	_, err := f.coord.PlaceBid(context.Background(), f.auctionID, 21_000_000)
	require.Error(t, err)
	assert.False(t, store.IsBidRejected(err))
	// Bidding is not idempotent: one call, no retry.
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.submitter.calls))
}

func TestFundsErrorPropagates(t *testing.T) {
	f := newFixture(t, 20_000_000)
	f.funds.err = errors.New("balance unavailable")

	_, err := f.coord.PlaceBid(context.Background(), f.auctionID, 21_000_000)
	require.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.submitter.calls))
}
