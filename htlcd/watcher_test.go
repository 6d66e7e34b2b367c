package htlcd

import (
	"context"
	"testing"
	"time"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/test"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

const startTime = 1_729_861_884

// TestExpiryWatcher tests that records are reported once when their timelock
// passes.
func TestExpiryWatcher(t *testing.T) {
	defer test.Guard(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testClock := clock.NewTestClock(time.Unix(startTime, 0))
	store := htlcdb.NewMemStore()
	l, err := ledger.New(&ledger.Config{
		Store: store,
		Clock: testClock,
	})
	require.NoError(t, err)

	htlcID, err := l.Create(ctx, "0xalice", &ledger.CreateRequest{
		SrcReceiver: "0xbob",
		Hashlock:    [32]byte{1},
		Timelock:    startTime + 100,
		Amount:      10,
		Asset:       htlcdb.NativeAsset,
	})
	require.NoError(t, err)

	commitID, err := l.Commit(ctx, "0xcarol", &ledger.CommitRequest{
		SrcReceiver: "0xbob",
		Timelock:    startTime + 200,
		Amount:      20,
		Asset:       htlcdb.NativeAsset,
	})
	require.NoError(t, err)

	expiries := make(chan Expiry, 10)
	forceTicker := ticker.NewForce(time.Hour)
	watcher := &ExpiryWatcher{
		Store:  store,
		Now:    l.Now,
		Ticker: forceTicker,
		Notify: func(e Expiry) {
			expiries <- e
		},
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- watcher.Run(ctx)
	}()

	advance := func(seconds int64) {
		testClock.SetTime(
			testClock.Now().Add(time.Duration(seconds) * time.Second),
		)
		forceTicker.Force <- testClock.Now()
	}

	advance(100)
	expiry := <-expiries
	require.Equal(t, htlcID, expiry.ID)
	require.False(t, expiry.Commit)
	require.Equal(t, htlcdb.Address("0xalice"), expiry.Sender)

	advance(100)
	expiry = <-expiries
	require.Equal(t, commitID, expiry.ID)
	require.True(t, expiry.Commit)
	require.EqualValues(t, 20, expiry.Amount)

	// Nothing new becomes refundable.
	advance(100)

	cancel()
	require.NoError(t, <-errChan)
	require.Empty(t, expiries)

	// Refunded records are no longer listed.
	require.NoError(t, l.Refund(context.Background(), "0xalice", htlcID))
	refundable, err := Refundable(context.Background(), store, l.Now())
	require.NoError(t, err)
	require.Len(t, refundable, 1)
	require.Equal(t, commitID, refundable[0].ID)
}
