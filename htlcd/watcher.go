package htlcd

import (
	"context"
	"sort"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/lightningnetwork/lnd/ticker"
)

// Expiry is a record whose timelock passed without it being settled.
type Expiry struct {
	// ID is the record id.
	ID htlcdb.ID

	// Commit is set for pre-commitments.
	Commit bool

	// Sender receives the refund.
	Sender htlcdb.Address

	// Amount is the refundable amount.
	Amount uint64

	// Asset is the settlement asset.
	Asset htlcdb.Asset

	// Timelock is the passed timelock.
	Timelock uint64
}

// Refundable returns all records that can be refunded at chain time now,
// ordered by timelock.
func Refundable(ctx context.Context, store htlcdb.Store,
	now uint64) ([]Expiry, error) {

	htlcs, err := store.ListHTLCs(ctx)
	if err != nil {
		return nil, err
	}

	phtlcs, err := store.ListPHTLCs(ctx)
	if err != nil {
		return nil, err
	}

	var expiries []Expiry
	for _, h := range htlcs {
		if h.Settled() || !swap.Expired(h.Timelock, now) {
			continue
		}

		expiries = append(expiries, Expiry{
			ID:       h.ID,
			Sender:   h.Sender,
			Amount:   h.Amount,
			Asset:    h.Asset,
			Timelock: h.Timelock,
		})
	}

	for _, p := range phtlcs {
		if p.Converted || p.Refunded || !swap.Expired(p.Timelock, now) {
			continue
		}

		expiries = append(expiries, Expiry{
			ID:       p.ID,
			Commit:   true,
			Sender:   p.Sender,
			Amount:   p.Amount,
			Asset:    p.Asset,
			Timelock: p.Timelock,
		})
	}

	sort.SliceStable(expiries, func(i, j int) bool {
		return expiries[i].Timelock < expiries[j].Timelock
	})

	return expiries, nil
}

// ExpiryWatcher reports records once as they become refundable.
type ExpiryWatcher struct {
	// Store is the ledger database.
	Store htlcdb.Store

	// Now returns the current chain time.
	Now func() uint64

	// Ticker paces the checks.
	Ticker ticker.Ticker

	// Notify is called for every newly refundable record.
	Notify func(Expiry)

	reported map[htlcdb.ID]struct{}
}

// Run checks for refundable records on every tick until ctx is canceled.
func (w *ExpiryWatcher) Run(ctx context.Context) error {
	w.reported = make(map[htlcdb.ID]struct{})

	w.Ticker.Resume()
	defer w.Ticker.Stop()

	for {
		if err := w.check(ctx); err != nil {
			return err
		}

		select {
		case <-w.Ticker.Ticks():

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *ExpiryWatcher) check(ctx context.Context) error {
	expiries, err := Refundable(ctx, w.Store, w.Now())
	if err != nil {
		return err
	}

	for _, expiry := range expiries {
		if _, ok := w.reported[expiry.ID]; ok {
			continue
		}
		w.reported[expiry.ID] = struct{}{}

		log.Debugf("Record %v refundable since %v", expiry.ID,
			expiry.Timelock)

		w.Notify(expiry)
	}

	return nil
}
