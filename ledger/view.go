package ledger

import (
	"context"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
)

// view overlays the pending writes of one ledger call on top of the store, so
// that later items of a batch see the effects of earlier ones.
type view struct {
	ctx   context.Context
	store htlcdb.Store
	now   uint64

	htlcs     map[htlcdb.ID]*htlcdb.HTLC
	phtlcs    map[htlcdb.ID]*htlcdb.PHTLC
	htlcOrder []htlcdb.ID
	phtOrder  []htlcdb.ID
	transfers []htlcdb.Transfer

	commitSeq  uint64
	seqLoaded  bool
	seqChanged bool

	events []*Event
}

func newView(ctx context.Context, store htlcdb.Store, now uint64) *view {
	return &view{
		ctx:    ctx,
		store:  store,
		now:    now,
		htlcs:  make(map[htlcdb.ID]*htlcdb.HTLC),
		phtlcs: make(map[htlcdb.ID]*htlcdb.PHTLC),
	}
}

// htlc returns the current state of an htlc, nil if it doesn't exist.
func (v *view) htlc(id htlcdb.ID) (*htlcdb.HTLC, error) {
	if h, ok := v.htlcs[id]; ok {
		return h, nil
	}

	h, err := v.store.FetchHTLC(v.ctx, id)
	if err != nil || h == nil {
		return nil, err
	}

	v.htlcs[id] = h

	return h, nil
}

// phtlc returns the current state of a pre-commitment, nil if it doesn't
// exist.
func (v *view) phtlc(id htlcdb.ID) (*htlcdb.PHTLC, error) {
	if p, ok := v.phtlcs[id]; ok {
		return p, nil
	}

	p, err := v.store.FetchPHTLC(v.ctx, id)
	if err != nil || p == nil {
		return nil, err
	}

	v.phtlcs[id] = p

	return p, nil
}

// exists returns true if the id is taken by an htlc or a pre-commitment.
func (v *view) exists(id htlcdb.ID) (bool, error) {
	h, err := v.htlc(id)
	if err != nil || h != nil {
		return h != nil, err
	}

	p, err := v.phtlc(id)
	return p != nil, err
}

// putHTLC stages an htlc write. The record must be the pointer handed out by
// htlc, or a new record.
func (v *view) putHTLC(h *htlcdb.HTLC) {
	for _, id := range v.htlcOrder {
		if id == h.ID {
			v.htlcs[h.ID] = h
			return
		}
	}

	v.htlcs[h.ID] = h
	v.htlcOrder = append(v.htlcOrder, h.ID)
}

// putPHTLC stages a pre-commitment write.
func (v *view) putPHTLC(p *htlcdb.PHTLC) {
	for _, id := range v.phtOrder {
		if id == p.ID {
			v.phtlcs[p.ID] = p
			return
		}
	}

	v.phtlcs[p.ID] = p
	v.phtOrder = append(v.phtOrder, p.ID)
}

// nextCommitID issues the next commitment id.
func (v *view) nextCommitID() (htlcdb.ID, error) {
	if !v.seqLoaded {
		seq, err := v.store.LastCommitSeq(v.ctx)
		if err != nil {
			return htlcdb.ZeroID, err
		}

		v.commitSeq = seq
		v.seqLoaded = true
	}

	v.commitSeq++
	v.seqChanged = true

	return htlcdb.CommitID(v.commitSeq), nil
}

// escrow moves funds into the vault.
func (v *view) escrow(asset htlcdb.Asset, amount uint64) {
	v.transfers = append(v.transfers, htlcdb.Transfer{
		To:     htlcdb.EscrowAddress,
		Asset:  asset,
		Amount: amount,
	})
}

// payout moves funds out of the vault.
func (v *view) payout(to htlcdb.Address, asset htlcdb.Asset, amount uint64) {
	v.transfers = append(v.transfers, htlcdb.Transfer{
		From:   htlcdb.EscrowAddress,
		To:     to,
		Asset:  asset,
		Amount: amount,
	})
}

// emit queues an event for publication after commit.
func (v *view) emit(event *Event) {
	v.events = append(v.events, event)
}

// changeset collects the staged writes.
func (v *view) changeset() *htlcdb.Changeset {
	changes := &htlcdb.Changeset{
		Transfers: v.transfers,
	}
	for _, id := range v.phtOrder {
		changes.PHTLCs = append(changes.PHTLCs, v.phtlcs[id])
	}
	for _, id := range v.htlcOrder {
		changes.HTLCs = append(changes.HTLCs, v.htlcs[id])
	}
	if v.seqChanged {
		changes.CommitSeq = v.commitSeq
	}

	return changes
}
