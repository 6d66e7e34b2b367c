package ledger

import (
	"context"
	"fmt"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/auth"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
)

// CommitRequest describes a pre-commitment whose hashlock is not known yet.
// The hop arrays describe the route and must have equal length.
type CommitRequest struct {
	SrcReceiver htlcdb.Address

	// Messenger is an optional party that may add the lock on behalf of
	// the sender.
	Messenger htlcdb.Address

	Timelock uint64
	Amount   uint64

	HopChains    []string
	HopAssets    []string
	HopAddresses []string

	Asset    htlcdb.Asset
	SrcAsset string
	Dst      htlcdb.Destination
}

// hops zips the hop arrays.
func (r *CommitRequest) hops() ([]htlcdb.Hop, error) {
	if len(r.HopChains) != len(r.HopAssets) ||
		len(r.HopChains) != len(r.HopAddresses) {

		return nil, ErrIncorrectData
	}

	hops := make([]htlcdb.Hop, len(r.HopChains))
	for i := range r.HopChains {
		hops[i] = htlcdb.Hop{
			Chain:   r.HopChains[i],
			Asset:   r.HopAssets[i],
			Address: r.HopAddresses[i],
		}
	}

	return hops, nil
}

// Commit escrows amount from caller without a hashlock. The returned id is
// taken from the commitment sequence.
func (l *Ledger) Commit(ctx context.Context, caller htlcdb.Address,
	req *CommitRequest) (htlcdb.ID, error) {

	var id htlcdb.ID
	err := l.update(ctx, func(v *view) error {
		var err error
		id, err = l.commit(v, caller, req)
		return err
	})
	if err != nil {
		return htlcdb.ZeroID, err
	}

	log.Infof("Committed %v from %v to %v, amount=%v, timelock=%v", id,
		caller, req.SrcReceiver, req.Amount, req.Timelock)

	return id, nil
}

// CommitBatch creates several commitments at once. The value sent along must
// equal the sum of all amounts.
func (l *Ledger) CommitBatch(ctx context.Context, caller htlcdb.Address,
	reqs []*CommitRequest, value uint64) ([]htlcdb.ID, error) {

	amounts := make([]uint64, len(reqs))
	for i, req := range reqs {
		amounts[i] = req.Amount
	}
	if err := checkValue(amounts, value); err != nil {
		return nil, err
	}

	ids := make([]htlcdb.ID, 0, len(reqs))
	err := l.update(ctx, func(v *view) error {
		for i, req := range reqs {
			id, err := l.commit(v, caller, req)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			ids = append(ids, id)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Committed %v contracts from %v, value=%v", len(ids), caller,
		value)

	return ids, nil
}

func (l *Ledger) commit(v *view, caller htlcdb.Address,
	req *CommitRequest) (htlcdb.ID, error) {

	if req.Amount == 0 {
		return htlcdb.ZeroID, ErrFundsNotSent
	}
	if !swap.IsFuture(req.Timelock, v.now) {
		return htlcdb.ZeroID, ErrNotFutureTimelock
	}
	if req.SrcReceiver == "" {
		return htlcdb.ZeroID, fmt.Errorf("%w: receiver missing",
			ErrIncorrectData)
	}

	hops, err := req.hops()
	if err != nil {
		return htlcdb.ZeroID, err
	}

	// Explicit htlc ids may collide with the sequence, skip those.
	var id htlcdb.ID
	for {
		id, err = v.nextCommitID()
		if err != nil {
			return htlcdb.ZeroID, err
		}

		exists, err := v.exists(id)
		if err != nil {
			return htlcdb.ZeroID, err
		}
		if !exists {
			break
		}
	}

	phtlc := &htlcdb.PHTLC{
		ID:          id,
		Sender:      caller,
		SrcReceiver: req.SrcReceiver,
		Messenger:   req.Messenger,
		Amount:      req.Amount,
		Timelock:    req.Timelock,
		Hops:        hops,
		Asset:       req.Asset,
		SrcAsset:    req.SrcAsset,
		Dst:         req.Dst,
		CreatedAt:   v.now,
	}
	v.putPHTLC(phtlc)
	v.escrow(req.Asset, req.Amount)
	v.emit(newEvent(EventCommitted, caller, nil, phtlc))

	return id, nil
}

// ConvertP turns a commitment into an htlc with the given hashlock, keeping
// its timelock. Only the sender or the messenger may convert.
func (l *Ledger) ConvertP(ctx context.Context, caller htlcdb.Address,
	id htlcdb.ID, hashlock [32]byte) (htlcdb.ID, error) {

	err := l.update(ctx, func(v *view) error {
		return l.convert(v, caller, id, hashlock, nil, true)
	})
	if err != nil {
		return htlcdb.ZeroID, err
	}

	log.Infof("Converted %v by %v", id, caller)

	return id, nil
}

// ConvertPBatch converts several commitments at once.
func (l *Ledger) ConvertPBatch(ctx context.Context, caller htlcdb.Address,
	ids []htlcdb.ID, hashlocks [][32]byte) ([]htlcdb.ID, error) {

	if len(ids) == 0 || len(ids) != len(hashlocks) {
		return nil, ErrIncorrectData
	}

	err := l.update(ctx, func(v *view) error {
		for i, id := range ids {
			err := l.convert(v, caller, id, hashlocks[i], nil, true)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Converted %v commitments by %v", len(ids), caller)

	return ids, nil
}

// AddLock converts a commitment into an htlc with the given hashlock and a
// new timelock.
func (l *Ledger) AddLock(ctx context.Context, caller htlcdb.Address,
	id htlcdb.ID, hashlock [32]byte, timelock uint64) (htlcdb.ID, error) {

	err := l.update(ctx, func(v *view) error {
		return l.convert(v, caller, id, hashlock, &timelock, true)
	})
	if err != nil {
		return htlcdb.ZeroID, err
	}

	log.Infof("Added lock to %v by %v, timelock=%v", id, caller, timelock)

	return id, nil
}

// AddLockSig adds a lock on behalf of the sender or the messenger of a
// commitment, authorized by their signature over the lock message.
func (l *Ledger) AddLockSig(ctx context.Context, msg auth.LockMessage,
	sig []byte) (htlcdb.ID, error) {

	var signer htlcdb.Address
	err := l.update(ctx, func(v *view) error {
		phtlc, err := v.phtlc(msg.ID)
		if err != nil {
			return err
		}
		if phtlc == nil {
			return ErrCommitNotExists
		}

		signer, err = l.verifyLockSig(phtlc, msg, sig)
		if err != nil {
			return err
		}

		return l.convert(
			v, signer, msg.ID, msg.Hashlock, &msg.Timelock, false,
		)
	})
	if err != nil {
		return htlcdb.ZeroID, err
	}

	log.Infof("Added lock to %v signed by %v, timelock=%v", msg.ID,
		signer, msg.Timelock)

	return msg.ID, nil
}

// verifyLockSig returns the party that signed the lock message.
func (l *Ledger) verifyLockSig(phtlc *htlcdb.PHTLC, msg auth.LockMessage,
	sig []byte) (htlcdb.Address, error) {

	if l.cfg.Verifier == nil {
		return "", fmt.Errorf("%w: no verifier configured",
			ErrInvalidSignature)
	}

	err := l.cfg.Verifier.Verify(msg, sig, phtlc.Sender)
	if err == nil {
		return phtlc.Sender, nil
	}
	if phtlc.Messenger == "" {
		return "", err
	}

	err = l.cfg.Verifier.Verify(msg, sig, phtlc.Messenger)
	if err != nil {
		return "", err
	}

	return phtlc.Messenger, nil
}

// convert creates the htlc for a commitment. A nil timelock keeps the
// commitment's timelock.
func (l *Ledger) convert(v *view, caller htlcdb.Address, id htlcdb.ID,
	hashlock [32]byte, timelock *uint64, checkCaller bool) error {

	phtlc, err := v.phtlc(id)
	if err != nil {
		return err
	}
	if phtlc == nil {
		return ErrCommitNotExists
	}

	if checkCaller && caller != phtlc.Sender &&
		(phtlc.Messenger == "" || caller != phtlc.Messenger) {

		return ErrNoAllowance
	}

	newTimelock := phtlc.Timelock
	switch {
	case phtlc.Converted && timelock != nil:
		return ErrHashlockAlreadySet

	case phtlc.Converted:
		return ErrAlreadyConverted

	case phtlc.Refunded:
		return ErrAlreadyRefunded

	case timelock != nil:
		newTimelock = *timelock
	}

	if !swap.IsFuture(newTimelock, v.now) {
		return ErrNotFutureTimelock
	}

	existing, err := v.htlc(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrHTLCAlreadyExists
	}

	htlc := &htlcdb.HTLC{
		ID:          id,
		Sender:      phtlc.Sender,
		SrcReceiver: phtlc.SrcReceiver,
		Hashlock:    hashlock,
		Amount:      phtlc.Amount,
		Timelock:    newTimelock,
		Asset:       phtlc.Asset,
		SrcAsset:    phtlc.SrcAsset,
		Dst:         phtlc.Dst,
		CommitID:    phtlc.ID,
		CreatedAt:   v.now,
	}

	phtlc.Converted = true
	phtlc.LockID = id

	v.putPHTLC(phtlc)
	v.putHTLC(htlc)
	v.emit(newEvent(EventLockAdded, caller, htlc, phtlc))

	return nil
}

// RefundP returns the funds of an expired, unconverted commitment to its
// sender.
func (l *Ledger) RefundP(ctx context.Context, caller htlcdb.Address,
	id htlcdb.ID) error {

	err := l.update(ctx, func(v *view) error {
		phtlc, err := v.phtlc(id)
		if err != nil {
			return err
		}

		switch {
		case phtlc == nil:
			return ErrCommitNotExists

		case phtlc.Converted:
			return ErrAlreadyConverted

		case phtlc.Refunded:
			return ErrAlreadyRefunded

		case !swap.Expired(phtlc.Timelock, v.now):
			return ErrNotPassedTimelock
		}

		phtlc.Refunded = true
		v.putPHTLC(phtlc)
		v.payout(phtlc.Sender, phtlc.Asset, phtlc.Amount)
		v.emit(newEvent(EventCommitRefunded, caller, nil, phtlc))

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Refunded commitment %v by %v", id, caller)

	return nil
}

// GetPHTLCDetails returns the commitment with the given id. Unknown ids yield
// a zero record.
func (l *Ledger) GetPHTLCDetails(ctx context.Context,
	id htlcdb.ID) (*htlcdb.PHTLC, error) {

	phtlc, err := l.cfg.Store.FetchPHTLC(ctx, id)
	if err != nil {
		return nil, err
	}
	if phtlc == nil {
		return &htlcdb.PHTLC{}, nil
	}

	return phtlc, nil
}

// GetLockIDByCommitID returns the id of the htlc a commitment was converted
// into, or the zero id.
func (l *Ledger) GetLockIDByCommitID(ctx context.Context,
	id htlcdb.ID) (htlcdb.ID, error) {

	phtlc, err := l.cfg.Store.FetchPHTLC(ctx, id)
	if err != nil {
		return htlcdb.ZeroID, err
	}
	if phtlc == nil || !phtlc.Converted {
		return htlcdb.ZeroID, nil
	}

	return phtlc.LockID, nil
}
