package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/wire"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
)

// CreateRequest describes a new htlc whose hashlock is known upfront.
type CreateRequest struct {
	// ID is an optional explicit id. If zero, the id is derived from
	// the lock parameters.
	ID htlcdb.ID

	SrcReceiver htlcdb.Address
	Hashlock    [32]byte
	Timelock    uint64
	Amount      uint64

	Asset    htlcdb.Asset
	SrcAsset string
	Dst      htlcdb.Destination
}

// DeriveID returns the id of a directly created htlc. The addresses are
// length prefixed so that no two sender and receiver pairs hash alike.
func DeriveID(sender htlcdb.Address, req *CreateRequest) htlcdb.ID {
	var num [8]byte

	h := sha256.New()
	_ = wire.WriteVarString(h, 0, string(sender))
	_ = wire.WriteVarString(h, 0, string(req.SrcReceiver))

	binary.BigEndian.PutUint64(num[:], req.Amount)
	_, _ = h.Write(num[:])
	_, _ = h.Write(req.Hashlock[:])

	binary.BigEndian.PutUint64(num[:], req.Timelock)
	_, _ = h.Write(num[:])

	var id htlcdb.ID
	copy(id[:], h.Sum(nil))

	return id
}

// Create locks amount from caller under the hashlock until the timelock.
func (l *Ledger) Create(ctx context.Context, caller htlcdb.Address,
	req *CreateRequest) (htlcdb.ID, error) {

	var id htlcdb.ID
	err := l.update(ctx, func(v *view) error {
		var err error
		id, err = l.create(v, caller, req)
		return err
	})
	if err != nil {
		return htlcdb.ZeroID, err
	}

	log.Infof("Created htlc %v from %v to %v, amount=%v, timelock=%v",
		id, caller, req.SrcReceiver, req.Amount, req.Timelock)

	return id, nil
}

// CreateBatch creates several htlcs at once. The value sent along must equal
// the sum of all amounts. Either all htlcs are created or none.
func (l *Ledger) CreateBatch(ctx context.Context, caller htlcdb.Address,
	reqs []*CreateRequest, value uint64) ([]htlcdb.ID, error) {

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
			id, err := l.create(v, caller, req)
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

	log.Infof("Created %v htlcs from %v, value=%v", len(ids), caller,
		value)

	return ids, nil
}

func (l *Ledger) create(v *view, caller htlcdb.Address,
	req *CreateRequest) (htlcdb.ID, error) {

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

	id := req.ID
	if id.IsZero() {
		id = DeriveID(caller, req)
	}

	exists, err := v.exists(id)
	if err != nil {
		return htlcdb.ZeroID, err
	}
	if exists {
		return htlcdb.ZeroID, ErrHTLCAlreadyExists
	}

	htlc := &htlcdb.HTLC{
		ID:          id,
		Sender:      caller,
		SrcReceiver: req.SrcReceiver,
		Hashlock:    req.Hashlock,
		Amount:      req.Amount,
		Timelock:    req.Timelock,
		Asset:       req.Asset,
		SrcAsset:    req.SrcAsset,
		Dst:         req.Dst,
		CreatedAt:   v.now,
	}
	v.putHTLC(htlc)
	v.escrow(req.Asset, req.Amount)
	v.emit(newEvent(EventLocked, caller, htlc, nil))

	return id, nil
}

// Redeem releases the funds of an htlc to its receiver. Anyone holding the
// secret may redeem, as long as the timelock hasn't passed.
func (l *Ledger) Redeem(ctx context.Context, caller htlcdb.Address,
	id htlcdb.ID, secret [32]byte) error {

	err := l.update(ctx, func(v *view) error {
		return l.redeem(v, caller, id, secret)
	})
	if err != nil {
		return err
	}

	log.Infof("Redeemed htlc %v by %v", id, caller)

	return nil
}

// RedeemBatch redeems several htlcs at once. Either all are redeemed or none.
func (l *Ledger) RedeemBatch(ctx context.Context, caller htlcdb.Address,
	ids []htlcdb.ID, secrets [][32]byte) error {

	if len(ids) == 0 || len(ids) != len(secrets) {
		return ErrIncorrectData
	}

	err := l.update(ctx, func(v *view) error {
		for i, id := range ids {
			err := l.redeem(v, caller, id, secrets[i])
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Redeemed %v htlcs by %v", len(ids), caller)

	return nil
}

func (l *Ledger) redeem(v *view, caller htlcdb.Address, id htlcdb.ID,
	secret [32]byte) error {

	htlc, err := v.htlc(id)
	if err != nil {
		return err
	}

	switch {
	case htlc == nil:
		return ErrHTLCNotExists

	case htlc.Redeemed:
		return ErrAlreadyRedeemed

	case htlc.Refunded:
		return ErrAlreadyRefunded

	case htlc.Hashlock == [32]byte{}:
		return ErrHashlockNotSet

	case l.hashFunc().Sum(secret[:]) != htlc.Hashlock:
		return ErrHashlockNotMatch

	case swap.Expired(htlc.Timelock, v.now):
		return ErrNotFutureTimelock
	}

	htlc.Secret = secret
	htlc.Redeemed = true
	v.putHTLC(htlc)
	v.payout(htlc.SrcReceiver, htlc.Asset, htlc.Amount)
	v.emit(newEvent(EventRedeemed, caller, htlc, nil))

	return nil
}

// Refund returns the funds of an expired htlc to its sender.
func (l *Ledger) Refund(ctx context.Context, caller htlcdb.Address,
	id htlcdb.ID) error {

	err := l.update(ctx, func(v *view) error {
		htlc, err := v.htlc(id)
		if err != nil {
			return err
		}

		switch {
		case htlc == nil:
			return ErrHTLCNotExists

		case htlc.Redeemed:
			return ErrAlreadyRedeemed

		case htlc.Refunded:
			return ErrAlreadyRefunded

		case !swap.Expired(htlc.Timelock, v.now):
			return ErrNotPassedTimelock
		}

		htlc.Refunded = true
		v.putHTLC(htlc)
		v.payout(htlc.Sender, htlc.Asset, htlc.Amount)
		v.emit(newEvent(EventRefunded, caller, htlc, nil))

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Refunded htlc %v by %v", id, caller)

	return nil
}

// GetHTLCDetails returns the htlc with the given id. Unknown ids yield a zero
// record.
func (l *Ledger) GetHTLCDetails(ctx context.Context,
	id htlcdb.ID) (*htlcdb.HTLC, error) {

	htlc, err := l.cfg.Store.FetchHTLC(ctx, id)
	if err != nil {
		return nil, err
	}
	if htlc == nil {
		return &htlcdb.HTLC{}, nil
	}

	return htlc, nil
}

// GetContracts returns the ids of all htlcs and commitments funded by sender.
func (l *Ledger) GetContracts(ctx context.Context,
	sender htlcdb.Address) ([]htlcdb.ID, error) {

	return l.cfg.Store.FetchContracts(ctx, sender)
}

func (l *Ledger) hashFunc() swap.HashFunc {
	return l.cfg.HashFunc
}

// checkValue verifies that the value sent with a batch covers its amounts
// exactly.
func checkValue(amounts []uint64, value uint64) error {
	if len(amounts) == 0 {
		return ErrIncorrectData
	}

	var sum uint64
	for _, amt := range amounts {
		var carry uint64
		sum, carry = bits.Add64(sum, amt, 0)
		if carry != 0 {
			return ErrIncorrectData
		}
	}

	if sum != value {
		return ErrIncorrectData
	}

	return nil
}
