package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/fsm"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
)

// validateAction loads the commitment and checks that the solver can serve
// it.
func (s *Saga) validateAction(ctx context.Context,
	_ fsm.EventContext) fsm.EventType {

	var commitID htlcdb.ID
	s.ReadFunc(func(val *Swap) {
		commitID = val.CommitID
	})

	commit, err := s.cfg.Source.GetPHTLCDetails(ctx, commitID)
	if err != nil {
		return s.HandleError(err)
	}

	switch {
	case !commit.Exists():
		return s.HandleError(ledger.ErrCommitNotExists)

	case commit.SrcReceiver != s.cfg.Solver:
		return s.HandleError(ErrNotSolverCommit)

	case commit.Converted || commit.Refunded:
		return s.HandleError(ErrCommitNotOpen)

	case swap.Expired(commit.Timelock, s.cfg.Source.Now()):
		return s.HandleError(ErrCommitNotOpen)

	case commit.Dst.Address == "":
		return s.HandleError(fmt.Errorf("%w: no destination address",
			ledger.ErrIncorrectData))
	}

	err = s.RunFunc(func(val *Swap) error {
		val.Commit = commit
		return nil
	})
	if err != nil {
		return s.HandleError(err)
	}

	s.log.Infof("Serving commitment of %v over %v to %v", commit.Amount,
		commit.Dst.Chain, commit.Dst.Address)

	return OnValidated
}

// lockDestinationAction locks the commitment amount on the destination
// ledger under the solver's hashlock.
func (s *Saga) lockDestinationAction(ctx context.Context,
	_ fsm.EventContext) fsm.EventType {

	var req *ledger.CreateRequest
	s.ReadFunc(func(val *Swap) {
		req = &ledger.CreateRequest{
			SrcReceiver: htlcdb.Address(val.Commit.Dst.Address),
			Hashlock:    val.Hashlock,
			Timelock: s.cfg.Destination.Now() +
				s.cfg.DestinationTimelockDelta,
			Amount:   val.Commit.Amount,
			Asset:    s.cfg.DestinationAsset,
			SrcAsset: val.Commit.Dst.Asset,
			Dst: htlcdb.Destination{
				Asset:   val.Commit.SrcAsset,
				Address: string(val.Commit.Sender),
			},
		}
	})

	id, err := s.cfg.Destination.Create(ctx, s.cfg.Solver, req)
	if err != nil {
		return s.HandleError(err)
	}

	err = s.RunFunc(func(val *Swap) error {
		val.DestinationID = id
		val.DestinationTimelock = req.Timelock
		return nil
	})
	if err != nil {
		return s.HandleError(err)
	}

	s.log.Infof("Locked destination htlc %v until %v", id, req.Timelock)

	return OnDestinationLocked
}

// waitForSourceLockAction waits until the commitment is converted with the
// solver's hashlock. If the solver is the messenger of the commitment, it
// adds the lock itself.
func (s *Saga) waitForSourceLockAction(ctx context.Context,
	_ fsm.EventContext) fsm.EventType {

	var snapshot Swap
	s.ReadFunc(func(val *Swap) {
		snapshot = *val
	})

	if snapshot.Commit.Messenger == s.cfg.Solver {
		timelock := s.cfg.Source.Now() + s.cfg.SourceTimelockDelta
		_, err := s.cfg.Source.AddLock(
			ctx, s.cfg.Solver, snapshot.CommitID, snapshot.Hashlock,
			timelock,
		)
		if err != nil {
			return s.HandleError(err)
		}

		err = s.RunFunc(func(val *Swap) error {
			val.LockAdded = true
			return nil
		})
		if err != nil {
			return s.HandleError(err)
		}

		s.log.Infof("Added source lock until %v", timelock)

		return OnSourceLocked
	}

	event, err := s.poll(ctx, func() (fsm.EventType, error) {
		return s.checkSourceLock(ctx, &snapshot)
	})
	if err != nil {
		return s.HandleError(err)
	}

	return event
}

// checkSourceLock inspects the source ledger once.
func (s *Saga) checkSourceLock(ctx context.Context,
	snapshot *Swap) (fsm.EventType, error) {

	htlc, err := s.cfg.Source.GetHTLCDetails(ctx, snapshot.CommitID)
	if err != nil {
		return fsm.NoOp, err
	}

	if htlc.Exists() {
		if htlc.Hashlock != snapshot.Hashlock {
			return fsm.NoOp, ErrHashlockMismatch
		}

		s.log.Infof("Source locked until %v", htlc.Timelock)

		return OnSourceLocked, nil
	}

	commit, err := s.cfg.Source.GetPHTLCDetails(ctx, snapshot.CommitID)
	if err != nil {
		return fsm.NoOp, err
	}
	if commit.Refunded {
		s.log.Infof("Commitment refunded before lock")

		return OnLockTimeout, nil
	}

	if swap.Expired(snapshot.DestinationTimelock, s.cfg.Destination.Now()) {
		s.log.Infof("Destination htlc expired before source lock")

		return OnLockTimeout, nil
	}

	return fsm.NoOp, nil
}

// redeemSourceAction claims the source htlc, revealing the secret.
func (s *Saga) redeemSourceAction(ctx context.Context,
	_ fsm.EventContext) fsm.EventType {

	var snapshot Swap
	s.ReadFunc(func(val *Swap) {
		snapshot = *val
	})

	err := s.cfg.Source.Redeem(
		ctx, s.cfg.Solver, snapshot.CommitID, snapshot.Preimage,
	)
	if err != nil && !errors.Is(err, ledger.ErrAlreadyRedeemed) {
		return s.HandleError(err)
	}

	s.log.Infof("Source redeemed")

	return OnSourceRedeemed
}

// redeemDestinationAction releases the destination htlc to the user. The
// user may have redeemed it already with the revealed secret.
func (s *Saga) redeemDestinationAction(ctx context.Context,
	_ fsm.EventContext) fsm.EventType {

	var snapshot Swap
	s.ReadFunc(func(val *Swap) {
		snapshot = *val
	})

	err := s.cfg.Destination.Redeem(
		ctx, s.cfg.Solver, snapshot.DestinationID, snapshot.Preimage,
	)
	switch {
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		s.log.Infof("Destination already redeemed by receiver")

	case err != nil:
		return s.HandleError(err)

	default:
		s.log.Infof("Destination redeemed")
	}

	return OnDestinationRedeemed
}

// refundDestinationAction waits for the destination timelock to pass and
// refunds the solver's lock.
func (s *Saga) refundDestinationAction(ctx context.Context,
	_ fsm.EventContext) fsm.EventType {

	if s.LastActionError != nil {
		s.log.Warnf("Refunding destination after error: %v",
			s.LastActionError)
	}

	var snapshot Swap
	s.ReadFunc(func(val *Swap) {
		snapshot = *val
	})

	_, err := s.poll(ctx, func() (fsm.EventType, error) {
		now := s.cfg.Destination.Now()
		if !swap.Expired(snapshot.DestinationTimelock, now) {
			return fsm.NoOp, nil
		}

		return OnDestinationRefunded, nil
	})
	if err != nil {
		return s.HandleError(err)
	}

	err = s.cfg.Destination.Refund(ctx, s.cfg.Solver, snapshot.DestinationID)
	if err != nil {
		return s.HandleError(err)
	}

	s.log.Infof("Destination refunded")

	return OnDestinationRefunded
}
