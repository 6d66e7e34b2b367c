package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/fsm"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultPollInterval is the interval at which the ledgers are
	// polled while waiting.
	DefaultPollInterval = time.Second

	// DefaultDestinationTimelockDelta is the lifetime of the destination
	// lock in seconds.
	DefaultDestinationTimelockDelta = 3600

	// DefaultSourceTimelockDelta is the lifetime in seconds of the source
	// lock added by the solver when it is the commitment's messenger.
	DefaultSourceTimelockDelta = 2 * DefaultDestinationTimelockDelta
)

var (
	// ErrNotSolverCommit is returned for commitments that don't pay the
	// solver.
	ErrNotSolverCommit = errors.New("commitment is not addressed to " +
		"the solver")

	// ErrCommitNotOpen is returned for commitments that were already
	// converted, refunded or expired.
	ErrCommitNotOpen = errors.New("commitment is not open")

	// ErrHashlockMismatch is returned when the source lock was added
	// with a hashlock other than the solver's.
	ErrHashlockMismatch = errors.New("source lock has foreign hashlock")
)

// Config holds the dependencies of a swap saga.
type Config struct {
	// Source is the ledger holding the user's commitment.
	Source *ledger.Ledger

	// Destination is the ledger the solver pays out on.
	Destination *ledger.Ledger

	// Solver is the solver's identity on both ledgers.
	Solver htlcdb.Address

	// DestinationAsset is the asset locked on the destination ledger.
	DestinationAsset htlcdb.Asset

	// HashFunc must match the hash function of both ledgers.
	HashFunc swap.HashFunc

	// DestinationTimelockDelta is the lifetime of the destination lock
	// in seconds.
	DestinationTimelockDelta uint64

	// SourceTimelockDelta is the lifetime of the source lock in seconds
	// if the solver adds it as messenger.
	SourceTimelockDelta uint64

	// NewTicker creates the ticker that paces the polling of the
	// ledgers.
	NewTicker func() ticker.Ticker
}

func (c *Config) setDefaults() {
	if c.DestinationTimelockDelta == 0 {
		c.DestinationTimelockDelta = DefaultDestinationTimelockDelta
	}
	if c.SourceTimelockDelta == 0 {
		c.SourceTimelockDelta = DefaultSourceTimelockDelta
	}
	if c.NewTicker == nil {
		c.NewTicker = func() ticker.Ticker {
			return ticker.New(DefaultPollInterval)
		}
	}
}

// Swap is the state a saga carries between its actions.
type Swap struct {
	// CommitID is the id of the user's commitment on the source
	// ledger.
	CommitID htlcdb.ID

	// Commit is the commitment as observed at the start.
	Commit *htlcdb.PHTLC

	// Preimage is the solver's secret.
	Preimage lntypes.Preimage

	// Hashlock is the hash of the preimage.
	Hashlock lntypes.Hash

	// DestinationID is the id of the solver's lock on the destination
	// ledger.
	DestinationID htlcdb.ID

	// DestinationTimelock is the timelock of the destination lock.
	DestinationTimelock uint64

	// LockAdded is set once the solver added the source lock itself.
	LockAdded bool
}

// Saga drives one cross-chain swap: it locks funds on the destination
// ledger, waits for the user to lock the commitment on the source ledger,
// then redeems both sides. If the source lock doesn't arrive before the
// destination timelock, the destination lock is refunded.
type Saga struct {
	*fsm.GenericFSM[Swap]

	cfg *Config

	log *swap.PrefixLog
}

// New creates a saga for the given commitment. A fresh secret is generated.
func New(cfg *Config, commitID htlcdb.ID) (*Saga, error) {
	cfg.setDefaults()

	pair, err := swap.NewHashPair()
	if err != nil {
		return nil, err
	}

	s := &Saga{
		cfg: cfg,
		log: &swap.PrefixLog{
			Logger: log,
			Hash:   lntypes.Hash(commitID),
		},
	}

	s.GenericFSM = fsm.NewGenericFSM(
		fsm.NewStateMachine(s.GetStates()), &Swap{
			CommitID: commitID,
			Preimage: pair.Preimage,
			Hashlock: cfg.HashFunc.Sum(pair.Preimage[:]),
		},
	)
	s.ActionEntryFunc = func(n fsm.Notification) {
		s.log.Debugf("%v -> %v on %v", n.PreviousState, n.NextState,
			n.Event)
	}

	return s, nil
}

// Run executes the saga until it reaches a final state. A swap that ended
// with the destination refunded is not an error.
func (s *Saga) Run(ctx context.Context) error {
	err := s.SendEvent(ctx, OnStart, nil)
	if err != nil {
		return err
	}

	state := s.CurrentState()
	s.log.Infof("Swap finished in state %v", state)

	if state == Failed {
		return s.LastActionError
	}

	return nil
}

// Snapshot returns a copy of the swap state.
func (s *Saga) Snapshot() Swap {
	var snapshot Swap
	s.ReadFunc(func(val *Swap) {
		snapshot = *val
	})

	return snapshot
}

// poll calls check on every tick until it returns an event other than
// fsm.NoOp, or until ctx is canceled.
func (s *Saga) poll(ctx context.Context,
	check func() (fsm.EventType, error)) (fsm.EventType, error) {

	t := s.cfg.NewTicker()
	t.Resume()
	defer t.Stop()

	for {
		event, err := check()
		if err != nil || event != fsm.NoOp {
			return event, err
		}

		select {
		case <-t.Ticks():

		case <-ctx.Done():
			return fsm.NoOp, ctx.Err()
		}
	}
}

// String returns a short description of the saga.
func (s *Saga) String() string {
	snapshot := s.Snapshot()

	return fmt.Sprintf("saga(commit=%v, state=%v)", snapshot.CommitID,
		s.CurrentState())
}
