package htlcdb

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrInsufficientFunds is returned when a transfer would overdraw a
	// vault account.
	ErrInsufficientFunds = errors.New("insufficient vault balance")

	// ErrInvalidChangeset is returned for a changeset that can't be
	// applied, for example one holding an htlc without an id.
	ErrInvalidChangeset = errors.New("invalid changeset")

	// ErrBalanceOverflow is returned when a credit would exceed the
	// range of a vault balance.
	ErrBalanceOverflow = errors.New("vault balance overflow")
)

// Store is the persistence layer of the ledger. Unknown ids are not an error:
// the fetch methods return nil records and the caller decides how to present
// them.
type Store interface {
	// FetchHTLC returns the htlc with the given id or nil.
	FetchHTLC(ctx context.Context, id ID) (*HTLC, error)

	// FetchPHTLC returns the pre-commitment with the given id or nil.
	FetchPHTLC(ctx context.Context, id ID) (*PHTLC, error)

	// FetchContracts returns the ids of all htlcs and pre-commitments
	// funded by sender, in insertion order.
	FetchContracts(ctx context.Context, sender Address) ([]ID, error)

	// FetchBalance returns the vault balance of an account.
	FetchBalance(ctx context.Context, owner Address,
		asset Asset) (uint64, error)

	// LastCommitSeq returns the last issued commitment sequence number.
	LastCommitSeq(ctx context.Context) (uint64, error)

	// ListHTLCs returns all htlcs.
	ListHTLCs(ctx context.Context) ([]*HTLC, error)

	// ListPHTLCs returns all pre-commitments.
	ListPHTLCs(ctx context.Context) ([]*PHTLC, error)

	// Apply commits all writes of the changeset or none of them.
	Apply(ctx context.Context, changes *Changeset) error

	// RebuildIndex recreates the per sender index from the primary
	// records.
	RebuildIndex(ctx context.Context) error

	// Close releases the store.
	Close() error
}

// validate checks the parts of a changeset that don't depend on stored
// state.
func (c *Changeset) validate() error {
	for _, h := range c.HTLCs {
		if h == nil || h.ID.IsZero() || h.Sender == "" {
			return ErrInvalidChangeset
		}
	}
	for _, p := range c.PHTLCs {
		if p == nil || p.ID.IsZero() || p.Sender == "" {
			return ErrInvalidChangeset
		}
	}
	for _, t := range c.Transfers {
		if t.To == "" || t.From == t.To {
			return ErrInvalidChangeset
		}
	}

	return nil
}

// credit returns the balance of the receiver of t after the transfer.
func credit(balance uint64, t Transfer) (uint64, error) {
	sum, carry := bits.Add64(balance, t.Amount, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %v holds %d %v, credit %d",
			ErrBalanceOverflow, t.To, balance, t.Asset, t.Amount)
	}

	return sum, nil
}
