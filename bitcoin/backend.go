package bitcoin

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrTxNotFound is returned by a backend that doesn't know a
	// transaction.
	ErrTxNotFound = errors.New("transaction not found")
)

// Utxo is an unspent output of a wallet address.
type Utxo struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
}

// ChainBackend is the view of the bitcoin chain the engine needs.
type ChainBackend interface {
	// BestHeight returns the height of the chain tip.
	BestHeight(ctx context.Context) (int32, error)

	// ListUnspent returns the unspent outputs paying to addr.
	ListUnspent(ctx context.Context, addr btcutil.Address) ([]*Utxo, error)

	// GetTransaction returns a transaction by id.
	GetTransaction(ctx context.Context,
		txid chainhash.Hash) (*wire.MsgTx, error)

	// Broadcast publishes a transaction and returns its id.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}
