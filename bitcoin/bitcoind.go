package bitcoin

import (
	"context"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// BitcoindConfig holds the rpc connection details of a bitcoind node.
type BitcoindConfig struct {
	Host string `long:"host" description:"bitcoind rpc host:port"`
	User string `long:"user" description:"bitcoind rpc user"`
	Pass string `long:"pass" description:"bitcoind rpc password"`
}

// BitcoindBackend talks to a bitcoind node through its json-rpc interface.
// The node wallet must watch the addresses the engine spends from.
type BitcoindBackend struct {
	client *rpcclient.Client
}

// A compile-time flag to ensure that BitcoindBackend implements the
// ChainBackend interface.
var _ ChainBackend = (*BitcoindBackend)(nil)

// NewBitcoindBackend connects to bitcoind in http post mode.
func NewBitcoindBackend(cfg *BitcoindConfig) (*BitcoindBackend, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, err
	}

	return &BitcoindBackend{
		client: client,
	}, nil
}

// BestHeight returns the height of the chain tip.
func (b *BitcoindBackend) BestHeight(_ context.Context) (int32, error) {
	height, err := b.client.GetBlockCount()
	if err != nil {
		return 0, err
	}

	return int32(height), nil
}

// ListUnspent returns the unspent outputs paying to addr, including
// unconfirmed ones.
func (b *BitcoindBackend) ListUnspent(_ context.Context,
	addr btcutil.Address) ([]*Utxo, error) {

	unspent, err := b.client.ListUnspentMinMaxAddresses(
		0, math.MaxInt32, []btcutil.Address{addr},
	)
	if err != nil {
		return nil, err
	}

	utxos := make([]*Utxo, 0, len(unspent))
	for _, u := range unspent {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, err
		}

		value, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			return nil, err
		}

		utxos = append(utxos, &Utxo{
			OutPoint: wire.OutPoint{
				Hash:  *hash,
				Index: u.Vout,
			},
			Value: value,
		})
	}

	return utxos, nil
}

// GetTransaction returns a transaction by id. Without txindex only mempool
// and wallet transactions are found.
func (b *BitcoindBackend) GetTransaction(_ context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	tx, err := b.client.GetRawTransaction(&txid)
	if err != nil {
		return nil, err
	}

	return tx.MsgTx(), nil
}

// Broadcast publishes a transaction and returns its id.
func (b *BitcoindBackend) Broadcast(_ context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	txid, err := b.client.SendRawTransaction(tx, false)
	if err != nil {
		return chainhash.Hash{}, err
	}

	return *txid, nil
}

// Stop shuts down the rpc client.
func (b *BitcoindBackend) Stop() {
	b.client.Shutdown()
}
