package bitcoin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// mockBackend is an in-memory chain that validates every published
// transaction with the script engine.
type mockBackend struct {
	params *chaincfg.Params

	mu     sync.Mutex
	height int32
	txs    map[chainhash.Hash]*wire.MsgTx
	utxos  map[wire.OutPoint]*wire.TxOut

	published []*wire.MsgTx
}

var _ ChainBackend = (*mockBackend)(nil)

func newMockBackend(params *chaincfg.Params, height int32) *mockBackend {
	return &mockBackend{
		params: params,
		height: height,
		txs:    make(map[chainhash.Hash]*wire.MsgTx),
		utxos:  make(map[wire.OutPoint]*wire.TxOut),
	}
}

// fund creates a confirmed output paying value to addr.
func (m *mockBackend) fund(addr btcutil.Address, value btcutil.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		panic(err)
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: uint32(len(m.txs))},
	})
	tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))

	m.addTx(tx)
}

func (m *mockBackend) addTx(tx *wire.MsgTx) {
	hash := tx.TxHash()
	m.txs[hash] = tx
	for i, out := range tx.TxOut {
		m.utxos[wire.OutPoint{Hash: hash, Index: uint32(i)}] = out
	}
}

func (m *mockBackend) setHeight(height int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.height = height
}

func (m *mockBackend) BestHeight(_ context.Context) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.height, nil
}

func (m *mockBackend) ListUnspent(_ context.Context,
	addr btcutil.Address) ([]*Utxo, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	var utxos []*Utxo
	for op, out := range m.utxos {
		if string(out.PkScript) != string(pkScript) {
			continue
		}

		utxos = append(utxos, &Utxo{
			OutPoint: op,
			Value:    btcutil.Amount(out.Value),
		})
	}

	// Map iteration is random, keep a stable order.
	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Value != utxos[j].Value {
			return utxos[i].Value < utxos[j].Value
		}

		return utxos[i].OutPoint.String() < utxos[j].OutPoint.String()
	})

	return utxos, nil
}

func (m *mockBackend) GetTransaction(_ context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}

	return tx.Copy(), nil
}

func (m *mockBackend) Broadcast(_ context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	// A transaction is final if its lock time is below the height of
	// the next block.
	if tx.LockTime > uint32(m.height) {
		return chainhash.Hash{}, fmt.Errorf("non-final tx, locktime %v",
			tx.LockTime)
	}

	prevOuts := make([]*wire.TxOut, len(tx.TxIn))
	for i, txIn := range tx.TxIn {
		prevOut, ok := m.utxos[txIn.PreviousOutPoint]
		if !ok {
			return chainhash.Hash{}, fmt.Errorf("missing or spent "+
				"input %v", txIn.PreviousOutPoint)
		}
		prevOuts[i] = prevOut
	}

	if err := ValidateTx(tx, prevOuts); err != nil {
		return chainhash.Hash{}, err
	}

	var totalIn, totalOut int64
	for _, out := range prevOuts {
		totalIn += out.Value
	}
	for _, out := range tx.TxOut {
		totalOut += out.Value
	}
	if totalOut > totalIn {
		return chainhash.Hash{}, fmt.Errorf("outputs exceed inputs")
	}

	for _, txIn := range tx.TxIn {
		delete(m.utxos, txIn.PreviousOutPoint)
	}
	m.addTx(tx)
	m.published = append(m.published, tx)

	return tx.TxHash(), nil
}
