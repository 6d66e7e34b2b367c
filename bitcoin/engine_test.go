package bitcoin

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/test"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const startHeight = 100

var params = &chaincfg.RegressionNetParams

type engineContext struct {
	t       *testing.T
	engine  *Engine
	backend *mockBackend

	sender     *btcec.PrivateKey
	senderAddr btcutil.Address

	receiver     *btcec.PrivateKey
	receiverAddr btcutil.Address

	pair *swap.HashPair
}

func newEngineContext(t *testing.T) *engineContext {
	backend := newMockBackend(params, startHeight)

	engine, err := NewEngine(&Config{
		Backend: backend,
		Params:  params,
	})
	require.NoError(t, err)

	sender, senderPub := test.CreateKey(1)
	receiver, receiverPub := test.CreateKey(2)

	senderAddr, err := P2WPKHAddress(senderPub, params)
	require.NoError(t, err)
	receiverAddr, err := P2WPKHAddress(receiverPub, params)
	require.NoError(t, err)

	pair, err := swap.NewHashPair()
	require.NoError(t, err)

	return &engineContext{
		t:            t,
		engine:       engine,
		backend:      backend,
		sender:       sender,
		senderAddr:   senderAddr,
		receiver:     receiver,
		receiverAddr: receiverAddr,
		pair:         pair,
	}
}

func (c *engineContext) lock(amount btcutil.Amount,
	opts *LockOptions) *LockResult {

	res, err := c.engine.Lock(
		context.Background(), c.sender, c.receiver.PubKey(),
		c.pair.Hash, amount, opts,
	)
	require.NoError(c.t, err)

	return res
}

func (c *engineContext) balance(addr btcutil.Address) btcutil.Amount {
	utxos, err := c.backend.ListUnspent(context.Background(), addr)
	require.NoError(c.t, err)

	var total btcutil.Amount
	for _, u := range utxos {
		total += u.Value
	}

	return total
}

// TestLockWithdraw funds a contract and withdraws it with the proof.
func TestLockWithdraw(t *testing.T) {
	ctx := context.Background()
	c := newEngineContext(t)

	c.backend.fund(c.senderAddr, 50_000)
	c.backend.fund(c.senderAddr, 30_000)

	res := c.lock(20_000, &LockOptions{Data: []byte("swap-42")})
	require.EqualValues(t, startHeight+DefaultLockHeight, res.Timelock)
	require.Equal(t, DefaultFee, res.Fee)
	require.Equal(t, res.Tx.TxHash(), res.Hash)

	// The smallest output covers amount and fee, so it is the only
	// input.
	require.Len(t, res.Tx.TxIn, 1)
	require.Len(t, res.Tx.TxOut, 3)
	require.EqualValues(t, 20_000, res.Tx.TxOut[0].Value)
	require.EqualValues(t, 0, res.Tx.TxOut[1].Value)
	require.True(t, bytes.Contains(res.Tx.TxOut[1].PkScript,
		[]byte("swap-42")))
	require.EqualValues(t, 30_000-20_000-1_800, res.Tx.TxOut[2].Value)
	require.Equal(t, btcutil.Amount(50_000+8_200), c.balance(c.senderAddr))

	htlc, err := swap.ParseHtlcScript(res.WitnessScript, params)
	require.NoError(t, err)
	require.Equal(t, res.ContractAddress.String(), htlc.Address.String())
	require.Equal(t, res.Timelock, htlc.Timelock)
	require.Equal(t, c.pair.Hash, htlc.Hashlock)

	req := &WithdrawRequest{
		Hash:            res.Hash,
		ContractAddress: res.ContractAddress.EncodeAddress(),
		WitnessScript:   res.WitnessScript,
		Receiver:        c.receiver,
		Proof:           [32]byte{1},
	}
	_, err = c.engine.Withdraw(ctx, req)
	require.ErrorIs(t, err, swap.ErrPreimageMismatch)

	req.Proof = c.pair.Preimage
	req.Receiver = c.sender
	_, err = c.engine.Withdraw(ctx, req)
	require.ErrorIs(t, err, ErrKeyMismatch)

	req.Receiver = c.receiver
	req.ContractAddress = c.senderAddr.EncodeAddress()
	_, err = c.engine.Withdraw(ctx, req)
	require.ErrorIs(t, err, ErrAddressMismatch)

	req.ContractAddress = res.ContractAddress.EncodeAddress()
	hash, err := c.engine.Withdraw(ctx, req)
	require.NoError(t, err)

	spend := c.backend.txs[hash]
	require.True(t, swap.SpendsOutpoint(spend, wire.OutPoint{
		Hash:  res.Hash,
		Index: 0,
	}))
	require.Equal(t, uint32(swap.SpendSequence), spend.TxIn[0].Sequence)
	require.Len(t, spend.TxIn[0].Witness, 3)
	require.Equal(t, c.pair.Preimage[:], spend.TxIn[0].Witness[1])
	require.Equal(t, btcutil.Amount(20_000-1_800), c.balance(c.receiverAddr))

	// The contract output is gone.
	_, err = c.engine.Withdraw(ctx, req)
	require.ErrorContains(t, err, "missing or spent")
}

// TestLockRefund refunds a contract once its timelock height is reached.
func TestLockRefund(t *testing.T) {
	ctx := context.Background()
	c := newEngineContext(t)

	c.backend.fund(c.senderAddr, 100_000)
	res := c.lock(40_000, &LockOptions{
		LockHeight: 10,
		FeeOptions: FeeOptions{Fee: 1_000},
	})
	require.EqualValues(t, startHeight+10, res.Timelock)

	req := &RefundRequest{
		Hash:          res.Hash,
		WitnessScript: res.WitnessScript,
		Sender:        c.sender,
	}

	c.backend.setHeight(startHeight + 9)
	_, err := c.engine.Refund(ctx, req)
	require.ErrorIs(t, err, ErrTimelockNotReached)

	req.Sender = c.receiver
	c.backend.setHeight(startHeight + 10)
	_, err = c.engine.Refund(ctx, req)
	require.ErrorIs(t, err, ErrKeyMismatch)

	req.Sender = c.sender
	hash, err := c.engine.Refund(ctx, req)
	require.NoError(t, err)

	spend := c.backend.txs[hash]
	require.Equal(t, res.Timelock, spend.LockTime)
	require.Equal(t, uint32(swap.SpendSequence), spend.TxIn[0].Sequence)
	require.Empty(t, spend.TxIn[0].Witness[1])

	// Change of the lock plus the refund.
	require.Equal(
		t, btcutil.Amount(100_000-1_000-1_800), c.balance(c.senderAddr),
	)
}

// TestWrongBranch checks that the script engine rejects a timeout spend
// without lock time and a success spend by the sender.
func TestWrongBranch(t *testing.T) {
	ctx := context.Background()
	c := newEngineContext(t)

	c.backend.fund(c.senderAddr, 100_000)
	res := c.lock(40_000, nil)

	htlc, err := swap.ParseHtlcScript(res.WitnessScript, params)
	require.NoError(t, err)

	_, err = c.engine.spendContract(ctx, &spendParams{
		htlc:      htlc,
		fundingTx: res.Hash,
		key:       c.sender,
		fee:       DefaultFee,
		witness: func(sig []byte) (wire.TxWitness, error) {
			return htlc.GenTimeoutWitness(sig), nil
		},
	})
	require.ErrorContains(t, err, "input 0")

	_, err = c.engine.spendContract(ctx, &spendParams{
		htlc:      htlc,
		fundingTx: res.Hash,
		key:       c.sender,
		fee:       DefaultFee,
		witness: func(sig []byte) (wire.TxWitness, error) {
			return htlc.GenSuccessWitness(sig, c.pair.Preimage)
		},
	})
	require.ErrorContains(t, err, "input 0")

	require.Len(t, c.backend.published, 1)
}

// TestLockErrors covers the rejections of a lock.
func TestLockErrors(t *testing.T) {
	ctx := context.Background()
	c := newEngineContext(t)

	lock := func(amount btcutil.Amount, opts *LockOptions) error {
		_, err := c.engine.Lock(
			ctx, c.sender, c.receiver.PubKey(), c.pair.Hash, amount,
			opts,
		)
		return err
	}

	require.ErrorIs(t, lock(10_000, nil), ErrNoUtxos)

	c.backend.fund(c.senderAddr, 11_000)
	err := lock(10_000, nil)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.ErrorContains(t, err, "Balance is insufficient")

	err = lock(1_000, &LockOptions{Data: bytes.Repeat([]byte{1}, 81)})
	require.ErrorIs(t, err, ErrDataTooLarge)

	require.NoError(t, lock(1_000, &LockOptions{
		Data: bytes.Repeat([]byte{1}, MaxDataSize),
	}))

	_, err = c.engine.Withdraw(ctx, &WithdrawRequest{
		WitnessScript: []byte{txscript.OP_TRUE},
		Receiver:      c.receiver,
	})
	require.ErrorIs(t, err, ErrCannotFinalize)
}

// TestDustChange checks that change below the dust limit goes to the fee.
func TestDustChange(t *testing.T) {
	c := newEngineContext(t)

	c.backend.fund(c.senderAddr, 20_000+1_800+100)
	res := c.lock(20_000, nil)

	require.Len(t, res.Tx.TxOut, 1)
	require.Zero(t, c.balance(c.senderAddr))
}

// TestFeeRate checks fees computed from the estimated weight.
func TestFeeRate(t *testing.T) {
	c := newEngineContext(t)

	c.backend.fund(c.senderAddr, 10_000)
	c.backend.fund(c.senderAddr, 20_000)

	feeRate := chainfee.SatPerKWeight(2_500)
	res := c.lock(25_000, &LockOptions{
		FeeOptions: FeeOptions{FeeRate: feeRate},
	})

	var estimator input.TxWeightEstimator
	estimator.AddP2WKHInput()
	estimator.AddP2WKHInput()
	estimator.AddP2WSHOutput()
	estimator.AddP2WKHOutput()
	fee := feeRate.FeeForWeight(estimator.Weight())

	require.Equal(t, fee, res.Fee)
	require.Len(t, res.Tx.TxIn, 2)
	require.EqualValues(t, 30_000-25_000-fee, res.Tx.TxOut[1].Value)
}

// TestConcurrentLocks checks that concurrent locks never select the same
// output.
func TestConcurrentLocks(t *testing.T) {
	defer test.Guard(t)()

	c := newEngineContext(t)

	const numLocks = 4
	for i := 0; i < numLocks; i++ {
		c.backend.fund(c.senderAddr, btcutil.Amount(30_000+i))
	}

	var eg errgroup.Group
	for i := 0; i < numLocks; i++ {
		eg.Go(func() error {
			_, err := c.engine.Lock(
				context.Background(), c.sender,
				c.receiver.PubKey(), c.pair.Hash, 20_000, nil,
			)
			return err
		})
	}
	require.NoError(t, eg.Wait())

	require.Len(t, c.backend.published, numLocks)
}
