package bitcoin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// DefaultFee is the fixed fee paid by every transaction unless a fee
	// or fee rate is given.
	DefaultFee = btcutil.Amount(1800)

	// DefaultLockHeight is the number of blocks after the current height
	// at which the refund path opens.
	DefaultLockHeight = 2

	// MaxDataSize is the maximum OP_RETURN payload of a lock.
	MaxDataSize = txscript.MaxDataCarrierSize

	// txVersion is the version of all engine transactions.
	txVersion = 2
)

var (
	// ErrDataTooLarge is returned when the OP_RETURN payload exceeds
	// MaxDataSize.
	ErrDataTooLarge = errors.New("OP_RETURN data exceeds 80 bytes")

	// ErrCannotFinalize is returned when the witness script of a spend
	// doesn't open with OP_HASH256.
	ErrCannotFinalize = errors.New("can not finalize input")

	// ErrTimelockNotReached is returned when a refund is attempted below
	// the timelock height.
	ErrTimelockNotReached = errors.New("timelock not reached")

	// ErrContractNotFound is returned when the funding transaction has no
	// output paying to the contract.
	ErrContractNotFound = errors.New("contract output not found")

	// ErrAddressMismatch is returned when the given contract address
	// doesn't belong to the witness script.
	ErrAddressMismatch = errors.New("contract address does not match " +
		"witness script")

	// ErrKeyMismatch is returned when the spending key is not the one
	// committed to in the witness script.
	ErrKeyMismatch = errors.New("key does not match witness script")
)

// Config holds the dependencies of an engine.
type Config struct {
	// Backend is the chain view used to query outputs and publish
	// transactions.
	Backend ChainBackend

	// Params are the parameters of the network the engine operates on.
	Params *chaincfg.Params

	// Clock is used to expire utxo leases.
	Clock clock.Clock

	// LeaseDuration is how long selected outputs stay reserved.
	LeaseDuration time.Duration

	// Fee is the fixed fee used when a request specifies neither a fee
	// nor a fee rate. Defaults to DefaultFee.
	Fee btcutil.Amount
}

// Engine builds, signs and publishes htlc transactions. It is safe for
// concurrent use.
type Engine struct {
	cfg *Config

	leases *utxoLeaser
}

// NewEngine creates an engine.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("engine requires a chain backend")
	}
	if cfg.Params == nil {
		return nil, errors.New("engine requires chain params")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.Fee == 0 {
		cfg.Fee = DefaultFee
	}

	return &Engine{
		cfg:    cfg,
		leases: newUtxoLeaser(cfg.Clock, cfg.LeaseDuration),
	}, nil
}

// FeeOptions select how the fee of a transaction is determined. A fee rate
// takes precedence over a fixed fee.
type FeeOptions struct {
	// Fee is a fixed fee in satoshis.
	Fee btcutil.Amount

	// FeeRate computes the fee from the estimated transaction weight.
	FeeRate chainfee.SatPerKWeight
}

// fee returns the fee for a transaction whose weight is estimated by
// estimate.
func (e *Engine) fee(opts FeeOptions,
	estimate func(*input.TxWeightEstimator)) btcutil.Amount {

	switch {
	case opts.FeeRate > 0:
		var estimator input.TxWeightEstimator
		estimate(&estimator)

		return opts.FeeRate.FeeForWeight(estimator.Weight())

	case opts.Fee > 0:
		return opts.Fee

	default:
		return e.cfg.Fee
	}
}

// LockOptions are the optional parameters of a lock.
type LockOptions struct {
	FeeOptions

	// LockHeight is the number of blocks until the refund path opens.
	// Defaults to DefaultLockHeight.
	LockHeight uint32

	// Data is an optional OP_RETURN payload of at most MaxDataSize
	// bytes.
	Data []byte
}

// LockResult describes a published lock. The witness script must be kept to
// withdraw or refund the contract.
type LockResult struct {
	// Hash is the id of the funding transaction.
	Hash chainhash.Hash

	// ContractAddress is the P2WSH address holding the funds.
	ContractAddress btcutil.Address

	// WitnessScript is the serialized contract script.
	WitnessScript []byte

	// Timelock is the height at which the refund path opens.
	Timelock uint32

	// Fee is the fee paid by the funding transaction.
	Fee btcutil.Amount

	// Tx is the published funding transaction.
	Tx *wire.MsgTx
}

// P2WPKHAddress returns the native segwit address of a key.
func P2WPKHAddress(pubKey *btcec.PublicKey,
	params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {

	return btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubKey.SerializeCompressed()), params,
	)
}

// compressedKey returns the 33 byte serialization of a key.
func compressedKey(pubKey *btcec.PublicKey) [33]byte {
	var key [33]byte
	copy(key[:], pubKey.SerializeCompressed())

	return key
}

// dustLimit is the dust limit of the P2WPKH outputs the engine creates.
func dustLimit() btcutil.Amount {
	return lnwallet.DustLimitForSize(input.P2WPKHSize)
}

// Lock funds a new htlc from the P2WPKH outputs of sender. The receiver can
// withdraw with the preimage of hashlock, the sender can refund once the
// chain reaches the timelock height.
func (e *Engine) Lock(ctx context.Context, sender *btcec.PrivateKey,
	receiver *btcec.PublicKey, hashlock lntypes.Hash, amount btcutil.Amount,
	opts *LockOptions) (*LockResult, error) {

	if opts == nil {
		opts = &LockOptions{}
	}
	if len(opts.Data) > MaxDataSize {
		return nil, ErrDataTooLarge
	}
	if amount <= 0 {
		return nil, fmt.Errorf("invalid lock amount %v", amount)
	}

	lockHeight := opts.LockHeight
	if lockHeight == 0 {
		lockHeight = DefaultLockHeight
	}

	height, err := e.cfg.Backend.BestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get best height: %w", err)
	}
	timelock := uint32(height) + lockHeight

	senderPub := sender.PubKey()
	htlc, err := swap.NewHtlcScript(
		hashlock, compressedKey(receiver), compressedKey(senderPub),
		timelock, e.cfg.Params,
	)
	if err != nil {
		return nil, err
	}

	if amount < lnwallet.DustLimitForSize(input.P2WSHSize) {
		return nil, fmt.Errorf("lock amount %v is dust", amount)
	}

	log := &swap.PrefixLog{Logger: log, Hash: hashlock}

	senderAddr, err := P2WPKHAddress(senderPub, e.cfg.Params)
	if err != nil {
		return nil, err
	}
	senderPkScript, err := txscript.PayToAddrScript(senderAddr)
	if err != nil {
		return nil, err
	}

	var dataScript []byte
	if len(opts.Data) > 0 {
		dataScript, err = txscript.NullDataScript(opts.Data)
		if err != nil {
			return nil, err
		}
	}

	utxos, err := e.cfg.Backend.ListUnspent(ctx, senderAddr)
	if err != nil {
		return nil, fmt.Errorf("unable to list unspent outputs: %w",
			err)
	}

	feeFor := func(numInputs int) btcutil.Amount {
		return e.fee(opts.FeeOptions, func(w *input.TxWeightEstimator) {
			for i := 0; i < numInputs; i++ {
				w.AddP2WKHInput()
			}
			w.AddP2WSHOutput()
			if dataScript != nil {
				w.AddOutput(dataScript)
			}
			w.AddP2WKHOutput()
		})
	}

	selected, total, fee, err := e.leases.selectAndLease(
		senderAddr.EncodeAddress(), utxos, amount, feeFor,
	)
	switch {
	case errors.Is(err, ErrNoUtxos):
		return nil, fmt.Errorf("%w at %v", ErrNoUtxos, senderAddr)

	case errors.Is(err, ErrInsufficientBalance):
		return nil, fmt.Errorf("%w. Balance (UTXO Total): %v, "+
			"required: %v", ErrInsufficientBalance, total,
			amount+fee)

	case err != nil:
		return nil, err
	}

	tx, err := e.buildLockTx(
		sender, senderPkScript, selected, htlc.PkScript, amount, fee,
		total, dataScript,
	)
	if err != nil {
		e.leases.release(selected)
		return nil, err
	}

	hash, err := e.cfg.Backend.Broadcast(ctx, tx)
	if err != nil {
		e.leases.release(selected)
		return nil, fmt.Errorf("unable to publish lock tx: %w", err)
	}

	log.Infof("Published lock tx %v to %v, amount=%v, fee=%v, "+
		"timelock=%v", hash, htlc.Address, amount, fee, timelock)

	return &LockResult{
		Hash:            hash,
		ContractAddress: htlc.Address,
		WitnessScript:   htlc.Script,
		Timelock:        timelock,
		Fee:             fee,
		Tx:              tx,
	}, nil
}

// buildLockTx assembles and signs the funding transaction. Change below the
// dust limit is left to the fee.
func (e *Engine) buildLockTx(sender *btcec.PrivateKey,
	senderPkScript []byte, utxos []*Utxo, contractPkScript []byte,
	amount, fee, total btcutil.Amount, dataScript []byte) (*wire.MsgTx,
	error) {

	tx := wire.NewMsgTx(txVersion)

	prevOuts := make([]*wire.TxOut, len(utxos))
	for i, u := range utxos {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: u.OutPoint,
			Sequence:         wire.MaxTxInSequenceNum,
		})
		prevOuts[i] = wire.NewTxOut(int64(u.Value), senderPkScript)
	}

	tx.AddTxOut(wire.NewTxOut(int64(amount), contractPkScript))
	if dataScript != nil {
		tx.AddTxOut(wire.NewTxOut(0, dataScript))
	}

	change := total - amount - fee
	if change >= dustLimit() {
		tx.AddTxOut(wire.NewTxOut(int64(change), senderPkScript))
	}

	packet, err := newPacket(tx, prevOuts, nil)
	if err != nil {
		return nil, err
	}

	fetcher := prevOutFetcher(tx, prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, prevOut := range prevOuts {
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, prevOut.Value, prevOut.PkScript,
			txscript.SigHashAll, sender, true,
		)
		if err != nil {
			return nil, err
		}

		if err := finalizeInput(packet, i, witness); err != nil {
			return nil, err
		}
	}

	return extract(packet, prevOuts)
}

// WithdrawRequest holds the parameters of a withdrawal.
type WithdrawRequest struct {
	FeeOptions

	// Hash is the id of the funding transaction.
	Hash chainhash.Hash

	// ContractAddress optionally pins the expected contract address.
	ContractAddress string

	// WitnessScript is the contract script returned by Lock.
	WitnessScript []byte

	// Receiver is the key committed to in the success path.
	Receiver *btcec.PrivateKey

	// Proof is the preimage of the hashlock.
	Proof lntypes.Preimage
}

// Withdraw spends the contract to the receiver by revealing the proof.
func (e *Engine) Withdraw(ctx context.Context,
	req *WithdrawRequest) (chainhash.Hash, error) {

	htlc, err := e.parseContract(req.WitnessScript, req.ContractAddress)
	if err != nil {
		return chainhash.Hash{}, err
	}

	pubKey := req.Receiver.PubKey()
	if compressedKey(pubKey) != htlc.ReceiverKey {
		return chainhash.Hash{}, ErrKeyMismatch
	}
	if swap.Hash256(req.Proof[:]) != htlc.Hashlock {
		return chainhash.Hash{}, swap.ErrPreimageMismatch
	}

	fee := e.fee(req.FeeOptions, func(w *input.TxWeightEstimator) {
		htlc.AddSuccessToEstimator(w)
		w.AddP2WKHOutput()
	})

	return e.spendContract(ctx, &spendParams{
		htlc:      htlc,
		fundingTx: req.Hash,
		key:       req.Receiver,
		fee:       fee,
		witness: func(sig []byte) (wire.TxWitness, error) {
			return htlc.GenSuccessWitness(sig, req.Proof)
		},
	})
}

// RefundRequest holds the parameters of a refund.
type RefundRequest struct {
	FeeOptions

	// Hash is the id of the funding transaction.
	Hash chainhash.Hash

	// ContractAddress optionally pins the expected contract address.
	ContractAddress string

	// WitnessScript is the contract script returned by Lock.
	WitnessScript []byte

	// Sender is the key committed to in the timeout path.
	Sender *btcec.PrivateKey
}

// Refund spends the contract back to the sender once the chain has reached
// the timelock height.
func (e *Engine) Refund(ctx context.Context,
	req *RefundRequest) (chainhash.Hash, error) {

	htlc, err := e.parseContract(req.WitnessScript, req.ContractAddress)
	if err != nil {
		return chainhash.Hash{}, err
	}

	pubKey := req.Sender.PubKey()
	if compressedKey(pubKey) != htlc.SenderKey {
		return chainhash.Hash{}, ErrKeyMismatch
	}

	height, err := e.cfg.Backend.BestHeight(ctx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("unable to get best "+
			"height: %w", err)
	}
	if uint32(height) < htlc.Timelock {
		return chainhash.Hash{}, fmt.Errorf("%w: height %v, timelock %v",
			ErrTimelockNotReached, height, htlc.Timelock)
	}

	fee := e.fee(req.FeeOptions, func(w *input.TxWeightEstimator) {
		htlc.AddTimeoutToEstimator(w)
		w.AddP2WKHOutput()
	})

	return e.spendContract(ctx, &spendParams{
		htlc:      htlc,
		fundingTx: req.Hash,
		key:       req.Sender,
		fee:       fee,
		lockTime:  htlc.Timelock,
		witness: func(sig []byte) (wire.TxWitness, error) {
			return htlc.GenTimeoutWitness(sig), nil
		},
	})
}

// parseContract decodes a witness script and checks it against the expected
// contract address.
func (e *Engine) parseContract(script []byte,
	address string) (*swap.HtlcScript, error) {

	if !swap.StartsWithHash256(script) {
		return nil, ErrCannotFinalize
	}

	htlc, err := swap.ParseHtlcScript(script, e.cfg.Params)
	if err != nil {
		return nil, err
	}

	if address != "" && address != htlc.Address.EncodeAddress() {
		return nil, fmt.Errorf("%w: %v", ErrAddressMismatch, address)
	}

	return htlc, nil
}

// spendParams describes a single input spend of a contract output.
type spendParams struct {
	htlc      *swap.HtlcScript
	fundingTx chainhash.Hash
	key       *btcec.PrivateKey
	fee       btcutil.Amount
	lockTime  uint32
	witness   func(sig []byte) (wire.TxWitness, error)
}

// spendContract sweeps the contract output to the P2WPKH address of the
// spending key.
func (e *Engine) spendContract(ctx context.Context,
	p *spendParams) (chainhash.Hash, error) {

	log := &swap.PrefixLog{Logger: log, Hash: p.htlc.Hashlock}

	fundingTx, err := e.cfg.Backend.GetTransaction(ctx, p.fundingTx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("unable to fetch funding "+
			"tx %v: %w", p.fundingTx, err)
	}

	outpoint, value, err := swap.GetScriptOutput(fundingTx, p.htlc.PkScript)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("%w in %v",
			ErrContractNotFound, p.fundingTx)
	}

	sweepValue := value - p.fee
	if sweepValue < dustLimit() {
		return chainhash.Hash{}, fmt.Errorf("%w: contract value %v "+
			"doesn't cover fee %v", ErrInsufficientBalance, value,
			p.fee)
	}

	sweepAddr, err := P2WPKHAddress(p.key.PubKey(), e.cfg.Params)
	if err != nil {
		return chainhash.Hash{}, err
	}
	sweepPkScript, err := txscript.PayToAddrScript(sweepAddr)
	if err != nil {
		return chainhash.Hash{}, err
	}

	tx := wire.NewMsgTx(txVersion)
	tx.LockTime = p.lockTime
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *outpoint,
		Sequence:         swap.SpendSequence,
	})
	tx.AddTxOut(wire.NewTxOut(int64(sweepValue), sweepPkScript))

	prevOuts := []*wire.TxOut{
		wire.NewTxOut(int64(value), p.htlc.PkScript),
	}

	packet, err := newPacket(tx, prevOuts, p.htlc.Script)
	if err != nil {
		return chainhash.Hash{}, err
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher(tx, prevOuts))
	sig, err := txscript.RawTxInWitnessSignature(
		tx, sigHashes, 0, int64(value), p.htlc.Script,
		txscript.SigHashAll, p.key,
	)
	if err != nil {
		return chainhash.Hash{}, err
	}

	witness, err := p.witness(sig)
	if err != nil {
		return chainhash.Hash{}, err
	}

	if !swap.StartsWithHash256(packet.Inputs[0].WitnessScript) {
		return chainhash.Hash{}, fmt.Errorf("%w #0", ErrCannotFinalize)
	}
	if err := finalizeInput(packet, 0, witness); err != nil {
		return chainhash.Hash{}, err
	}

	finalTx, err := extract(packet, prevOuts)
	if err != nil {
		return chainhash.Hash{}, err
	}

	hash, err := e.cfg.Backend.Broadcast(ctx, finalTx)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("unable to publish spend "+
			"tx: %w", err)
	}

	log.Infof("Published spend tx %v of %v to %v, fee=%v", hash,
		outpoint, sweepAddr, p.fee)

	return hash, nil
}

// newPacket wraps an unsigned transaction into a psbt carrying the spent
// outputs and an optional witness script for every input.
func newPacket(tx *wire.MsgTx, prevOuts []*wire.TxOut,
	witnessScript []byte) (*psbt.Packet, error) {

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}

	for i, prevOut := range prevOuts {
		err := updater.AddInWitnessUtxo(prevOut, i)
		if err != nil {
			return nil, err
		}

		if witnessScript == nil {
			continue
		}

		err = updater.AddInWitnessScript(witnessScript, i)
		if err != nil {
			return nil, err
		}
	}

	return packet, nil
}

// finalizeInput sets the final witness of a psbt input.
func finalizeInput(packet *psbt.Packet, idx int,
	witness wire.TxWitness) error {

	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, witness); err != nil {
		return err
	}
	packet.Inputs[idx].FinalScriptWitness = buf.Bytes()

	return nil
}

// prevOutFetcher maps the inputs of tx to the outputs they spend.
func prevOutFetcher(tx *wire.MsgTx,
	prevOuts []*wire.TxOut) *txscript.MultiPrevOutFetcher {

	fetcher := txscript.NewMultiPrevOutFetcher(
		make(map[wire.OutPoint]*wire.TxOut, len(prevOuts)),
	)
	for i, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[i])
	}

	return fetcher
}

// extract pulls the signed transaction out of a finalized psbt and runs
// every input through the script engine.
func extract(packet *psbt.Packet, prevOuts []*wire.TxOut) (*wire.MsgTx,
	error) {

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, err
	}

	if err := ValidateTx(tx, prevOuts); err != nil {
		return nil, err
	}

	return tx, nil
}

// ValidateTx executes the scripts of all inputs of tx against the outputs
// they spend.
func ValidateTx(tx *wire.MsgTx, prevOuts []*wire.TxOut) error {
	if len(prevOuts) != len(tx.TxIn) {
		return fmt.Errorf("expected %v spent outputs, got %v",
			len(tx.TxIn), len(prevOuts))
	}

	fetcher := prevOutFetcher(tx, prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, prevOut := range prevOuts {
		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		if err != nil {
			return err
		}

		if err := vm.Execute(); err != nil {
			return fmt.Errorf("input %v: %w", i, err)
		}
	}

	return nil
}
