package swap

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// MaxHtlcScriptSize is the size of the witness script with the
	// largest possible timelock push.
	//
	// - OP_HASH256: 1 byte
	// - hashlock push: 33 bytes
	// - OP_EQUAL OP_IF: 2 bytes
	// - receiver key push: 34 bytes
	// - OP_ELSE: 1 byte
	// - timelock push: up to 6 bytes
	// - OP_CHECKLOCKTIMEVERIFY OP_DROP: 2 bytes
	// - sender key push: 34 bytes
	// - OP_ENDIF OP_CHECKSIG: 2 bytes
	MaxHtlcScriptSize = 1 + 33 + 2 + 34 + 1 + 6 + 2 + 34 + 2

	// MaxSuccessWitnessSize is the maximum witness size for the withdraw
	// path.
	//
	// - number_of_witness_elements: 1 byte
	// - receiver_sig_length: 1 byte
	// - receiver_sig: 73 bytes
	// - preimage_length: 1 byte
	// - preimage: 32 bytes
	// - witness_script_length: 1 byte
	// - witness_script: MaxHtlcScriptSize bytes
	MaxSuccessWitnessSize = 1 + 1 + 73 + 1 + 32 + 1 + MaxHtlcScriptSize

	// MaxTimeoutWitnessSize is the maximum witness size for the refund
	// path. The proof slot is an empty element.
	//
	// - number_of_witness_elements: 1 byte
	// - sender_sig_length: 1 byte
	// - sender_sig: 73 bytes
	// - empty_length: 1 byte
	// - witness_script_length: 1 byte
	// - witness_script: MaxHtlcScriptSize bytes
	MaxTimeoutWitnessSize = 1 + 1 + 73 + 1 + 1 + MaxHtlcScriptSize

	// SpendSequence is the input sequence used when spending the htlc. It
	// is below the maximum so that the lock time is enforced.
	SpendSequence = wire.MaxTxInSequenceNum - 1
)

var (
	// ErrInvalidScript is returned when raw bytes don't form an htlc
	// witness script.
	ErrInvalidScript = errors.New("invalid htlc witness script")

	// ErrPreimageMismatch is returned when a preimage doesn't hash to the
	// hashlock of the script.
	ErrPreimageMismatch = errors.New("preimage does not match hashlock")
)

// HtlcScript is a P2WSH hash time locked contract.
//
// OP_HASH256 <hashlock> OP_EQUAL
// OP_IF
//
//	<receiverKey>
//
// OP_ELSE
//
//	<timelock> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	<senderKey>
//
// OP_ENDIF
// OP_CHECKSIG
type HtlcScript struct {
	// Hashlock is the double sha256 of the preimage.
	Hashlock lntypes.Hash

	// ReceiverKey can spend the output with the preimage.
	ReceiverKey [33]byte

	// SenderKey can spend the output once Timelock has been reached.
	SenderKey [33]byte

	// Timelock is the absolute block height of the refund path.
	Timelock uint32

	// Script is the serialized witness script.
	Script []byte

	// PkScript is the P2WSH output script.
	PkScript []byte

	// Address is the P2WSH address of the contract.
	Address btcutil.Address
}

// NewHtlcScript builds the witness script and the P2WSH locking conditions
// for the given parameters.
func NewHtlcScript(hashlock lntypes.Hash, receiverKey, senderKey [33]byte,
	timelock uint32, params *chaincfg.Params) (*HtlcScript, error) {

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_HASH256)
	builder.AddData(hashlock[:])
	builder.AddOp(txscript.OP_EQUAL)

	builder.AddOp(txscript.OP_IF)
	builder.AddData(receiverKey[:])

	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(timelock))
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(senderKey[:])

	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOp(txscript.OP_CHECKSIG)

	script, err := builder.Script()
	if err != nil {
		return nil, err
	}

	h := &HtlcScript{
		Hashlock:    hashlock,
		ReceiverKey: receiverKey,
		SenderKey:   senderKey,
		Timelock:    timelock,
		Script:      script,
	}
	if err := h.lockingConditions(params); err != nil {
		return nil, err
	}

	return h, nil
}

// ParseHtlcScript recovers the contract parameters from a serialized witness
// script.
func ParseHtlcScript(script []byte, params *chaincfg.Params) (*HtlcScript,
	error) {

	h := &HtlcScript{
		Script: script,
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	next := func(step string) error {
		if !tokenizer.Next() {
			if err := tokenizer.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidScript, err)
			}

			return fmt.Errorf("%w: missing %v", ErrInvalidScript,
				step)
		}

		return nil
	}
	expectOp := func(op byte, name string) error {
		if err := next(name); err != nil {
			return err
		}
		if tokenizer.Opcode() != op {
			return fmt.Errorf("%w: expected %v at offset %d",
				ErrInvalidScript, name, tokenizer.ByteIndex())
		}

		return nil
	}
	expectData := func(dst []byte, name string) error {
		if err := next(name); err != nil {
			return err
		}
		if len(tokenizer.Data()) != len(dst) {
			return fmt.Errorf("%w: expected %d byte %v",
				ErrInvalidScript, len(dst), name)
		}
		copy(dst, tokenizer.Data())

		return nil
	}

	if err := expectOp(txscript.OP_HASH256, "OP_HASH256"); err != nil {
		return nil, err
	}
	if err := expectData(h.Hashlock[:], "hashlock"); err != nil {
		return nil, err
	}
	if err := expectOp(txscript.OP_EQUAL, "OP_EQUAL"); err != nil {
		return nil, err
	}
	if err := expectOp(txscript.OP_IF, "OP_IF"); err != nil {
		return nil, err
	}
	if err := expectData(h.ReceiverKey[:], "receiver key"); err != nil {
		return nil, err
	}
	if err := expectOp(txscript.OP_ELSE, "OP_ELSE"); err != nil {
		return nil, err
	}

	if err := next("timelock"); err != nil {
		return nil, err
	}
	timelock, err := parseScriptInt(tokenizer.Opcode(), tokenizer.Data())
	if err != nil {
		return nil, err
	}
	h.Timelock = timelock

	err = expectOp(txscript.OP_CHECKLOCKTIMEVERIFY, "OP_CHECKLOCKTIMEVERIFY")
	if err != nil {
		return nil, err
	}
	if err := expectOp(txscript.OP_DROP, "OP_DROP"); err != nil {
		return nil, err
	}
	if err := expectData(h.SenderKey[:], "sender key"); err != nil {
		return nil, err
	}
	if err := expectOp(txscript.OP_ENDIF, "OP_ENDIF"); err != nil {
		return nil, err
	}
	if err := expectOp(txscript.OP_CHECKSIG, "OP_CHECKSIG"); err != nil {
		return nil, err
	}

	if !tokenizer.Done() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidScript)
	}

	if err := h.lockingConditions(params); err != nil {
		return nil, err
	}

	return h, nil
}

// parseScriptInt decodes the timelock push. Small values are encoded as
// OP_0..OP_16, larger ones as a minimal little endian script number.
func parseScriptInt(op byte, data []byte) (uint32, error) {
	switch {
	case op == txscript.OP_0:
		return 0, nil

	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return uint32(op - txscript.OP_1 + 1), nil

	case len(data) == 0 || len(data) > 5:
		return 0, fmt.Errorf("%w: bad timelock push", ErrInvalidScript)
	}

	// The sign bit lives in the most significant byte.
	if data[len(data)-1]&0x80 != 0 {
		return 0, fmt.Errorf("%w: negative timelock", ErrInvalidScript)
	}

	var v uint64
	for i, b := range data {
		v |= uint64(b) << (8 * uint(i))
	}
	if v > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: timelock overflow", ErrInvalidScript)
	}

	return uint32(v), nil
}

// lockingConditions derives the P2WSH output script and address.
func (h *HtlcScript) lockingConditions(params *chaincfg.Params) error {
	pkScript, err := input.WitnessScriptHash(h.Script)
	if err != nil {
		return err
	}

	// Skip OP_0 and the push opcode to get the bare script hash.
	address, err := btcutil.NewAddressWitnessScriptHash(
		pkScript[2:], params,
	)
	if err != nil {
		return err
	}

	h.PkScript = pkScript
	h.Address = address

	return nil
}

// StartsWithHash256 reports whether the script opens with OP_HASH256, the
// marker checked before an htlc input is finalized.
func StartsWithHash256(script []byte) bool {
	return len(script) > 0 && script[0] == txscript.OP_HASH256
}

// GenSuccessWitness returns the witness that spends the htlc to the receiver.
// The signature must already carry its sighash flag.
func (h *HtlcScript) GenSuccessWitness(receiverSig []byte,
	preimage lntypes.Preimage) (wire.TxWitness, error) {

	if Hash256(preimage[:]) != h.Hashlock {
		return nil, ErrPreimageMismatch
	}

	witnessStack := make(wire.TxWitness, 3)
	witnessStack[0] = receiverSig
	witnessStack[1] = preimage[:]
	witnessStack[2] = h.Script

	return witnessStack, nil
}

// GenTimeoutWitness returns the witness that refunds the htlc to the sender.
func (h *HtlcScript) GenTimeoutWitness(senderSig []byte) wire.TxWitness {
	witnessStack := make(wire.TxWitness, 3)
	witnessStack[0] = senderSig
	witnessStack[1] = []byte{}
	witnessStack[2] = h.Script

	return witnessStack
}

// IsSuccessWitness checks whether the given stack spends the hashlock path.
func (h *HtlcScript) IsSuccessWitness(witness wire.TxWitness) bool {
	if len(witness) != 3 || !bytes.Equal(witness[2], h.Script) {
		return false
	}

	return Hash256(witness[1]) == h.Hashlock
}

// AddSuccessToEstimator adds a successful spend to a weight estimator.
func (h *HtlcScript) AddSuccessToEstimator(
	estimator *input.TxWeightEstimator) {

	estimator.AddWitnessInput(MaxSuccessWitnessSize)
}

// AddTimeoutToEstimator adds a timeout spend to a weight estimator.
func (h *HtlcScript) AddTimeoutToEstimator(
	estimator *input.TxWeightEstimator) {

	estimator.AddWitnessInput(MaxTimeoutWitnessSize)
}

// String returns the contract address.
func (h *HtlcScript) String() string {
	return h.Address.EncodeAddress()
}
