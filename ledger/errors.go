package ledger

import (
	"errors"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/auth"
)

var (
	// ErrFundsNotSent is returned when a lock carries no funds.
	ErrFundsNotSent = errors.New("funds not sent")

	// ErrNotFutureTimelock is returned when a timelock is not strictly
	// in the future, or when a redeem comes too late.
	ErrNotFutureTimelock = errors.New("timelock is not in the future")

	// ErrNotPassedTimelock is returned when a refund comes too early.
	ErrNotPassedTimelock = errors.New("timelock has not passed")

	// ErrHTLCAlreadyExists is returned when a create reuses an id.
	ErrHTLCAlreadyExists = errors.New("htlc already exists")

	// ErrHTLCNotExists is returned for an unknown htlc id.
	ErrHTLCNotExists = errors.New("htlc does not exist")

	// ErrCommitNotExists is returned for an unknown commitment id.
	ErrCommitNotExists = errors.New("commitment does not exist")

	// ErrAlreadyRedeemed is returned when a settled htlc is touched.
	ErrAlreadyRedeemed = errors.New("already redeemed")

	// ErrAlreadyRefunded is returned when a refunded record is touched.
	ErrAlreadyRefunded = errors.New("already refunded")

	// ErrAlreadyConverted is returned when a commitment already became
	// an htlc.
	ErrAlreadyConverted = errors.New("commitment already converted")

	// ErrHashlockAlreadySet is returned when a lock is added twice.
	ErrHashlockAlreadySet = errors.New("hashlock already set")

	// ErrHashlockNotSet is returned when redeeming an htlc that never got
	// a hashlock.
	ErrHashlockNotSet = errors.New("hashlock not set")

	// ErrHashlockNotMatch is returned when a secret doesn't open the
	// hashlock.
	ErrHashlockNotMatch = errors.New("hashlock does not match")

	// ErrNoAllowance is returned when the caller is neither the sender
	// nor the messenger of a commitment.
	ErrNoAllowance = errors.New("no allowance")

	// ErrInvalidSignature is returned when a lock signature doesn't
	// verify.
	ErrInvalidSignature = auth.ErrInvalidSignature

	// ErrIncorrectData is returned for malformed batches and requests.
	ErrIncorrectData = errors.New("incorrect data")
)

// Code is the numeric error code of a ledger error. Codes 1000 to 1012
// follow the Stacks contract.
type Code uint32

const (
	CodeOK                 Code = 0
	CodeFundsNotSent       Code = 1000
	CodeNotFutureTimelock  Code = 1001
	CodeNotPassedTimelock  Code = 1002
	CodeIncorrectData      Code = 1003
	CodeHTLCAlreadyExists  Code = 1004
	CodeHTLCNotExists      Code = 1005
	CodeHashlockNotMatch   Code = 1006
	CodeAlreadyRedeemed    Code = 1007
	CodeAlreadyRefunded    Code = 1008
	CodeAlreadyConverted   Code = 1009
	CodeNoAllowance        Code = 1010
	CodeInvalidSignature   Code = 1011
	CodeHashlockAlreadySet Code = 1012
	CodeHashlockNotSet     Code = 1013
	CodeCommitNotExists    Code = 1014
	CodeUnknown            Code = 1999
)

var errorCodes = []struct {
	err  error
	code Code
}{
	{ErrFundsNotSent, CodeFundsNotSent},
	{ErrNotFutureTimelock, CodeNotFutureTimelock},
	{ErrNotPassedTimelock, CodeNotPassedTimelock},
	{ErrIncorrectData, CodeIncorrectData},
	{ErrHTLCAlreadyExists, CodeHTLCAlreadyExists},
	{ErrHTLCNotExists, CodeHTLCNotExists},
	{ErrHashlockNotMatch, CodeHashlockNotMatch},
	{ErrAlreadyRedeemed, CodeAlreadyRedeemed},
	{ErrAlreadyRefunded, CodeAlreadyRefunded},
	{ErrAlreadyConverted, CodeAlreadyConverted},
	{ErrNoAllowance, CodeNoAllowance},
	{ErrInvalidSignature, CodeInvalidSignature},
	{ErrHashlockAlreadySet, CodeHashlockAlreadySet},
	{ErrHashlockNotSet, CodeHashlockNotSet},
	{ErrCommitNotExists, CodeCommitNotExists},
}

// CodeOf maps an error returned by the ledger to its code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}

	return CodeUnknown
}
