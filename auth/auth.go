// Package auth verifies off-chain lock authorizations. The party allowed to
// add a lock to a pre-commitment signs the lock parameters, and anyone holding
// the signature may submit it. Every chain family signs a different byte
// layout, so a Verifier pairs a canonicalization with a signature scheme.
package auth

import (
	"errors"
	"fmt"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
)

var (
	// ErrInvalidSignature is returned when a signature doesn't recover to
	// the expected identity.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnknownScheme is returned for an unsupported scheme name.
	ErrUnknownScheme = errors.New("unknown signature scheme")
)

// LockMessage holds the fields an addLock authorization commits to.
type LockMessage struct {
	// ID is the pre-commitment id.
	ID htlcdb.ID

	// Hashlock is the hashlock to set.
	Hashlock [32]byte

	// Timelock is the new absolute timelock.
	Timelock uint64
}

// Canonicalizer produces the digest that is signed for a lock message.
type Canonicalizer func(msg LockMessage) ([]byte, error)

// Verifier checks that sig authorizes msg on behalf of expected.
type Verifier interface {
	// Verify returns nil if the signature is valid and was produced by
	// the expected identity. Any mismatch is reported as
	// ErrInvalidSignature.
	Verify(msg LockMessage, sig []byte, expected htlcdb.Address) error
}

// Scheme names a signature scheme.
type Scheme string

const (
	// SchemeEIP712 is EIP-712 typed data signed with secp256k1, used by
	// the EVM contracts.
	SchemeEIP712 Scheme = "eip712"

	// SchemeKeccak is keccak256 over the packed fields, used on Nil.
	SchemeKeccak Scheme = "keccak"

	// SchemeClarity is sha256 over Clarity serialized fields with a
	// recoverable secp256k1 signature, used on Stacks.
	SchemeClarity Scheme = "clarity"

	// SchemeTON is ed25519 over a cell hash, used on TON.
	SchemeTON Scheme = "ton"
)

// NewVerifier returns the verifier of a scheme. The domain is only used by
// SchemeEIP712.
func NewVerifier(scheme Scheme, domain *EIP712Domain) (Verifier, error) {
	switch scheme {
	case SchemeEIP712:
		if domain == nil {
			return nil, errors.New("eip712 requires a domain")
		}

		return NewEIP712Verifier(domain), nil

	case SchemeKeccak:
		return &PackedKeccakVerifier{}, nil

	case SchemeClarity:
		return &ClarityVerifier{}, nil

	case SchemeTON:
		return &TONVerifier{}, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownScheme, scheme)
	}
}

// invalid wraps ErrInvalidSignature with a reason.
func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %v", ErrInvalidSignature,
		fmt.Sprintf(format, args...))
}
