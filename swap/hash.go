package swap

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lntypes"
)

// HashFunc selects the hash used to bind a secret to a hashlock.
type HashFunc uint8

const (
	// HashDoubleSha256 is sha256(sha256(secret)), matching OP_HASH256 in
	// the bitcoin witness script. It is the zero value and the ledger
	// default.
	HashDoubleSha256 HashFunc = iota

	// HashSha256 is a single round of sha256, as used by the EVM and
	// Stacks contracts when they check a revealed secret.
	HashSha256
)

// String returns the config name of the hash function.
func (h HashFunc) String() string {
	switch h {
	case HashSha256:
		return "sha256"

	case HashDoubleSha256:
		return "hash256"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(h))
	}
}

// Sum hashes the given secret into a hashlock.
func (h HashFunc) Sum(secret []byte) lntypes.Hash {
	if h == HashDoubleSha256 {
		return Hash256(secret)
	}

	return Hash(secret)
}

// ParseHashFunc parses a hash function config name.
func ParseHashFunc(name string) (HashFunc, error) {
	switch name {
	case "sha256":
		return HashSha256, nil

	case "hash256", "sha256d":
		return HashDoubleSha256, nil

	default:
		return 0, fmt.Errorf("unknown hash function: %v", name)
	}
}

// Hash returns the sha256 hash of the secret.
func Hash(secret []byte) lntypes.Hash {
	return lntypes.Hash(sha256.Sum256(secret))
}

// Hash256 returns sha256(sha256(proof)), the value OP_HASH256 leaves on the
// stack.
func Hash256(proof []byte) lntypes.Hash {
	return lntypes.Hash(chainhash.DoubleHashH(proof))
}

// HashPair is a freshly generated preimage and its hashlock.
type HashPair struct {
	// Preimage is the secret revealed on redeem.
	Preimage lntypes.Preimage

	// Hash is the hashlock committed to by the contracts.
	Hash lntypes.Hash
}

// NewHashPair generates a random 32 byte preimage and its double sha256
// hashlock.
func NewHashPair() (*HashPair, error) {
	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}

	return &HashPair{
		Preimage: preimage,
		Hash:     Hash256(preimage[:]),
	}, nil
}
