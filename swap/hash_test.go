package swap

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHashFunc pins the hash functions to known vectors.
func TestHashFunc(t *testing.T) {
	empty := sha256.Sum256(nil)
	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		hex.EncodeToString(empty[:]),
	)

	h := Hash(nil)
	require.Equal(t, empty[:], h[:])

	// sha256d("") as used for the genesis merkle tests.
	h = Hash256(nil)
	require.Equal(t,
		"5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456",
		hex.EncodeToString(h[:]),
	)

	require.Equal(t, Hash256([]byte{1}), HashDoubleSha256.Sum([]byte{1}))
	require.Equal(t, Hash([]byte{1}), HashSha256.Sum([]byte{1}))

	for _, f := range []HashFunc{HashSha256, HashDoubleSha256} {
		parsed, err := ParseHashFunc(f.String())
		require.NoError(t, err)
		require.Equal(t, f, parsed)
	}

	_, err := ParseHashFunc("md5")
	require.Error(t, err)
}

// TestNewHashPair checks that a generated pair opens its own hashlock.
func TestNewHashPair(t *testing.T) {
	a, err := NewHashPair()
	require.NoError(t, err)

	b, err := NewHashPair()
	require.NoError(t, err)

	require.NotEqual(t, a.Preimage, b.Preimage)
	require.Equal(t, a.Hash, Hash256(a.Preimage[:]))
	require.Equal(t, a.Hash, HashDoubleSha256.Sum(a.Preimage[:]))
}

// TestTimelock covers the strict and inclusive timelock boundaries.
func TestTimelock(t *testing.T) {
	require.True(t, IsFuture(11, 10))
	require.False(t, IsFuture(10, 10))
	require.False(t, IsFuture(9, 10))

	require.False(t, Expired(11, 10))
	require.True(t, Expired(10, 10))
	require.True(t, Expired(9, 10))

	require.Equal(t, uint64(1), Remaining(11, 10))
	require.Zero(t, Remaining(10, 10))
	require.Zero(t, Remaining(3, 10))
}
