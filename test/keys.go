package test

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// CreateKey returns a deterministic key pair for the given index. Index 0 is
// valid, the scalar is index+1 so it never ends up zero.
func CreateKey(index int32) (*btcec.PrivateKey, *btcec.PublicKey) {
	var scalar [32]byte
	scalar[28] = byte((index + 1) >> 24)
	scalar[29] = byte((index + 1) >> 16)
	scalar[30] = byte((index + 1) >> 8)
	scalar[31] = byte(index + 1)

	return btcec.PrivKeyFromBytes(scalar[:])
}

// CompressedKey returns the 33 byte compressed encoding that htlc scripts
// commit to.
func CompressedKey(pubKey *btcec.PublicKey) [33]byte {
	var key [33]byte
	copy(key[:], pubKey.SerializeCompressed())

	return key
}
