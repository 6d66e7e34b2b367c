package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
)

const (
	// tonIntBits is the width of the signed integers in the data cell.
	tonIntBits = 257

	// tonDataBits is the number of data bits of the cell.
	tonDataBits = 2 * tonIntBits
)

// TONVerifier checks ed25519 signatures over the representation hash of a
// cell holding int257 hashlock and int257 timelock. The id is not part of
// the signed data.
type TONVerifier struct{}

// bitWriter appends bits most significant first.
type bitWriter struct {
	buf  []byte
	bits int
}

func (w *bitWriter) writeBit(bit bool) {
	if w.bits%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit {
		w.buf[len(w.buf)-1] |= 0x80 >> uint(w.bits%8)
	}
	w.bits++
}

// writeUint257 stores a non-negative 256 bit value as a signed 257 bit
// integer: a zero sign bit followed by the value.
func (w *bitWriter) writeUint257(v [32]byte) {
	w.writeBit(false)
	for _, b := range v {
		for i := 7; i >= 0; i-- {
			w.writeBit(b&(1<<uint(i)) != 0)
		}
	}
}

// cellHash returns the representation hash of an ordinary cell without
// references: sha256(d1 || d2 || data), where data is padded with a single
// one bit and zeros if it doesn't fill the last byte.
func cellHash(w *bitWriter) [32]byte {
	fullBytes := w.bits / 8
	ceilBytes := (w.bits + 7) / 8

	data := append([]byte(nil), w.buf...)
	if w.bits%8 != 0 {
		data[len(data)-1] |= 0x80 >> uint(w.bits%8)
	}

	repr := make([]byte, 0, 2+len(data))
	repr = append(repr, 0, byte(fullBytes+ceilBytes))
	repr = append(repr, data...)

	return sha256.Sum256(repr)
}

// Digest returns the cell hash that is signed for a lock message.
func (v *TONVerifier) Digest(msg LockMessage) ([]byte, error) {
	var timelock [32]byte
	copy(timelock[24:], uint256(msg.Timelock)[24:])

	w := &bitWriter{}
	w.writeUint257(msg.Hashlock)
	w.writeUint257(timelock)

	hash := cellHash(w)

	return hash[:], nil
}

// Verify checks a 64 byte ed25519 signature against the hex encoded public
// key of the expected signer.
func (v *TONVerifier) Verify(msg LockMessage, sig []byte,
	expected htlcdb.Address) error {

	pubKey, err := hex.DecodeString(
		strings.TrimPrefix(string(expected.Normalize()), "0x"),
	)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return invalid("expected identity %v is not an ed25519 key",
			expected)
	}
	if len(sig) != ed25519.SignatureSize {
		return invalid("expected %d byte signature, got %d",
			ed25519.SignatureSize, len(sig))
	}

	digest, err := v.Digest(msg)
	if err != nil {
		return err
	}

	if !ed25519.Verify(pubKey, digest, sig) {
		return invalid("ed25519 verification failed")
	}

	return nil
}

// TONAddress returns the identity of a TON signer: its hex encoded public
// key.
func TONAddress(pubKey ed25519.PublicKey) htlcdb.Address {
	return htlcdb.Address(hex.EncodeToString(pubKey))
}
