package auth

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
)

const (
	// clarityUintPrefix is the type prefix of a serialized Clarity uint.
	clarityUintPrefix = 0x01

	// compactSigMagicOffset is added to the recovery id of a compact
	// signature, plus 4 for compressed keys.
	compactSigMagicOffset = 27
	compactSigCompPubKey  = 4
)

// ClarityVerifier checks Stacks signatures over
// sha256(serialize(uint id) || hashlock || serialize(uint timelock)).
type ClarityVerifier struct{}

// clarityUint serializes a uint128 whose upper 64 bits are hi.
func clarityUint(hi, lo uint64) []byte {
	b := make([]byte, 17)
	b[0] = clarityUintPrefix
	binary.BigEndian.PutUint64(b[1:9], hi)
	binary.BigEndian.PutUint64(b[9:], lo)

	return b
}

// Digest returns the sha256 digest signed for a lock message. Stacks ids are
// uint128, so the upper half of the id must be zero.
func (v *ClarityVerifier) Digest(msg LockMessage) ([]byte, error) {
	for _, b := range msg.ID[:16] {
		if b != 0 {
			return nil, invalid("id %v overflows uint128", msg.ID)
		}
	}

	message := make([]byte, 0, 17+32+17)
	message = append(message, clarityUint(
		binary.BigEndian.Uint64(msg.ID[16:24]),
		binary.BigEndian.Uint64(msg.ID[24:]),
	)...)
	message = append(message, msg.Hashlock[:]...)
	message = append(message, clarityUint(0, msg.Timelock)...)

	digest := sha256.Sum256(message)

	return digest[:], nil
}

// Verify checks a 65 byte r || s || recovery id signature against the hex
// encoded compressed public key of the expected signer.
func (v *ClarityVerifier) Verify(msg LockMessage, sig []byte,
	expected htlcdb.Address) error {

	digest, err := v.Digest(msg)
	if err != nil {
		return err
	}

	signer, err := RecoverClarity(digest, sig)
	if err != nil {
		return err
	}

	if signer != expected.Normalize() {
		return invalid("signed by %v, expected %v", signer, expected)
	}

	return nil
}

// RecoverClarity recovers the compressed public key that produced an RSV
// signature.
func RecoverClarity(digest, sig []byte) (htlcdb.Address, error) {
	if len(sig) != 65 {
		return "", invalid("expected 65 byte signature, got %d",
			len(sig))
	}
	if sig[64] > 3 {
		return "", invalid("bad recovery id %d", sig[64])
	}

	compact := make([]byte, 65)
	compact[0] = compactSigMagicOffset + compactSigCompPubKey + sig[64]
	copy(compact[1:], sig[:64])

	pubKey, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return "", invalid("%v", err)
	}

	return ClarityAddress(pubKey), nil
}

// ClarityAddress returns the identity of a Stacks signer: its hex encoded
// compressed public key.
func ClarityAddress(pubKey *secp256k1.PublicKey) htlcdb.Address {
	return htlcdb.Address(strings.ToLower(
		hex.EncodeToString(pubKey.SerializeCompressed()),
	))
}

// SignClarity signs a digest and returns it in r || s || recovery id form.
func SignClarity(key *secp256k1.PrivateKey, digest []byte) []byte {
	compact := ecdsa.SignCompact(key, digest, true)

	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0] - compactSigMagicOffset - compactSigCompPubKey

	return sig
}
