package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	return b
}

func mustID(t *testing.T, s string) htlcdb.ID {
	t.Helper()

	id, err := htlcdb.ParseID(s)
	require.NoError(t, err)

	return id
}

var (
	testHashlock = [32]byte(common.HexToHash(
		"0xddfafe7925d46e633decb4cb3c933b4c2f7d56679487f4b88ea3e6422eb2b81c",
	))

	testDomain = &EIP712Domain{
		Name:    "LayerswapV8",
		Version: "1",
		ChainID: big.NewInt(11155111),
		VerifyingContract: common.HexToAddress(
			"0x4a403b55fe7348df85182abbd00402d7442e0af2",
		),
		Salt: common.HexToHash(
			"0x2e4ff7169d640efc0d28f2e302a56f1cf54aff7e127eededda94b3df0946f5c0",
		),
	}
)

// TestEIP712Fixtures pins the domain separator and the digests of both
// timelock type declarations.
func TestEIP712Fixtures(t *testing.T) {
	require.Equal(t,
		"d87cd6ef79d4e2b95e15ce8abf732db51ec771f1ca2edccf22a46c729ac56472",
		hex.EncodeToString(ethcrypto.Keccak256([]byte(eip712DomainType))),
	)
	require.Equal(t,
		"0x59d96db34f4b0b86ad177daaaed247ca49037047ce3abcbe595b3788379bca63",
		testDomain.Separator().Hex(),
	)

	msg := LockMessage{
		ID: mustID(t, "0x0072c2bb6f8417f7d8b7cfbeb95db2feb17d2d22"+
			"f0c2801fec1684025d1059af"),
		Hashlock: testHashlock,
		Timelock: 1729861884,
	}

	verifier := NewEIP712Verifier(testDomain)
	digest, err := verifier.Digest(msg)
	require.NoError(t, err)
	require.Equal(t,
		"33da82e13f0f2f6395dce324c0b4cc752bc3a3dc545158a106d06bb4df6153f2",
		hex.EncodeToString(digest),
	)

	verifier.TimelockType = "uint256"
	digest, err = verifier.Digest(msg)
	require.NoError(t, err)
	require.Equal(t,
		"b118b6e8873d43b2dbd0a5ac9355af486aa7516f2e2f72565d46f5c4a14b3758",
		hex.EncodeToString(digest),
	)

	verifier.TimelockType = DefaultTimelockType
	msg.Timelock = 1 << 48
	_, err = verifier.Digest(msg)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

// TestEIP712Verify signs a lock message and checks that only the signer's
// address is accepted.
func TestEIP712Verify(t *testing.T) {
	key, err := ethcrypto.HexToECDSA(
		"e9ac8d073f52df4c776f16915460806dc5c28c9bc9b510ad074c275c8cff89e9",
	)
	require.NoError(t, err)

	signer := EVMAddress(ethcrypto.PubkeyToAddress(key.PublicKey))
	require.Equal(t,
		htlcdb.Address("0xf6517026847b4c166aaa176fe0c5bad1a245778d"),
		signer,
	)

	msg := LockMessage{
		ID:       htlcdb.CommitID(7),
		Hashlock: testHashlock,
		Timelock: 1729861884,
	}

	verifier, err := NewVerifier(SchemeEIP712, testDomain)
	require.NoError(t, err)

	digest, err := verifier.(*EIP712Verifier).Digest(msg)
	require.NoError(t, err)

	sig, err := ethcrypto.Sign(digest, key)
	require.NoError(t, err)

	require.NoError(t, verifier.Verify(msg, sig, signer))

	// Checksummed and 27/28 style inputs are accepted as well.
	sig27 := append([]byte(nil), sig...)
	sig27[64] += 27
	require.NoError(t, verifier.Verify(
		msg, sig27, htlcdb.Address(
			ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		),
	))

	err = verifier.Verify(msg, sig, "0x003430cbde5185d2197c2d40448359b8d811d9a8")
	require.ErrorIs(t, err, ErrInvalidSignature)

	tampered := msg
	tampered.Timelock++
	require.ErrorIs(t, verifier.Verify(tampered, sig, signer),
		ErrInvalidSignature)

	require.ErrorIs(t, verifier.Verify(msg, sig[:64], signer),
		ErrInvalidSignature)

	// The malleable high s twin of a valid signature is rejected.
	n := ethcrypto.S256().Params().N
	s := new(big.Int).SetBytes(sig[32:64])
	highS := append([]byte(nil), sig...)
	copy(highS[32:64], common.LeftPadBytes(new(big.Int).Sub(n, s).Bytes(), 32))
	highS[64] ^= 1
	require.ErrorIs(t, verifier.Verify(msg, highS, signer),
		ErrInvalidSignature)
}

// TestPackedKeccak pins the Nil digest and checks signature recovery.
func TestPackedKeccak(t *testing.T) {
	msg := LockMessage{
		ID: mustID(t, "24A7A0A3630D6B6E4DF04CF38322FF3F0F511FE8"+
			"C64552CD4DBE4C79D34F6BE2"),
		Hashlock: testHashlock,
		Timelock: 1000,
	}

	verifier := &PackedKeccakVerifier{}
	digest, err := verifier.Digest(msg)
	require.NoError(t, err)
	require.Equal(t,
		"ba7d0ab6c5d9c811b851af078a880408088289a2806e794942b9cf0793fc8e76",
		hex.EncodeToString(digest),
	)

	key, err := ethcrypto.HexToECDSA(
		"637eee8c057ae32b58605c671bc6bed42c15c30579413bdc39ec5997a3dcdab2",
	)
	require.NoError(t, err)

	sig, err := ethcrypto.Sign(digest, key)
	require.NoError(t, err)

	expected := htlcdb.Address("0x003430cbde5185d2197c2d40448359b8d811d9a8")
	require.NoError(t, verifier.Verify(msg, sig, expected))
	require.ErrorIs(t, verifier.Verify(msg, sig, "0xf6517026847b4c166aaa176fe0c5bad1a245778d"),
		ErrInvalidSignature)
}

// TestClarity pins the Stacks digest and checks RSV recovery.
func TestClarity(t *testing.T) {
	msg := LockMessage{
		ID:       htlcdb.CommitID(5),
		Hashlock: testHashlock,
		Timelock: 1729865484,
	}

	verifier := &ClarityVerifier{}
	digest, err := verifier.Digest(msg)
	require.NoError(t, err)
	require.Equal(t,
		"6869a8e3cf68e47a0b3277be0fcc8418aff0d7670efd3f8816e334fe4a4ebe14",
		hex.EncodeToString(digest),
	)

	key := secp256k1.PrivKeyFromBytes(mustHex(t,
		"7287ba251d44a4d3fd9276c88ce34c5c52a038955511cccaf77e61068649c178",
	))
	signer := ClarityAddress(key.PubKey())
	require.Equal(t, htlcdb.Address(
		"03cd2cfdbd2ad9332828a7a13ef62cb999e063421c708e863a7ffed71fb61c88c9",
	), signer)

	sig := SignClarity(key, digest)
	require.Len(t, sig, 65)
	require.NoError(t, verifier.Verify(msg, sig, signer))

	other := secp256k1.PrivKeyFromBytes([]byte{1})
	require.ErrorIs(t,
		verifier.Verify(msg, sig, ClarityAddress(other.PubKey())),
		ErrInvalidSignature,
	)

	badRecID := append([]byte(nil), sig...)
	badRecID[64] = 9
	require.ErrorIs(t, verifier.Verify(msg, badRecID, signer),
		ErrInvalidSignature)

	// Ids beyond uint128 can't exist on Stacks.
	msg.ID = htlcdb.ID{1}
	_, err = verifier.Digest(msg)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

// TestTON pins the cell hash and checks ed25519 verification.
func TestTON(t *testing.T) {
	hashlock, ok := new(big.Int).SetString("2054867832145693499336568849"+
		"9927729765381779202072073513007694262427584456407", 10)
	require.True(t, ok)

	msg := LockMessage{
		ID:       htlcdb.CommitID(102),
		Timelock: 1729865484,
	}
	hashlock.FillBytes(msg.Hashlock[:])
	require.Equal(t,
		"2d6e23c82f3856baa3b42cc949d4dd8b8930be6d492ac0f20edadae53c6e66d7",
		hex.EncodeToString(msg.Hashlock[:]),
	)

	verifier := &TONVerifier{}
	digest, err := verifier.Digest(msg)
	require.NoError(t, err)
	require.Equal(t,
		"d328f19a230f566ceb7b09674580b8ff67fbda76fb9d73860096779cdd233f9b",
		hex.EncodeToString(digest),
	)

	// The id is not signed, so another commitment yields the same
	// digest.
	other := msg
	other.ID = htlcdb.CommitID(103)
	otherDigest, err := verifier.Digest(other)
	require.NoError(t, err)
	require.Equal(t, digest, otherDigest)

	seed := make([]byte, ed25519.SeedSize)
	seed[0] = 1
	key := ed25519.NewKeyFromSeed(seed)
	signer := TONAddress(key.Public().(ed25519.PublicKey))

	sig := ed25519.Sign(key, digest)
	require.NoError(t, verifier.Verify(msg, sig, signer))

	tampered := msg
	tampered.Timelock++
	require.ErrorIs(t, verifier.Verify(tampered, sig, signer),
		ErrInvalidSignature)
	require.ErrorIs(t, verifier.Verify(msg, sig, "0x1234"),
		ErrInvalidSignature)
	require.ErrorIs(t, verifier.Verify(msg, sig[:10], signer),
		ErrInvalidSignature)
}

// TestNewVerifier tests scheme selection.
func TestNewVerifier(t *testing.T) {
	for _, scheme := range []Scheme{SchemeKeccak, SchemeClarity, SchemeTON} {
		v, err := NewVerifier(scheme, nil)
		require.NoError(t, err)
		require.NotNil(t, v)
	}

	_, err := NewVerifier(SchemeEIP712, nil)
	require.Error(t, err)

	_, err = NewVerifier("rsa", nil)
	require.ErrorIs(t, err, ErrUnknownScheme)
}
