package auth

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
)

const (
	// eip712DomainType is the domain type string of the contracts.
	eip712DomainType = "EIP712Domain(string name,string version," +
		"uint256 chainId,address verifyingContract,bytes32 salt)"

	// DefaultTimelockType is the solidity type of the timelock in the
	// addLockMsg struct.
	DefaultTimelockType = "uint48"

	maxUint48 = 1<<48 - 1
)

// EIP712Domain is the typed data domain of an EVM contract.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
	Salt              common.Hash
}

// Separator returns the domain separator hash.
func (d *EIP712Domain) Separator() common.Hash {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}

	return ethcrypto.Keccak256Hash(
		ethcrypto.Keccak256([]byte(eip712DomainType)),
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		common.BigToHash(chainID).Bytes(),
		common.LeftPadBytes(d.VerifyingContract.Bytes(), 32),
		d.Salt.Bytes(),
	)
}

// EIP712Verifier checks EIP-712 signatures over the addLockMsg struct.
type EIP712Verifier struct {
	domain    *EIP712Domain
	separator common.Hash

	// TimelockType is the declared type of the timelock field. Older
	// deployments declare uint256, the encoding is the same.
	TimelockType string
}

// NewEIP712Verifier returns a verifier for the given domain.
func NewEIP712Verifier(domain *EIP712Domain) *EIP712Verifier {
	return &EIP712Verifier{
		domain:       domain,
		separator:    domain.Separator(),
		TimelockType: DefaultTimelockType,
	}
}

// Digest returns the EIP-712 digest of a lock message:
// keccak256(0x19 0x01 || domainSeparator || structHash).
func (v *EIP712Verifier) Digest(msg LockMessage) ([]byte, error) {
	timelockType := v.TimelockType
	if timelockType == "" {
		timelockType = DefaultTimelockType
	}
	if timelockType == DefaultTimelockType && msg.Timelock > maxUint48 {
		return nil, invalid("timelock %d overflows uint48",
			msg.Timelock)
	}

	typeHash := ethcrypto.Keccak256([]byte(
		"addLockMsg(bytes32 Id,bytes32 hashlock," + timelockType +
			" timelock)",
	))
	structHash := ethcrypto.Keccak256(
		typeHash, msg.ID[:], msg.Hashlock[:], uint256(msg.Timelock),
	)

	return ethcrypto.Keccak256(
		[]byte{0x19, 0x01}, v.separator.Bytes(), structHash,
	), nil
}

// Verify checks a 65 byte r || s || v signature.
func (v *EIP712Verifier) Verify(msg LockMessage, sig []byte,
	expected htlcdb.Address) error {

	digest, err := v.Digest(msg)
	if err != nil {
		return err
	}

	return verifyEVM(digest, sig, expected)
}

// PackedKeccakVerifier checks signatures over
// keccak256(bytes32 id || bytes32 hashlock || uint256 timelock).
type PackedKeccakVerifier struct{}

// Digest returns the packed keccak digest of a lock message.
func (v *PackedKeccakVerifier) Digest(msg LockMessage) ([]byte, error) {
	return ethcrypto.Keccak256(
		msg.ID[:], msg.Hashlock[:], uint256(msg.Timelock),
	), nil
}

// Verify checks a 65 byte r || s || v signature.
func (v *PackedKeccakVerifier) Verify(msg LockMessage, sig []byte,
	expected htlcdb.Address) error {

	digest, err := v.Digest(msg)
	if err != nil {
		return err
	}

	return verifyEVM(digest, sig, expected)
}

// uint256 returns the 32 byte big endian encoding of v.
func uint256(v uint64) []byte {
	return common.BigToHash(new(big.Int).SetUint64(v)).Bytes()
}

// EVMAddress returns the identity of an EVM account: the lower case hex
// address.
func EVMAddress(addr common.Address) htlcdb.Address {
	return htlcdb.Address(strings.ToLower(addr.Hex()))
}

// RecoverEVM recovers the signer of a digest. The recovery byte may be
// either 0/1 or 27/28, high s values are rejected.
func RecoverEVM(digest, sig []byte) (htlcdb.Address, error) {
	if len(sig) != 65 {
		return "", invalid("expected 65 byte signature, got %d",
			len(sig))
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !ethcrypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return "", invalid("malformed signature values")
	}

	pubKey, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return "", invalid("%v", err)
	}

	return EVMAddress(ethcrypto.PubkeyToAddress(*pubKey)), nil
}

func verifyEVM(digest, sig []byte, expected htlcdb.Address) error {
	signer, err := RecoverEVM(digest, sig)
	if err != nil {
		return err
	}

	if signer != expected.Normalize() {
		return invalid("signed by %v, expected %v", signer, expected)
	}

	return nil
}
