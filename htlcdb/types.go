package htlcdb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ID identifies an htlc or a pre-commitment. Commitment ids are a sequence
// number, htlc ids are either supplied by the caller or derived from the
// contract parameters.
type ID [32]byte

// ZeroID is the id of records that don't exist.
var ZeroID ID

// CommitID renders a commitment sequence number as an id. The number is
// stored big endian in the last 8 bytes.
func CommitID(seq uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[24:], seq)
	return id
}

// IsZero returns true for the zero id.
func (i ID) IsZero() bool {
	return i == ZeroID
}

// String returns the hex encoding of the id.
func (i ID) String() string {
	return hex.EncodeToString(i[:])
}

// ParseID decodes a hex id. Short inputs are left padded, so "5" is the id
// of commitment number 5.
func ParseID(s string) (ID, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, err
	}
	if len(b) > len(ZeroID) {
		return ZeroID, fmt.Errorf("id too long: %d bytes", len(b))
	}

	var id ID
	copy(id[len(id)-len(b):], b)

	return id, nil
}

// Address is a chain agnostic account identity. EVM accounts use the lower
// case 0x address, Stacks and TON accounts the hex encoded public key.
type Address string

// EscrowAddress is the vault account that holds locked funds.
const EscrowAddress Address = "escrow"

// Normalize returns the canonical spelling of an address.
func (a Address) Normalize() Address {
	return Address(strings.ToLower(strings.TrimSpace(string(a))))
}

// AssetKind tells whether a record settles in the native coin of the chain
// or in a token.
type AssetKind uint8

const (
	// AssetNative is the native coin of the chain.
	AssetNative AssetKind = iota

	// AssetToken is a fungible token identified by its contract.
	AssetToken
)

// String returns a human readable asset kind.
func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"

	case AssetToken:
		return "token"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Asset is the settlement asset of a record.
type Asset struct {
	// Kind discriminates native coins from tokens.
	Kind AssetKind

	// Token is the token contract. It is empty for native coins.
	Token string
}

// NativeAsset is the native coin of the chain.
var NativeAsset = Asset{Kind: AssetNative}

// String returns the asset in the form used as a balance key.
func (a Asset) String() string {
	if a.Kind == AssetNative {
		return a.Kind.String()
	}

	return fmt.Sprintf("%v:%v", a.Kind, a.Token)
}

// Destination holds the routing metadata of the destination chain. It is
// carried along but never interpreted.
type Destination struct {
	Chain   string
	Asset   string
	Address string
}

// HTLC is a hash time locked contract.
type HTLC struct {
	// ID is the contract id.
	ID ID

	// Sender funded the contract and receives refunds.
	Sender Address

	// SrcReceiver is paid on redeem.
	SrcReceiver Address

	// Hashlock is the hash of the secret. It is zero until set and can
	// only be set once.
	Hashlock [32]byte

	// Secret is the preimage revealed on redeem.
	Secret [32]byte

	// Amount is the escrowed amount.
	Amount uint64

	// Timelock is the absolute chain time after which the contract can be
	// refunded.
	Timelock uint64

	// Redeemed is set once the secret has been revealed.
	Redeemed bool

	// Refunded is set once the funds went back to the sender.
	Refunded bool

	// Asset is the settlement asset.
	Asset Asset

	// SrcAsset names the asset on the source chain.
	SrcAsset string

	// Dst is the destination metadata.
	Dst Destination

	// CommitID is the pre-commitment this htlc was converted from. It is
	// zero for direct creates.
	CommitID ID

	// CreatedAt is the chain time of creation.
	CreatedAt uint64
}

// Exists returns true if the record was read from the store rather than
// returned as the zero record for an unknown id.
func (h *HTLC) Exists() bool {
	return h.Sender != ""
}

// Settled returns true if the contract was either redeemed or refunded.
func (h *HTLC) Settled() bool {
	return h.Redeemed || h.Refunded
}

// Copy returns a deep copy of the record.
func (h *HTLC) Copy() *HTLC {
	c := *h
	return &c
}

// Hop is one step of the route a pre-commitment expects to travel.
type Hop struct {
	Chain   string
	Asset   string
	Address string
}

// PHTLC is a pre-commitment whose hashlock is not yet known.
type PHTLC struct {
	// ID is the commitment id, see CommitID.
	ID ID

	// Sender funded the commitment.
	Sender Address

	// SrcReceiver becomes the receiver of the htlc.
	SrcReceiver Address

	// Messenger may add the lock on behalf of the sender. It is empty
	// when only the sender is allowed.
	Messenger Address

	// Amount is the escrowed amount.
	Amount uint64

	// Timelock is the absolute chain time after which the commitment can
	// be refunded.
	Timelock uint64

	// Refunded is set once the funds went back to the sender.
	Refunded bool

	// Converted is set once the commitment became an htlc.
	Converted bool

	// LockID is the htlc the commitment converted into.
	LockID ID

	// Hops is the route of the swap.
	Hops []Hop

	// Asset is the settlement asset.
	Asset Asset

	// SrcAsset names the asset on the source chain.
	SrcAsset string

	// Dst is the destination metadata.
	Dst Destination

	// CreatedAt is the chain time of creation.
	CreatedAt uint64
}

// Exists returns true if the record was read from the store rather than
// returned as the zero record for an unknown id.
func (p *PHTLC) Exists() bool {
	return p.Sender != ""
}

// Copy returns a deep copy of the record.
func (p *PHTLC) Copy() *PHTLC {
	c := *p
	c.Hops = append([]Hop(nil), p.Hops...)
	return &c
}

// Transfer moves an amount of an asset between vault accounts. An empty From
// is a deposit from outside the vault.
type Transfer struct {
	From   Address
	To     Address
	Asset  Asset
	Amount uint64
}

// Changeset is the set of writes of one ledger operation. A store applies it
// atomically.
type Changeset struct {
	// HTLCs are inserted or replaced.
	HTLCs []*HTLC

	// PHTLCs are inserted or replaced.
	PHTLCs []*PHTLC

	// Transfers are applied in order.
	Transfers []Transfer

	// CommitSeq is the new value of the commitment counter, zero if it
	// didn't change.
	CommitSeq uint64
}
