package htlcdb

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/tlv"
)

var byteOrder = binary.BigEndian

const (
	typeSender      tlv.Type = 1
	typeSrcReceiver tlv.Type = 3
	typeMessenger   tlv.Type = 5
	typeHashlock    tlv.Type = 7
	typeSecret      tlv.Type = 9
	typeAmount      tlv.Type = 11
	typeTimelock    tlv.Type = 13
	typeRedeemed    tlv.Type = 15
	typeRefunded    tlv.Type = 17
	typeConverted   tlv.Type = 19
	typeAssetKind   tlv.Type = 21
	typeAssetToken  tlv.Type = 23
	typeSrcAsset    tlv.Type = 25
	typeDstChain    tlv.Type = 27
	typeDstAsset    tlv.Type = 29
	typeDstAddress  tlv.Type = 31
	typeCommitID    tlv.Type = 33
	typeLockID      tlv.Type = 35
	typeHops        tlv.Type = 37
	typeCreatedAt   tlv.Type = 39
)

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	byteOrder.PutUint64(b, v)
	return b
}

// stringFields binds string fields to byte slices for the duration of an
// encode or decode.
type stringFields struct {
	ptrs []*string
	vals []*[]byte
}

func (s *stringFields) bind(p *string) *[]byte {
	v := []byte(*p)
	s.ptrs = append(s.ptrs, p)
	s.vals = append(s.vals, &v)

	return &v
}

func (s *stringFields) store() {
	for i, p := range s.ptrs {
		*p = string(*s.vals[i])
	}
}

// serializeHTLC encodes an htlc record as a tlv stream. The id is the bucket
// key and not part of the value.
func serializeHTLC(h *HTLC) ([]byte, error) {
	var strs stringFields
	kind := uint8(h.Asset.Kind)
	commitID := [32]byte(h.CommitID)
	sender := string(h.Sender)
	receiver := string(h.SrcReceiver)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSender, strs.bind(&sender)),
		tlv.MakePrimitiveRecord(typeSrcReceiver, strs.bind(&receiver)),
		tlv.MakePrimitiveRecord(typeHashlock, &h.Hashlock),
		tlv.MakePrimitiveRecord(typeSecret, &h.Secret),
		tlv.MakePrimitiveRecord(typeAmount, &h.Amount),
		tlv.MakePrimitiveRecord(typeTimelock, &h.Timelock),
		tlv.MakePrimitiveRecord(typeRedeemed, &h.Redeemed),
		tlv.MakePrimitiveRecord(typeRefunded, &h.Refunded),
		tlv.MakePrimitiveRecord(typeAssetKind, &kind),
		tlv.MakePrimitiveRecord(
			typeAssetToken, strs.bind(&h.Asset.Token),
		),
		tlv.MakePrimitiveRecord(typeSrcAsset, strs.bind(&h.SrcAsset)),
		tlv.MakePrimitiveRecord(typeDstChain, strs.bind(&h.Dst.Chain)),
		tlv.MakePrimitiveRecord(typeDstAsset, strs.bind(&h.Dst.Asset)),
		tlv.MakePrimitiveRecord(
			typeDstAddress, strs.bind(&h.Dst.Address),
		),
		tlv.MakePrimitiveRecord(typeCommitID, &commitID),
		tlv.MakePrimitiveRecord(typeCreatedAt, &h.CreatedAt),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeHTLC decodes an htlc record.
func deserializeHTLC(id ID, value []byte) (*HTLC, error) {
	h := &HTLC{ID: id}

	var (
		strs     stringFields
		kind     uint8
		commitID [32]byte
		sender   string
		receiver string
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSender, strs.bind(&sender)),
		tlv.MakePrimitiveRecord(typeSrcReceiver, strs.bind(&receiver)),
		tlv.MakePrimitiveRecord(typeHashlock, &h.Hashlock),
		tlv.MakePrimitiveRecord(typeSecret, &h.Secret),
		tlv.MakePrimitiveRecord(typeAmount, &h.Amount),
		tlv.MakePrimitiveRecord(typeTimelock, &h.Timelock),
		tlv.MakePrimitiveRecord(typeRedeemed, &h.Redeemed),
		tlv.MakePrimitiveRecord(typeRefunded, &h.Refunded),
		tlv.MakePrimitiveRecord(typeAssetKind, &kind),
		tlv.MakePrimitiveRecord(
			typeAssetToken, strs.bind(&h.Asset.Token),
		),
		tlv.MakePrimitiveRecord(typeSrcAsset, strs.bind(&h.SrcAsset)),
		tlv.MakePrimitiveRecord(typeDstChain, strs.bind(&h.Dst.Chain)),
		tlv.MakePrimitiveRecord(typeDstAsset, strs.bind(&h.Dst.Asset)),
		tlv.MakePrimitiveRecord(
			typeDstAddress, strs.bind(&h.Dst.Address),
		),
		tlv.MakePrimitiveRecord(typeCommitID, &commitID),
		tlv.MakePrimitiveRecord(typeCreatedAt, &h.CreatedAt),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(value)); err != nil {
		return nil, err
	}

	strs.store()
	h.Sender = Address(sender)
	h.SrcReceiver = Address(receiver)
	h.Asset.Kind = AssetKind(kind)
	h.CommitID = commitID

	return h, nil
}

// serializePHTLC encodes a pre-commitment as a tlv stream.
func serializePHTLC(p *PHTLC) ([]byte, error) {
	var strs stringFields
	kind := uint8(p.Asset.Kind)
	lockID := [32]byte(p.LockID)
	sender := string(p.Sender)
	receiver := string(p.SrcReceiver)
	messenger := string(p.Messenger)

	hops, err := serializeHops(p.Hops)
	if err != nil {
		return nil, err
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSender, strs.bind(&sender)),
		tlv.MakePrimitiveRecord(typeSrcReceiver, strs.bind(&receiver)),
		tlv.MakePrimitiveRecord(typeMessenger, strs.bind(&messenger)),
		tlv.MakePrimitiveRecord(typeAmount, &p.Amount),
		tlv.MakePrimitiveRecord(typeTimelock, &p.Timelock),
		tlv.MakePrimitiveRecord(typeRefunded, &p.Refunded),
		tlv.MakePrimitiveRecord(typeConverted, &p.Converted),
		tlv.MakePrimitiveRecord(typeAssetKind, &kind),
		tlv.MakePrimitiveRecord(
			typeAssetToken, strs.bind(&p.Asset.Token),
		),
		tlv.MakePrimitiveRecord(typeSrcAsset, strs.bind(&p.SrcAsset)),
		tlv.MakePrimitiveRecord(typeDstChain, strs.bind(&p.Dst.Chain)),
		tlv.MakePrimitiveRecord(typeDstAsset, strs.bind(&p.Dst.Asset)),
		tlv.MakePrimitiveRecord(
			typeDstAddress, strs.bind(&p.Dst.Address),
		),
		tlv.MakePrimitiveRecord(typeLockID, &lockID),
		tlv.MakePrimitiveRecord(typeHops, &hops),
		tlv.MakePrimitiveRecord(typeCreatedAt, &p.CreatedAt),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializePHTLC decodes a pre-commitment.
func deserializePHTLC(id ID, value []byte) (*PHTLC, error) {
	p := &PHTLC{ID: id}

	var (
		strs      stringFields
		kind      uint8
		lockID    [32]byte
		hops      []byte
		sender    string
		receiver  string
		messenger string
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeSender, strs.bind(&sender)),
		tlv.MakePrimitiveRecord(typeSrcReceiver, strs.bind(&receiver)),
		tlv.MakePrimitiveRecord(typeMessenger, strs.bind(&messenger)),
		tlv.MakePrimitiveRecord(typeAmount, &p.Amount),
		tlv.MakePrimitiveRecord(typeTimelock, &p.Timelock),
		tlv.MakePrimitiveRecord(typeRefunded, &p.Refunded),
		tlv.MakePrimitiveRecord(typeConverted, &p.Converted),
		tlv.MakePrimitiveRecord(typeAssetKind, &kind),
		tlv.MakePrimitiveRecord(
			typeAssetToken, strs.bind(&p.Asset.Token),
		),
		tlv.MakePrimitiveRecord(typeSrcAsset, strs.bind(&p.SrcAsset)),
		tlv.MakePrimitiveRecord(typeDstChain, strs.bind(&p.Dst.Chain)),
		tlv.MakePrimitiveRecord(typeDstAsset, strs.bind(&p.Dst.Asset)),
		tlv.MakePrimitiveRecord(
			typeDstAddress, strs.bind(&p.Dst.Address),
		),
		tlv.MakePrimitiveRecord(typeLockID, &lockID),
		tlv.MakePrimitiveRecord(typeHops, &hops),
		tlv.MakePrimitiveRecord(typeCreatedAt, &p.CreatedAt),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(bytes.NewReader(value)); err != nil {
		return nil, err
	}

	strs.store()
	p.Sender = Address(sender)
	p.SrcReceiver = Address(receiver)
	p.Messenger = Address(messenger)
	p.Asset.Kind = AssetKind(kind)
	p.LockID = lockID

	p.Hops, err = deserializeHops(hops)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// serializeHops writes the hop path as a var int count followed by three var
// strings per hop.
func serializeHops(hops []Hop) ([]byte, error) {
	var b bytes.Buffer
	if err := wire.WriteVarInt(&b, 0, uint64(len(hops))); err != nil {
		return nil, err
	}

	for _, hop := range hops {
		for _, s := range []string{hop.Chain, hop.Asset, hop.Address} {
			if err := wire.WriteVarString(&b, 0, s); err != nil {
				return nil, err
			}
		}
	}

	return b.Bytes(), nil
}

func deserializeHops(value []byte) ([]Hop, error) {
	if len(value) == 0 {
		return nil, nil
	}

	r := bytes.NewReader(value)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > uint64(len(value)) {
		return nil, io.ErrUnexpectedEOF
	}

	var hops []Hop
	for i := uint64(0); i < count; i++ {
		var fields [3]string
		for j := range fields {
			fields[j], err = wire.ReadVarString(r, 0)
			if err != nil {
				return nil, err
			}
		}

		hops = append(hops, Hop{
			Chain:   fields[0],
			Asset:   fields[1],
			Address: fields[2],
		})
	}

	return hops, nil
}

// balanceKey is the vault key of an account: owner || 0x00 || asset.
func balanceKey(owner Address, asset Asset) []byte {
	key := make([]byte, 0, len(owner)+1+len(asset.String()))
	key = append(key, owner...)
	key = append(key, 0)
	key = append(key, asset.String()...)

	return key
}
