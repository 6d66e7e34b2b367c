package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/auth"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/test"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

const (
	alice htlcdb.Address = "0xalice"
	bob   htlcdb.Address = "0xbob"
	carol htlcdb.Address = "0xcarol"

	startTime = 1_729_861_884
)

var (
	eth = htlcdb.NativeAsset

	usdc = htlcdb.Asset{Kind: htlcdb.AssetToken, Token: "0xusdc"}
)

type testContext struct {
	t      *testing.T
	ledger *Ledger
	store  htlcdb.Store
	clock  *clock.TestClock
}

func newTestContext(t *testing.T, store htlcdb.Store) *testContext {
	testClock := clock.NewTestClock(time.Unix(startTime, 0))

	ledger, err := New(&Config{
		Store:    store,
		Clock:    testClock,
		Verifier: &auth.PackedKeccakVerifier{},
	})
	require.NoError(t, err)

	return &testContext{
		t:      t,
		ledger: ledger,
		store:  store,
		clock:  testClock,
	}
}

func newMemContext(t *testing.T) *testContext {
	return newTestContext(t, htlcdb.NewMemStore())
}

// advance moves chain time forward.
func (c *testContext) advance(seconds uint64) {
	now := c.clock.Now().Add(time.Duration(seconds) * time.Second)
	c.clock.SetTime(now)
}

func (c *testContext) balance(owner htlcdb.Address,
	asset htlcdb.Asset) uint64 {

	bal, err := c.ledger.Balance(context.Background(), owner, asset)
	require.NoError(c.t, err)

	return bal
}

func (c *testContext) htlc(id htlcdb.ID) *htlcdb.HTLC {
	htlc, err := c.ledger.GetHTLCDetails(context.Background(), id)
	require.NoError(c.t, err)

	return htlc
}

func (c *testContext) phtlc(id htlcdb.ID) *htlcdb.PHTLC {
	phtlc, err := c.ledger.GetPHTLCDetails(context.Background(), id)
	require.NoError(c.t, err)

	return phtlc
}

func newPair(t *testing.T) *swap.HashPair {
	pair, err := swap.NewHashPair()
	require.NoError(t, err)

	return pair
}

func createReq(pair *swap.HashPair, amount, timelock uint64) *CreateRequest {
	return &CreateRequest{
		SrcReceiver: bob,
		Hashlock:    pair.Hash,
		Timelock:    timelock,
		Amount:      amount,
		Asset:       eth,
		SrcAsset:    "ETH",
		Dst: htlcdb.Destination{
			Chain:   "STARKNET_SEPOLIA",
			Asset:   "ETH",
			Address: "0xdst",
		},
	}
}

func commitReq(amount, timelock uint64) *CommitRequest {
	return &CommitRequest{
		SrcReceiver:  bob,
		Messenger:    carol,
		Timelock:     timelock,
		Amount:       amount,
		HopChains:    []string{"ETHEREUM_SEPOLIA"},
		HopAssets:    []string{"ETH"},
		HopAddresses: []string{"0xsolver"},
		Asset:        usdc,
		SrcAsset:     "USDC",
	}
}

// TestCreateRedeem locks funds, redeems them with the secret and checks that
// the second redeem and a refund are rejected.
func TestCreateRedeem(t *testing.T) {
	runStoreTest(t, testCreateRedeem)
}

var stores = map[string]func(t *testing.T) htlcdb.Store{
	"mem": func(t *testing.T) htlcdb.Store {
		return htlcdb.NewMemStore()
	},
	"sqlite": func(t *testing.T) htlcdb.Store {
		return htlcdb.NewTestSqliteStore(t)
	},
	"bolt": func(t *testing.T) htlcdb.Store {
		store, err := htlcdb.NewBoltStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, store.Close())
		})

		return store
	},
}

// runStoreTest runs test against a ledger on every store backend.
func runStoreTest(t *testing.T, test func(*testing.T, htlcdb.Store)) {
	for name, newStore := range stores {
		newStore := newStore
		t.Run(name, func(t *testing.T) {
			test(t, newStore(t))
		})
	}
}

func testCreateRedeem(t *testing.T, store htlcdb.Store) {
	ctx := context.Background()
	c := newTestContext(t, store)
	pair := newPair(t)

	req := createReq(pair, 1_000, startTime+3600)
	id, err := c.ledger.Create(ctx, alice, req)
	require.NoError(t, err)
	require.Equal(t, DeriveID(alice, req), id)

	require.EqualValues(t, 1_000, c.balance(htlcdb.EscrowAddress, eth))

	htlc := c.htlc(id)
	require.Equal(t, alice, htlc.Sender)
	require.Equal(t, bob, htlc.SrcReceiver)
	require.Equal(t, [32]byte(pair.Hash), htlc.Hashlock)
	require.Equal(t, uint64(startTime), htlc.CreatedAt)
	require.False(t, htlc.Redeemed)

	// A wrong secret doesn't open the lock.
	err = c.ledger.Redeem(ctx, carol, id, [32]byte{1})
	require.ErrorIs(t, err, ErrHashlockNotMatch)

	require.NoError(t, c.ledger.Redeem(ctx, carol, id, pair.Preimage))

	htlc = c.htlc(id)
	require.True(t, htlc.Redeemed)
	require.False(t, htlc.Refunded)
	require.Equal(t, [32]byte(pair.Preimage), htlc.Secret)

	require.EqualValues(t, 0, c.balance(htlcdb.EscrowAddress, eth))
	require.EqualValues(t, 1_000, c.balance(bob, eth))

	err = c.ledger.Redeem(ctx, carol, id, pair.Preimage)
	require.ErrorIs(t, err, ErrAlreadyRedeemed)

	c.advance(3600)
	err = c.ledger.Refund(ctx, alice, id)
	require.ErrorIs(t, err, ErrAlreadyRedeemed)

	ids, err := c.ledger.GetContracts(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, []htlcdb.ID{id}, ids)
}

// TestCreateValidation covers the rejections of a single create.
func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	tests := []struct {
		name       string
		amount     uint64
		timelock   uint64
		noReceiver bool
		err        error
	}{
		{
			name:     "no funds",
			amount:   0,
			timelock: startTime + 1,
			err:      ErrFundsNotSent,
		},
		{
			name:       "no receiver",
			amount:     1,
			timelock:   startTime + 1,
			noReceiver: true,
			err:        ErrIncorrectData,
		},
		{
			name:     "timelock now",
			amount:   1,
			timelock: startTime,
			err:      ErrNotFutureTimelock,
		},
		{
			name:     "timelock past",
			amount:   1,
			timelock: startTime - 1,
			err:      ErrNotFutureTimelock,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			req := createReq(pair, test.amount, test.timelock)
			if test.noReceiver {
				req.SrcReceiver = ""
			}
			_, err := c.ledger.Create(ctx, alice, req)
			require.ErrorIs(t, err, test.err)
		})
	}

	require.Zero(t, c.balance(htlcdb.EscrowAddress, eth))

	req := createReq(pair, 1, startTime+1)
	_, err := c.ledger.Create(ctx, alice, req)
	require.NoError(t, err)

	_, err = c.ledger.Create(ctx, alice, req)
	require.ErrorIs(t, err, ErrHTLCAlreadyExists)

	// Explicit ids are honored.
	req = createReq(pair, 1, startTime+1)
	req.ID = htlcdb.ID{7}
	id, err := c.ledger.Create(ctx, alice, req)
	require.NoError(t, err)
	require.Equal(t, htlcdb.ID{7}, id)
}

// TestEscrowOverflow tests that a lock which would overflow the escrow
// balance is rejected and that the open locks can still be settled.
func TestEscrowOverflow(t *testing.T) {
	runStoreTest(t, func(t *testing.T, store htlcdb.Store) {
		ctx := context.Background()
		c := newTestContext(t, store)
		first, second := newPair(t), newPair(t)

		id, err := c.ledger.Create(
			ctx, alice, createReq(first, 1<<63, startTime+10),
		)
		require.NoError(t, err)

		_, err = c.ledger.Create(
			ctx, alice, createReq(second, 1<<63, startTime+10),
		)
		require.ErrorIs(t, err, htlcdb.ErrBalanceOverflow)

		_, err = c.ledger.Commit(ctx, alice, &CommitRequest{
			SrcReceiver: bob,
			Timelock:    startTime + 10,
			Amount:      1 << 63,
			Asset:       eth,
		})
		require.ErrorIs(t, err, htlcdb.ErrBalanceOverflow)

		require.EqualValues(
			t, uint64(1<<63), c.balance(htlcdb.EscrowAddress, eth),
		)

		require.NoError(t, c.ledger.Redeem(ctx, bob, id, first.Preimage))
		require.Zero(t, c.balance(htlcdb.EscrowAddress, eth))
		require.EqualValues(t, uint64(1<<63), c.balance(bob, eth))
	})
}

// TestDeriveIDBoundaries tests that shifting bytes between sender and
// receiver changes the derived id.
func TestDeriveIDBoundaries(t *testing.T) {
	pair := newPair(t)

	req := createReq(pair, 1, startTime+1)
	req.SrcReceiver = "0xbob"
	victim := DeriveID("0xalice", req)

	req = createReq(pair, 1, startTime+1)
	req.SrcReceiver = "lice0xbob"
	require.NotEqual(t, victim, DeriveID("0xa", req))

	ctx := context.Background()
	c := newMemContext(t)

	_, err := c.ledger.Create(ctx, "0xa", req)
	require.NoError(t, err)

	req = createReq(pair, 1, startTime+1)
	id, err := c.ledger.Create(ctx, alice, req)
	require.NoError(t, err)
	require.Equal(t, victim, id)
}

// TestTimelockGating checks the redeem and refund windows around the
// timelock.
func TestTimelockGating(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	first, err := c.ledger.Create(
		ctx, alice, createReq(pair, 10, startTime+100),
	)
	require.NoError(t, err)

	req := createReq(pair, 20, startTime+100)
	req.ID = htlcdb.ID{2}
	second, err := c.ledger.Create(ctx, alice, req)
	require.NoError(t, err)

	err = c.ledger.Refund(ctx, alice, first)
	require.ErrorIs(t, err, ErrNotPassedTimelock)

	c.advance(99)
	err = c.ledger.Refund(ctx, alice, first)
	require.ErrorIs(t, err, ErrNotPassedTimelock)
	require.NoError(t, c.ledger.Redeem(ctx, bob, second, pair.Preimage))

	// At the timelock the redeem window is closed and the refund window
	// opens.
	c.advance(1)
	err = c.ledger.Redeem(ctx, bob, first, pair.Preimage)
	require.ErrorIs(t, err, ErrNotFutureTimelock)
	require.NoError(t, c.ledger.Refund(ctx, carol, first))

	err = c.ledger.Refund(ctx, alice, first)
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	err = c.ledger.Redeem(ctx, bob, first, pair.Preimage)
	require.ErrorIs(t, err, ErrAlreadyRefunded)

	require.EqualValues(t, 10, c.balance(alice, eth))
	require.EqualValues(t, 20, c.balance(bob, eth))
	require.EqualValues(t, 0, c.balance(htlcdb.EscrowAddress, eth))

	err = c.ledger.Refund(ctx, alice, htlcdb.ID{9})
	require.ErrorIs(t, err, ErrHTLCNotExists)
	err = c.ledger.Redeem(ctx, alice, htlcdb.ID{9}, pair.Preimage)
	require.ErrorIs(t, err, ErrHTLCNotExists)
}

// TestUnknownIDs checks that lookups of unknown ids yield zero records.
func TestUnknownIDs(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)

	require.Equal(t, &htlcdb.HTLC{}, c.htlc(htlcdb.ID{1}))
	require.Equal(t, &htlcdb.PHTLC{}, c.phtlc(htlcdb.ID{1}))

	lockID, err := c.ledger.GetLockIDByCommitID(ctx, htlcdb.ID{1})
	require.NoError(t, err)
	require.True(t, lockID.IsZero())

	ids, err := c.ledger.GetContracts(ctx, alice)
	require.NoError(t, err)
	require.Empty(t, ids)
}

// TestBatchAtomicity checks that a failing item aborts the whole batch.
func TestBatchAtomicity(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	reqs := []*CreateRequest{
		createReq(pair, 10, startTime+100),
		createReq(pair, 20, startTime+200),
	}

	_, err := c.ledger.CreateBatch(ctx, alice, reqs, 31)
	require.ErrorIs(t, err, ErrIncorrectData)

	_, err = c.ledger.CreateBatch(ctx, alice, nil, 0)
	require.ErrorIs(t, err, ErrIncorrectData)

	overflow := []*CreateRequest{
		createReq(pair, 1<<63, startTime+100),
		createReq(pair, 1<<63, startTime+200),
	}
	_, err = c.ledger.CreateBatch(ctx, alice, overflow, 0)
	require.ErrorIs(t, err, ErrIncorrectData)

	// The second item reuses the id of the first one.
	dup := []*CreateRequest{reqs[0], reqs[0]}
	_, err = c.ledger.CreateBatch(ctx, alice, dup, 20)
	require.ErrorIs(t, err, ErrHTLCAlreadyExists)
	require.ErrorContains(t, err, "item 1")

	require.EqualValues(t, 0, c.balance(htlcdb.EscrowAddress, eth))
	ids, err := c.ledger.GetContracts(ctx, alice)
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = c.ledger.CreateBatch(ctx, alice, reqs, 30)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.EqualValues(t, 30, c.balance(htlcdb.EscrowAddress, eth))

	// A wrong secret in the second position leaves the first unredeemed.
	err = c.ledger.RedeemBatch(
		ctx, bob, ids, [][32]byte{pair.Preimage, {1}},
	)
	require.ErrorIs(t, err, ErrHashlockNotMatch)
	require.False(t, c.htlc(ids[0]).Redeemed)

	err = c.ledger.RedeemBatch(ctx, bob, ids, [][32]byte{pair.Preimage})
	require.ErrorIs(t, err, ErrIncorrectData)

	err = c.ledger.RedeemBatch(
		ctx, bob, ids, [][32]byte{pair.Preimage, pair.Preimage},
	)
	require.NoError(t, err)
	require.True(t, c.htlc(ids[0]).Redeemed)
	require.True(t, c.htlc(ids[1]).Redeemed)
	require.EqualValues(t, 30, c.balance(bob, eth))
	require.EqualValues(t, 0, c.balance(htlcdb.EscrowAddress, eth))
}

// TestCommitConvert commits funds, rejects a conversion by a stranger and
// converts through the messenger.
func TestCommitConvert(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	id, err := c.ledger.Commit(ctx, alice, commitReq(500, startTime+600))
	require.NoError(t, err)
	require.Equal(t, htlcdb.CommitID(1), id)
	require.EqualValues(t, 500, c.balance(htlcdb.EscrowAddress, usdc))

	phtlc := c.phtlc(id)
	require.Equal(t, alice, phtlc.Sender)
	require.Equal(t, carol, phtlc.Messenger)
	require.Equal(t, []htlcdb.Hop{{
		Chain:   "ETHEREUM_SEPOLIA",
		Asset:   "ETH",
		Address: "0xsolver",
	}}, phtlc.Hops)

	_, err = c.ledger.ConvertP(ctx, bob, id, pair.Hash)
	require.ErrorIs(t, err, ErrNoAllowance)
	require.Equal(t, CodeNoAllowance, CodeOf(err))

	_, err = c.ledger.ConvertP(ctx, carol, htlcdb.CommitID(9), pair.Hash)
	require.ErrorIs(t, err, ErrCommitNotExists)

	lockID, err := c.ledger.ConvertP(ctx, carol, id, pair.Hash)
	require.NoError(t, err)
	require.Equal(t, id, lockID)

	lockID, err = c.ledger.GetLockIDByCommitID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, lockID)

	htlc := c.htlc(id)
	require.Equal(t, alice, htlc.Sender)
	require.Equal(t, bob, htlc.SrcReceiver)
	require.EqualValues(t, 500, htlc.Amount)
	require.EqualValues(t, startTime+600, htlc.Timelock)
	require.Equal(t, usdc, htlc.Asset)
	require.Equal(t, id, htlc.CommitID)
	require.True(t, c.phtlc(id).Converted)

	_, err = c.ledger.ConvertP(ctx, alice, id, pair.Hash)
	require.ErrorIs(t, err, ErrAlreadyConverted)
	_, err = c.ledger.AddLock(ctx, alice, id, pair.Hash, startTime+900)
	require.ErrorIs(t, err, ErrHashlockAlreadySet)

	c.advance(600)
	err = c.ledger.RefundP(ctx, alice, id)
	require.ErrorIs(t, err, ErrAlreadyConverted)

	// The funds stay escrowed once, and the converted htlc refunds them.
	require.NoError(t, c.ledger.Refund(ctx, alice, id))
	require.EqualValues(t, 500, c.balance(alice, usdc))
	require.EqualValues(t, 0, c.balance(htlcdb.EscrowAddress, usdc))

	ids, err := c.ledger.GetContracts(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, []htlcdb.ID{id}, ids)
}

// TestCommitValidation covers commitment rejections and the commitment
// refund.
func TestCommitValidation(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	_, err := c.ledger.Commit(ctx, alice, commitReq(0, startTime+1))
	require.ErrorIs(t, err, ErrFundsNotSent)

	_, err = c.ledger.Commit(ctx, alice, commitReq(1, startTime))
	require.ErrorIs(t, err, ErrNotFutureTimelock)

	req := commitReq(1, startTime+1)
	req.HopAssets = nil
	_, err = c.ledger.Commit(ctx, alice, req)
	require.ErrorIs(t, err, ErrIncorrectData)

	req = commitReq(1, startTime+1)
	req.SrcReceiver = ""
	_, err = c.ledger.Commit(ctx, alice, req)
	require.ErrorIs(t, err, ErrIncorrectData)
	require.Zero(t, c.balance(htlcdb.EscrowAddress, usdc))

	id, err := c.ledger.Commit(ctx, alice, commitReq(5, startTime+10))
	require.NoError(t, err)

	_, err = c.ledger.AddLock(ctx, alice, id, pair.Hash, startTime)
	require.ErrorIs(t, err, ErrNotFutureTimelock)

	err = c.ledger.RefundP(ctx, alice, id)
	require.ErrorIs(t, err, ErrNotPassedTimelock)

	c.advance(10)
	_, err = c.ledger.ConvertP(ctx, alice, id, pair.Hash)
	require.ErrorIs(t, err, ErrNotFutureTimelock)

	require.NoError(t, c.ledger.RefundP(ctx, bob, id))
	require.EqualValues(t, 5, c.balance(alice, usdc))

	err = c.ledger.RefundP(ctx, alice, id)
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	_, err = c.ledger.ConvertP(ctx, alice, id, pair.Hash)
	require.ErrorIs(t, err, ErrAlreadyRefunded)
	err = c.ledger.RefundP(ctx, alice, htlcdb.CommitID(9))
	require.ErrorIs(t, err, ErrCommitNotExists)
}

// TestAddLock extends the timelock while converting and checks that a
// converted record without hashlock can't be redeemed.
func TestAddLock(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	ids, err := c.ledger.CommitBatch(ctx, alice, []*CommitRequest{
		commitReq(1, startTime+10),
		commitReq(2, startTime+10),
	}, 3)
	require.NoError(t, err)
	require.Equal(t, []htlcdb.ID{
		htlcdb.CommitID(1), htlcdb.CommitID(2),
	}, ids)

	_, err = c.ledger.AddLock(ctx, alice, ids[0], pair.Hash, startTime+50)
	require.NoError(t, err)
	require.EqualValues(t, startTime+50, c.htlc(ids[0]).Timelock)

	_, err = c.ledger.ConvertP(ctx, alice, ids[1], [32]byte{})
	require.NoError(t, err)

	c.advance(20)
	require.NoError(t, c.ledger.Redeem(ctx, bob, ids[0], pair.Preimage))

	err = c.ledger.Redeem(ctx, bob, ids[1], pair.Preimage)
	require.ErrorIs(t, err, ErrHashlockNotSet)
}

// TestConvertBatch checks batch conversion atomicity.
func TestConvertBatch(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	ids, err := c.ledger.CommitBatch(ctx, alice, []*CommitRequest{
		commitReq(1, startTime+10),
		commitReq(2, startTime+10),
	}, 3)
	require.NoError(t, err)

	_, err = c.ledger.CommitBatch(ctx, alice, []*CommitRequest{
		commitReq(1, startTime+10),
	}, 2)
	require.ErrorIs(t, err, ErrIncorrectData)

	hashlocks := [][32]byte{pair.Hash, pair.Hash}

	_, err = c.ledger.ConvertPBatch(ctx, alice, ids, hashlocks[:1])
	require.ErrorIs(t, err, ErrIncorrectData)

	bad := []htlcdb.ID{ids[0], htlcdb.CommitID(7)}
	_, err = c.ledger.ConvertPBatch(ctx, alice, bad, hashlocks)
	require.ErrorIs(t, err, ErrCommitNotExists)
	require.False(t, c.phtlc(ids[0]).Converted)

	converted, err := c.ledger.ConvertPBatch(ctx, carol, ids, hashlocks)
	require.NoError(t, err)
	require.Equal(t, ids, converted)

	for _, id := range ids {
		require.True(t, c.phtlc(id).Converted)
		require.Equal(t, [32]byte(pair.Hash), c.htlc(id).Hashlock)
	}
}

// TestAddLockSig converts a commitment with a signature of the sender or the
// messenger.
func TestAddLockSig(t *testing.T) {
	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	newSigner := func(index int32) (htlcdb.Address, func(
		auth.LockMessage) []byte) {

		privKey, _ := test.CreateKey(index)
		key, err := ethcrypto.ToECDSA(privKey.Serialize())
		require.NoError(t, err)

		addr := auth.EVMAddress(ethcrypto.PubkeyToAddress(key.PublicKey))
		sign := func(msg auth.LockMessage) []byte {
			digest, err := (&auth.PackedKeccakVerifier{}).Digest(msg)
			require.NoError(t, err)

			sig, err := ethcrypto.Sign(digest, key)
			require.NoError(t, err)

			return sig
		}

		return addr, sign
	}

	sender, signSender := newSigner(1)
	messenger, signMessenger := newSigner(2)
	_, signStranger := newSigner(3)

	ids := make([]htlcdb.ID, 2)
	for i := range ids {
		req := commitReq(10, startTime+100)
		req.Messenger = messenger

		var err error
		ids[i], err = c.ledger.Commit(ctx, sender, req)
		require.NoError(t, err)
	}

	msg := auth.LockMessage{
		ID:       ids[0],
		Hashlock: pair.Hash,
		Timelock: startTime + 200,
	}

	_, err := c.ledger.AddLockSig(ctx, msg, signStranger(msg))
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Equal(t, CodeInvalidSignature, CodeOf(err))

	// A signature over other fields doesn't authorize this lock.
	other := msg
	other.Timelock++
	_, err = c.ledger.AddLockSig(ctx, msg, signSender(other))
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = c.ledger.AddLockSig(ctx, msg, signSender(msg))
	require.NoError(t, err)
	require.EqualValues(t, startTime+200, c.htlc(ids[0]).Timelock)

	_, err = c.ledger.AddLockSig(ctx, msg, signSender(msg))
	require.ErrorIs(t, err, ErrHashlockAlreadySet)

	msg.ID = ids[1]
	_, err = c.ledger.AddLockSig(ctx, msg, signMessenger(msg))
	require.NoError(t, err)
	require.True(t, c.phtlc(ids[1]).Converted)

	msg.ID = htlcdb.CommitID(99)
	_, err = c.ledger.AddLockSig(ctx, msg, signSender(msg))
	require.ErrorIs(t, err, ErrCommitNotExists)
}

// TestEvents checks that committed transitions reach subscribers in order.
func TestEvents(t *testing.T) {
	defer test.Guard(t)()

	ctx := context.Background()
	c := newMemContext(t)
	pair := newPair(t)

	require.NoError(t, c.ledger.Start())
	defer func() {
		require.NoError(t, c.ledger.Stop())
	}()

	client, err := c.ledger.SubscribeEvents()
	require.NoError(t, err)
	defer client.Cancel()

	commitID, err := c.ledger.Commit(ctx, alice, commitReq(1, startTime+10))
	require.NoError(t, err)
	_, err = c.ledger.ConvertP(ctx, alice, commitID, pair.Hash)
	require.NoError(t, err)
	require.NoError(t, c.ledger.Redeem(ctx, bob, commitID, pair.Preimage))

	// Failed calls don't emit anything.
	err = c.ledger.Redeem(ctx, bob, commitID, pair.Preimage)
	require.Error(t, err)

	id, err := c.ledger.Create(ctx, alice, createReq(pair, 3, startTime+5))
	require.NoError(t, err)
	c.advance(5)
	require.NoError(t, c.ledger.Refund(ctx, alice, id))

	expected := []struct {
		eventType EventType
		id        htlcdb.ID
	}{
		{EventCommitted, commitID},
		{EventLockAdded, commitID},
		{EventRedeemed, commitID},
		{EventLocked, id},
		{EventRefunded, id},
	}

	for _, exp := range expected {
		select {
		case update := <-client.Updates():
			event, ok := update.(*Event)
			require.True(t, ok)
			require.Equal(t, exp.eventType, event.Type)
			require.Equal(t, exp.id, event.ID())

		case <-time.After(time.Second):
			t.Fatalf("no %v event", exp.eventType)
		}
	}
}

// TestCodes checks the numeric error codes, including wrapped batch errors.
func TestCodes(t *testing.T) {
	require.Equal(t, CodeOK, CodeOf(nil))
	require.Equal(t, CodeFundsNotSent, CodeOf(ErrFundsNotSent))
	require.Equal(t, CodeHashlockNotMatch, CodeOf(
		errors.Join(errors.New("item 3"), ErrHashlockNotMatch),
	))
	require.Equal(t, CodeUnknown, CodeOf(errors.New("disk full")))
	require.EqualValues(t, 1003, CodeIncorrectData)
}
