package htlcd

import (
	"context"
	"testing"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/bitcoin"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, backend string) *Config {
	cfg := DefaultConfig()
	cfg.HtlcdDir = t.TempDir()
	cfg.Network = "regtest"
	cfg.DatabaseBackend = backend
	cfg.Ledger.Scheme = "keccak"
	require.NoError(t, Validate(&cfg))

	return &cfg
}

// TestServicesReopen tests that records survive a restart with both
// database backends.
func TestServicesReopen(t *testing.T) {
	for _, backend := range []string{
		DatabaseBackendBbolt, DatabaseBackendSqlite,
	} {
		t.Run(backend, func(t *testing.T) {
			cfg := newTestConfig(t, backend)
			ctx := context.Background()

			services, err := NewServices(cfg)
			require.NoError(t, err)

			pair, err := swap.NewHashPair()
			require.NoError(t, err)

			l := services.Ledger
			id, err := l.Create(ctx, "0xalice", &ledger.CreateRequest{
				SrcReceiver: "0xbob",
				Hashlock:    pair.Hash,
				Timelock:    l.Now() + 3600,
				Amount:      1000,
				Asset:       htlcdb.NativeAsset,
			})
			require.NoError(t, err)

			services.Close()

			services, err = NewServices(cfg)
			require.NoError(t, err)
			defer services.Close()

			htlc, err := services.Ledger.GetHTLCDetails(ctx, id)
			require.NoError(t, err)
			require.True(t, htlc.Exists())
			require.EqualValues(t, 1000, htlc.Amount)

			// The default hash function is double sha256.
			err = services.Ledger.Redeem(
				ctx, "0xbob", id, pair.Preimage,
			)
			require.NoError(t, err)
		})
	}
}

// TestServicesBitcoin tests the creation of the bitcoin engine.
func TestServicesBitcoin(t *testing.T) {
	cfg := newTestConfig(t, DatabaseBackendBbolt)
	cfg.Bitcoin.MempoolURL = "http://localhost:1/api"
	cfg.Bitcoin.FeeRate = 500

	services, err := NewServices(cfg)
	require.NoError(t, err)
	defer services.Close()

	engine, err := services.Bitcoin()
	require.NoError(t, err)
	require.NotNil(t, engine)
	require.IsType(t, &bitcoin.MempoolBackend{}, services.Backend)

	again, err := services.Bitcoin()
	require.NoError(t, err)
	require.Same(t, engine, again)

	opts := services.FeeOptions()
	require.Equal(t, bitcoin.DefaultFee, opts.Fee)
	require.EqualValues(t, 500, opts.FeeRate)
	require.EqualValues(t, bitcoin.DefaultLockHeight, services.LockHeight())
}

// TestNewChainBackend tests the backend selection.
func TestNewChainBackend(t *testing.T) {
	cfg := newTestConfig(t, DatabaseBackendBbolt)

	cfg.Bitcoin.Backend = "electrum"
	_, _, err := NewChainBackend(cfg)
	require.Error(t, err)

	cfg.Bitcoin.Backend = ChainBackendMempool
	cfg.Network = "simnet"
	_, _, err = NewChainBackend(cfg)
	require.Error(t, err)

	cfg.Bitcoin.Backend = ChainBackendBitcoind
	backend, cleanup, err := NewChainBackend(cfg)
	require.NoError(t, err)
	require.IsType(t, &bitcoin.BitcoindBackend{}, backend)
	cleanup()
}
