package htlcd

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/auth"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/bitcoin"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

// Services bundles the ledger and the bitcoin engine created from a config.
type Services struct {
	// Store is the ledger database.
	Store htlcdb.Store

	// Ledger is the htlc and pre-commitment ledger.
	Ledger *ledger.Ledger

	// Backend is the bitcoin chain backend. It is nil until Bitcoin is
	// called.
	Backend bitcoin.ChainBackend

	// Engine is the bitcoin engine. It is nil until Bitcoin is called.
	Engine *bitcoin.Engine

	cfg *Config

	cleanup []func()
}

// NewServices opens the ledger store and creates the ledger. The bitcoin
// engine is only created on demand.
func NewServices(cfg *Config) (*Services, error) {
	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	hashFunc, err := swap.ParseHashFunc(cfg.Ledger.HashFunc)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	verifier, err := NewVerifier(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	l, err := ledger.New(&ledger.Config{
		Store:    store,
		Clock:    clock.NewDefaultClock(),
		HashFunc: hashFunc,
		Verifier: verifier,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if err := l.Start(); err != nil {
		_ = store.Close()
		return nil, err
	}

	s := &Services{
		Store:  store,
		Ledger: l,
		cfg:    cfg,
	}
	s.cleanup = append(s.cleanup, func() {
		if err := l.Stop(); err != nil {
			log.Errorf("Error stopping ledger: %v", err)
		}
		if err := store.Close(); err != nil {
			log.Errorf("Error closing store: %v", err)
		}
	})

	log.Debugf("Ledger opened with %v store, hash function %v",
		cfg.DatabaseBackend, hashFunc)

	return s, nil
}

// Bitcoin creates the chain backend and the bitcoin engine.
func (s *Services) Bitcoin() (*bitcoin.Engine, error) {
	if s.Engine != nil {
		return s.Engine, nil
	}

	params, err := swap.ChainParamsFromNetwork(s.cfg.Network)
	if err != nil {
		return nil, err
	}

	backend, cleanup, err := NewChainBackend(s.cfg)
	if err != nil {
		return nil, err
	}
	s.cleanup = append(s.cleanup, cleanup)

	engine, err := bitcoin.NewEngine(&bitcoin.Config{
		Backend: backend,
		Params:  params,
		Fee:     btcutil.Amount(s.cfg.Bitcoin.Fee),
	})
	if err != nil {
		return nil, err
	}

	s.Backend = backend
	s.Engine = engine

	return engine, nil
}

// FeeOptions returns the configured fee settings.
func (s *Services) FeeOptions() bitcoin.FeeOptions {
	return bitcoin.FeeOptions{
		Fee:     btcutil.Amount(s.cfg.Bitcoin.Fee),
		FeeRate: chainfee.SatPerKWeight(s.cfg.Bitcoin.FeeRate),
	}
}

// LockHeight returns the configured lock height.
func (s *Services) LockHeight() uint32 {
	return s.cfg.Bitcoin.LockHeight
}

// Close releases all resources in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.cleanup = nil
}

// OpenStore opens the configured ledger database.
func OpenStore(cfg *Config) (htlcdb.Store, error) {
	switch cfg.DatabaseBackend {
	case DatabaseBackendBbolt:
		return htlcdb.NewBoltStore(cfg.DataDir)

	case DatabaseBackendSqlite:
		return htlcdb.NewSqliteStore(cfg.Sqlite)

	default:
		return nil, fmt.Errorf("unknown database backend: %v",
			cfg.DatabaseBackend)
	}
}

// NewVerifier creates the verifier of the configured signature scheme.
func NewVerifier(cfg *Config) (auth.Verifier, error) {
	scheme := auth.Scheme(cfg.Ledger.Scheme)

	var domain *auth.EIP712Domain
	if scheme == auth.SchemeEIP712 {
		var err error
		domain, err = cfg.eip712Domain()
		if err != nil {
			return nil, err
		}
	}

	return auth.NewVerifier(scheme, domain)
}

// NewChainBackend creates the configured bitcoin chain backend and returns a
// function that releases it.
func NewChainBackend(cfg *Config) (bitcoin.ChainBackend, func(), error) {
	switch cfg.Bitcoin.Backend {
	case ChainBackendMempool:
		baseURL := cfg.Bitcoin.MempoolURL
		if baseURL == "" {
			var err error
			baseURL, err = bitcoin.MempoolURL(cfg.Network)
			if err != nil {
				return nil, nil, err
			}
		}

		return bitcoin.NewMempoolBackend(baseURL), func() {}, nil

	case ChainBackendBitcoind:
		backend, err := bitcoin.NewBitcoindBackend(cfg.Bitcoin.Bitcoind)
		if err != nil {
			return nil, nil, err
		}

		return backend, backend.Stop, nil

	default:
		return nil, nil, errors.New("unknown chain backend")
	}
}
