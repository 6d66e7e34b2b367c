package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/auth"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/subscribe"
)

// Config holds the dependencies of a ledger.
type Config struct {
	// Store persists the records.
	Store htlcdb.Store

	// Clock is the source of chain time. Timelocks are compared against
	// its unix seconds.
	Clock clock.Clock

	// HashFunc binds secrets to hashlocks.
	HashFunc swap.HashFunc

	// Verifier checks lock signatures. AddLockSig is rejected without
	// one.
	Verifier auth.Verifier
}

// Ledger is an in-process HTLC and pre-commitment contract. All entry points
// are serialized and every entry point, batches included, commits through a
// single store transaction.
type Ledger struct {
	started uint32 // To be used atomically.

	cfg *Config

	// mu serializes all state changing calls.
	mu sync.Mutex

	events *subscribe.Server
}

// New creates a ledger. Start must be called before events are delivered.
func New(cfg *Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errors.New("ledger requires a store")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Ledger{
		cfg:    cfg,
		events: subscribe.NewServer(),
	}, nil
}

// Start starts the event server.
func (l *Ledger) Start() error {
	if !atomic.CompareAndSwapUint32(&l.started, 0, 1) {
		return nil
	}

	return l.events.Start()
}

// Stop stops the event server and closes all subscriptions.
func (l *Ledger) Stop() error {
	if atomic.LoadUint32(&l.started) == 0 {
		return nil
	}

	return l.events.Stop()
}

// now returns the chain time in unix seconds.
func (l *Ledger) now() uint64 {
	return uint64(l.cfg.Clock.Now().Unix())
}

// Now returns the chain time the ledger compares timelocks against.
func (l *Ledger) Now() uint64 {
	return l.now()
}

// update runs fn against a fresh view and commits its writes. Events are
// only published once the writes are durable.
func (l *Ledger) update(ctx context.Context, fn func(*view) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := newView(ctx, l.cfg.Store, l.now())
	if err := fn(v); err != nil {
		return err
	}

	if err := l.cfg.Store.Apply(ctx, v.changeset()); err != nil {
		return err
	}

	for _, event := range v.events {
		l.publish(event)
	}

	return nil
}

// Balance returns the vault balance of an account. The escrow account holds
// the funds of all open records.
func (l *Ledger) Balance(ctx context.Context, owner htlcdb.Address,
	asset htlcdb.Asset) (uint64, error) {

	return l.cfg.Store.FetchBalance(ctx, owner, asset)
}
