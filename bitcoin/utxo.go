package bitcoin

import (
	"errors"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultLeaseDuration is how long a selected output stays reserved
	// if the backend keeps reporting it as unspent.
	DefaultLeaseDuration = 10 * time.Minute
)

var (
	// ErrNoUtxos is returned when an address has no spendable outputs.
	ErrNoUtxos = errors.New("no UTXO currently available")

	// ErrInsufficientBalance is returned when the spendable outputs
	// don't cover amount and fee.
	ErrInsufficientBalance = errors.New("Balance is insufficient")
)

// lease reserves an output until expiry.
type lease struct {
	addr   string
	expiry time.Time
}

// utxoLeaser reserves outputs selected for a transaction so that concurrent
// locks never pick the same outpoint.
type utxoLeaser struct {
	clock    clock.Clock
	duration time.Duration

	mu     sync.Mutex
	leases map[wire.OutPoint]lease
}

func newUtxoLeaser(clock clock.Clock, duration time.Duration) *utxoLeaser {
	return &utxoLeaser{
		clock:    clock,
		duration: duration,
		leases:   make(map[wire.OutPoint]lease),
	}
}

// prune drops expired leases and the leases of addr's outputs that the
// backend no longer reports. Must be called with the mutex held.
func (l *utxoLeaser) prune(addr string, reported []*Utxo) {
	now := l.clock.Now()

	unspent := make(map[wire.OutPoint]struct{}, len(reported))
	for _, u := range reported {
		unspent[u.OutPoint] = struct{}{}
	}

	for op, ls := range l.leases {
		_, ok := unspent[op]
		if !now.Before(ls.expiry) || (ls.addr == addr && !ok) {
			delete(l.leases, op)
		}
	}
}

// selectAndLease picks addr's outputs first-fit in backend order until they
// cover amount plus the fee for the selected inputs, and leases them.
func (l *utxoLeaser) selectAndLease(addr string, utxos []*Utxo,
	amount btcutil.Amount, feeFor func(numInputs int) btcutil.Amount) (
	[]*Utxo, btcutil.Amount, btcutil.Amount, error) {

	if len(utxos) == 0 {
		return nil, 0, 0, ErrNoUtxos
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(addr, utxos)

	var (
		selected []*Utxo
		total    btcutil.Amount
		fee      btcutil.Amount
	)
	for _, u := range utxos {
		if _, leased := l.leases[u.OutPoint]; leased {
			continue
		}

		selected = append(selected, u)
		total += u.Value

		fee = feeFor(len(selected))
		if total >= amount+fee {
			break
		}
	}

	switch {
	case len(selected) == 0:
		return nil, 0, 0, ErrNoUtxos

	case total < amount+fee:
		return nil, total, fee, ErrInsufficientBalance
	}

	expiry := l.clock.Now().Add(l.duration)
	for _, u := range selected {
		l.leases[u.OutPoint] = lease{
			addr:   addr,
			expiry: expiry,
		}
	}

	return selected, total, fee, nil
}

// release drops the leases of outputs that were not spent after all.
func (l *utxoLeaser) release(utxos []*Utxo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, u := range utxos {
		delete(l.leases, u.OutPoint)
	}
}

// leased returns the number of active leases.
func (l *utxoLeaser) leased() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.leases)
}
