package htlcdb

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is a Store that keeps everything in memory. It backs dry runs and
// tests.
type MemStore struct {
	mu sync.RWMutex

	htlcs     map[ID]*HTLC
	phtlcs    map[ID]*PHTLC
	index     map[Address][]ID
	balances  map[string]uint64
	commitSeq uint64
}

// A compile-time flag to ensure that MemStore implements the Store interface.
var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		htlcs:    make(map[ID]*HTLC),
		phtlcs:   make(map[ID]*PHTLC),
		index:    make(map[Address][]ID),
		balances: make(map[string]uint64),
	}
}

// FetchHTLC returns the htlc with the given id or nil.
func (s *MemStore) FetchHTLC(_ context.Context, id ID) (*HTLC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.htlcs[id]
	if !ok {
		return nil, nil
	}

	return h.Copy(), nil
}

// FetchPHTLC returns the pre-commitment with the given id or nil.
func (s *MemStore) FetchPHTLC(_ context.Context, id ID) (*PHTLC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.phtlcs[id]
	if !ok {
		return nil, nil
	}

	return p.Copy(), nil
}

// FetchContracts returns the ids funded by sender in insertion order.
func (s *MemStore) FetchContracts(_ context.Context, sender Address) ([]ID,
	error) {

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ID(nil), s.index[sender]...), nil
}

// FetchBalance returns the vault balance of an account.
func (s *MemStore) FetchBalance(_ context.Context, owner Address,
	asset Asset) (uint64, error) {

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[string(balanceKey(owner, asset))], nil
}

// LastCommitSeq returns the last issued commitment sequence number.
func (s *MemStore) LastCommitSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.commitSeq, nil
}

// ListHTLCs returns all htlcs.
func (s *MemStore) ListHTLCs(_ context.Context) ([]*HTLC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	htlcs := make([]*HTLC, 0, len(s.htlcs))
	for _, h := range s.htlcs {
		htlcs = append(htlcs, h.Copy())
	}

	return htlcs, nil
}

// ListPHTLCs returns all pre-commitments.
func (s *MemStore) ListPHTLCs(_ context.Context) ([]*PHTLC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	phtlcs := make([]*PHTLC, 0, len(s.phtlcs))
	for _, p := range s.phtlcs {
		phtlcs = append(phtlcs, p.Copy())
	}

	return phtlcs, nil
}

// Apply writes the changeset. Balances are checked before anything is
// written, so a failing transfer leaves the store untouched.
func (s *MemStore) Apply(_ context.Context, changes *Changeset) error {
	if err := changes.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]uint64)
	balance := func(key string) uint64 {
		if b, ok := staged[key]; ok {
			return b
		}

		return s.balances[key]
	}
	for _, t := range changes.Transfers {
		if t.From != "" {
			key := string(balanceKey(t.From, t.Asset))
			from := balance(key)
			if from < t.Amount {
				return fmt.Errorf("%w: %v holds %d %v, need %d",
					ErrInsufficientFunds, t.From, from,
					t.Asset, t.Amount)
			}
			staged[key] = from - t.Amount
		}

		key := string(balanceKey(t.To, t.Asset))
		to, err := credit(balance(key), t)
		if err != nil {
			return err
		}
		staged[key] = to
	}

	for _, p := range changes.PHTLCs {
		_, isHTLC := s.htlcs[p.ID]
		if _, ok := s.phtlcs[p.ID]; !ok && !isHTLC {
			s.index[p.Sender] = append(s.index[p.Sender], p.ID)
		}
		s.phtlcs[p.ID] = p.Copy()
	}
	for _, h := range changes.HTLCs {
		_, isPHTLC := s.phtlcs[h.ID]
		if _, ok := s.htlcs[h.ID]; !ok && !isPHTLC {
			s.index[h.Sender] = append(s.index[h.Sender], h.ID)
		}
		s.htlcs[h.ID] = h.Copy()
	}
	for key, b := range staged {
		s.balances[key] = b
	}
	if changes.CommitSeq != 0 {
		s.commitSeq = changes.CommitSeq
	}

	return nil
}

// RebuildIndex recreates the per sender index from the primary maps.
func (s *MemStore) RebuildIndex(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []indexEntry
	for id, p := range s.phtlcs {
		entries = append(entries, indexEntry{
			id: id, sender: p.Sender, createdAt: p.CreatedAt,
		})
	}
	for id, h := range s.htlcs {
		if _, ok := s.phtlcs[id]; ok {
			continue
		}
		entries = append(entries, indexEntry{
			id: id, sender: h.Sender, createdAt: h.CreatedAt,
		})
	}
	sortIndexEntries(entries)

	s.index = make(map[Address][]ID)
	for _, e := range entries {
		s.index[e.sender] = append(s.index[e.sender], e.id)
	}

	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error {
	return nil
}
