package htlcdb

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the default file name of the bolt ledger database.
	dbFileName = "htlc.db"

	// htlcBucketKey holds all htlcs.
	//
	// maps: id -> tlv encoded htlc
	htlcBucketKey = []byte("htlcs")

	// phtlcBucketKey holds all pre-commitments.
	//
	// maps: id -> tlv encoded pre-commitment
	phtlcBucketKey = []byte("phtlcs")

	// senderIndexBucketKey holds one nested bucket per sender that lists
	// the contracts the sender funded.
	//
	// path: senderIndexBucket -> sender -> sequence -> id
	senderIndexBucketKey = []byte("sender-index")

	// balanceBucketKey holds the vault balances.
	//
	// maps: owner || 0x00 || asset -> uint64 balance
	balanceBucketKey = []byte("balances")

	topLevelBuckets = [][]byte{
		htlcBucketKey, phtlcBucketKey, senderIndexBucketKey,
		balanceBucketKey,
	}
)

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// BoltStore stores the ledger in boltdb.
type BoltStore struct {
	db *bbolt.DB
}

// A compile-time flag to ensure that BoltStore implements the Store
// interface.
var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the bolt ledger in dbPath.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, dbFileName)
	bdb, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		// A missing meta bucket means a fresh database, which starts
		// at the latest version.
		metaBucket := tx.Bucket(metaBucketKey)
		if metaBucket == nil {
			log.Infof("Initializing new database with version %v",
				latestDBVersion)

			err := setDBVersion(tx, latestDBVersion)
			if err != nil {
				return err
			}
		}

		for _, key := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(key); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	if err := syncVersions(bdb); err != nil {
		bdb.Close()
		return nil, err
	}

	return &BoltStore{
		db: bdb,
	}, nil
}

// FetchHTLC returns the htlc with the given id or nil.
func (s *BoltStore) FetchHTLC(_ context.Context, id ID) (*HTLC, error) {
	var h *HTLC
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		h, err = fetchHTLC(tx, id)
		return err
	})

	return h, err
}

func fetchHTLC(tx *bbolt.Tx, id ID) (*HTLC, error) {
	value := tx.Bucket(htlcBucketKey).Get(id[:])
	if value == nil {
		return nil, nil
	}

	return deserializeHTLC(id, value)
}

// FetchPHTLC returns the pre-commitment with the given id or nil.
func (s *BoltStore) FetchPHTLC(_ context.Context, id ID) (*PHTLC, error) {
	var p *PHTLC
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		p, err = fetchPHTLC(tx, id)
		return err
	})

	return p, err
}

func fetchPHTLC(tx *bbolt.Tx, id ID) (*PHTLC, error) {
	value := tx.Bucket(phtlcBucketKey).Get(id[:])
	if value == nil {
		return nil, nil
	}

	return deserializePHTLC(id, value)
}

// FetchContracts returns the ids funded by sender in insertion order.
func (s *BoltStore) FetchContracts(_ context.Context, sender Address) ([]ID,
	error) {

	var ids []ID
	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket(senderIndexBucketKey)
		senderBucket := index.Bucket([]byte(sender))
		if senderBucket == nil {
			return nil
		}

		// Keys are big endian sequence numbers, so the cursor walks
		// them in insertion order.
		return senderBucket.ForEach(func(_, v []byte) error {
			var id ID
			copy(id[:], v)
			ids = append(ids, id)

			return nil
		})
	})

	return ids, err
}

// FetchBalance returns the vault balance of an account.
func (s *BoltStore) FetchBalance(_ context.Context, owner Address,
	asset Asset) (uint64, error) {

	var balance uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		balance = fetchBalance(tx, owner, asset)
		return nil
	})

	return balance, err
}

func fetchBalance(tx *bbolt.Tx, owner Address, asset Asset) uint64 {
	value := tx.Bucket(balanceBucketKey).Get(balanceKey(owner, asset))
	if len(value) != 8 {
		return 0
	}

	return byteOrder.Uint64(value)
}

// LastCommitSeq returns the last issued commitment sequence number.
func (s *BoltStore) LastCommitSeq(_ context.Context) (uint64, error) {
	var seq uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(metaBucketKey).Get(commitSeqKey)
		if len(value) == 8 {
			seq = byteOrder.Uint64(value)
		}

		return nil
	})

	return seq, err
}

// ListHTLCs returns all htlcs.
func (s *BoltStore) ListHTLCs(_ context.Context) ([]*HTLC, error) {
	var htlcs []*HTLC
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(htlcBucketKey).ForEach(func(k, v []byte) error {
			var id ID
			copy(id[:], k)

			h, err := deserializeHTLC(id, v)
			if err != nil {
				return err
			}
			htlcs = append(htlcs, h)

			return nil
		})
	})

	return htlcs, err
}

// ListPHTLCs returns all pre-commitments.
func (s *BoltStore) ListPHTLCs(_ context.Context) ([]*PHTLC, error) {
	var phtlcs []*PHTLC
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(phtlcBucketKey).ForEach(func(k, v []byte) error {
			var id ID
			copy(id[:], k)

			p, err := deserializePHTLC(id, v)
			if err != nil {
				return err
			}
			phtlcs = append(phtlcs, p)

			return nil
		})
	})

	return phtlcs, err
}

// Apply writes the changeset in a single bolt transaction.
func (s *BoltStore) Apply(_ context.Context, changes *Changeset) error {
	if err := changes.validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		htlcBucket := tx.Bucket(htlcBucketKey)
		phtlcBucket := tx.Bucket(phtlcBucketKey)

		for _, p := range changes.PHTLCs {
			isNew := phtlcBucket.Get(p.ID[:]) == nil &&
				htlcBucket.Get(p.ID[:]) == nil

			value, err := serializePHTLC(p)
			if err != nil {
				return err
			}
			if err := phtlcBucket.Put(p.ID[:], value); err != nil {
				return err
			}

			if isNew {
				err := addToIndex(tx, p.Sender, p.ID)
				if err != nil {
					return err
				}
			}
		}

		for _, h := range changes.HTLCs {
			isNew := htlcBucket.Get(h.ID[:]) == nil &&
				phtlcBucket.Get(h.ID[:]) == nil

			value, err := serializeHTLC(h)
			if err != nil {
				return err
			}
			if err := htlcBucket.Put(h.ID[:], value); err != nil {
				return err
			}

			if isNew {
				err := addToIndex(tx, h.Sender, h.ID)
				if err != nil {
					return err
				}
			}
		}

		for _, t := range changes.Transfers {
			if err := applyTransfer(tx, t); err != nil {
				return err
			}
		}

		if changes.CommitSeq != 0 {
			err := tx.Bucket(metaBucketKey).Put(
				commitSeqKey, itob(changes.CommitSeq),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func applyTransfer(tx *bbolt.Tx, t Transfer) error {
	balances := tx.Bucket(balanceBucketKey)

	if t.From != "" {
		from := fetchBalance(tx, t.From, t.Asset)
		if from < t.Amount {
			return fmt.Errorf("%w: %v holds %d %v, need %d",
				ErrInsufficientFunds, t.From, from, t.Asset,
				t.Amount)
		}

		err := balances.Put(
			balanceKey(t.From, t.Asset), itob(from-t.Amount),
		)
		if err != nil {
			return err
		}
	}

	to, err := credit(fetchBalance(tx, t.To, t.Asset), t)
	if err != nil {
		return err
	}

	return balances.Put(balanceKey(t.To, t.Asset), itob(to))
}

func addToIndex(tx *bbolt.Tx, sender Address, id ID) error {
	senderBucket, err := tx.Bucket(senderIndexBucketKey).
		CreateBucketIfNotExists([]byte(sender))
	if err != nil {
		return err
	}

	seq, err := senderBucket.NextSequence()
	if err != nil {
		return err
	}

	return senderBucket.Put(itob(seq), id[:])
}

// RebuildIndex drops and recreates the per sender index.
func (s *BoltStore) RebuildIndex(_ context.Context) error {
	return s.db.Update(rebuildIndex)
}

// indexEntry is a primary record as seen by the index rebuild.
type indexEntry struct {
	id        ID
	sender    Address
	createdAt uint64
}

// rebuildIndex recreates the sender index from the primary buckets. The
// original insertion order is approximated by creation time and id.
func rebuildIndex(tx *bbolt.Tx) error {
	err := tx.DeleteBucket(senderIndexBucketKey)
	if err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	if _, err := tx.CreateBucket(senderIndexBucketKey); err != nil {
		return err
	}

	seen := make(map[ID]struct{})
	var entries []indexEntry

	collect := func(bucketKey []byte, decode func(ID, []byte) (
		Address, uint64, error)) error {

		bucket := tx.Bucket(bucketKey)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var id ID
			copy(id[:], k)
			if _, ok := seen[id]; ok {
				return nil
			}
			seen[id] = struct{}{}

			sender, createdAt, err := decode(id, v)
			if err != nil {
				return err
			}
			entries = append(entries, indexEntry{
				id:        id,
				sender:    sender,
				createdAt: createdAt,
			})

			return nil
		})
	}

	err = collect(phtlcBucketKey, func(id ID, v []byte) (Address, uint64,
		error) {

		p, err := deserializePHTLC(id, v)
		if err != nil {
			return "", 0, err
		}

		return p.Sender, p.CreatedAt, nil
	})
	if err != nil {
		return err
	}

	err = collect(htlcBucketKey, func(id ID, v []byte) (Address, uint64,
		error) {

		h, err := deserializeHTLC(id, v)
		if err != nil {
			return "", 0, err
		}

		return h.Sender, h.CreatedAt, nil
	})
	if err != nil {
		return err
	}

	sortIndexEntries(entries)

	for _, e := range entries {
		if err := addToIndex(tx, e.sender, e.id); err != nil {
			return err
		}
	}

	log.Infof("Rebuilt sender index with %d contracts", len(entries))

	return nil
}

func sortIndexEntries(entries []indexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt != entries[j].createdAt {
			return entries[i].createdAt < entries[j].createdAt
		}

		return bytes.Compare(entries[i].id[:], entries[j].id[:]) < 0
	})
}

// Close closes the underlying bolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
