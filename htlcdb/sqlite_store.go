package htlcdb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // Register relevant drivers.
)

const (
	// sqliteOptionPrefix is the string prefix sqlite uses to set various
	// options. This is used in the following format:
	//   * sqliteOptionPrefix || option_name = option_value.
	sqliteOptionPrefix = "_pragma"
)

//go:embed migrations/*.sql
var sqlSchemas embed.FS

// SqliteConfig holds all the config arguments needed to interact with our
// sqlite DB.
type SqliteConfig struct {
	// SkipMigrations if true, then all the tables will be created on start
	// up if they don't already exist.
	SkipMigrations bool `long:"skipmigrations" description:"Skip applying migrations on startup."`

	// DatabaseFileName is the full file path where the database file can be
	// found.
	DatabaseFileName string `long:"dbfile" description:"The full path to the database."`
}

// SqliteStore is a sqlite based ledger store.
type SqliteStore struct {
	cfg *SqliteConfig

	db *sql.DB
}

// A compile-time flag to ensure that SqliteStore implements the Store
// interface.
var _ Store = (*SqliteStore)(nil)

// NewSqliteStore attempts to open a new sqlite database based on the passed
// config.
func NewSqliteStore(cfg *SqliteConfig) (*SqliteStore, error) {
	pragmaOptions := []struct {
		name  string
		value string
	}{
		{
			name:  "foreign_keys",
			value: "on",
		},
		{
			name:  "journal_mode",
			value: "WAL",
		},
		{
			name:  "busy_timeout",
			value: "5000",
		},
	}
	sqliteOptions := make(url.Values)
	for _, option := range pragmaOptions {
		sqliteOptions.Add(
			sqliteOptionPrefix,
			fmt.Sprintf("%v=%v", option.name, option.value),
		)
	}

	// The DSN is the file name followed by the pragma options as a query
	// string, see https://pkg.go.dev/modernc.org/sqlite#Driver.Open.
	dsn := fmt.Sprintf(
		"%v?%v", cfg.DatabaseFileName, sqliteOptions.Encode(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if !cfg.SkipMigrations {
		driver, err := sqlite_migrate.WithInstance(
			db, &sqlite_migrate.Config{},
		)
		if err != nil {
			db.Close()
			return nil, err
		}

		err = applyMigrations(sqlSchemas, driver, "migrations", "sqlite")
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SqliteStore{
		cfg: cfg,
		db:  db,
	}, nil
}

// applyMigrations runs all up migrations found under path in the embedded
// file system.
func applyMigrations(fs embed.FS, driver database.Driver, path,
	dbName string) error {

	source, err := iofs.New(fs, path)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("migrations", source, dbName, driver)
	if err != nil {
		return err
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Infof("Applying migrations from version=%v", version)

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

// NewTestSqliteStore is a helper function that creates an SQLite database for
// testing.
func NewTestSqliteStore(t *testing.T) *SqliteStore {
	t.Helper()

	t.Logf("Creating new SQLite DB for testing")

	dbFileName := filepath.Join(t.TempDir(), "tmp.db")

	store, err := NewSqliteStore(&SqliteConfig{
		DatabaseFileName: dbFileName,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

// execTx runs txBody in a db transaction and commits it if txBody succeeds.
func (s *SqliteStore) execTx(ctx context.Context, readOnly bool,
	txBody func(*sql.Tx) error) error {

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return err
	}

	// Rollback is a no-op once the tx is committed.
	defer tx.Rollback() //nolint: errcheck

	if err := txBody(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string,
		args ...interface{}) (*sql.Rows, error)

	QueryRowContext(ctx context.Context, query string,
		args ...interface{}) *sql.Row

	ExecContext(ctx context.Context, query string,
		args ...interface{}) (sql.Result, error)
}

const htlcColumns = `id, sender, src_receiver, hashlock, secret, amount,
	timelock, redeemed, refunded, asset_kind, asset_token, src_asset,
	dst_chain, dst_asset, dst_address, commit_id, created_at`

const phtlcColumns = `id, sender, src_receiver, messenger, amount, timelock,
	refunded, converted, lock_id, asset_kind, asset_token, src_asset,
	dst_chain, dst_asset, dst_address, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHTLC(row rowScanner) (*HTLC, error) {
	var (
		h                         HTLC
		id, hashlock, secret      []byte
		commitID                  []byte
		amount, timelock, created int64
		kind                      int64
		sender, receiver          string
	)

	err := row.Scan(
		&id, &sender, &receiver, &hashlock, &secret, &amount,
		&timelock, &h.Redeemed, &h.Refunded, &kind, &h.Asset.Token,
		&h.SrcAsset, &h.Dst.Chain, &h.Dst.Asset, &h.Dst.Address,
		&commitID, &created,
	)
	if err != nil {
		return nil, err
	}

	copy(h.ID[:], id)
	copy(h.Hashlock[:], hashlock)
	copy(h.Secret[:], secret)
	copy(h.CommitID[:], commitID)
	h.Sender = Address(sender)
	h.SrcReceiver = Address(receiver)
	h.Amount = uint64(amount)
	h.Timelock = uint64(timelock)
	h.CreatedAt = uint64(created)
	h.Asset.Kind = AssetKind(kind)

	return &h, nil
}

func scanPHTLC(row rowScanner) (*PHTLC, error) {
	var (
		p                           PHTLC
		id, lockID                  []byte
		amount, timelock, created   int64
		kind                        int64
		sender, receiver, messenger string
	)

	err := row.Scan(
		&id, &sender, &receiver, &messenger, &amount, &timelock,
		&p.Refunded, &p.Converted, &lockID, &kind, &p.Asset.Token,
		&p.SrcAsset, &p.Dst.Chain, &p.Dst.Asset, &p.Dst.Address,
		&created,
	)
	if err != nil {
		return nil, err
	}

	copy(p.ID[:], id)
	copy(p.LockID[:], lockID)
	p.Sender = Address(sender)
	p.SrcReceiver = Address(receiver)
	p.Messenger = Address(messenger)
	p.Amount = uint64(amount)
	p.Timelock = uint64(timelock)
	p.CreatedAt = uint64(created)
	p.Asset.Kind = AssetKind(kind)

	return &p, nil
}

func fetchHops(ctx context.Context, q querier, id ID) ([]Hop, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT chain, asset, address FROM phtlc_hops
		WHERE phtlc_id = ? ORDER BY hop_index`, id[:],
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hops []Hop
	for rows.Next() {
		var hop Hop
		err := rows.Scan(&hop.Chain, &hop.Asset, &hop.Address)
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
	}

	return hops, rows.Err()
}

// FetchHTLC returns the htlc with the given id or nil.
func (s *SqliteStore) FetchHTLC(ctx context.Context, id ID) (*HTLC, error) {
	h, err := scanHTLC(s.db.QueryRowContext(ctx,
		`SELECT `+htlcColumns+` FROM htlcs WHERE id = ?`, id[:],
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	return h, err
}

// FetchPHTLC returns the pre-commitment with the given id or nil.
func (s *SqliteStore) FetchPHTLC(ctx context.Context, id ID) (*PHTLC,
	error) {

	var p *PHTLC
	err := s.execTx(ctx, true, func(tx *sql.Tx) error {
		var err error
		p, err = fetchPHTLCTx(ctx, tx, id)
		return err
	})

	return p, err
}

func fetchPHTLCTx(ctx context.Context, q querier, id ID) (*PHTLC, error) {
	p, err := scanPHTLC(q.QueryRowContext(ctx,
		`SELECT `+phtlcColumns+` FROM phtlcs WHERE id = ?`, id[:],
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil

	case err != nil:
		return nil, err
	}

	p.Hops, err = fetchHops(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// FetchContracts returns the ids funded by sender in insertion order.
func (s *SqliteStore) FetchContracts(ctx context.Context, sender Address) (
	[]ID, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_id FROM sender_index
		WHERE sender = ? ORDER BY seq`, string(sender),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []ID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}

		var id ID
		copy(id[:], raw)
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// FetchBalance returns the vault balance of an account.
func (s *SqliteStore) FetchBalance(ctx context.Context, owner Address,
	asset Asset) (uint64, error) {

	return fetchBalanceTx(ctx, s.db, owner, asset)
}

func fetchBalanceTx(ctx context.Context, q querier, owner Address,
	asset Asset) (uint64, error) {

	var amount int64
	err := q.QueryRowContext(ctx, `
		SELECT amount FROM balances WHERE owner = ? AND asset = ?`,
		string(owner), asset.String(),
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return uint64(amount), err
}

// LastCommitSeq returns the last issued commitment sequence number.
func (s *SqliteStore) LastCommitSeq(ctx context.Context) (uint64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT commit_seq FROM ledger_meta WHERE id = 1`,
	).Scan(&seq)

	return uint64(seq), err
}

// ListHTLCs returns all htlcs.
func (s *SqliteStore) ListHTLCs(ctx context.Context) ([]*HTLC, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+htlcColumns+` FROM htlcs ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var htlcs []*HTLC
	for rows.Next() {
		h, err := scanHTLC(rows)
		if err != nil {
			return nil, err
		}
		htlcs = append(htlcs, h)
	}

	return htlcs, rows.Err()
}

// ListPHTLCs returns all pre-commitments.
func (s *SqliteStore) ListPHTLCs(ctx context.Context) ([]*PHTLC, error) {
	var phtlcs []*PHTLC
	err := s.execTx(ctx, true, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+phtlcColumns+` FROM phtlcs
			ORDER BY created_at, id`,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPHTLC(rows)
			if err != nil {
				return err
			}
			phtlcs = append(phtlcs, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		// Hops are read once the outer cursor is drained.
		for _, p := range phtlcs {
			p.Hops, err = fetchHops(ctx, tx, p.ID)
			if err != nil {
				return err
			}
		}

		return nil
	})

	return phtlcs, err
}

func exists(ctx context.Context, q querier, table string, id ID) (bool,
	error) {

	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id[:],
	).Scan(&n)

	return n > 0, err
}

// Apply writes the changeset in a single sql transaction.
func (s *SqliteStore) Apply(ctx context.Context, changes *Changeset) error {
	if err := changes.validate(); err != nil {
		return err
	}

	return s.execTx(ctx, false, func(tx *sql.Tx) error {
		for _, p := range changes.PHTLCs {
			if err := upsertPHTLC(ctx, tx, p); err != nil {
				return err
			}
		}
		for _, h := range changes.HTLCs {
			if err := upsertHTLC(ctx, tx, h); err != nil {
				return err
			}
		}
		for _, t := range changes.Transfers {
			if err := applyTransferTx(ctx, tx, t); err != nil {
				return err
			}
		}

		if changes.CommitSeq != 0 {
			_, err := tx.ExecContext(ctx, `
				UPDATE ledger_meta SET commit_seq = ?
				WHERE id = 1`, int64(changes.CommitSeq),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

func addToIndexTx(ctx context.Context, q querier, sender Address,
	id ID) error {

	_, err := q.ExecContext(ctx, `
		INSERT INTO sender_index (sender, contract_id) VALUES (?, ?)
		ON CONFLICT (contract_id) DO NOTHING`, string(sender), id[:],
	)

	return err
}

func upsertHTLC(ctx context.Context, tx *sql.Tx, h *HTLC) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO htlcs (`+htlcColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hashlock = excluded.hashlock,
			secret = excluded.secret,
			timelock = excluded.timelock,
			redeemed = excluded.redeemed,
			refunded = excluded.refunded`,
		h.ID[:], string(h.Sender), string(h.SrcReceiver),
		h.Hashlock[:], h.Secret[:], int64(h.Amount),
		int64(h.Timelock), h.Redeemed, h.Refunded,
		int64(h.Asset.Kind), h.Asset.Token, h.SrcAsset, h.Dst.Chain,
		h.Dst.Asset, h.Dst.Address, h.CommitID[:], int64(h.CreatedAt),
	)
	if err != nil {
		return err
	}

	return addToIndexTx(ctx, tx, h.Sender, h.ID)
}

func upsertPHTLC(ctx context.Context, tx *sql.Tx, p *PHTLC) error {
	known, err := exists(ctx, tx, "phtlcs", p.ID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO phtlcs (`+phtlcColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			timelock = excluded.timelock,
			refunded = excluded.refunded,
			converted = excluded.converted,
			lock_id = excluded.lock_id`,
		p.ID[:], string(p.Sender), string(p.SrcReceiver),
		string(p.Messenger), int64(p.Amount), int64(p.Timelock),
		p.Refunded, p.Converted, p.LockID[:], int64(p.Asset.Kind),
		p.Asset.Token, p.SrcAsset, p.Dst.Chain, p.Dst.Asset,
		p.Dst.Address, int64(p.CreatedAt),
	)
	if err != nil {
		return err
	}

	if known {
		return nil
	}

	for i, hop := range p.Hops {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO phtlc_hops
			(phtlc_id, hop_index, chain, asset, address)
			VALUES (?, ?, ?, ?, ?)`, p.ID[:], i, hop.Chain,
			hop.Asset, hop.Address,
		)
		if err != nil {
			return err
		}
	}

	return addToIndexTx(ctx, tx, p.Sender, p.ID)
}

func applyTransferTx(ctx context.Context, tx *sql.Tx, t Transfer) error {
	put := func(owner Address, amount uint64) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO balances (owner, asset, amount)
			VALUES (?, ?, ?)
			ON CONFLICT (owner, asset) DO UPDATE SET
				amount = excluded.amount`,
			string(owner), t.Asset.String(), int64(amount),
		)

		return err
	}

	if t.From != "" {
		from, err := fetchBalanceTx(ctx, tx, t.From, t.Asset)
		if err != nil {
			return err
		}
		if from < t.Amount {
			return fmt.Errorf("%w: %v holds %d %v, need %d",
				ErrInsufficientFunds, t.From, from, t.Asset,
				t.Amount)
		}
		if err := put(t.From, from-t.Amount); err != nil {
			return err
		}
	}

	to, err := fetchBalanceTx(ctx, tx, t.To, t.Asset)
	if err != nil {
		return err
	}
	to, err = credit(to, t)
	if err != nil {
		return err
	}

	return put(t.To, to)
}

// RebuildIndex drops and recreates the per sender index.
func (s *SqliteStore) RebuildIndex(ctx context.Context) error {
	return s.execTx(ctx, false, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM sender_index`)
		if err != nil {
			return err
		}

		// Pre-commitments come first so that a converted htlc keeps
		// the position of its commitment.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sender_index (sender, contract_id)
			SELECT sender, id FROM (
				SELECT sender, id, created_at FROM phtlcs
				UNION ALL
				SELECT sender, id, created_at FROM htlcs
				WHERE id NOT IN (SELECT id FROM phtlcs)
			) ORDER BY created_at, id`,
		)

		return err
	})
}

// Close closes the database.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}
