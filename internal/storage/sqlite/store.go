package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
)

//go:embed schema.sql
var schemaSQL string

// Ensure Ledger implements storage.Ledger at compile time.
var _ storage.Ledger = (*Ledger)(nil)

// Ledger is a storage.Ledger persisted in a single SQLite database.
type Ledger struct {
	db *sql.DB
	// reads serves View. Its transactions begin deferred so each View
	// reads one WAL snapshot without taking the write lock.
	reads  *sql.DB
	dbPath string
	rent   storage.RentSchedule

	// mu serializes Update; SQLite allows a single writer.
	mu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRent sets the rent schedule charged on allocation.
func WithRent(rent storage.RentSchedule) Option {
	return func(l *Ledger) {
		l.rent = rent
	}
}

// Open opens or creates the ledger database under basePath.
func Open(basePath string, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	dbPath := filepath.Join(basePath, "ledger.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(FULL)"+ // Committed transitions must survive power loss
		"&_txlock=immediate") // Take the write lock at BEGIN so read-validate-write cannot interleave
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	reads, err := sql.Open("sqlite", dbPath+
		"?_pragma=busy_timeout(5000)"+
		"&_pragma=query_only(1)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	reads.SetMaxOpenConns(4)
	reads.SetConnMaxLifetime(time.Hour)

	l := &Ledger{
		db:     db,
		reads:  reads,
		dbPath: dbPath,
		rent:   storage.DefaultRent,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) Close() error {
	return errors.Join(l.reads.Close(), l.db.Close())
}

func (l *Ledger) DBPath() string {
	return l.dbPath
}

// Update runs fn inside one SQLite transaction.
func (l *Ledger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{reader: reader{q: sqlTx}, rent: l.rent}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn inside a read-only transaction, so every read it makes sees
// the same committed state.
func (l *Ledger) View(ctx context.Context, fn func(r storage.Reader) error) error {
	sqlTx, err := l.reads.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(reader{q: sqlTx})
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type reader struct {
	q queryer
}

func (r reader) Account(ctx context.Context, addr address.Address) (*storage.Account, error) {
	acc := storage.Account{Address: addr}
	var owner, funder string
	err := r.q.QueryRowContext(ctx,
		`SELECT owner, funder, size, escrow, data FROM accounts WHERE address = ?`,
		string(addr)).Scan(&owner, &funder, &acc.Size, &acc.Escrow, &acc.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	acc.Owner = address.Address(owner)
	acc.Funder = address.Address(funder)
	return &acc, nil
}

func (r reader) Balance(ctx context.Context, addr address.Address) (uint64, error) {
	var amount uint64
	err := r.q.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE address = ?`,
		string(addr)).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return amount, err
}

// AuditState returns the zero state if nothing has been appended yet.
func (r reader) AuditState(ctx context.Context) (*storage.AuditState, error) {
	var st storage.AuditState
	var packed []byte
	err := r.q.QueryRowContext(ctx,
		`SELECT size, root, hashes FROM audit_state WHERE id = 1`).Scan(&st.Size, &st.Root, &packed)
	if errors.Is(err, sql.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Hashes, err = unpackHashes(packed); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r reader) AuditLeaf(ctx context.Context, index uint64) (*storage.AuditLeaf, error) {
	leaf := storage.AuditLeaf{Index: index}
	err := r.q.QueryRowContext(ctx,
		`SELECT leaf_hash, data FROM audit_leaves WHERE idx = ?`,
		index).Scan(&leaf.Hash, &leaf.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &leaf, nil
}

func (r reader) AuditNode(ctx context.Context, level uint, index uint64) ([]byte, error) {
	var hash []byte
	err := r.q.QueryRowContext(ctx,
		`SELECT hash FROM audit_nodes WHERE level = ? AND idx = ?`,
		level, index).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit node %d/%d: %w", level, index, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return hash, nil
}

type tx struct {
	reader
	rent storage.RentSchedule
}

func (t *tx) Allocate(ctx context.Context, addr, program, funder address.Address, size uint64) error {
	var exists int
	err := t.q.QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE address = ?`, string(addr)).Scan(&exists)
	if err == nil {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyAllocated, addr)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	rent := t.rent.Rent(size)
	if err := t.Debit(ctx, funder, rent); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO accounts (address, owner, funder, size, escrow, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(addr), string(program), string(funder), size, rent, now, now)
	return err
}

func (t *tx) Write(ctx context.Context, addr, program address.Address, data []byte) error {
	acc, err := t.Account(ctx, addr)
	if err != nil {
		return err
	}
	if acc.Owner != program {
		return fmt.Errorf("%w: %s", storage.ErrNotOwner, addr)
	}
	if uint64(len(data)) > acc.Size {
		return fmt.Errorf("%w: %d > %d bytes", storage.ErrCapacityExceeded, len(data), acc.Size)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = t.q.ExecContext(ctx,
		`UPDATE accounts SET data = ?, updated_at = ? WHERE address = ?`,
		data, now, string(addr))
	return err
}

func (t *tx) Release(ctx context.Context, addr, program address.Address) error {
	acc, err := t.Account(ctx, addr)
	if err != nil {
		return err
	}
	if acc.Owner != program {
		return fmt.Errorf("%w: %s", storage.ErrNotOwner, addr)
	}

	if _, err := t.q.ExecContext(ctx,
		`DELETE FROM accounts WHERE address = ?`, string(addr)); err != nil {
		return err
	}
	return t.Credit(ctx, acc.Funder, acc.Escrow)
}

func (t *tx) Credit(ctx context.Context, addr address.Address, amount uint64) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO balances (address, amount) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET amount = amount + excluded.amount`,
		string(addr), amount)
	return err
}

func (t *tx) Debit(ctx context.Context, addr address.Address, amount uint64) error {
	balance, err := t.Balance(ctx, addr)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", storage.ErrInsufficientFunding, addr, balance, amount)
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO balances (address, amount) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET amount = excluded.amount`,
		string(addr), balance-amount)
	return err
}

func (t *tx) AppendAudit(ctx context.Context, leaf storage.AuditLeaf, nodes []storage.AuditNode, state storage.AuditState) error {
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO audit_leaves (idx, leaf_hash, data) VALUES (?, ?, ?)`,
		leaf.Index, leaf.Hash, leaf.Data); err != nil {
		return fmt.Errorf("insert audit leaf %d: %w", leaf.Index, err)
	}
	for _, n := range nodes {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO audit_nodes (level, idx, hash) VALUES (?, ?, ?)`,
			n.Level, n.Index, n.Hash); err != nil {
			return fmt.Errorf("insert audit node %d/%d: %w", n.Level, n.Index, err)
		}
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO audit_state (id, size, root, hashes) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET size = excluded.size, root = excluded.root, hashes = excluded.hashes`,
		state.Size, state.Root, packHashes(state.Hashes))
	return err
}

const hashSize = 32

func packHashes(hashes [][]byte) []byte {
	out := make([]byte, 0, len(hashes)*hashSize)
	for _, h := range hashes {
		out = append(out, h...)
	}
	return out
}

func unpackHashes(packed []byte) ([][]byte, error) {
	if len(packed)%hashSize != 0 {
		return nil, fmt.Errorf("corrupt audit state: %d bytes is not a multiple of %d", len(packed), hashSize)
	}
	hashes := make([][]byte, 0, len(packed)/hashSize)
	for i := 0; i < len(packed); i += hashSize {
		hashes = append(hashes, packed[i:i+hashSize])
	}
	return hashes, nil
}
