// Package memory implements storage.Ledger on a go-datastore, by default an
// in-process map. Writes are staged per transaction and committed as a batch.
package memory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
)

var _ storage.Ledger = (*Ledger)(nil)

var auditStateKey = datastore.NewKey("/audit/state")

type Ledger struct {
	mu   sync.RWMutex
	ds   datastore.Batching
	rent storage.RentSchedule
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRent sets the rent schedule charged on allocation.
func WithRent(rent storage.RentSchedule) Option {
	return func(l *Ledger) {
		l.rent = rent
	}
}

// WithDatastore backs the ledger with ds instead of a fresh map.
func WithDatastore(ds datastore.Batching) Option {
	return func(l *Ledger) {
		l.ds = ds
	}
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		ds:   dssync.MutexWrap(datastore.NewMapDatastore()),
		rent: storage.DefaultRent,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Close() error {
	return l.ds.Close()
}

func (l *Ledger) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &txn{
		base: l.ds,
		rent: l.rent,
		puts: make(map[datastore.Key][]byte),
		dels: make(map[datastore.Key]struct{}),
	}
	t.reader = reader{src: t}

	if err := fn(t); err != nil {
		return err
	}

	batch, err := l.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	for k, v := range t.puts {
		if err := batch.Put(ctx, k, v); err != nil {
			return fmt.Errorf("stage %s: %w", k, err)
		}
	}
	for k := range t.dels {
		if err := batch.Delete(ctx, k); err != nil {
			return fmt.Errorf("stage delete %s: %w", k, err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (l *Ledger) View(ctx context.Context, fn func(r storage.Reader) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(reader{src: l.ds})
}

func accountKey(addr address.Address) datastore.Key {
	return datastore.NewKey("/accounts/" + string(addr))
}

func balanceKey(addr address.Address) datastore.Key {
	return datastore.NewKey("/balances/" + string(addr))
}

func leafKey(index uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("/audit/leaves/%020d", index))
}

func nodeKey(level uint, index uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("/audit/nodes/%02d/%020d", level, index))
}

type accountRecord struct {
	Owner  address.Address `json:"owner"`
	Funder address.Address `json:"funder"`
	Size   uint64          `json:"size"`
	Escrow uint64          `json:"escrow"`
	Data   []byte          `json:"data"`
}

type auditStateRecord struct {
	Size   uint64   `json:"size"`
	Root   []byte   `json:"root"`
	Hashes [][]byte `json:"hashes"`
}

type leafRecord struct {
	Hash []byte `json:"hash"`
	Data []byte `json:"data"`
}

type getter interface {
	Get(ctx context.Context, key datastore.Key) ([]byte, error)
}

type reader struct {
	src getter
}

func (r reader) getJSON(ctx context.Context, key datastore.Key, v any) error {
	raw, err := r.src.Get(ctx, key)
	if errors.Is(err, datastore.ErrNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (r reader) Account(ctx context.Context, addr address.Address) (*storage.Account, error) {
	var rec accountRecord
	if err := r.getJSON(ctx, accountKey(addr), &rec); err != nil {
		return nil, err
	}
	return &storage.Account{
		Address: addr,
		Owner:   rec.Owner,
		Funder:  rec.Funder,
		Size:    rec.Size,
		Escrow:  rec.Escrow,
		Data:    rec.Data,
	}, nil
}

func (r reader) Balance(ctx context.Context, addr address.Address) (uint64, error) {
	raw, err := r.src.Get(ctx, balanceKey(addr))
	if errors.Is(err, datastore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt balance for %s", addr)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (r reader) AuditState(ctx context.Context) (*storage.AuditState, error) {
	var rec auditStateRecord
	err := r.getJSON(ctx, auditStateKey, &rec)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.AuditState{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &storage.AuditState{Size: rec.Size, Root: rec.Root, Hashes: rec.Hashes}, nil
}

func (r reader) AuditLeaf(ctx context.Context, index uint64) (*storage.AuditLeaf, error) {
	var rec leafRecord
	if err := r.getJSON(ctx, leafKey(index), &rec); err != nil {
		return nil, err
	}
	return &storage.AuditLeaf{Index: index, Hash: rec.Hash, Data: rec.Data}, nil
}

func (r reader) AuditNode(ctx context.Context, level uint, index uint64) ([]byte, error) {
	raw, err := r.src.Get(ctx, nodeKey(level, index))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, fmt.Errorf("audit node %d/%d: %w", level, index, storage.ErrNotFound)
	}
	return raw, err
}

// txn overlays staged writes on the committed datastore.
type txn struct {
	reader
	base datastore.Read
	rent storage.RentSchedule
	puts map[datastore.Key][]byte
	dels map[datastore.Key]struct{}
}

func (t *txn) Get(ctx context.Context, key datastore.Key) ([]byte, error) {
	if _, ok := t.dels[key]; ok {
		return nil, datastore.ErrNotFound
	}
	if v, ok := t.puts[key]; ok {
		return v, nil
	}
	return t.base.Get(ctx, key)
}

func (t *txn) put(key datastore.Key, value []byte) {
	delete(t.dels, key)
	t.puts[key] = value
}

func (t *txn) del(key datastore.Key) {
	delete(t.puts, key)
	t.dels[key] = struct{}{}
}

func (t *txn) putJSON(key datastore.Key, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	t.put(key, raw)
	return nil
}

func (t *txn) Allocate(ctx context.Context, addr, program, funder address.Address, size uint64) error {
	_, err := t.Account(ctx, addr)
	if err == nil {
		return fmt.Errorf("%w: %s", storage.ErrAlreadyAllocated, addr)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	rent := t.rent.Rent(size)
	if err := t.Debit(ctx, funder, rent); err != nil {
		return err
	}
	return t.putJSON(accountKey(addr), accountRecord{
		Owner:  program,
		Funder: funder,
		Size:   size,
		Escrow: rent,
	})
}

func (t *txn) Write(ctx context.Context, addr, program address.Address, data []byte) error {
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
	return t.putJSON(accountKey(addr), accountRecord{
		Owner:  acc.Owner,
		Funder: acc.Funder,
		Size:   acc.Size,
		Escrow: acc.Escrow,
		Data:   append([]byte(nil), data...),
	})
}

func (t *txn) Release(ctx context.Context, addr, program address.Address) error {
	acc, err := t.Account(ctx, addr)
	if err != nil {
		return err
	}
	if acc.Owner != program {
		return fmt.Errorf("%w: %s", storage.ErrNotOwner, addr)
	}
	t.del(accountKey(addr))
	return t.Credit(ctx, acc.Funder, acc.Escrow)
}

func (t *txn) setBalance(addr address.Address, amount uint64) {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, amount)
	t.put(balanceKey(addr), raw)
}

func (t *txn) Credit(ctx context.Context, addr address.Address, amount uint64) error {
	balance, err := t.Balance(ctx, addr)
	if err != nil {
		return err
	}
	t.setBalance(addr, balance+amount)
	return nil
}

func (t *txn) Debit(ctx context.Context, addr address.Address, amount uint64) error {
	balance, err := t.Balance(ctx, addr)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", storage.ErrInsufficientFunding, addr, balance, amount)
	}
	t.setBalance(addr, balance-amount)
	return nil
}

func (t *txn) AppendAudit(ctx context.Context, leaf storage.AuditLeaf, nodes []storage.AuditNode, state storage.AuditState) error {
	if err := t.putJSON(leafKey(leaf.Index), leafRecord{Hash: leaf.Hash, Data: leaf.Data}); err != nil {
		return err
	}
	for _, n := range nodes {
		t.put(nodeKey(n.Level, n.Index), append([]byte(nil), n.Hash...))
	}
	return t.putJSON(auditStateKey, auditStateRecord{Size: state.Size, Root: state.Root, Hashes: state.Hashes})
}
