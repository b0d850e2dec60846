package storage

import (
	"context"
	"errors"

	"github.com/relves/quorumsig/pkg/address"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyAllocated    = errors.New("address already allocated")
	ErrInsufficientFunding = errors.New("insufficient funding")
	ErrCapacityExceeded    = errors.New("data exceeds allocated capacity")
	ErrNotOwner            = errors.New("account owned by another program")
)

// Ledger abstracts the external account ledger the multisig program runs on.
// Every Update is all-or-nothing: if fn returns an error nothing it wrote is
// visible afterwards. Updates are serialized, so each one observes the
// committed result of the previous.
type Ledger interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error
	Close() error
}

// Reader reads committed ledger state.
type Reader interface {
	// Account returns ErrNotFound if addr was never allocated or was released.
	Account(ctx context.Context, addr address.Address) (*Account, error)
	// Balance returns zero for unknown addresses.
	Balance(ctx context.Context, addr address.Address) (uint64, error)

	AuditState(ctx context.Context) (*AuditState, error)
	AuditLeaf(ctx context.Context, index uint64) (*AuditLeaf, error)
	// AuditNode returns the hash of the complete subtree at level and index.
	// Level 0 nodes are leaf hashes.
	AuditNode(ctx context.Context, level uint, index uint64) ([]byte, error)
}

// Tx is a read-write view inside one Update.
type Tx interface {
	Reader

	// Allocate creates fixed-size storage at addr owned by program, charging
	// the rent for size bytes to funder.
	Allocate(ctx context.Context, addr, program, funder address.Address, size uint64) error
	// Write replaces the data at addr. Only the owning program may write.
	Write(ctx context.Context, addr, program address.Address, data []byte) error
	// Release deletes the storage at addr and refunds its escrow to the funder.
	Release(ctx context.Context, addr, program address.Address) error

	Credit(ctx context.Context, addr address.Address, amount uint64) error
	Debit(ctx context.Context, addr address.Address, amount uint64) error

	// AppendAudit stores leaf, the subtree nodes its append completed, and
	// the new compact range.
	AppendAudit(ctx context.Context, leaf AuditLeaf, nodes []AuditNode, state AuditState) error
}

// Account is one allocated storage slot.
type Account struct {
	Address address.Address
	Owner   address.Address
	Funder  address.Address
	Size    uint64
	Escrow  uint64
	Data    []byte
}

// AuditState is the persisted compact range of the audit log.
type AuditState struct {
	Size   uint64
	Root   []byte
	Hashes [][]byte
}

// AuditNode is the hash of a complete subtree of the audit log.
type AuditNode struct {
	Level uint
	Index uint64
	Hash  []byte
}

// AuditLeaf is one entry of the audit log.
type AuditLeaf struct {
	Index uint64
	Hash  []byte
	Data  []byte
}

// AccountOverhead is charged on top of the data size of every allocation.
const AccountOverhead = 128

// RentSchedule prices storage allocations.
type RentSchedule struct {
	PerByte uint64
	Minimum uint64
}

// DefaultRent is used when no schedule is configured.
var DefaultRent = RentSchedule{PerByte: 1, Minimum: 1}

// Rent returns the escrow charged for an allocation of size bytes.
func (s RentSchedule) Rent(size uint64) uint64 {
	return max(s.Minimum, (size+AccountOverhead)*s.PerByte)
}
