package multisig

import (
	"context"
	"errors"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/types"
)

// LoadGroup reads the group at addr. Records this program does not own, that
// fail to decode, or whose seed does not re-derive addr are rejected.
func (p *Processor) LoadGroup(ctx context.Context, r storage.Reader, addr address.Address) (*types.Group, error) {
	acc, err := p.account(ctx, r, addr, "group")
	if err != nil {
		return nil, err
	}
	var g types.Group
	if err := g.Deserialize(acc.Data); err != nil {
		return nil, wrapError(CodeInvalidRecord, err, "group %s", addr)
	}
	if !g.Initialized {
		return nil, newError(CodeUninitialized, "group %s", addr)
	}
	if address.GroupAddress(p.id, g.Seed) != addr {
		return nil, newError(CodeAddressMismatch, "group %s does not derive from its seed", addr)
	}
	return &g, nil
}

// LoadProposal is LoadGroup for proposals.
func (p *Processor) LoadProposal(ctx context.Context, r storage.Reader, addr address.Address) (*types.Proposal, error) {
	acc, err := p.account(ctx, r, addr, "proposal")
	if err != nil {
		return nil, err
	}
	var prop types.Proposal
	if err := prop.Deserialize(acc.Data); err != nil {
		return nil, wrapError(CodeInvalidRecord, err, "proposal %s", addr)
	}
	if !prop.Initialized {
		return nil, newError(CodeUninitialized, "proposal %s", addr)
	}
	if address.ProposalAddress(p.id, prop.Seed) != addr {
		return nil, newError(CodeAddressMismatch, "proposal %s does not derive from its seed", addr)
	}
	return &prop, nil
}

func (p *Processor) account(ctx context.Context, r storage.Reader, addr address.Address, what string) (*storage.Account, error) {
	if err := addr.Validate(); err != nil {
		return nil, wrapError(CodeMalformedRequest, err, "%s address", what)
	}
	acc, err := r.Account(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(CodeUninitialized, "%s %s", what, addr)
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != p.id {
		return nil, newError(CodeInvalidRecord, "%s %s is owned by %s", what, addr, acc.Owner)
	}
	return acc, nil
}

func (p *Processor) storeGroup(ctx context.Context, tx storage.Tx, addr address.Address, g *types.Group) error {
	data, err := g.Serialize()
	if err != nil {
		return err
	}
	return tx.Write(ctx, addr, p.id, data)
}

func (p *Processor) storeProposal(ctx context.Context, tx storage.Tx, addr address.Address, prop *types.Proposal) error {
	data, err := prop.Serialize()
	if err != nil {
		return err
	}
	return tx.Write(ctx, addr, p.id, data)
}

// allocate reserves a record and maps ledger failures to multisig codes.
func (p *Processor) allocate(ctx context.Context, tx storage.Tx, addr, funder address.Address, size uint64) error {
	err := tx.Allocate(ctx, addr, p.id, funder, size)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrAlreadyAllocated):
		return wrapError(CodeAccountInUse, err, "allocate %s", addr)
	case errors.Is(err, storage.ErrInsufficientFunding):
		return wrapError(CodeInsufficientFunding, err, "allocate %s", addr)
	default:
		return err
	}
}
