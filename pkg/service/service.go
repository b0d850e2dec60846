// Package service provides the transactional entry point for multisig
// requests and read views over committed state.
package service

import (
	"context"

	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/audit"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/types"
)

// Service defines the operations exposed to transports.
type Service interface {
	Program() address.Address
	Submit(ctx context.Context, signers []address.Address, ix multisig.Instruction) error
	Group(ctx context.Context, addr address.Address) (*GroupView, error)
	Proposal(ctx context.Context, addr address.Address) (*ProposalView, error)
	PendingProposals(ctx context.Context, group address.Address) ([]*ProposalView, error)
	Balance(ctx context.Context, addr address.Address) (uint64, error)
	Checkpoint(ctx context.Context) (*audit.Checkpoint, error)
	Prove(ctx context.Context, index uint64) (*audit.InclusionProof, error)
	AuditEntry(ctx context.Context, index uint64) (*audit.Event, error)
}

// GroupView is the read model of a group.
type GroupView struct {
	Address             address.Address   `json:"address"`
	Seed                string            `json:"seed"`
	Owners              []address.Address `json:"owners"`
	Threshold           uint64            `json:"threshold"`
	PendingTransactions []address.Address `json:"pendingTransactions"`
	// Authority is the identity the group's executed proposals act as.
	Authority address.Address `json:"authority"`
}

// ProposalView is the read model of a proposal.
type ProposalView struct {
	Address   address.Address     `json:"address"`
	Group     address.Address     `json:"group"`
	Seed      string              `json:"seed"`
	Target    address.Address     `json:"target"`
	Accounts  []types.AccountMeta `json:"accounts"`
	Payload   []byte              `json:"payload"`
	Signers   []bool              `json:"signers"`
	Approvals uint64              `json:"approvals"`
	Executed  bool                `json:"executed"`
}

func newGroupView(program, addr address.Address, g *types.Group) *GroupView {
	return &GroupView{
		Address:             addr,
		Seed:                g.Seed,
		Owners:              nonNil(g.Owners),
		Threshold:           g.Threshold,
		PendingTransactions: nonNil(g.PendingTransactions),
		Authority:           address.DelegatedAuthority(program, addr),
	}
}

func newProposalView(addr address.Address, p *types.Proposal) *ProposalView {
	return &ProposalView{
		Address:   addr,
		Group:     p.Group,
		Seed:      p.Seed,
		Target:    p.Target,
		Accounts:  nonNil(p.Accounts),
		Payload:   p.Payload,
		Signers:   nonNil(p.Signers),
		Approvals: p.ApprovalCount(),
		Executed:  p.Executed,
	}
}

// nonNil keeps empty lists as [] rather than null in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
