// pkg/types/group.go
package types

import (
	"slices"

	"github.com/relves/quorumsig/pkg/address"
)

// Record capacities. Storage for each record is allocated once at this size,
// so the funding cost is known when the record is created.
const (
	GroupRecordSize    = 4096
	ProposalRecordSize = 8192
)

// Group is the persisted configuration of one multisig group.
type Group struct {
	Initialized bool
	// Seed re-derives the group's own address on load.
	Seed                string
	Owners              []address.Address
	Threshold           uint64
	PendingTransactions []address.Address
}

// OwnerIndex returns the position of owner in Owners, or -1.
func (g *Group) OwnerIndex(owner address.Address) int {
	return slices.Index(g.Owners, owner)
}

// HasPending reports whether proposal is in the pending index.
func (g *Group) HasPending(proposal address.Address) bool {
	return slices.Contains(g.PendingTransactions, proposal)
}

// RemovePending drops proposal from the pending index, preserving order.
// It reports whether the proposal was present.
func (g *Group) RemovePending(proposal address.Address) bool {
	i := slices.Index(g.PendingTransactions, proposal)
	if i < 0 {
		return false
	}
	g.PendingTransactions = slices.Delete(g.PendingTransactions, i, i+1)
	return true
}
