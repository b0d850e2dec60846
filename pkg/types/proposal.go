// pkg/types/proposal.go
package types

import (
	"github.com/relves/quorumsig/pkg/address"
)

// AccountMeta is one entry of an operation's ordered account list.
type AccountMeta struct {
	Address    address.Address `json:"address"`
	IsSigner   bool            `json:"is_signer"`
	IsWritable bool            `json:"is_writable"`
}

// Proposal describes one candidate operation and the approvals it has
// collected. Target, Accounts and Payload never change after creation.
type Proposal struct {
	Initialized bool
	Seed        string
	Group       address.Address
	Target      address.Address
	Accounts    []AccountMeta
	Payload     []byte
	// Signers is indexed like the group's Owners at creation time.
	Signers  []bool
	Executed bool
}

// ApprovalCount returns the number of owners that have approved.
func (p *Proposal) ApprovalCount() uint64 {
	var n uint64
	for _, signed := range p.Signers {
		if signed {
			n++
		}
	}
	return n
}

// AccountAddresses returns the addresses of Accounts in order.
func (p *Proposal) AccountAddresses() []address.Address {
	addrs := make([]address.Address, len(p.Accounts))
	for i, acc := range p.Accounts {
		addrs[i] = acc.Address
	}
	return addrs
}
