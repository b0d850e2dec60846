// Package client builds multisig instructions and submits them to a
// quorumsig server over UCAN RPC.
package client

import (
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/types"
)

// NewSeed returns a random seed that fits address.MaxSeedLength.
func NewSeed() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CreateGroup builds a CreateGroup for the group derived from seed.
func CreateGroup(program, funder address.Address, seed string, owners []address.Address, threshold uint64) multisig.CreateGroup {
	return multisig.CreateGroup{
		Seed:      seed,
		Group:     address.GroupAddress(program, seed),
		Funder:    funder,
		Owners:    owners,
		Threshold: threshold,
	}
}

// CreateProposal builds a CreateProposal carrying op.
func CreateProposal(program, group, proposer, funder address.Address, seed string, op bridge.Instruction) multisig.CreateProposal {
	return multisig.CreateProposal{
		Group:    group,
		Proposer: proposer,
		Funder:   funder,
		Seed:     seed,
		Proposal: address.ProposalAddress(program, seed),
		Target:   op.Target,
		Accounts: op.Accounts,
		Payload:  op.Payload,
	}
}

// Approve builds an Approve.
func Approve(group, proposal, approver address.Address) multisig.Approve {
	return multisig.Approve{Group: group, Proposal: proposal, Approver: approver}
}

// Execute builds an Execute presenting op's accounts, which must be the
// accounts the proposal was created with.
func Execute(group, proposal address.Address, op bridge.Instruction) multisig.Execute {
	return multisig.Execute{Group: group, Proposal: proposal, Accounts: AccountAddresses(op.Accounts)}
}

// AccountAddresses returns the addresses of accounts in order.
func AccountAddresses(accounts []types.AccountMeta) []address.Address {
	p := types.Proposal{Accounts: accounts}
	return p.AccountAddresses()
}

// Transfer builds an operation paying amount out of the group's delegated
// authority.
func Transfer(program, group, to address.Address, amount uint64) (bridge.Instruction, error) {
	return bridge.Transfer(address.DelegatedAuthority(program, group), to, amount)
}

// Reconfigure builds an operation that replaces the group's owners and
// threshold when executed. Propose it to the group itself.
func Reconfigure(program, group address.Address, owners []address.Address, threshold uint64) (bridge.Instruction, error) {
	return selfCall(program, multisig.ReconfigureGroup{Group: group, Owners: owners, Threshold: threshold},
		types.AccountMeta{Address: group, IsWritable: true})
}

// DeleteProposal builds an operation that deletes a pending proposal of the
// group and refunds its funder when executed.
func DeleteProposal(program, group, proposal address.Address) (bridge.Instruction, error) {
	return selfCall(program, multisig.DeleteProposal{Group: group, Proposal: proposal},
		types.AccountMeta{Address: group, IsWritable: true},
		types.AccountMeta{Address: proposal, IsWritable: true})
}

func selfCall(program address.Address, ix multisig.Instruction, accounts ...types.AccountMeta) (bridge.Instruction, error) {
	payload, err := multisig.Encode(ix)
	if err != nil {
		return bridge.Instruction{}, err
	}
	return bridge.Instruction{Target: program, Accounts: accounts, Payload: payload}, nil
}
