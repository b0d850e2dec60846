package client_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/client"
	"github.com/relves/quorumsig/pkg/multisig"
)

const program = address.Address("did:key:z6MkProgram")

func TestNewSeed(t *testing.T) {
	a, b := client.NewSeed(), client.NewSeed()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, address.MaxSeedLength)
	assert.NoError(t, address.ValidateSeed(a))
}

func TestCreateGroupAndProposal(t *testing.T) {
	owners := []address.Address{"did:key:z6MkAlice", "did:key:z6MkBob"}
	ix := client.CreateGroup(program, "did:key:z6MkPayer", "ops", owners, 2)
	assert.Equal(t, address.GroupAddress(program, "ops"), ix.Group)
	assert.Equal(t, address.Address("did:key:z6MkPayer"), ix.Funder)
	assert.Equal(t, uint64(2), ix.Threshold)

	op, err := client.Transfer(program, ix.Group, "did:key:z6MkLandlord", 5)
	require.NoError(t, err)
	assert.Equal(t, bridge.SystemProgramID, op.Target)
	assert.Equal(t, address.DelegatedAuthority(program, ix.Group), op.Accounts[0].Address)
	assert.True(t, op.Accounts[0].IsSigner)

	p := client.CreateProposal(program, ix.Group, owners[0], owners[0], "rent", op)
	assert.Equal(t, address.ProposalAddress(program, "rent"), p.Proposal)
	assert.Equal(t, op.Accounts, p.Accounts)
	assert.Equal(t, op.Payload, p.Payload)

	exec := client.Execute(ix.Group, p.Proposal, op)
	assert.Equal(t, []address.Address{address.DelegatedAuthority(program, ix.Group), "did:key:z6MkLandlord"}, exec.Accounts)

	assert.Equal(t, multisig.Approve{Group: ix.Group, Proposal: p.Proposal, Approver: owners[1]},
		client.Approve(ix.Group, p.Proposal, owners[1]))
}

func TestSelfCalls(t *testing.T) {
	group := address.GroupAddress(program, "ops")
	owners := []address.Address{"did:key:z6MkCarol"}

	op, err := client.Reconfigure(program, group, owners, 1)
	require.NoError(t, err)
	assert.Equal(t, program, op.Target)
	ix, err := multisig.Decode(op.Payload)
	require.NoError(t, err)
	assert.Equal(t, multisig.ReconfigureGroup{Group: group, Owners: owners, Threshold: 1}, ix)

	proposal := address.ProposalAddress(program, "stale")
	op, err = client.DeleteProposal(program, group, proposal)
	require.NoError(t, err)
	assert.Equal(t, []address.Address{group, proposal}, client.AccountAddresses(op.Accounts))
	ix, err = multisig.Decode(op.Payload)
	require.NoError(t, err)
	assert.Equal(t, multisig.DeleteProposal{Group: group, Proposal: proposal}, ix)
}
