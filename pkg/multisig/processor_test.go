package multisig_test

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/internal/storage/memory"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/audit"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/types"
)

const (
	program  = address.Address("did:key:z6MkMultisig")
	alice    = address.Address("did:key:z6MkAlice")
	bob      = address.Address("did:key:z6MkBob")
	carol    = address.Address("did:key:z6MkCarol")
	mallory  = address.Address("did:key:z6MkMallory")
	payer    = address.Address("did:key:z6MkPayer")
	landlord = address.Address("did:key:z6MkLandlord")

	initialBalance = 1_000_000
)

type harness struct {
	ctx    context.Context
	ledger storage.Ledger
	proc   *multisig.Processor
	log    *audit.Log
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	rt := bridge.NewRuntime(nil)
	rt.Register(bridge.SystemProgramID, bridge.SystemProgram{})

	log := audit.NewLog("quorumsig/test", nil)
	proc := multisig.NewProcessor(program, rt, multisig.WithAuditLog(log))
	rt.Register(program, proc)

	l := memory.New()
	t.Cleanup(func() { l.Close() })
	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		for _, a := range []address.Address{alice, bob, carol, mallory, payer} {
			if err := tx.Credit(ctx, a, initialBalance); err != nil {
				return err
			}
		}
		return nil
	}))

	return &harness{ctx: ctx, ledger: l, proc: proc, log: log}
}

func (h *harness) apply(signers []address.Address, ix multisig.Instruction) error {
	return h.ledger.Update(h.ctx, func(tx storage.Tx) error {
		return h.proc.Apply(h.ctx, tx, signers, ix)
	})
}

func (h *harness) createGroup(t *testing.T, seed string, threshold uint64, owners ...address.Address) address.Address {
	t.Helper()
	g := address.GroupAddress(program, seed)
	require.NoError(t, h.apply([]address.Address{payer}, multisig.CreateGroup{
		Seed:      seed,
		Group:     g,
		Funder:    payer,
		Owners:    owners,
		Threshold: threshold,
	}))
	return g
}

func (h *harness) propose(t *testing.T, group, proposer address.Address, seed string, op bridge.Instruction) address.Address {
	t.Helper()
	p := address.ProposalAddress(program, seed)
	require.NoError(t, h.apply([]address.Address{proposer, payer}, multisig.CreateProposal{
		Group:    group,
		Proposer: proposer,
		Funder:   payer,
		Seed:     seed,
		Proposal: p,
		Target:   op.Target,
		Accounts: op.Accounts,
		Payload:  op.Payload,
	}))
	return p
}

func (h *harness) execute(t *testing.T, group, proposal address.Address) error {
	t.Helper()
	return h.apply(nil, multisig.Execute{
		Group:    group,
		Proposal: proposal,
		Accounts: h.proposal(t, proposal).AccountAddresses(),
	})
}

func (h *harness) group(t *testing.T, addr address.Address) *types.Group {
	t.Helper()
	var g types.Group
	require.NoError(t, h.ledger.View(h.ctx, func(r storage.Reader) error {
		acc, err := r.Account(h.ctx, addr)
		if err != nil {
			return err
		}
		return g.Deserialize(acc.Data)
	}))
	return &g
}

func (h *harness) proposal(t *testing.T, addr address.Address) *types.Proposal {
	t.Helper()
	var p types.Proposal
	require.NoError(t, h.ledger.View(h.ctx, func(r storage.Reader) error {
		acc, err := r.Account(h.ctx, addr)
		if err != nil {
			return err
		}
		return p.Deserialize(acc.Data)
	}))
	return &p
}

func (h *harness) balance(t *testing.T, addr address.Address) uint64 {
	t.Helper()
	var bal uint64
	require.NoError(t, h.ledger.View(h.ctx, func(r storage.Reader) error {
		var err error
		bal, err = r.Balance(h.ctx, addr)
		return err
	}))
	return bal
}

func (h *harness) fund(t *testing.T, addr address.Address, amount uint64) {
	t.Helper()
	require.NoError(t, h.ledger.Update(h.ctx, func(tx storage.Tx) error {
		return tx.Credit(h.ctx, addr, amount)
	}))
}

func transfer(t *testing.T, from, to address.Address, amount uint64) bridge.Instruction {
	t.Helper()
	ix, err := bridge.Transfer(from, to, amount)
	require.NoError(t, err)
	return ix
}

// selfCall targets the multisig program itself, for operations that need the
// group's delegated authority.
func selfCall(t *testing.T, ix multisig.Instruction, accounts ...types.AccountMeta) bridge.Instruction {
	t.Helper()
	payload, err := multisig.Encode(ix)
	require.NoError(t, err)
	return bridge.Instruction{Target: program, Accounts: accounts, Payload: payload}
}

func TestCreateGroup(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 2, alice, bob, carol)

	group := h.group(t, g)
	assert.True(t, group.Initialized)
	assert.Equal(t, "treasury", group.Seed)
	assert.Equal(t, []address.Address{alice, bob, carol}, group.Owners)
	assert.Equal(t, uint64(2), group.Threshold)
	assert.Empty(t, group.PendingTransactions)

	rent := storage.DefaultRent.Rent(types.GroupRecordSize)
	assert.Equal(t, uint64(initialBalance)-rent, h.balance(t, payer))
}

func TestCreateGroup_Validation(t *testing.T) {
	many := make([]address.Address, multisig.MaxSigners+1)
	for i := range many {
		many[i] = address.Address(fmt.Sprintf("did:key:z6MkOwner%d", i))
	}
	manyWithDup := append(slices.Clone(many[:multisig.MaxSigners]), many[0])

	tests := []struct {
		name      string
		seed      string
		group     address.Address
		signers   []address.Address
		owners    []address.Address
		threshold uint64
		want      error
	}{
		{name: "no owners", threshold: 1, want: multisig.ErrEmptyOwnerSet},
		{name: "too many owners", owners: many, threshold: 1, want: multisig.ErrTooManyOwners},
		{name: "too many owners with duplicate", owners: manyWithDup, threshold: 2, want: multisig.ErrDuplicateOwner},
		{name: "threshold above max signers", owners: many, threshold: multisig.MaxSigners + 1, want: multisig.ErrInvalidThreshold},
		{name: "duplicate owner", owners: []address.Address{alice, bob, alice}, threshold: 1, want: multisig.ErrDuplicateOwner},
		{name: "duplicate owner with bad threshold", owners: []address.Address{alice, alice}, threshold: 0, want: multisig.ErrDuplicateOwner},
		{name: "zero threshold", owners: []address.Address{alice, bob}, threshold: 0, want: multisig.ErrInvalidThreshold},
		{name: "threshold above owners", owners: []address.Address{alice, bob}, threshold: 3, want: multisig.ErrInvalidThreshold},
		{name: "wrong address", group: address.GroupAddress(program, "other"), owners: []address.Address{alice}, threshold: 1, want: multisig.ErrAddressMismatch},
		{name: "address from another program", group: address.GroupAddress("did:key:z6MkRival", "treasury"), owners: []address.Address{alice}, threshold: 1, want: multisig.ErrAddressMismatch},
		{name: "funder did not sign", signers: []address.Address{alice}, owners: []address.Address{alice}, threshold: 1, want: multisig.ErrMissingSignature},
		{name: "empty seed", seed: "-", owners: []address.Address{alice}, threshold: 1, want: multisig.ErrMalformedRequest},
		{name: "long seed", seed: "0123456789abcdef0123456789abcdef0", owners: []address.Address{alice}, threshold: 1, want: multisig.ErrMalformedRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			seed := tt.seed
			switch seed {
			case "":
				seed = "treasury"
			case "-":
				seed = ""
			}
			group := tt.group
			if group == "" {
				group = address.GroupAddress(program, seed)
			}
			signers := tt.signers
			if signers == nil {
				signers = []address.Address{payer}
			}

			err := h.apply(signers, multisig.CreateGroup{
				Seed:      seed,
				Group:     group,
				Funder:    payer,
				Owners:    tt.owners,
				Threshold: tt.threshold,
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, uint64(initialBalance), h.balance(t, payer), "failed request must not charge the funder")
		})
	}
}

func TestCreateGroup_Limits(t *testing.T) {
	h := newHarness(t)
	owners := make([]address.Address, multisig.MaxSigners)
	for i := range owners {
		owners[i] = address.Address(fmt.Sprintf("did:key:z6MkOwner%d", i))
	}
	h.createGroup(t, "max", multisig.MaxSigners, owners...)
	h.createGroup(t, "min", multisig.MinSigners, alice)
}

func TestCreateGroup_AccountInUse(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)

	err := h.apply([]address.Address{payer}, multisig.CreateGroup{
		Seed: "treasury", Group: g, Funder: payer, Owners: []address.Address{bob}, Threshold: 1,
	})
	assert.ErrorIs(t, err, multisig.ErrAccountInUse)
	assert.Equal(t, []address.Address{alice}, h.group(t, g).Owners)
}

func TestCreateGroup_InsufficientFunding(t *testing.T) {
	h := newHarness(t)
	broke := address.Address("did:key:z6MkBroke")

	err := h.apply([]address.Address{broke}, multisig.CreateGroup{
		Seed:      "treasury",
		Group:     address.GroupAddress(program, "treasury"),
		Funder:    broke,
		Owners:    []address.Address{alice},
		Threshold: 1,
	})
	assert.ErrorIs(t, err, multisig.ErrInsufficientFunding)
}

func TestProposalLifecycle(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 2, alice, bob, carol)
	authority := address.DelegatedAuthority(program, g)
	h.fund(t, authority, 1000)

	p := h.propose(t, g, alice, "rent-october", transfer(t, authority, landlord, 400))

	prop := h.proposal(t, p)
	assert.Equal(t, []bool{true, false, false}, prop.Signers)
	assert.Equal(t, g, prop.Group)
	assert.False(t, prop.Executed)
	assert.Equal(t, []address.Address{p}, h.group(t, g).PendingTransactions)

	err := h.execute(t, g, p)
	assert.ErrorIs(t, err, multisig.ErrNotEnoughSigners)

	require.NoError(t, h.apply([]address.Address{bob}, multisig.Approve{Group: g, Proposal: p, Approver: bob}))
	assert.Equal(t, []bool{true, true, false}, h.proposal(t, p).Signers)

	require.NoError(t, h.execute(t, g, p))
	assert.True(t, h.proposal(t, p).Executed)
	assert.Empty(t, h.group(t, g).PendingTransactions)
	assert.Equal(t, uint64(600), h.balance(t, authority))
	assert.Equal(t, uint64(400), h.balance(t, landlord))

	err = h.execute(t, g, p)
	assert.ErrorIs(t, err, multisig.ErrAlreadyExecuted)
	assert.Equal(t, uint64(400), h.balance(t, landlord))

	err = h.apply([]address.Address{carol}, multisig.Approve{Group: g, Proposal: p, Approver: carol})
	assert.ErrorIs(t, err, multisig.ErrAlreadyExecuted)
}

func TestApprove_Idempotent(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 3, alice, bob, carol)
	p := h.propose(t, g, alice, "p1", transfer(t, address.DelegatedAuthority(program, g), landlord, 1))

	for range 3 {
		require.NoError(t, h.apply([]address.Address{bob}, multisig.Approve{Group: g, Proposal: p, Approver: bob}))
	}
	require.NoError(t, h.apply([]address.Address{alice}, multisig.Approve{Group: g, Proposal: p, Approver: alice}))

	prop := h.proposal(t, p)
	assert.Equal(t, []bool{true, true, false}, prop.Signers)
	assert.Equal(t, uint64(2), prop.ApprovalCount())
}

func TestApprove_Rejections(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 2, alice, bob)
	other := h.createGroup(t, "other", 1, mallory)
	p := h.propose(t, g, alice, "p1", transfer(t, address.DelegatedAuthority(program, g), landlord, 1))

	tests := []struct {
		name    string
		signers []address.Address
		ix      multisig.Approve
		want    error
	}{
		{"not an owner", []address.Address{mallory}, multisig.Approve{Group: g, Proposal: p, Approver: mallory}, multisig.ErrUnknownOwner},
		{"approver did not sign", []address.Address{alice}, multisig.Approve{Group: g, Proposal: p, Approver: bob}, multisig.ErrMissingSignature},
		{"proposal of another group", []address.Address{mallory}, multisig.Approve{Group: other, Proposal: p, Approver: mallory}, multisig.ErrGroupMismatch},
		{"unknown group", []address.Address{bob}, multisig.Approve{Group: address.GroupAddress(program, "nope"), Proposal: p, Approver: bob}, multisig.ErrUninitialized},
		{"unknown proposal", []address.Address{bob}, multisig.Approve{Group: g, Proposal: address.ProposalAddress(program, "nope"), Approver: bob}, multisig.ErrUninitialized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, h.apply(tt.signers, tt.ix), tt.want)
		})
	}
	assert.Equal(t, []bool{true, false}, h.proposal(t, p).Signers)
}

func TestCreateProposal_Rejections(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice, bob)
	op := transfer(t, address.DelegatedAuthority(program, g), landlord, 1)

	create := func(signers []address.Address, proposer address.Address, seed string, mutate func(*multisig.CreateProposal)) error {
		ix := multisig.CreateProposal{
			Group:    g,
			Proposer: proposer,
			Funder:   payer,
			Seed:     seed,
			Proposal: address.ProposalAddress(program, seed),
			Target:   op.Target,
			Accounts: op.Accounts,
			Payload:  op.Payload,
		}
		if mutate != nil {
			mutate(&ix)
		}
		return h.apply(signers, ix)
	}

	assert.ErrorIs(t, create([]address.Address{mallory, payer}, mallory, "p", nil), multisig.ErrUnknownOwner)
	assert.ErrorIs(t, create([]address.Address{payer}, alice, "p", nil), multisig.ErrMissingSignature)
	assert.ErrorIs(t, create([]address.Address{alice}, alice, "p", nil), multisig.ErrMissingSignature)
	assert.ErrorIs(t, create([]address.Address{alice, payer}, alice, "p", func(ix *multisig.CreateProposal) {
		ix.Proposal = address.ProposalAddress(program, "elsewhere")
	}), multisig.ErrAddressMismatch)
	assert.ErrorIs(t, create([]address.Address{alice, payer}, alice, "p", func(ix *multisig.CreateProposal) {
		ix.Payload = make([]byte, multisig.MaxPayloadSize+1)
	}), multisig.ErrMalformedRequest)
	assert.ErrorIs(t, create([]address.Address{alice, payer}, alice, "p", func(ix *multisig.CreateProposal) {
		ix.Accounts = make([]types.AccountMeta, multisig.MaxTargetAccounts+1)
	}), multisig.ErrMalformedRequest)
	assert.ErrorIs(t, create([]address.Address{alice, payer}, alice, "p", func(ix *multisig.CreateProposal) {
		ix.Target = ""
	}), multisig.ErrMalformedRequest)

	require.NoError(t, create([]address.Address{alice, payer}, alice, "p", nil))
	assert.ErrorIs(t, create([]address.Address{bob, payer}, bob, "p", nil), multisig.ErrAccountInUse)
	assert.Len(t, h.group(t, g).PendingTransactions, 1)
}

func TestCreateProposal_TooManyPending(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)
	op := transfer(t, address.DelegatedAuthority(program, g), landlord, 1)

	for i := range multisig.MaxTransactions {
		h.propose(t, g, alice, fmt.Sprintf("p%d", i), op)
	}

	seed := "one-too-many"
	err := h.apply([]address.Address{alice, payer}, multisig.CreateProposal{
		Group: g, Proposer: alice, Funder: payer, Seed: seed,
		Proposal: address.ProposalAddress(program, seed),
		Target:   op.Target, Accounts: op.Accounts, Payload: op.Payload,
	})
	assert.ErrorIs(t, err, multisig.ErrTooManyPending)
	assert.Len(t, h.group(t, g).PendingTransactions, multisig.MaxTransactions)
}

func TestExecute_AccountMismatch(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)
	authority := address.DelegatedAuthority(program, g)
	h.fund(t, authority, 10)
	p := h.propose(t, g, alice, "p1", transfer(t, authority, landlord, 5))

	for name, accounts := range map[string][]address.Address{
		"swapped":    {landlord, authority},
		"substitute": {authority, mallory},
		"missing":    {authority},
		"extra":      {authority, landlord, mallory},
	} {
		t.Run(name, func(t *testing.T) {
			err := h.apply(nil, multisig.Execute{Group: g, Proposal: p, Accounts: accounts})
			assert.ErrorIs(t, err, multisig.ErrAccountMismatch)
		})
	}
	assert.False(t, h.proposal(t, p).Executed)
}

func TestExecute_FailureRollsBack(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)
	authority := address.DelegatedAuthority(program, g)
	h.fund(t, authority, 100)
	p := h.propose(t, g, alice, "p1", transfer(t, authority, landlord, 500))

	err := h.execute(t, g, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInsufficientFunding)
	assert.Empty(t, multisig.CodeOf(err), "delegated failures are returned verbatim")

	assert.False(t, h.proposal(t, p).Executed)
	assert.Equal(t, []address.Address{p}, h.group(t, g).PendingTransactions)
	assert.Equal(t, uint64(100), h.balance(t, authority))

	h.fund(t, authority, 400)
	require.NoError(t, h.execute(t, g, p))
	assert.Equal(t, uint64(500), h.balance(t, landlord))
}

func TestExecute_CannotReenter(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)

	// The proposal executes itself.
	seed := "loop"
	p := address.ProposalAddress(program, seed)
	h.propose(t, g, alice, seed, selfCall(t, multisig.Execute{Group: g, Proposal: p}))

	err := h.execute(t, g, p)
	assert.ErrorIs(t, err, multisig.ErrAlreadyExecuted)
	assert.False(t, h.proposal(t, p).Executed)
}

func TestReconfigureGroup_RequiresAuthority(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 2, alice, bob)

	err := h.apply([]address.Address{alice, bob}, multisig.ReconfigureGroup{
		Group: g, Owners: []address.Address{alice}, Threshold: 1,
	})
	assert.ErrorIs(t, err, multisig.ErrMissingSignature)
}

func TestReconfigureGroup_ThroughProposal(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 2, alice, bob)

	p := h.propose(t, g, alice, "add-carol", selfCall(t,
		multisig.ReconfigureGroup{Group: g, Owners: []address.Address{alice, bob, carol}, Threshold: 3},
		types.AccountMeta{Address: g, IsWritable: true},
	))
	require.NoError(t, h.apply([]address.Address{bob}, multisig.Approve{Group: g, Proposal: p, Approver: bob}))
	require.NoError(t, h.execute(t, g, p))

	group := h.group(t, g)
	assert.Equal(t, []address.Address{alice, bob, carol}, group.Owners)
	assert.Equal(t, uint64(3), group.Threshold)
	assert.Empty(t, group.PendingTransactions)

	// New proposals snapshot the new owner set.
	q := h.propose(t, g, carol, "next", transfer(t, address.DelegatedAuthority(program, g), landlord, 1))
	assert.Equal(t, []bool{false, false, true}, h.proposal(t, q).Signers)
}

func TestReconfigureGroup_PendingTransactionsExist(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice, bob)
	other := h.propose(t, g, alice, "other", transfer(t, address.DelegatedAuthority(program, g), landlord, 1))
	p := h.propose(t, g, alice, "reconfigure", selfCall(t,
		multisig.ReconfigureGroup{Group: g, Owners: []address.Address{bob}, Threshold: 1},
	))

	err := h.execute(t, g, p)
	assert.ErrorIs(t, err, multisig.ErrPendingTransactionsExist)

	group := h.group(t, g)
	assert.Equal(t, []address.Address{alice, bob}, group.Owners)
	assert.Equal(t, []address.Address{other, p}, group.PendingTransactions)
	assert.False(t, h.proposal(t, p).Executed)
}

func TestReconfigureGroup_Validation(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)
	p := h.propose(t, g, alice, "bad", selfCall(t,
		multisig.ReconfigureGroup{Group: g, Owners: []address.Address{bob, bob}, Threshold: 1},
	))

	err := h.execute(t, g, p)
	assert.ErrorIs(t, err, multisig.ErrDuplicateOwner)
	assert.Equal(t, []address.Address{alice}, h.group(t, g).Owners)
}

func TestDeleteProposal_ThroughProposal(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)
	before := h.balance(t, payer)

	stale := h.propose(t, g, alice, "stale", transfer(t, address.DelegatedAuthority(program, g), landlord, 1))
	cleanup := h.propose(t, g, alice, "cleanup", selfCall(t, multisig.DeleteProposal{Group: g, Proposal: stale}))

	require.NoError(t, h.execute(t, g, cleanup))
	assert.Empty(t, h.group(t, g).PendingTransactions)

	require.NoError(t, h.ledger.View(h.ctx, func(r storage.Reader) error {
		_, err := r.Account(h.ctx, stale)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))

	// Only the executed cleanup proposal still holds escrow.
	rent := storage.DefaultRent.Rent(types.ProposalRecordSize)
	assert.Equal(t, before-rent, h.balance(t, payer))
}

func TestDeleteProposal_Rejections(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 1, alice)
	authority := address.DelegatedAuthority(program, g)
	executed := h.propose(t, g, alice, "done", transfer(t, authority, landlord, 0))
	require.NoError(t, h.execute(t, g, executed))
	pending := h.propose(t, g, alice, "pending", transfer(t, authority, landlord, 0))

	err := h.apply([]address.Address{alice}, multisig.DeleteProposal{Group: g, Proposal: pending})
	assert.ErrorIs(t, err, multisig.ErrMissingSignature)

	err = h.apply([]address.Address{authority}, multisig.DeleteProposal{Group: g, Proposal: executed})
	assert.ErrorIs(t, err, multisig.ErrAlreadyExecuted)

	other := h.createGroup(t, "other", 1, alice)
	err = h.apply([]address.Address{address.DelegatedAuthority(program, other)}, multisig.DeleteProposal{Group: other, Proposal: pending})
	assert.ErrorIs(t, err, multisig.ErrGroupMismatch)

	require.NoError(t, h.apply([]address.Address{authority}, multisig.DeleteProposal{Group: g, Proposal: pending}))
	assert.Empty(t, h.group(t, g).PendingTransactions)
}

func TestLoad_RejectsForeignAndForgedRecords(t *testing.T) {
	h := newHarness(t)
	treasury := h.createGroup(t, "treasury", 1, alice)

	// A record owned by another program at a group address.
	foreign := address.GroupAddress(program, "foreign")
	forged := address.GroupAddress(program, "forged")
	require.NoError(t, h.ledger.Update(h.ctx, func(tx storage.Tx) error {
		g := types.Group{Initialized: true, Seed: "foreign", Owners: []address.Address{mallory}, Threshold: 1}
		data, err := g.Serialize()
		if err != nil {
			return err
		}
		if err := tx.Allocate(h.ctx, foreign, "did:key:z6MkRival", payer, types.GroupRecordSize); err != nil {
			return err
		}
		if err := tx.Write(h.ctx, foreign, "did:key:z6MkRival", data); err != nil {
			return err
		}

		// Copy of a real group stored at an address its seed does not derive.
		g.Seed = "treasury"
		if data, err = g.Serialize(); err != nil {
			return err
		}
		if err := tx.Allocate(h.ctx, forged, program, payer, types.GroupRecordSize); err != nil {
			return err
		}
		return tx.Write(h.ctx, forged, program, data)
	}))

	op := transfer(t, address.DelegatedAuthority(program, treasury), landlord, 1)
	propose := func(group address.Address, seed string) error {
		return h.apply([]address.Address{mallory, payer}, multisig.CreateProposal{
			Group: group, Proposer: mallory, Funder: payer, Seed: seed,
			Proposal: address.ProposalAddress(program, seed),
			Target:   op.Target, Accounts: op.Accounts, Payload: op.Payload,
		})
	}
	assert.ErrorIs(t, propose(foreign, "a"), multisig.ErrInvalidRecord)
	assert.ErrorIs(t, propose(forged, "b"), multisig.ErrAddressMismatch)
}

func TestProcess_DecodesPayload(t *testing.T) {
	h := newHarness(t)
	g := address.GroupAddress(program, "treasury")
	payload, err := multisig.Encode(multisig.CreateGroup{
		Seed: "treasury", Group: g, Funder: payer, Owners: []address.Address{alice}, Threshold: 1,
	})
	require.NoError(t, err)

	require.NoError(t, h.ledger.Update(h.ctx, func(tx storage.Tx) error {
		return h.proc.Process(h.ctx, tx, bridge.Call{Signers: []address.Address{payer}, Payload: payload})
	}))
	assert.Equal(t, []address.Address{alice}, h.group(t, g).Owners)

	err = h.ledger.Update(h.ctx, func(tx storage.Tx) error {
		return h.proc.Process(h.ctx, tx, bridge.Call{Signers: []address.Address{payer}, Payload: []byte("garbage")})
	})
	assert.ErrorIs(t, err, multisig.ErrMalformedRequest)
}

func TestAuditTrail(t *testing.T) {
	h := newHarness(t)
	g := h.createGroup(t, "treasury", 2, alice, bob)
	p := h.propose(t, g, alice, "p1", transfer(t, address.DelegatedAuthority(program, g), landlord, 0))
	require.NoError(t, h.apply([]address.Address{bob}, multisig.Approve{Group: g, Proposal: p, Approver: bob}))
	require.NoError(t, h.apply([]address.Address{bob}, multisig.Approve{Group: g, Proposal: p, Approver: bob}))
	require.NoError(t, h.execute(t, g, p))

	// Rejected requests leave no entry.
	_ = h.execute(t, g, p)

	want := []string{
		audit.KindGroupCreated,
		audit.KindProposalCreated,
		audit.KindProposalApproved,
		audit.KindProposalExecuted,
	}
	require.NoError(t, h.ledger.View(h.ctx, func(r storage.Reader) error {
		cp, err := h.log.Checkpoint(h.ctx, r)
		require.NoError(t, err)
		require.Equal(t, uint64(len(want)), cp.Size)
		for i, kind := range want {
			ev, err := h.log.Entry(h.ctx, r, uint64(i))
			require.NoError(t, err)
			assert.Equal(t, kind, ev.Kind)
			assert.Equal(t, g, ev.Group)
		}
		return nil
	}))
}
