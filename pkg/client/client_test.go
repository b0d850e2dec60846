package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/internal/storage/memory"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/capabilities"
	"github.com/relves/quorumsig/pkg/client"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/server"
	"github.com/relves/quorumsig/pkg/service"
	"github.com/relves/quorumsig/pkg/ucan"
)

type env struct {
	t       *testing.T
	ctx     context.Context
	url     string
	program address.Address
	ledger  storage.Ledger
	svc     *service.MultisigService
}

func newEnv(t *testing.T, funded ...principal.Signer) *env {
	t.Helper()
	ctx := context.Background()

	id, err := signer.Generate()
	require.NoError(t, err)
	program := address.Address(id.DID().String())

	l := memory.New()
	t.Cleanup(func() { l.Close() })
	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		for _, s := range funded {
			if err := tx.Credit(ctx, address.Address(s.DID().String()), 100_000); err != nil {
				return err
			}
		}
		return nil
	}))

	rt := bridge.NewRuntime(nil)
	rt.Register(bridge.SystemProgramID, bridge.SystemProgram{})
	proc := multisig.NewProcessor(program, rt)
	rt.Register(program, proc)

	svc, err := service.New(service.Config{Ledger: l, Processor: proc})
	require.NoError(t, err)

	srv, err := server.NewServer(server.WithSigner(id), server.WithService(svc))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", server.NewRPCHandler(srv))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &env{t: t, ctx: ctx, url: ts.URL, program: program, ledger: l, svc: svc}
}

func (e *env) client(s principal.Signer, proofs ...delegation.Delegation) *client.Client {
	e.t.Helper()
	c, err := client.New(client.Config{
		Signer:     s,
		ServiceDID: string(e.program),
		ServiceURL: e.url,
		Proofs:     proofs,
	})
	require.NoError(e.t, err)
	return c
}

func (e *env) balance(addr address.Address) uint64 {
	e.t.Helper()
	bal, err := e.svc.Balance(e.ctx, addr)
	require.NoError(e.t, err)
	return bal
}

func generate(t *testing.T) principal.Signer {
	t.Helper()
	s, err := signer.Generate()
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	s := generate(t)
	_, err := client.New(client.Config{ServiceDID: "did:key:z6MkProgram", ServiceURL: "http://localhost"})
	assert.ErrorContains(t, err, "Signer is required")
	_, err = client.New(client.Config{Signer: s, ServiceURL: "http://localhost"})
	assert.ErrorContains(t, err, "ServiceDID is required")
	_, err = client.New(client.Config{Signer: s, ServiceDID: "did:key:z6MkProgram"})
	assert.ErrorContains(t, err, "ServiceURL is required")
	_, err = client.New(client.Config{Signer: s, ServiceDID: "nope", ServiceURL: "http://localhost"})
	assert.Error(t, err)
}

func TestClient_Lifecycle(t *testing.T) {
	aliceKey, bobKey := generate(t), generate(t)
	e := newEnv(t, aliceKey, bobKey)
	alice, bob := e.client(aliceKey), e.client(bobKey)
	landlord := address.Address("did:key:z6MkLandlord")

	created, err := alice.CreateGroup(e.ctx, "household", []address.Address{alice.DID(), bob.DID()}, 2)
	require.NoError(t, err)
	group := address.Address(created.Group)
	authority := address.Address(created.Authority)
	assert.Equal(t, address.GroupAddress(e.program, "household"), group)

	require.NoError(t, e.ledger.Update(e.ctx, func(tx storage.Tx) error {
		return tx.Credit(e.ctx, authority, 500)
	}))

	op, err := client.Transfer(e.program, group, landlord, 300)
	require.NoError(t, err)
	proposed, err := alice.Propose(e.ctx, group, "rent", op)
	require.NoError(t, err)
	proposal := address.Address(proposed.Proposal)
	assert.Equal(t, int64(1), proposed.Pending)

	_, err = alice.Execute(e.ctx, group, proposal, client.AccountAddresses(op.Accounts))
	assert.ErrorIs(t, err, multisig.ErrNotEnoughSigners)

	approved, err := bob.Approve(e.ctx, group, proposal)
	require.NoError(t, err)
	assert.Equal(t, &capabilities.ApproveSuccess{Approvals: 2, Threshold: 2}, approved)

	executed, err := bob.Execute(e.ctx, group, proposal, client.AccountAddresses(op.Accounts))
	require.NoError(t, err)
	assert.Equal(t, string(bridge.SystemProgramID), executed.Target)
	assert.Equal(t, uint64(300), e.balance(landlord))
	assert.Equal(t, uint64(200), e.balance(authority))

	_, err = bob.Execute(e.ctx, group, proposal, client.AccountAddresses(op.Accounts))
	assert.ErrorIs(t, err, multisig.ErrAlreadyExecuted)
}

func TestClient_UnknownOwnerRejected(t *testing.T) {
	aliceKey, malloryKey := generate(t), generate(t)
	e := newEnv(t, aliceKey, malloryKey)
	alice, mallory := e.client(aliceKey), e.client(malloryKey)

	created, err := alice.CreateGroup(e.ctx, "solo", []address.Address{alice.DID()}, 1)
	require.NoError(t, err)
	group := address.Address(created.Group)

	op, err := client.Transfer(e.program, group, mallory.DID(), 1)
	require.NoError(t, err)
	_, err = mallory.Propose(e.ctx, group, "steal", op)
	require.Error(t, err)
	assert.ErrorIs(t, err, multisig.ErrUnknownOwner)

	var remote *client.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, multisig.CodeUnknownOwner, remote.Name)
}

func TestClient_DelegatedApproval(t *testing.T) {
	aliceKey, bobKey, hotKey := generate(t), generate(t), generate(t)
	e := newEnv(t, aliceKey, bobKey)
	alice := e.client(aliceKey)
	bobDID := address.Address(bobKey.DID().String())

	created, err := alice.CreateGroup(e.ctx, "ops", []address.Address{alice.DID(), bobDID}, 2)
	require.NoError(t, err)
	group := address.Address(created.Group)

	op, err := client.Transfer(e.program, group, "did:key:z6MkVendor", 0)
	require.NoError(t, err)
	proposed, err := alice.Propose(e.ctx, group, "vendor", op)
	require.NoError(t, err)
	proposal := address.Address(proposed.Proposal)

	// Without a delegation the hot key cannot speak for bob.
	hot := e.client(hotKey)
	_, err = hot.Approve(e.ctx, group, proposal, client.As(bobDID))
	assert.ErrorContains(t, err, "no delegation")

	dlg, err := ucan.NewIssuer(bobKey).Delegate(hotKey.DID().String(), string(bobDID),
		[]string{capabilities.AbilityApprove}, time.Hour)
	require.NoError(t, err)
	hot = e.client(hotKey, dlg)

	approved, err := hot.Approve(e.ctx, group, proposal, client.As(bobDID))
	require.NoError(t, err)
	assert.Equal(t, int64(2), approved.Approvals)

	// The delegation covers approve only.
	_, err = hot.Propose(e.ctx, group, "more", op, client.As(bobDID))
	assert.ErrorContains(t, err, "no usable delegation")
}

func TestClient_ReconfigureThroughProposal(t *testing.T) {
	aliceKey, bobKey := generate(t), generate(t)
	e := newEnv(t, aliceKey, bobKey)
	alice := e.client(aliceKey)
	bobDID := address.Address(bobKey.DID().String())

	created, err := alice.CreateGroup(e.ctx, "ops", []address.Address{alice.DID()}, 1)
	require.NoError(t, err)
	group := address.Address(created.Group)

	op, err := client.Reconfigure(e.program, group, []address.Address{alice.DID(), bobDID}, 2)
	require.NoError(t, err)
	proposed, err := alice.Propose(e.ctx, group, "add-bob", op)
	require.NoError(t, err)

	_, err = alice.Execute(e.ctx, group, address.Address(proposed.Proposal), client.AccountAddresses(op.Accounts))
	require.NoError(t, err)

	view, err := e.svc.Group(e.ctx, group)
	require.NoError(t, err)
	assert.Equal(t, []address.Address{alice.DID(), bobDID}, view.Owners)
	assert.Equal(t, uint64(2), view.Threshold)
}
