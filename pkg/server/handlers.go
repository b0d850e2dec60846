package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/receipt/fx"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/capabilities"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/service"
	"github.com/relves/quorumsig/pkg/types"
)

// Failure names for errors that do not carry a multisig code.
const (
	FailureExecution = "ExecutionFailed"
	FailureInternal  = "InternalError"
)

// executionErrors are failures of a delegated operation. They are reported
// to the caller as-is.
var executionErrors = []error{
	bridge.ErrUnknownProgram,
	bridge.ErrInvalidProof,
	bridge.ErrMissingSignature,
	bridge.ErrDepthExceeded,
	bridge.ErrInvalidInstruction,
	storage.ErrInsufficientFunding,
	storage.ErrNotFound,
	storage.ErrNotOwner,
	storage.ErrCapacityExceeded,
}

func toFailure(logger *slog.Logger, err error) capabilities.Failure {
	if code := multisig.CodeOf(err); code != "" {
		return capabilities.NewFailure(code, err.Error())
	}
	for _, target := range executionErrors {
		if errors.Is(err, target) {
			return capabilities.NewFailure(FailureExecution, err.Error())
		}
	}
	logger.Error("request failed", "error", err)
	return capabilities.NewFailure(FailureInternal, "internal error")
}

// handle adapts fn to a ucanto handler. fn receives the invocation issuer and
// the capability resource; UCAN validation has already established that the
// issuer holds the resource's authority.
func handle[C any, O ipld.Builder](
	validator RequestValidator,
	logger *slog.Logger,
	fn func(ctx context.Context, issuer, resource string, nb C) (O, error),
) server.HandlerFunc[C, O, capabilities.Failure] {
	return func(
		ctx context.Context,
		cap ucan.Capability[C],
		inv invocation.Invocation,
		ictx server.InvocationContext,
	) (result.Result[O, capabilities.Failure], fx.Effects, error) {
		if f := runValidator(ctx, validator, inv); f != nil {
			return result.Error[O](*f), nil, nil
		}

		out, err := fn(ctx, inv.Issuer().DID().String(), cap.With(), cap.Nb())
		if err != nil {
			return result.Error[O](toFailure(logger, err)), nil, nil
		}
		return result.Ok[O, capabilities.Failure](out), nil, nil
	}
}

// signers returns the identities an invocation speaks for.
func signers(issuer, resource string) []address.Address {
	out := []address.Address{address.Address(issuer)}
	if resource != issuer {
		out = append(out, address.Address(resource))
	}
	return out
}

func addresses(values []string) []address.Address {
	out := make([]address.Address, len(values))
	for i, v := range values {
		out[i] = address.Address(v)
	}
	return out
}

func malformed(message string) error {
	return &multisig.Error{Code: multisig.CodeMalformedRequest, Message: message}
}

type handlers struct {
	svc service.Service
}

// create handles multisig/create. The resource is the funder.
func (h handlers) create(ctx context.Context, issuer, resource string, nb capabilities.CreateCaveats) (capabilities.CreateSuccess, error) {
	if nb.Threshold < 0 {
		return capabilities.CreateSuccess{}, malformed("threshold is negative")
	}
	group := address.Address(nb.Group)
	err := h.svc.Submit(ctx, signers(issuer, resource), multisig.CreateGroup{
		Seed:      nb.Seed,
		Group:     group,
		Funder:    address.Address(resource),
		Owners:    addresses(nb.Owners),
		Threshold: uint64(nb.Threshold),
	})
	if err != nil {
		return capabilities.CreateSuccess{}, err
	}
	return capabilities.CreateSuccess{
		Group:     nb.Group,
		Authority: string(address.DelegatedAuthority(h.svc.Program(), group)),
	}, nil
}

// propose handles multisig/propose. The issuer proposes and the resource funds.
func (h handlers) propose(ctx context.Context, issuer, resource string, nb capabilities.ProposeCaveats) (capabilities.ProposeSuccess, error) {
	accounts := make([]types.AccountMeta, len(nb.Accounts))
	for i, acc := range nb.Accounts {
		accounts[i] = types.AccountMeta{
			Address:    address.Address(acc.Address),
			IsSigner:   acc.Signer,
			IsWritable: acc.Writable,
		}
	}
	group := address.Address(nb.Group)
	err := h.svc.Submit(ctx, signers(issuer, resource), multisig.CreateProposal{
		Group:    group,
		Proposer: address.Address(issuer),
		Funder:   address.Address(resource),
		Seed:     nb.Seed,
		Proposal: address.Address(nb.Proposal),
		Target:   address.Address(nb.Target),
		Accounts: accounts,
		Payload:  nb.Payload,
	})
	if err != nil {
		return capabilities.ProposeSuccess{}, err
	}
	g, err := h.svc.Group(ctx, group)
	if err != nil {
		return capabilities.ProposeSuccess{}, err
	}
	return capabilities.ProposeSuccess{
		Proposal: nb.Proposal,
		Pending:  int64(len(g.PendingTransactions)),
	}, nil
}

// approve handles multisig/approve. The resource is the approving owner.
func (h handlers) approve(ctx context.Context, issuer, resource string, nb capabilities.ApproveCaveats) (capabilities.ApproveSuccess, error) {
	group := address.Address(nb.Group)
	proposal := address.Address(nb.Proposal)
	err := h.svc.Submit(ctx, signers(issuer, resource), multisig.Approve{
		Group:    group,
		Proposal: proposal,
		Approver: address.Address(resource),
	})
	if err != nil {
		return capabilities.ApproveSuccess{}, err
	}
	p, err := h.svc.Proposal(ctx, proposal)
	if err != nil {
		return capabilities.ApproveSuccess{}, err
	}
	g, err := h.svc.Group(ctx, group)
	if err != nil {
		return capabilities.ApproveSuccess{}, err
	}
	return capabilities.ApproveSuccess{
		Approvals: int64(p.Approvals),
		Threshold: int64(g.Threshold),
	}, nil
}

// execute handles multisig/execute.
func (h handlers) execute(ctx context.Context, issuer, resource string, nb capabilities.ExecuteCaveats) (capabilities.ExecuteSuccess, error) {
	proposal := address.Address(nb.Proposal)
	err := h.svc.Submit(ctx, signers(issuer, resource), multisig.Execute{
		Group:    address.Address(nb.Group),
		Proposal: proposal,
		Accounts: addresses(nb.Accounts),
	})
	if err != nil {
		return capabilities.ExecuteSuccess{}, err
	}
	p, err := h.svc.Proposal(ctx, proposal)
	if err != nil {
		return capabilities.ExecuteSuccess{}, err
	}
	return capabilities.ExecuteSuccess{
		Proposal: nb.Proposal,
		Target:   string(p.Target),
	}, nil
}
