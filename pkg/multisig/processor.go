// Package multisig implements the authorization processor: groups of owners
// that create, approve and execute proposals once a threshold of owners has
// approved them.
//
// All transitions run inside a single ledger transaction. A transition that
// returns an error leaves no trace; the caller's Update rolls it back.
package multisig

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/audit"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/types"
)

// Limits.
const (
	MinSigners        = 1
	MaxSigners        = 10
	MaxTransactions   = 10
	MaxTargetAccounts = 16
	MaxPayloadSize    = 2048
)

// Processor applies multisig instructions for the program identified by ID.
type Processor struct {
	id     address.Address
	bridge *bridge.Bridge
	audit  *audit.Log
	logger *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithAuditLog records every committed transition in log.
func WithAuditLog(log *audit.Log) Option {
	return func(p *Processor) {
		p.audit = log
	}
}

// WithLogger sets the processor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor returns a processor for program id. Executed proposals are
// dispatched through invoker.
func NewProcessor(id address.Address, invoker bridge.Invoker, opts ...Option) *Processor {
	p := &Processor{
		id:     id,
		bridge: bridge.New(id, invoker),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the program identity.
func (p *Processor) ID() address.Address {
	return p.id
}

// Process implements bridge.Program. The payload is an encoded Instruction.
func (p *Processor) Process(ctx context.Context, tx storage.Tx, call bridge.Call) error {
	ix, err := Decode(call.Payload)
	if err != nil {
		return err
	}
	return p.Apply(ctx, tx, call.Signers, ix)
}

// Apply runs ix inside tx. signers are the identities that authorized the
// request; the caller is responsible for having verified them.
func (p *Processor) Apply(ctx context.Context, tx storage.Tx, signers []address.Address, ix Instruction) error {
	switch ix := ix.(type) {
	case CreateGroup:
		return p.createGroup(ctx, tx, signers, ix)
	case ReconfigureGroup:
		return p.reconfigureGroup(ctx, tx, signers, ix)
	case CreateProposal:
		return p.createProposal(ctx, tx, signers, ix)
	case Approve:
		return p.approve(ctx, tx, signers, ix)
	case Execute:
		return p.execute(ctx, tx, signers, ix)
	case DeleteProposal:
		return p.deleteProposal(ctx, tx, signers, ix)
	default:
		return newError(CodeMalformedRequest, "unsupported instruction %T", ix)
	}
}

// ValidateOwners checks an owner set and threshold.
func ValidateOwners(owners []address.Address, threshold uint64) error {
	if len(owners) == 0 {
		return newError(CodeEmptyOwnerSet, "at least %d owner required", MinSigners)
	}
	seen := make(map[address.Address]struct{}, len(owners))
	for _, o := range owners {
		if err := o.Validate(); err != nil {
			return wrapError(CodeMalformedRequest, err, "owner")
		}
		if _, dup := seen[o]; dup {
			return newError(CodeDuplicateOwner, "%s", o)
		}
		seen[o] = struct{}{}
	}
	if threshold < MinSigners || threshold > uint64(len(owners)) || threshold > MaxSigners {
		return newError(CodeInvalidThreshold, "threshold %d for %d owners", threshold, len(owners))
	}
	if len(owners) > MaxSigners {
		return newError(CodeTooManyOwners, "%d owners, at most %d allowed", len(owners), MaxSigners)
	}
	return nil
}

func requireSigner(signers []address.Address, who address.Address, role string) error {
	if !slices.Contains(signers, who) {
		return newError(CodeMissingSignature, "%s %s did not sign", role, who)
	}
	return nil
}

func validateSeed(seed string) error {
	if err := address.ValidateSeed(seed); err != nil {
		return wrapError(CodeMalformedRequest, err, "seed")
	}
	return nil
}

func (p *Processor) record(ctx context.Context, tx storage.Tx, ev audit.Event) error {
	if p.audit == nil {
		return nil
	}
	if _, err := p.audit.Append(ctx, tx, ev); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (p *Processor) createGroup(ctx context.Context, tx storage.Tx, signers []address.Address, ix CreateGroup) error {
	if err := validateSeed(ix.Seed); err != nil {
		return err
	}
	if err := ix.Funder.Validate(); err != nil {
		return wrapError(CodeMalformedRequest, err, "funder")
	}
	if err := requireSigner(signers, ix.Funder, "funder"); err != nil {
		return err
	}
	if derived := address.GroupAddress(p.id, ix.Seed); ix.Group != derived {
		return newError(CodeAddressMismatch, "group %s does not match derived %s", ix.Group, derived)
	}
	if err := ValidateOwners(ix.Owners, ix.Threshold); err != nil {
		return err
	}

	if err := p.allocate(ctx, tx, ix.Group, ix.Funder, types.GroupRecordSize); err != nil {
		return err
	}
	g := &types.Group{
		Initialized: true,
		Seed:        ix.Seed,
		Owners:      slices.Clone(ix.Owners),
		Threshold:   ix.Threshold,
	}
	if err := p.storeGroup(ctx, tx, ix.Group, g); err != nil {
		return err
	}
	if err := p.record(ctx, tx, audit.Event{Kind: audit.KindGroupCreated, Group: ix.Group, Actor: ix.Funder}); err != nil {
		return err
	}

	p.logger.Info("group created", "group", ix.Group, "owners", len(g.Owners), "threshold", g.Threshold)
	return nil
}

func (p *Processor) reconfigureGroup(ctx context.Context, tx storage.Tx, signers []address.Address, ix ReconfigureGroup) error {
	authority := address.DelegatedAuthority(p.id, ix.Group)
	if err := requireSigner(signers, authority, "group authority"); err != nil {
		return err
	}
	g, err := p.LoadGroup(ctx, tx, ix.Group)
	if err != nil {
		return err
	}
	if len(g.PendingTransactions) > 0 {
		return newError(CodePendingTransactionsExist, "group %s has %d pending proposals", ix.Group, len(g.PendingTransactions))
	}
	if err := ValidateOwners(ix.Owners, ix.Threshold); err != nil {
		return err
	}

	g.Owners = slices.Clone(ix.Owners)
	g.Threshold = ix.Threshold
	if err := p.storeGroup(ctx, tx, ix.Group, g); err != nil {
		return err
	}
	if err := p.record(ctx, tx, audit.Event{Kind: audit.KindGroupReconfigured, Group: ix.Group, Actor: authority}); err != nil {
		return err
	}

	p.logger.Info("group reconfigured", "group", ix.Group, "owners", len(g.Owners), "threshold", g.Threshold)
	return nil
}

func (p *Processor) createProposal(ctx context.Context, tx storage.Tx, signers []address.Address, ix CreateProposal) error {
	if err := requireSigner(signers, ix.Proposer, "proposer"); err != nil {
		return err
	}
	if err := requireSigner(signers, ix.Funder, "funder"); err != nil {
		return err
	}
	if err := validateSeed(ix.Seed); err != nil {
		return err
	}
	if err := validateOperation(ix.Target, ix.Accounts, ix.Payload); err != nil {
		return err
	}

	g, err := p.LoadGroup(ctx, tx, ix.Group)
	if err != nil {
		return err
	}
	idx := g.OwnerIndex(ix.Proposer)
	if idx < 0 {
		return newError(CodeUnknownOwner, "%s is not an owner of %s", ix.Proposer, ix.Group)
	}
	if len(g.PendingTransactions) >= MaxTransactions {
		return newError(CodeTooManyPending, "group %s already has %d pending proposals", ix.Group, len(g.PendingTransactions))
	}
	if derived := address.ProposalAddress(p.id, ix.Seed); ix.Proposal != derived {
		return newError(CodeAddressMismatch, "proposal %s does not match derived %s", ix.Proposal, derived)
	}

	if err := p.allocate(ctx, tx, ix.Proposal, ix.Funder, types.ProposalRecordSize); err != nil {
		return err
	}
	prop := &types.Proposal{
		Initialized: true,
		Seed:        ix.Seed,
		Group:       ix.Group,
		Target:      ix.Target,
		Accounts:    slices.Clone(ix.Accounts),
		Payload:     slices.Clone(ix.Payload),
		Signers:     make([]bool, len(g.Owners)),
	}
	prop.Signers[idx] = true
	g.PendingTransactions = append(g.PendingTransactions, ix.Proposal)

	if err := p.storeProposal(ctx, tx, ix.Proposal, prop); err != nil {
		return err
	}
	if err := p.storeGroup(ctx, tx, ix.Group, g); err != nil {
		return err
	}
	if err := p.record(ctx, tx, audit.Event{Kind: audit.KindProposalCreated, Group: ix.Group, Proposal: ix.Proposal, Actor: ix.Proposer}); err != nil {
		return err
	}

	p.logger.Info("proposal created", "group", ix.Group, "proposal", ix.Proposal, "target", ix.Target, "pending", len(g.PendingTransactions))
	return nil
}

func validateOperation(target address.Address, accounts []types.AccountMeta, payload []byte) error {
	if err := target.Validate(); err != nil {
		return wrapError(CodeMalformedRequest, err, "target")
	}
	if len(accounts) > MaxTargetAccounts {
		return newError(CodeMalformedRequest, "%d accounts, at most %d allowed", len(accounts), MaxTargetAccounts)
	}
	for i, acc := range accounts {
		if err := acc.Address.Validate(); err != nil {
			return wrapError(CodeMalformedRequest, err, "account %d", i)
		}
	}
	if len(payload) > MaxPayloadSize {
		return newError(CodeMalformedRequest, "payload is %d bytes, at most %d allowed", len(payload), MaxPayloadSize)
	}
	return nil
}

func (p *Processor) approve(ctx context.Context, tx storage.Tx, signers []address.Address, ix Approve) error {
	if err := requireSigner(signers, ix.Approver, "approver"); err != nil {
		return err
	}
	g, err := p.LoadGroup(ctx, tx, ix.Group)
	if err != nil {
		return err
	}
	prop, err := p.LoadProposal(ctx, tx, ix.Proposal)
	if err != nil {
		return err
	}
	if prop.Group != ix.Group {
		return newError(CodeGroupMismatch, "proposal %s belongs to %s", ix.Proposal, prop.Group)
	}
	idx := g.OwnerIndex(ix.Approver)
	if idx < 0 {
		return newError(CodeUnknownOwner, "%s is not an owner of %s", ix.Approver, ix.Group)
	}
	if prop.Executed {
		return newError(CodeAlreadyExecuted, "proposal %s", ix.Proposal)
	}
	if idx >= len(prop.Signers) {
		return newError(CodeInvalidRecord, "proposal %s has %d approval slots, owner index is %d", ix.Proposal, len(prop.Signers), idx)
	}
	if prop.Signers[idx] {
		p.logger.Debug("approval already recorded", "proposal", ix.Proposal, "approver", ix.Approver)
		return nil
	}

	prop.Signers[idx] = true
	if err := p.storeProposal(ctx, tx, ix.Proposal, prop); err != nil {
		return err
	}
	if err := p.record(ctx, tx, audit.Event{Kind: audit.KindProposalApproved, Group: ix.Group, Proposal: ix.Proposal, Actor: ix.Approver}); err != nil {
		return err
	}

	p.logger.Info("proposal approved", "proposal", ix.Proposal, "approver", ix.Approver, "approvals", prop.ApprovalCount(), "threshold", g.Threshold)
	return nil
}

func (p *Processor) execute(ctx context.Context, tx storage.Tx, signers []address.Address, ix Execute) error {
	g, err := p.LoadGroup(ctx, tx, ix.Group)
	if err != nil {
		return err
	}
	prop, err := p.LoadProposal(ctx, tx, ix.Proposal)
	if err != nil {
		return err
	}
	if prop.Group != ix.Group {
		return newError(CodeGroupMismatch, "proposal %s belongs to %s", ix.Proposal, prop.Group)
	}
	if prop.Executed {
		return newError(CodeAlreadyExecuted, "proposal %s", ix.Proposal)
	}
	if n := prop.ApprovalCount(); n < g.Threshold {
		return newError(CodeNotEnoughSigners, "%d of %d approvals", n, g.Threshold)
	}
	if !slices.Equal(ix.Accounts, prop.AccountAddresses()) {
		return newError(CodeAccountMismatch, "supplied accounts do not match proposal %s", ix.Proposal)
	}

	// Latch before dispatch so a nested call sees the proposal as executed.
	prop.Executed = true
	if !g.RemovePending(ix.Proposal) {
		return newError(CodeInvalidRecord, "proposal %s missing from pending index of %s", ix.Proposal, ix.Group)
	}
	if err := p.storeProposal(ctx, tx, ix.Proposal, prop); err != nil {
		return err
	}
	if err := p.storeGroup(ctx, tx, ix.Group, g); err != nil {
		return err
	}

	proof := bridge.NewAuthorityProof(p.id, ix.Group)
	op := bridge.Instruction{
		Target:   prop.Target,
		Accounts: prop.Accounts,
		Payload:  prop.Payload,
	}
	if err := p.bridge.InvokeAsDelegate(ctx, tx, op, proof.Authority, proof); err != nil {
		p.logger.Warn("delegated execution failed", "proposal", ix.Proposal, "target", prop.Target, "error", err)
		return err
	}

	var actor address.Address
	if len(signers) > 0 {
		actor = signers[0]
	}
	if err := p.record(ctx, tx, audit.Event{Kind: audit.KindProposalExecuted, Group: ix.Group, Proposal: ix.Proposal, Actor: actor}); err != nil {
		return err
	}

	p.logger.Info("proposal executed", "group", ix.Group, "proposal", ix.Proposal, "target", prop.Target)
	return nil
}

func (p *Processor) deleteProposal(ctx context.Context, tx storage.Tx, signers []address.Address, ix DeleteProposal) error {
	authority := address.DelegatedAuthority(p.id, ix.Group)
	if err := requireSigner(signers, authority, "group authority"); err != nil {
		return err
	}
	g, err := p.LoadGroup(ctx, tx, ix.Group)
	if err != nil {
		return err
	}
	prop, err := p.LoadProposal(ctx, tx, ix.Proposal)
	if err != nil {
		return err
	}
	if prop.Group != ix.Group {
		return newError(CodeGroupMismatch, "proposal %s belongs to %s", ix.Proposal, prop.Group)
	}
	if prop.Executed {
		return newError(CodeAlreadyExecuted, "proposal %s", ix.Proposal)
	}
	if !g.RemovePending(ix.Proposal) {
		return newError(CodeUnknownProposal, "proposal %s is not pending in %s", ix.Proposal, ix.Group)
	}

	if err := p.storeGroup(ctx, tx, ix.Group, g); err != nil {
		return err
	}
	if err := tx.Release(ctx, ix.Proposal, p.id); err != nil {
		return fmt.Errorf("release proposal: %w", err)
	}
	if err := p.record(ctx, tx, audit.Event{Kind: audit.KindProposalDeleted, Group: ix.Group, Proposal: ix.Proposal, Actor: authority}); err != nil {
		return err
	}

	p.logger.Info("proposal deleted", "group", ix.Group, "proposal", ix.Proposal)
	return nil
}

