// Package bridge replays approved operations through a program runtime.
//
// A program may act for an identity it does not hold a key for by presenting
// an AuthorityProof: a token naming the program, the group it acts for and
// the authority derived from the two. The runtime accepts the proof only if
// the authority re-derives from the caller's own identity, so no program can
// claim another program's groups.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/types"
)

// MaxDepth bounds nested invocations.
const MaxDepth = 4

var (
	ErrUnknownProgram   = errors.New("unknown program")
	ErrInvalidProof     = errors.New("invalid authority proof")
	ErrMissingSignature = errors.New("missing required signature")
	ErrDepthExceeded    = errors.New("invocation depth exceeded")
)

// Instruction is an invocable operation.
type Instruction struct {
	Target   address.Address
	Accounts []types.AccountMeta
	Payload  []byte
}

// AuthorityProof asserts that Program may act as Authority on behalf of Group.
// It is a capability token, not a signature.
type AuthorityProof struct {
	Program   address.Address
	Group     address.Address
	Authority address.Address
}

// NewAuthorityProof builds the proof program presents when executing for group.
func NewAuthorityProof(program, group address.Address) AuthorityProof {
	return AuthorityProof{
		Program:   program,
		Group:     group,
		Authority: address.DelegatedAuthority(program, group),
	}
}

// Verify checks the proof was produced by caller.
func (p AuthorityProof) Verify(caller address.Address) error {
	if p.Program != caller {
		return fmt.Errorf("%w: issued for %s, presented by %s", ErrInvalidProof, p.Program, caller)
	}
	if address.DelegatedAuthority(caller, p.Group) != p.Authority {
		return fmt.Errorf("%w: %s is not the authority of %s", ErrInvalidProof, p.Authority, p.Group)
	}
	return nil
}

// Call is what a program receives from the runtime.
type Call struct {
	// Signers holds every identity authorized for this call.
	Signers  []address.Address
	Accounts []types.AccountMeta
	Payload  []byte
}

// IsSigner reports whether addr authorized the call.
func (c Call) IsSigner(addr address.Address) bool {
	return slices.Contains(c.Signers, addr)
}

// Program processes instructions addressed to it.
type Program interface {
	Process(ctx context.Context, tx storage.Tx, call Call) error
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx context.Context, tx storage.Tx, call Call) error

func (f ProgramFunc) Process(ctx context.Context, tx storage.Tx, call Call) error {
	return f(ctx, tx, call)
}

// Invoker is the generic invoke capability.
type Invoker interface {
	Invoke(ctx context.Context, tx storage.Tx, caller address.Address, ix Instruction, signers []address.Address, proofs []AuthorityProof) error
}

type depthKey struct{}

// Runtime dispatches instructions to registered programs.
type Runtime struct {
	mu       sync.RWMutex
	programs map[address.Address]Program
	logger   *slog.Logger
}

// NewRuntime returns a runtime with no programs registered.
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		programs: make(map[address.Address]Program),
		logger:   logger,
	}
}

// Register makes p reachable at id, replacing any previous registration.
func (r *Runtime) Register(id address.Address, p Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[id] = p
}

// Invoke runs ix inside tx. Signers are identities already verified by the
// caller; each proof adds its authority after verification against caller.
// Every account flagged IsSigner must be covered. Program errors are
// returned unchanged.
func (r *Runtime) Invoke(ctx context.Context, tx storage.Tx, caller address.Address, ix Instruction, signers []address.Address, proofs []AuthorityProof) error {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= MaxDepth {
		return fmt.Errorf("%w: %d", ErrDepthExceeded, MaxDepth)
	}

	authorized := slices.Clone(signers)
	for _, proof := range proofs {
		if err := proof.Verify(caller); err != nil {
			return err
		}
		authorized = append(authorized, proof.Authority)
	}

	for _, acc := range ix.Accounts {
		if acc.IsSigner && !slices.Contains(authorized, acc.Address) {
			return fmt.Errorf("%w: %s", ErrMissingSignature, acc.Address)
		}
	}

	r.mu.RLock()
	program, ok := r.programs[ix.Target]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, ix.Target)
	}

	r.logger.Debug("invoking program", "target", ix.Target, "caller", caller, "depth", depth+1, "accounts", len(ix.Accounts))

	return program.Process(context.WithValue(ctx, depthKey{}, depth+1), tx, Call{
		Signers:  authorized,
		Accounts: ix.Accounts,
		Payload:  ix.Payload,
	})
}

// Bridge replays operations as the delegated authority of a group.
type Bridge struct {
	program address.Address
	invoker Invoker
}

// New returns a bridge for operations executed by program.
func New(program address.Address, invoker Invoker) *Bridge {
	return &Bridge{program: program, invoker: invoker}
}

// InvokeAsDelegate runs ix with authority marked as a signer wherever it
// appears among the accounts. The mark lasts for this call only.
func (b *Bridge) InvokeAsDelegate(ctx context.Context, tx storage.Tx, ix Instruction, authority address.Address, proof AuthorityProof) error {
	if proof.Authority != authority {
		return fmt.Errorf("%w: proof is for %s, not %s", ErrInvalidProof, proof.Authority, authority)
	}

	accounts := slices.Clone(ix.Accounts)
	for i := range accounts {
		if accounts[i].Address == authority {
			accounts[i].IsSigner = true
		}
	}
	ix.Accounts = accounts

	return b.invoker.Invoke(ctx, tx, b.program, ix, nil, []AuthorityProof{proof})
}
