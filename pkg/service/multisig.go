package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/audit"
	"github.com/relves/quorumsig/pkg/multisig"
)

// DefaultCacheSize bounds the executed-proposal cache when none is configured.
const DefaultCacheSize = 1024

// ErrAuditDisabled is returned by audit reads when no log is configured.
var ErrAuditDisabled = errors.New("audit log not configured")

// MultisigService runs requests against a ledger.
type MultisigService struct {
	ledger    storage.Ledger
	processor *multisig.Processor
	audit     *audit.Log
	logger    *slog.Logger

	// Executed proposals never change again, so their views can be served
	// without touching the ledger.
	executed *lru.Cache[address.Address, *ProposalView]
}

// Config holds the dependencies of a MultisigService.
type Config struct {
	Ledger    storage.Ledger
	Processor *multisig.Processor
	Audit     *audit.Log
	CacheSize int
	Logger    *slog.Logger
}

// New creates a MultisigService.
func New(cfg Config) (*MultisigService, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("processor is required")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[address.Address, *ProposalView](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create proposal cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MultisigService{
		ledger:    cfg.Ledger,
		processor: cfg.Processor,
		audit:     cfg.Audit,
		logger:    logger,
		executed:  cache,
	}, nil
}

// Program returns the identity of the multisig program.
func (s *MultisigService) Program() address.Address {
	return s.processor.ID()
}

// Submit applies ix in its own ledger transaction. Nothing is committed if
// it fails.
func (s *MultisigService) Submit(ctx context.Context, signers []address.Address, ix multisig.Instruction) error {
	err := s.ledger.Update(ctx, func(tx storage.Tx) error {
		return s.processor.Apply(ctx, tx, signers, ix)
	})
	if err != nil {
		s.logger.Debug("request rejected", "kind", ix.Kind(), "code", multisig.CodeOf(err), "error", err)
		return err
	}
	return nil
}

// SubmitEncoded decodes data as an instruction and submits it.
func (s *MultisigService) SubmitEncoded(ctx context.Context, signers []address.Address, data []byte) error {
	ix, err := multisig.Decode(data)
	if err != nil {
		return err
	}
	return s.Submit(ctx, signers, ix)
}

// Group returns the committed state of a group.
func (s *MultisigService) Group(ctx context.Context, addr address.Address) (*GroupView, error) {
	var view *GroupView
	err := s.ledger.View(ctx, func(r storage.Reader) error {
		g, err := s.processor.LoadGroup(ctx, r, addr)
		if err != nil {
			return err
		}
		view = newGroupView(s.Program(), addr, g)
		return nil
	})
	return view, err
}

// Proposal returns the committed state of a proposal.
func (s *MultisigService) Proposal(ctx context.Context, addr address.Address) (*ProposalView, error) {
	if view, ok := s.executed.Get(addr); ok {
		return view, nil
	}
	var view *ProposalView
	err := s.ledger.View(ctx, func(r storage.Reader) error {
		var err error
		view, err = s.loadProposal(ctx, r, addr)
		return err
	})
	return view, err
}

func (s *MultisigService) loadProposal(ctx context.Context, r storage.Reader, addr address.Address) (*ProposalView, error) {
	p, err := s.processor.LoadProposal(ctx, r, addr)
	if err != nil {
		return nil, err
	}
	view := newProposalView(addr, p)
	if view.Executed {
		s.executed.Add(addr, view)
	}
	return view, nil
}

// PendingProposals returns the group's pending proposals in creation order.
func (s *MultisigService) PendingProposals(ctx context.Context, group address.Address) ([]*ProposalView, error) {
	var views []*ProposalView
	err := s.ledger.View(ctx, func(r storage.Reader) error {
		g, err := s.processor.LoadGroup(ctx, r, group)
		if err != nil {
			return err
		}

		views = make([]*ProposalView, len(g.PendingTransactions))
		eg, ctx := errgroup.WithContext(ctx)
		for i, addr := range g.PendingTransactions {
			eg.Go(func() error {
				view, err := s.loadProposal(ctx, r, addr)
				if err != nil {
					return fmt.Errorf("pending proposal %s: %w", addr, err)
				}
				views[i] = view
				return nil
			})
		}
		return eg.Wait()
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// Balance returns the ledger balance of addr.
func (s *MultisigService) Balance(ctx context.Context, addr address.Address) (uint64, error) {
	var bal uint64
	err := s.ledger.View(ctx, func(r storage.Reader) error {
		var err error
		bal, err = r.Balance(ctx, addr)
		return err
	})
	return bal, err
}

// Checkpoint returns a checkpoint of the audit log.
func (s *MultisigService) Checkpoint(ctx context.Context) (*audit.Checkpoint, error) {
	if s.audit == nil {
		return nil, ErrAuditDisabled
	}
	var cp *audit.Checkpoint
	err := s.ledger.View(ctx, func(r storage.Reader) error {
		var err error
		cp, err = s.audit.Checkpoint(ctx, r)
		return err
	})
	return cp, err
}

// Prove returns an inclusion proof for the audit entry at index against the
// current log size.
func (s *MultisigService) Prove(ctx context.Context, index uint64) (*audit.InclusionProof, error) {
	if s.audit == nil {
		return nil, ErrAuditDisabled
	}
	var p *audit.InclusionProof
	err := s.ledger.View(ctx, func(r storage.Reader) error {
		var err error
		p, err = s.audit.Prove(ctx, r, index)
		return err
	})
	return p, err
}

// AuditEntry returns the audit event at index.
func (s *MultisigService) AuditEntry(ctx context.Context, index uint64) (*audit.Event, error) {
	if s.audit == nil {
		return nil, ErrAuditDisabled
	}
	var ev *audit.Event
	err := s.ledger.View(ctx, func(r storage.Reader) error {
		var err error
		ev, err = s.audit.Entry(ctx, r, index)
		return err
	})
	return ev, err
}
