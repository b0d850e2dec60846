package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/storacha/go-ucanto/client"
	"github.com/storacha/go-ucanto/core/dag/blockstore"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/receipt"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	ucantohttp "github.com/storacha/go-ucanto/transport/http"
	ucanto "github.com/storacha/go-ucanto/ucan"

	"github.com/relves/quorumsig/internal/codec"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/capabilities"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/ucan"
)

// Config configures a Client.
type Config struct {
	// Signer issues every invocation.
	Signer principal.Signer

	// ServiceDID is the server's identity, which is also the program
	// address used for derivations.
	ServiceDID string

	// ServiceURL is the server's RPC endpoint.
	ServiceURL string

	// Proofs are delegations to Signer, presented when acting for a DID
	// other than the signer's own.
	Proofs []delegation.Delegation

	// Logger for structured logging.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Signer == nil {
		return fmt.Errorf("Signer is required")
	}
	if c.ServiceDID == "" {
		return fmt.Errorf("ServiceDID is required")
	}
	if c.ServiceURL == "" {
		return fmt.Errorf("ServiceURL is required")
	}
	return nil
}

// ApplyDefaults sets default values for optional fields.
func (c *Config) ApplyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RemoteError is a failure reported by the server. It matches a
// *multisig.Error with the same code under errors.Is.
type RemoteError struct {
	Name    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *RemoteError) Is(target error) bool {
	var me *multisig.Error
	if errors.As(target, &me) {
		return me.Code == e.Name
	}
	return false
}

// Client submits multisig operations to a quorumsig server.
type Client struct {
	cfg     Config
	program address.Address
	conn    client.Connection
	logger  *slog.Logger
}

// New creates a client for the server at cfg.ServiceURL.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	serviceURL, err := url.Parse(cfg.ServiceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service URL: %w", err)
	}
	servicePrincipal, err := did.Parse(cfg.ServiceDID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service DID: %w", err)
	}

	channel := ucantohttp.NewChannel(serviceURL)
	conn, err := client.NewConnection(servicePrincipal, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return &Client{
		cfg:     cfg,
		program: address.Address(cfg.ServiceDID),
		conn:    conn,
		logger:  cfg.Logger,
	}, nil
}

// Program returns the program address the client derives addresses under.
func (c *Client) Program() address.Address {
	return c.program
}

// DID returns the signer's DID.
func (c *Client) DID() address.Address {
	return address.Address(c.cfg.Signer.DID().String())
}

type callOptions struct {
	resource string
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// As exercises the authority of resource instead of the signer's own. The
// client's proofs must delegate the call's ability on resource.
func As(resource address.Address) CallOption {
	return func(o *callOptions) {
		o.resource = string(resource)
	}
}

// CreateGroup creates a group derived from seed, funded by the signer or the
// As resource.
func (c *Client) CreateGroup(ctx context.Context, seed string, owners []address.Address, threshold uint64, opts ...CallOption) (*capabilities.CreateSuccess, error) {
	nb := capabilities.CreateCaveats{
		Seed:      seed,
		Group:     string(address.GroupAddress(c.program, seed)),
		Owners:    make([]string, len(owners)),
		Threshold: int64(threshold),
	}
	for i, o := range owners {
		nb.Owners[i] = string(o)
	}

	out, err := invoke(ctx, c, capabilities.AbilityCreate, nb, opts)
	if err != nil {
		return nil, err
	}
	group, err := codec.String(out, "group")
	if err != nil {
		return nil, err
	}
	authority, err := codec.String(out, "authority")
	if err != nil {
		return nil, err
	}
	return &capabilities.CreateSuccess{Group: group, Authority: authority}, nil
}

// Propose creates a proposal for op in group. The signer proposes; the
// signer or the As resource funds it.
func (c *Client) Propose(ctx context.Context, group address.Address, seed string, op bridge.Instruction, opts ...CallOption) (*capabilities.ProposeSuccess, error) {
	nb := capabilities.ProposeCaveats{
		Group:    string(group),
		Seed:     seed,
		Proposal: string(address.ProposalAddress(c.program, seed)),
		Target:   string(op.Target),
		Accounts: make([]capabilities.AccountCaveat, len(op.Accounts)),
		Payload:  op.Payload,
	}
	for i, acc := range op.Accounts {
		nb.Accounts[i] = capabilities.AccountCaveat{
			Address:  string(acc.Address),
			Signer:   acc.IsSigner,
			Writable: acc.IsWritable,
		}
	}

	out, err := invoke(ctx, c, capabilities.AbilityPropose, nb, opts)
	if err != nil {
		return nil, err
	}
	proposal, err := codec.String(out, "proposal")
	if err != nil {
		return nil, err
	}
	pending, err := codec.Uint(out, "pending")
	if err != nil {
		return nil, err
	}
	return &capabilities.ProposeSuccess{Proposal: proposal, Pending: int64(pending)}, nil
}

// Approve approves proposal as the signer or the As resource.
func (c *Client) Approve(ctx context.Context, group, proposal address.Address, opts ...CallOption) (*capabilities.ApproveSuccess, error) {
	nb := capabilities.ApproveCaveats{Group: string(group), Proposal: string(proposal)}

	out, err := invoke(ctx, c, capabilities.AbilityApprove, nb, opts)
	if err != nil {
		return nil, err
	}
	approvals, err := codec.Uint(out, "approvals")
	if err != nil {
		return nil, err
	}
	threshold, err := codec.Uint(out, "threshold")
	if err != nil {
		return nil, err
	}
	return &capabilities.ApproveSuccess{Approvals: int64(approvals), Threshold: int64(threshold)}, nil
}

// Execute runs an approved proposal. accounts must match the proposal's
// account list.
func (c *Client) Execute(ctx context.Context, group, proposal address.Address, accounts []address.Address, opts ...CallOption) (*capabilities.ExecuteSuccess, error) {
	nb := capabilities.ExecuteCaveats{
		Group:    string(group),
		Proposal: string(proposal),
		Accounts: make([]string, len(accounts)),
	}
	for i, a := range accounts {
		nb.Accounts[i] = string(a)
	}

	out, err := invoke(ctx, c, capabilities.AbilityExecute, nb, opts)
	if err != nil {
		return nil, err
	}
	p, err := codec.String(out, "proposal")
	if err != nil {
		return nil, err
	}
	target, err := codec.String(out, "target")
	if err != nil {
		return nil, err
	}
	return &capabilities.ExecuteSuccess{Proposal: p, Target: target}, nil
}

// proofsFor selects the configured delegations that grant ability on
// resource to the signer.
func (c *Client) proofsFor(ability, resource string) ([]delegation.Proof, error) {
	if resource == c.cfg.Signer.DID().String() {
		return nil, nil
	}
	var proofs []delegation.Proof
	var lastErr error
	for _, dlg := range c.cfg.Proofs {
		err := ucan.Validate(dlg, c.cfg.Signer.DID().String(), resource, ability)
		if err == nil {
			err = ucan.ValidateProofChain(dlg, resource)
		}
		if err != nil {
			lastErr = err
			continue
		}
		proofs = append(proofs, delegation.FromDelegation(dlg))
	}
	if len(proofs) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("no usable delegation for %s on %s: %w", ability, resource, lastErr)
		}
		return nil, fmt.Errorf("no delegation for %s on %s", ability, resource)
	}
	return proofs, nil
}

func invoke[C ipld.Builder](ctx context.Context, c *Client, ability string, nb C, opts []CallOption) (ipld.Node, error) {
	o := callOptions{resource: c.cfg.Signer.DID().String()}
	for _, opt := range opts {
		opt(&o)
	}

	proofs, err := c.proofsFor(ability, o.resource)
	if err != nil {
		return nil, err
	}

	capability := ucanto.NewCapability(ucanto.Ability(ability), ucanto.Resource(o.resource), nb)
	inv, err := invocation.Invoke(
		c.cfg.Signer,
		c.conn.ID(),
		capability,
		delegation.WithProof(proofs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create invocation: %w", err)
	}

	resp, err := client.Execute(ctx, []invocation.Invocation{inv}, c.conn)
	if err != nil {
		return nil, fmt.Errorf("failed to execute invocation: %w", err)
	}

	rcptLink, found := resp.Get(inv.Link())
	if !found {
		return nil, fmt.Errorf("no receipt found for invocation: %s", inv.Link())
	}
	bs, err := blockstore.NewBlockStore(blockstore.WithBlocksIterator(resp.Blocks()))
	if err != nil {
		return nil, fmt.Errorf("failed to create block store: %w", err)
	}
	rcpt, err := receipt.NewAnyReceipt(rcptLink, bs)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}

	out, xerr := result.Unwrap(rcpt.Out())
	if xerr != nil {
		rerr := &RemoteError{Name: "UnknownFailure", Message: fmt.Sprintf("%v", xerr)}
		if errNode, isNode := xerr.(ipld.Node); isNode {
			if name, err := codec.String(errNode, "name"); err == nil {
				rerr.Name = name
			}
			if msg, err := codec.String(errNode, "message"); err == nil {
				rerr.Message = msg
			}
		}
		c.logger.Debug("invocation failed", "ability", ability, "resource", o.resource, "failure", rerr.Name)
		return nil, rerr
	}
	node, isNode := out.(ipld.Node)
	if !isNode {
		return nil, fmt.Errorf("unexpected %s result: %v", ability, out)
	}
	return node, nil
}
