package multisig

import (
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"

	"github.com/relves/quorumsig/internal/codec"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/types"
)

// Kind names a request type on the wire.
type Kind string

const (
	KindCreateGroup      Kind = "create_group"
	KindReconfigureGroup Kind = "reconfigure_group"
	KindCreateProposal   Kind = "create_proposal"
	KindApprove          Kind = "approve"
	KindExecute          Kind = "execute"
	KindDeleteProposal   Kind = "delete_proposal"
)

// Instruction is one of the request types below.
type Instruction interface {
	Kind() Kind
}

// CreateGroup initializes a group at the address derived from Seed.
// Funder pays for the record and must sign.
type CreateGroup struct {
	Seed      string
	Group     address.Address
	Funder    address.Address
	Owners    []address.Address
	Threshold uint64
}

// ReconfigureGroup replaces a group's owners and threshold. It must be
// authorized by the group's delegated authority, which in practice means it
// runs as an executed proposal.
type ReconfigureGroup struct {
	Group     address.Address
	Owners    []address.Address
	Threshold uint64
}

// CreateProposal records a candidate operation and the proposer's approval.
type CreateProposal struct {
	Group    address.Address
	Proposer address.Address
	Funder   address.Address
	Seed     string
	Proposal address.Address
	Target   address.Address
	Accounts []types.AccountMeta
	Payload  []byte
}

// Approve marks Approver's approval of Proposal.
type Approve struct {
	Group    address.Address
	Proposal address.Address
	Approver address.Address
}

// Execute runs an approved proposal. Accounts must repeat the proposal's
// stored account addresses in order.
type Execute struct {
	Group    address.Address
	Proposal address.Address
	Accounts []address.Address
}

// DeleteProposal discards a pending proposal and refunds its funder. Like
// ReconfigureGroup it needs the group's delegated authority.
type DeleteProposal struct {
	Group    address.Address
	Proposal address.Address
}

func (CreateGroup) Kind() Kind      { return KindCreateGroup }
func (ReconfigureGroup) Kind() Kind { return KindReconfigureGroup }
func (CreateProposal) Kind() Kind   { return KindCreateProposal }
func (Approve) Kind() Kind          { return KindApprove }
func (Execute) Kind() Kind          { return KindExecute }
func (DeleteProposal) Kind() Kind   { return KindDeleteProposal }

// Encode serializes ix as a kind-tagged dag-cbor map.
func Encode(ix Instruction) ([]byte, error) {
	switch ix := ix.(type) {
	case CreateGroup:
		if err := codec.CheckUint("threshold", ix.Threshold); err != nil {
			return nil, err
		}
		return codec.Encode(6, func(ma datamodel.MapAssembler) {
			kind(ma, ix)
			qp.MapEntry(ma, "seed", qp.String(ix.Seed))
			qp.MapEntry(ma, "group", qp.String(string(ix.Group)))
			qp.MapEntry(ma, "funder", qp.String(string(ix.Funder)))
			qp.MapEntry(ma, "owners", codec.Addresses(ix.Owners))
			qp.MapEntry(ma, "threshold", qp.Int(int64(ix.Threshold)))
		})
	case ReconfigureGroup:
		if err := codec.CheckUint("threshold", ix.Threshold); err != nil {
			return nil, err
		}
		return codec.Encode(4, func(ma datamodel.MapAssembler) {
			kind(ma, ix)
			qp.MapEntry(ma, "group", qp.String(string(ix.Group)))
			qp.MapEntry(ma, "owners", codec.Addresses(ix.Owners))
			qp.MapEntry(ma, "threshold", qp.Int(int64(ix.Threshold)))
		})
	case CreateProposal:
		return codec.Encode(9, func(ma datamodel.MapAssembler) {
			kind(ma, ix)
			qp.MapEntry(ma, "group", qp.String(string(ix.Group)))
			qp.MapEntry(ma, "proposer", qp.String(string(ix.Proposer)))
			qp.MapEntry(ma, "funder", qp.String(string(ix.Funder)))
			qp.MapEntry(ma, "seed", qp.String(ix.Seed))
			qp.MapEntry(ma, "proposal", qp.String(string(ix.Proposal)))
			qp.MapEntry(ma, "target", qp.String(string(ix.Target)))
			qp.MapEntry(ma, "accounts", types.AccountMetas(ix.Accounts))
			qp.MapEntry(ma, "payload", qp.Bytes(ix.Payload))
		})
	case Approve:
		return codec.Encode(4, func(ma datamodel.MapAssembler) {
			kind(ma, ix)
			qp.MapEntry(ma, "group", qp.String(string(ix.Group)))
			qp.MapEntry(ma, "proposal", qp.String(string(ix.Proposal)))
			qp.MapEntry(ma, "approver", qp.String(string(ix.Approver)))
		})
	case Execute:
		return codec.Encode(4, func(ma datamodel.MapAssembler) {
			kind(ma, ix)
			qp.MapEntry(ma, "group", qp.String(string(ix.Group)))
			qp.MapEntry(ma, "proposal", qp.String(string(ix.Proposal)))
			qp.MapEntry(ma, "accounts", codec.Addresses(ix.Accounts))
		})
	case DeleteProposal:
		return codec.Encode(3, func(ma datamodel.MapAssembler) {
			kind(ma, ix)
			qp.MapEntry(ma, "group", qp.String(string(ix.Group)))
			qp.MapEntry(ma, "proposal", qp.String(string(ix.Proposal)))
		})
	default:
		return nil, fmt.Errorf("unsupported instruction %T", ix)
	}
}

func kind(ma datamodel.MapAssembler, ix Instruction) {
	qp.MapEntry(ma, "kind", qp.String(string(ix.Kind())))
}

// Decode parses bytes written by Encode. Any failure is a MalformedRequest.
func Decode(data []byte) (Instruction, error) {
	ix, err := decode(data)
	if err != nil {
		return nil, wrapError(CodeMalformedRequest, err, "decode request")
	}
	return ix, nil
}

func decode(data []byte) (Instruction, error) {
	n, err := codec.Decode(data)
	if err != nil {
		return nil, err
	}
	k, err := codec.String(n, "kind")
	if err != nil {
		return nil, err
	}

	switch Kind(k) {
	case KindCreateGroup:
		var ix CreateGroup
		if ix.Seed, err = codec.String(n, "seed"); err != nil {
			return nil, err
		}
		if ix.Group, err = codec.Address(n, "group"); err != nil {
			return nil, err
		}
		if ix.Funder, err = codec.Address(n, "funder"); err != nil {
			return nil, err
		}
		if ix.Owners, err = codec.AddressList(n, "owners"); err != nil {
			return nil, err
		}
		if ix.Threshold, err = codec.Uint(n, "threshold"); err != nil {
			return nil, err
		}
		return ix, nil

	case KindReconfigureGroup:
		var ix ReconfigureGroup
		if ix.Group, err = codec.Address(n, "group"); err != nil {
			return nil, err
		}
		if ix.Owners, err = codec.AddressList(n, "owners"); err != nil {
			return nil, err
		}
		if ix.Threshold, err = codec.Uint(n, "threshold"); err != nil {
			return nil, err
		}
		return ix, nil

	case KindCreateProposal:
		var ix CreateProposal
		if ix.Group, err = codec.Address(n, "group"); err != nil {
			return nil, err
		}
		if ix.Proposer, err = codec.Address(n, "proposer"); err != nil {
			return nil, err
		}
		if ix.Funder, err = codec.Address(n, "funder"); err != nil {
			return nil, err
		}
		if ix.Seed, err = codec.String(n, "seed"); err != nil {
			return nil, err
		}
		if ix.Proposal, err = codec.Address(n, "proposal"); err != nil {
			return nil, err
		}
		if ix.Target, err = codec.Address(n, "target"); err != nil {
			return nil, err
		}
		if ix.Accounts, err = types.ReadAccountMetas(n, "accounts"); err != nil {
			return nil, err
		}
		if ix.Payload, err = codec.Bytes(n, "payload"); err != nil {
			return nil, err
		}
		return ix, nil

	case KindApprove:
		var ix Approve
		if ix.Group, err = codec.Address(n, "group"); err != nil {
			return nil, err
		}
		if ix.Proposal, err = codec.Address(n, "proposal"); err != nil {
			return nil, err
		}
		if ix.Approver, err = codec.Address(n, "approver"); err != nil {
			return nil, err
		}
		return ix, nil

	case KindExecute:
		var ix Execute
		if ix.Group, err = codec.Address(n, "group"); err != nil {
			return nil, err
		}
		if ix.Proposal, err = codec.Address(n, "proposal"); err != nil {
			return nil, err
		}
		if ix.Accounts, err = codec.AddressList(n, "accounts"); err != nil {
			return nil, err
		}
		return ix, nil

	case KindDeleteProposal:
		var ix DeleteProposal
		if ix.Group, err = codec.Address(n, "group"); err != nil {
			return nil, err
		}
		if ix.Proposal, err = codec.Address(n, "proposal"); err != nil {
			return nil, err
		}
		return ix, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", codec.ErrMalformed, k)
	}
}
