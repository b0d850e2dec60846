// pkg/types/codec.go
package types

import (
	"errors"
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"

	"github.com/relves/quorumsig/internal/codec"
)

const (
	kindGroup    = "group"
	kindProposal = "proposal"
)

// ErrInvalidRecord is returned when stored bytes do not decode to the
// expected record type.
var ErrInvalidRecord = errors.New("invalid record")

// Serialize encodes the group as a dag-cbor map.
func (g *Group) Serialize() ([]byte, error) {
	if err := codec.CheckUint("threshold", g.Threshold); err != nil {
		return nil, err
	}
	return codec.Encode(6, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "kind", qp.String(kindGroup))
		qp.MapEntry(ma, "initialized", qp.Bool(g.Initialized))
		qp.MapEntry(ma, "seed", qp.String(g.Seed))
		qp.MapEntry(ma, "owners", codec.Addresses(g.Owners))
		qp.MapEntry(ma, "threshold", qp.Int(int64(g.Threshold)))
		qp.MapEntry(ma, "pending", codec.Addresses(g.PendingTransactions))
	})
}

// Deserialize populates the group from bytes written by Serialize.
func (g *Group) Deserialize(data []byte) error {
	n, err := decodeKind(data, kindGroup)
	if err != nil {
		return err
	}

	var out Group
	if out.Initialized, err = codec.Bool(n, "initialized"); err != nil {
		return invalid(err)
	}
	if out.Seed, err = codec.String(n, "seed"); err != nil {
		return invalid(err)
	}
	if out.Owners, err = codec.AddressList(n, "owners"); err != nil {
		return invalid(err)
	}
	if out.Threshold, err = codec.Uint(n, "threshold"); err != nil {
		return invalid(err)
	}
	if out.PendingTransactions, err = codec.AddressList(n, "pending"); err != nil {
		return invalid(err)
	}
	*g = out
	return nil
}

// Serialize encodes the proposal as a dag-cbor map.
func (p *Proposal) Serialize() ([]byte, error) {
	return codec.Encode(9, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "kind", qp.String(kindProposal))
		qp.MapEntry(ma, "initialized", qp.Bool(p.Initialized))
		qp.MapEntry(ma, "seed", qp.String(p.Seed))
		qp.MapEntry(ma, "group", qp.String(string(p.Group)))
		qp.MapEntry(ma, "target", qp.String(string(p.Target)))
		qp.MapEntry(ma, "accounts", AccountMetas(p.Accounts))
		qp.MapEntry(ma, "payload", qp.Bytes(p.Payload))
		qp.MapEntry(ma, "signers", codec.Bools(p.Signers))
		qp.MapEntry(ma, "executed", qp.Bool(p.Executed))
	})
}

// Deserialize populates the proposal from bytes written by Serialize.
func (p *Proposal) Deserialize(data []byte) error {
	n, err := decodeKind(data, kindProposal)
	if err != nil {
		return err
	}

	var out Proposal
	if out.Initialized, err = codec.Bool(n, "initialized"); err != nil {
		return invalid(err)
	}
	if out.Seed, err = codec.String(n, "seed"); err != nil {
		return invalid(err)
	}
	if out.Group, err = codec.Address(n, "group"); err != nil {
		return invalid(err)
	}
	if out.Target, err = codec.Address(n, "target"); err != nil {
		return invalid(err)
	}
	if out.Accounts, err = ReadAccountMetas(n, "accounts"); err != nil {
		return invalid(err)
	}
	if out.Payload, err = codec.Bytes(n, "payload"); err != nil {
		return invalid(err)
	}
	if out.Signers, err = codec.BoolList(n, "signers"); err != nil {
		return invalid(err)
	}
	if out.Executed, err = codec.Bool(n, "executed"); err != nil {
		return invalid(err)
	}
	*p = out
	return nil
}

// AccountMetas assembles an account list as a list of maps.
func AccountMetas(accounts []AccountMeta) qp.Assemble {
	return qp.List(int64(len(accounts)), func(la datamodel.ListAssembler) {
		for _, acc := range accounts {
			qp.ListEntry(la, qp.Map(3, func(ma datamodel.MapAssembler) {
				qp.MapEntry(ma, "address", qp.String(string(acc.Address)))
				qp.MapEntry(ma, "signer", qp.Bool(acc.IsSigner))
				qp.MapEntry(ma, "writable", qp.Bool(acc.IsWritable))
			}))
		}
	})
}

// ReadAccountMetas reads a list written by AccountMetas.
func ReadAccountMetas(n datamodel.Node, key string) ([]AccountMeta, error) {
	var out []AccountMeta
	err := codec.List(n, key, func(item datamodel.Node) error {
		var acc AccountMeta
		var err error
		if acc.Address, err = codec.Address(item, "address"); err != nil {
			return err
		}
		if acc.IsSigner, err = codec.Bool(item, "signer"); err != nil {
			return err
		}
		if acc.IsWritable, err = codec.Bool(item, "writable"); err != nil {
			return err
		}
		out = append(out, acc)
		return nil
	})
	return out, err
}

func decodeKind(data []byte, want string) (datamodel.Node, error) {
	n, err := codec.Decode(data)
	if err != nil {
		return nil, invalid(err)
	}
	kind, err := codec.String(n, "kind")
	if err != nil {
		return nil, invalid(err)
	}
	if kind != want {
		return nil, fmt.Errorf("%w: expected %s record, got %s", ErrInvalidRecord, want, kind)
	}
	return n, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
}
