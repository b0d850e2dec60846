package capabilities

import (
	ipldprime "github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	ipldschema "github.com/ipld/go-ipld-prime/schema"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/validator"
)

const caveatSchema = `
	type CreateCaveats struct {
		seed String
		group String
		owners [String]
		threshold Int
	}

	type AccountCaveat struct {
		address String
		signer Bool
		writable Bool
	}

	type ProposeCaveats struct {
		group String
		seed String
		proposal String
		target String
		accounts [AccountCaveat]
		payload Bytes
	}

	type ApproveCaveats struct {
		group String
		proposal String
	}

	type ExecuteCaveats struct {
		group String
		proposal String
		accounts [String]
	}
`

var caveatTypes = loadCaveatTypes()

func loadCaveatTypes() *ipldschema.TypeSystem {
	ts, err := ipldprime.LoadSchemaBytes([]byte(caveatSchema))
	if err != nil {
		panic(err)
	}
	return ts
}

func build(size int64, fn func(ma datamodel.MapAssembler)) (ipld.Node, error) {
	return qp.BuildMap(basicnode.Prototype.Any, size, fn)
}

func stringList(values []string) qp.Assemble {
	return qp.List(int64(len(values)), func(la datamodel.ListAssembler) {
		for _, v := range values {
			qp.ListEntry(la, qp.String(v))
		}
	})
}

// ToIPLD converts CreateCaveats to an IPLD node
func (c CreateCaveats) ToIPLD() (ipld.Node, error) {
	return build(4, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "seed", qp.String(c.Seed))
		qp.MapEntry(ma, "group", qp.String(c.Group))
		qp.MapEntry(ma, "owners", stringList(c.Owners))
		qp.MapEntry(ma, "threshold", qp.Int(c.Threshold))
	})
}

// ToIPLD converts CreateSuccess to an IPLD node
func (s CreateSuccess) ToIPLD() (ipld.Node, error) {
	return build(2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "group", qp.String(s.Group))
		qp.MapEntry(ma, "authority", qp.String(s.Authority))
	})
}

// ToIPLD converts ProposeCaveats to an IPLD node
func (c ProposeCaveats) ToIPLD() (ipld.Node, error) {
	return build(6, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "group", qp.String(c.Group))
		qp.MapEntry(ma, "seed", qp.String(c.Seed))
		qp.MapEntry(ma, "proposal", qp.String(c.Proposal))
		qp.MapEntry(ma, "target", qp.String(c.Target))
		qp.MapEntry(ma, "accounts", qp.List(int64(len(c.Accounts)), func(la datamodel.ListAssembler) {
			for _, acc := range c.Accounts {
				qp.ListEntry(la, qp.Map(3, func(ma datamodel.MapAssembler) {
					qp.MapEntry(ma, "address", qp.String(acc.Address))
					qp.MapEntry(ma, "signer", qp.Bool(acc.Signer))
					qp.MapEntry(ma, "writable", qp.Bool(acc.Writable))
				}))
			}
		}))
		qp.MapEntry(ma, "payload", qp.Bytes(c.Payload))
	})
}

// ToIPLD converts ProposeSuccess to an IPLD node
func (s ProposeSuccess) ToIPLD() (ipld.Node, error) {
	return build(2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "proposal", qp.String(s.Proposal))
		qp.MapEntry(ma, "pending", qp.Int(s.Pending))
	})
}

// ToIPLD converts ApproveCaveats to an IPLD node
func (c ApproveCaveats) ToIPLD() (ipld.Node, error) {
	return build(2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "group", qp.String(c.Group))
		qp.MapEntry(ma, "proposal", qp.String(c.Proposal))
	})
}

// ToIPLD converts ApproveSuccess to an IPLD node
func (s ApproveSuccess) ToIPLD() (ipld.Node, error) {
	return build(2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "approvals", qp.Int(s.Approvals))
		qp.MapEntry(ma, "threshold", qp.Int(s.Threshold))
	})
}

// ToIPLD converts ExecuteCaveats to an IPLD node
func (c ExecuteCaveats) ToIPLD() (ipld.Node, error) {
	return build(3, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "group", qp.String(c.Group))
		qp.MapEntry(ma, "proposal", qp.String(c.Proposal))
		qp.MapEntry(ma, "accounts", stringList(c.Accounts))
	})
}

// ToIPLD converts ExecuteSuccess to an IPLD node
func (s ExecuteSuccess) ToIPLD() (ipld.Node, error) {
	return build(2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "proposal", qp.String(s.Proposal))
		qp.MapEntry(ma, "target", qp.String(s.Target))
	})
}

func (f Failure) ToIPLD() (ipld.Node, error) {
	return build(2, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "name", qp.String(f.name))
		qp.MapEntry(ma, "message", qp.String(f.message))
	})
}

// Capability parsers
var (
	// MultisigCreate is the capability parser for multisig/create
	MultisigCreate = validator.NewCapability(
		AbilityCreate,
		schema.DIDString(),
		schema.Struct[CreateCaveats](caveatTypes.TypeByName("CreateCaveats"), nil),
		nil,
	)

	// MultisigPropose is the capability parser for multisig/propose
	MultisigPropose = validator.NewCapability(
		AbilityPropose,
		schema.DIDString(),
		schema.Struct[ProposeCaveats](caveatTypes.TypeByName("ProposeCaveats"), nil),
		nil,
	)

	// MultisigApprove is the capability parser for multisig/approve
	MultisigApprove = validator.NewCapability(
		AbilityApprove,
		schema.DIDString(),
		schema.Struct[ApproveCaveats](caveatTypes.TypeByName("ApproveCaveats"), nil),
		nil,
	)

	// MultisigExecute is the capability parser for multisig/execute
	MultisigExecute = validator.NewCapability(
		AbilityExecute,
		schema.DIDString(),
		schema.Struct[ExecuteCaveats](caveatTypes.TypeByName("ExecuteCaveats"), nil),
		nil,
	)
)
