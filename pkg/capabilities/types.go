// Package capabilities defines the public types for multisig UCAN capabilities.
//
// The resource ("with") of every capability is the DID whose authority the
// invocation exercises: the funder of a new group or proposal, or the owner
// approving. The invocation issuer must hold that authority, either directly
// or through a delegation chain.
package capabilities

// Capability ability constants
const (
	AbilityCreate  = "multisig/create"
	AbilityPropose = "multisig/propose"
	AbilityApprove = "multisig/approve"
	AbilityExecute = "multisig/execute"
)

// CreateCaveats represents the caveats for multisig/create. The funder is the
// capability resource.
type CreateCaveats struct {
	Seed      string   `json:"seed"`
	Group     string   `json:"group"`
	Owners    []string `json:"owners"`
	Threshold int64    `json:"threshold"`
}

// CreateSuccess is the success result for multisig/create
type CreateSuccess struct {
	Group     string `json:"group"`
	Authority string `json:"authority"`
}

// AccountCaveat is one entry of a proposal's account list.
type AccountCaveat struct {
	Address  string `json:"address"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// ProposeCaveats represents the caveats for multisig/propose. The invocation
// issuer is the proposer and the resource is the funder; they are usually
// the same DID.
type ProposeCaveats struct {
	Group    string          `json:"group"`
	Seed     string          `json:"seed"`
	Proposal string          `json:"proposal"`
	Target   string          `json:"target"`
	Accounts []AccountCaveat `json:"accounts"`
	Payload  []byte          `json:"payload"`
}

// ProposeSuccess is the success result for multisig/propose
type ProposeSuccess struct {
	Proposal string `json:"proposal"`
	Pending  int64  `json:"pending"`
}

// ApproveCaveats represents the caveats for multisig/approve. The approver
// is the capability resource.
type ApproveCaveats struct {
	Group    string `json:"group"`
	Proposal string `json:"proposal"`
}

// ApproveSuccess is the success result for multisig/approve
type ApproveSuccess struct {
	Approvals int64 `json:"approvals"`
	Threshold int64 `json:"threshold"`
}

// ExecuteCaveats represents the caveats for multisig/execute. Anyone may
// execute an approved proposal.
type ExecuteCaveats struct {
	Group    string   `json:"group"`
	Proposal string   `json:"proposal"`
	Accounts []string `json:"accounts"`
}

// ExecuteSuccess is the success result for multisig/execute
type ExecuteSuccess struct {
	Proposal string `json:"proposal"`
	Target   string `json:"target"`
}

// Failure is the failure result shared by all multisig capabilities. Name
// carries the multisig error code.
type Failure struct {
	name    string
	message string
}

func (f Failure) Name() string {
	return f.name
}

func (f Failure) Error() string {
	return f.message
}

// NewFailure creates a new Failure
func NewFailure(name, message string) Failure {
	return Failure{name: name, message: message}
}
