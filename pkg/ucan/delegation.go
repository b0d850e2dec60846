// Package ucan issues and checks UCAN delegations of multisig capabilities.
//
// Owners and funders are DIDs. A multisig capability's resource is the DID
// whose authority the invocation exercises, so an owner lets another key
// approve on their behalf by delegating multisig/approve on their own DID.
package ucan

import (
	"fmt"
	"time"

	"github.com/storacha/go-ucanto/core/dag/blockstore"
	"github.com/storacha/go-ucanto/core/delegation"
)

// DelegationError represents an error with delegation validation.
type DelegationError struct {
	Code    string
	Message string
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDelegationError creates a new delegation error.
func NewDelegationError(code, message string) *DelegationError {
	return &DelegationError{Code: code, Message: message}
}

// Error codes for delegation validation
const (
	ErrCodeDelegationExpired           = "DELEGATION_EXPIRED"
	ErrCodeDelegationWrongAudience     = "DELEGATION_WRONG_AUDIENCE"
	ErrCodeDelegationMissingCapability = "DELEGATION_MISSING_CAPABILITY"
	ErrCodeDelegationWrongResource     = "DELEGATION_WRONG_RESOURCE"
	ErrCodeDelegationParseError        = "DELEGATION_PARSE_ERROR"
	ErrCodeDelegationNoAuthority       = "DELEGATION_NO_AUTHORITY"
)

// CapabilityInfo is one delegated ability on a resource.
type CapabilityInfo struct {
	With string `json:"with"`
	Can  string `json:"can"`
}

// Parse parses a base64-encoded delegation.
func Parse(encoded string) (delegation.Delegation, error) {
	dlg, err := delegation.Parse(encoded)
	if err != nil {
		return nil, NewDelegationError(ErrCodeDelegationParseError,
			fmt.Sprintf("failed to parse delegation: %v", err))
	}
	return dlg, nil
}

// Format encodes a delegation to a base64 string.
func Format(dlg delegation.Delegation) (string, error) {
	return delegation.Format(dlg)
}

// Validate checks that dlg is addressed to audience, unexpired, and grants
// every ability on resource. The "*" ability grants all.
func Validate(dlg delegation.Delegation, audienceDID, resource string, abilities ...string) error {
	if aud := dlg.Audience().DID().String(); aud != audienceDID {
		return NewDelegationError(ErrCodeDelegationWrongAudience,
			fmt.Sprintf("delegation audience is %s, expected %s", aud, audienceDID))
	}

	if exp := dlg.Expiration(); exp != nil {
		expTime := time.Unix(int64(*exp), 0)
		if time.Now().After(expTime) {
			return NewDelegationError(ErrCodeDelegationExpired,
				fmt.Sprintf("delegation expired at %s", expTime))
		}
	}

	granted := make(map[string][]string)
	for _, c := range dlg.Capabilities() {
		granted[c.Can()] = append(granted[c.Can()], c.With())
	}
	for _, required := range abilities {
		resources, ok := granted[required]
		if !ok {
			resources, ok = granted["*"]
		}
		if !ok {
			return NewDelegationError(ErrCodeDelegationMissingCapability,
				fmt.Sprintf("delegation missing required capability: %s", required))
		}
		if !contains(resources, resource) {
			return NewDelegationError(ErrCodeDelegationWrongResource,
				fmt.Sprintf("capability %s does not cover %s", required, resource))
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// ValidateProofChain checks that the delegation's issuer is resource, or that
// its proofs trace back to a delegation issued by resource.
func ValidateProofChain(dlg delegation.Delegation, resource string) error {
	issuer := dlg.Issuer().DID().String()
	if issuer == resource || hasAuthorityFrom(dlg, resource) {
		return nil
	}
	return NewDelegationError(ErrCodeDelegationNoAuthority,
		fmt.Sprintf("delegation issuer %s has no authority over %s", issuer, resource))
}

func hasAuthorityFrom(dlg delegation.Delegation, resource string) bool {
	links := dlg.Proofs()
	if len(links) == 0 {
		return false
	}
	bs, err := blockstore.NewBlockReader(blockstore.WithBlocksIterator(dlg.Blocks()))
	if err != nil {
		return false
	}
	for _, proof := range delegation.NewProofsView(links, bs) {
		prf, ok := proof.Delegation()
		if !ok {
			continue
		}
		// The proof must be addressed to whoever issued dlg.
		if prf.Audience().DID().String() != dlg.Issuer().DID().String() {
			continue
		}
		if prf.Issuer().DID().String() == resource || hasAuthorityFrom(prf, resource) {
			return true
		}
	}
	return false
}

// Info summarizes a delegation for logs.
type Info struct {
	Issuer       string           `json:"issuer"`
	Audience     string           `json:"audience"`
	Capabilities []CapabilityInfo `json:"capabilities"`
	Expiration   *time.Time       `json:"expiration,omitempty"`
}

// Describe extracts information from a delegation for logging.
func Describe(dlg delegation.Delegation) Info {
	caps := dlg.Capabilities()
	info := Info{
		Issuer:       dlg.Issuer().DID().String(),
		Audience:     dlg.Audience().DID().String(),
		Capabilities: make([]CapabilityInfo, len(caps)),
	}
	for i, c := range caps {
		info.Capabilities[i] = CapabilityInfo{With: c.With(), Can: c.Can()}
	}
	if exp := dlg.Expiration(); exp != nil {
		t := time.Unix(int64(*exp), 0)
		info.Expiration = &t
	}
	return info
}
