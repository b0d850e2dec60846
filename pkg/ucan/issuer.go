package ucan

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/ucan"
)

// Issuer creates and signs delegations of multisig capabilities.
type Issuer struct {
	signer principal.Signer
}

// NewIssuer creates an issuer signing as s.
func NewIssuer(s principal.Signer) *Issuer {
	return &Issuer{signer: s}
}

// NewIssuerFromKey creates an issuer from a raw Ed25519 private key.
func NewIssuerFromKey(privateKey ed25519.PrivateKey) (*Issuer, error) {
	s, err := signer.FromRaw(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ed25519 signer: %w", err)
	}
	return &Issuer{signer: s}, nil
}

// DID returns the issuer's DID.
func (i *Issuer) DID() string {
	return i.signer.DID().String()
}

// Signer returns the underlying signer.
func (i *Issuer) Signer() principal.Signer {
	return i.signer
}

// Delegate grants audience the abilities on resource for ttl. When the
// issuer does not own resource itself, proofs must carry its authority.
// A zero ttl issues a delegation without expiry.
func (i *Issuer) Delegate(
	audienceDID string,
	resource string,
	abilities []string,
	ttl time.Duration,
	proofs ...delegation.Delegation,
) (delegation.Delegation, error) {
	if len(abilities) == 0 {
		return nil, NewDelegationError(ErrCodeDelegationMissingCapability, "no abilities to delegate")
	}

	audience, err := did.Parse(audienceDID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse audience DID: %w", err)
	}

	caps := make([]ucan.Capability[ucan.NoCaveats], len(abilities))
	for j, can := range abilities {
		caps[j] = ucan.NewCapability(
			ucan.Ability(can),
			ucan.Resource(resource),
			ucan.NoCaveats{},
		)
	}

	opts := []delegation.Option{delegation.WithNoExpiration()}
	if ttl > 0 {
		exp := ucan.UTCUnixTimestamp(time.Now().Add(ttl).Unix())
		opts = []delegation.Option{delegation.WithExpiration(int(exp))}
	}
	if len(proofs) > 0 {
		prfs := make([]delegation.Proof, len(proofs))
		for j, p := range proofs {
			prfs[j] = delegation.FromDelegation(p)
		}
		opts = append(opts, delegation.WithProof(prfs...))
	}

	dlg, err := delegation.Delegate(i.signer, audience, caps, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create delegation: %w", err)
	}
	return dlg, nil
}
