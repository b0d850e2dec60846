// Package address derives deterministic storage addresses for multisig records.
//
// Addresses are CIDv1 strings over a sha2-256 digest of a namespace tag, a
// caller-chosen seed and the identity of the program that owns the records.
// Group and proposal addresses live in separate namespaces, so a seed can
// never resolve to both. The delegated authority of a group is derived from
// the group's own address rather than its seed.
package address

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// Address identifies an account on the ledger. Human and service principals
// are did:key strings; derived addresses are CID strings.
type Address string

// String implements fmt.Stringer.
func (a Address) String() string {
	return string(a)
}

const (
	NamespaceGroup     = "multisig"
	NamespaceProposal  = "transaction"
	NamespaceAuthority = "authority"

	// MaxSeedLength bounds the seed stored inside a record.
	MaxSeedLength = 32

	// MaxLength bounds any identity accepted in a request.
	MaxLength = 128
)

var (
	ErrEmptySeed    = errors.New("seed is empty")
	ErrSeedTooLong  = fmt.Errorf("seed exceeds %d bytes", MaxSeedLength)
	ErrInvalidSeed  = errors.New("seed is not valid utf-8")
	ErrEmptyAddress = errors.New("address is empty")
	ErrAddrTooLong  = fmt.Errorf("address exceeds %d bytes", MaxLength)
)

// Derive computes the address for seed within namespace, scoped to program.
func Derive(program Address, namespace string, seed []byte) Address {
	buf := make([]byte, 0, len(namespace)+1+binary.MaxVarintLen64+len(seed)+len(program))
	buf = append(buf, namespace...)
	buf = append(buf, 0)
	buf = binary.AppendUvarint(buf, uint64(len(seed)))
	buf = append(buf, seed...)
	buf = append(buf, program...)

	hash, err := mh.Sum(buf, mh.SHA2_256, -1)
	if err != nil {
		// sha2-256 is always registered
		panic(fmt.Sprintf("address: hash derivation input: %v", err))
	}
	return Address(cid.NewCidV1(uint64(multicodec.Raw), hash).String())
}

// GroupAddress returns the address of the group record named by seed.
func GroupAddress(program Address, seed string) Address {
	return Derive(program, NamespaceGroup, []byte(seed))
}

// ProposalAddress returns the address of the proposal record named by seed.
func ProposalAddress(program Address, seed string) Address {
	return Derive(program, NamespaceProposal, []byte(seed))
}

// DelegatedAuthority returns the identity that acts for group when one of
// its proposals is executed by program.
func DelegatedAuthority(program, group Address) Address {
	return Derive(program, NamespaceAuthority, []byte(group))
}

// ValidateSeed checks that seed can be stored in a record.
func ValidateSeed(seed string) error {
	switch {
	case seed == "":
		return ErrEmptySeed
	case len(seed) > MaxSeedLength:
		return ErrSeedTooLong
	case !utf8.ValidString(seed):
		return ErrInvalidSeed
	}
	return nil
}

// Validate checks that a is usable as an identity.
func (a Address) Validate() error {
	switch {
	case a == "":
		return ErrEmptyAddress
	case len(a) > MaxLength:
		return ErrAddrTooLong
	}
	return nil
}

// IsDerived reports whether a parses as a CID, which is the form of every
// address produced by Derive.
func (a Address) IsDerived() bool {
	_, err := cid.Decode(string(a))
	return err == nil
}
