// Package codec holds the dag-cbor helpers shared by the record and request
// encoders.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	"github.com/relves/quorumsig/pkg/address"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed dag-cbor")

// MaxUint is the largest unsigned value that survives a round trip through
// the dag-cbor integer kind.
const MaxUint = math.MaxInt64

// CheckUint rejects v if Uint could not read it back.
func CheckUint(key string, v uint64) error {
	if v > MaxUint {
		return fmt.Errorf("%w: field %q: %d exceeds %d", ErrMalformed, key, v, uint64(MaxUint))
	}
	return nil
}

// Encode builds a map node with fn and serializes it as dag-cbor.
func Encode(size int64, fn func(ma datamodel.MapAssembler)) ([]byte, error) {
	node, err := qp.BuildMap(basicnode.Prototype.Any, size, fn)
	if err != nil {
		return nil, fmt.Errorf("build node: %w", err)
	}
	var buf bytes.Buffer
	if err := dagcbor.Encode(node, &buf); err != nil {
		return nil, fmt.Errorf("encode dag-cbor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses data as a dag-cbor map. It never panics on hostile input.
func Decode(data []byte) (node datamodel.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			node, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	nb := basicnode.Prototype.Any.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	node = nb.Build()
	if node.Kind() != datamodel.Kind_Map {
		return nil, fmt.Errorf("%w: expected map, got %s", ErrMalformed, node.Kind())
	}
	return node, nil
}

// Addresses assembles a list of addresses.
func Addresses(addrs []address.Address) qp.Assemble {
	return qp.List(int64(len(addrs)), func(la datamodel.ListAssembler) {
		for _, a := range addrs {
			qp.ListEntry(la, qp.String(string(a)))
		}
	})
}

// Bools assembles a list of booleans.
func Bools(values []bool) qp.Assemble {
	return qp.List(int64(len(values)), func(la datamodel.ListAssembler) {
		for _, v := range values {
			qp.ListEntry(la, qp.Bool(v))
		}
	})
}

func field(n datamodel.Node, key string) (datamodel.Node, error) {
	v, err := n.LookupByString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
	}
	return v, nil
}

// String reads a string field.
func String(n datamodel.Node, key string) (string, error) {
	v, err := field(n, key)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
	}
	return s, nil
}

// Address reads an address field.
func Address(n datamodel.Node, key string) (address.Address, error) {
	s, err := String(n, key)
	return address.Address(s), err
}

// Uint reads a non-negative integer field.
func Uint(n datamodel.Node, key string) (uint64, error) {
	v, err := field(n, key)
	if err != nil {
		return 0, err
	}
	i, err := v.AsInt()
	if err != nil {
		return 0, fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
	}
	if i < 0 {
		return 0, fmt.Errorf("%w: field %q is negative", ErrMalformed, key)
	}
	return uint64(i), nil
}

// Bool reads a boolean field.
func Bool(n datamodel.Node, key string) (bool, error) {
	v, err := field(n, key)
	if err != nil {
		return false, err
	}
	b, err := v.AsBool()
	if err != nil {
		return false, fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
	}
	return b, nil
}

// Bytes reads a byte string field.
func Bytes(n datamodel.Node, key string) ([]byte, error) {
	v, err := field(n, key)
	if err != nil {
		return nil, err
	}
	b, err := v.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
	}
	return b, nil
}

// List calls fn for each element of a list field.
func List(n datamodel.Node, key string, fn func(item datamodel.Node) error) error {
	v, err := field(n, key)
	if err != nil {
		return err
	}
	if v.Kind() != datamodel.Kind_List {
		return fmt.Errorf("%w: field %q: expected list, got %s", ErrMalformed, key, v.Kind())
	}
	it := v.ListIterator()
	for !it.Done() {
		_, item, err := it.Next()
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// AddressList reads a list of addresses.
func AddressList(n datamodel.Node, key string) ([]address.Address, error) {
	var out []address.Address
	err := List(n, key, func(item datamodel.Node) error {
		s, err := item.AsString()
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
		}
		out = append(out, address.Address(s))
		return nil
	})
	return out, err
}

// BoolList reads a list of booleans.
func BoolList(n datamodel.Node, key string) ([]bool, error) {
	var out []bool
	err := List(n, key, func(item datamodel.Node) error {
		b, err := item.AsBool()
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrMalformed, key, err)
		}
		out = append(out, b)
		return nil
	})
	return out, err
}
