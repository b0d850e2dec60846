// Package audit keeps an append-only Merkle log of committed multisig
// transitions. Leaves are appended inside the ledger transaction that makes
// the transition, so the log and the records it describes commit together.
package audit

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	fmtlog "github.com/transparency-dev/formats/log"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
)

// Event kinds.
const (
	KindGroupCreated      = "group_created"
	KindGroupReconfigured = "group_reconfigured"
	KindProposalCreated   = "proposal_created"
	KindProposalApproved  = "proposal_approved"
	KindProposalExecuted  = "proposal_executed"
	KindProposalDeleted   = "proposal_deleted"
)

var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// Event is one audit log entry.
type Event struct {
	Kind     string          `json:"kind"`
	Group    address.Address `json:"group"`
	Proposal address.Address `json:"proposal,omitempty"`
	Actor    address.Address `json:"actor,omitempty"`
	Time     time.Time       `json:"time"`
}

// Log appends events and produces checkpoints and proofs over them.
type Log struct {
	rf     *compact.RangeFactory
	origin string
	signer *Ed25519Signer
	now    func() time.Time
}

// NewLog returns a log whose checkpoints carry origin and are signed by
// signer. signer may be nil, in which case checkpoints are unsigned.
func NewLog(origin string, signer *Ed25519Signer) *Log {
	return &Log{
		rf:     &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren},
		origin: origin,
		signer: signer,
		now:    time.Now,
	}
}

// Origin returns the checkpoint origin line.
func (l *Log) Origin() string {
	return l.origin
}

// Append adds ev to the log inside tx and returns its index.
func (l *Log) Append(ctx context.Context, tx storage.Tx, ev Event) (uint64, error) {
	if ev.Time.IsZero() {
		ev.Time = l.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode audit event: %w", err)
	}

	st, err := tx.AuditState(ctx)
	if err != nil {
		return 0, fmt.Errorf("load audit state: %w", err)
	}
	rng, err := l.rf.NewRange(0, st.Size, st.Hashes)
	if err != nil {
		return 0, fmt.Errorf("invalid audit state: %w", err)
	}

	leafHash := rfc6962.DefaultHasher.HashLeaf(data)
	var nodes []storage.AuditNode
	visit := func(id compact.NodeID, hash []byte) {
		nodes = append(nodes, storage.AuditNode{Level: id.Level, Index: id.Index, Hash: hash})
	}
	if err := rng.Append(leafHash, visit); err != nil {
		return 0, fmt.Errorf("append audit leaf: %w", err)
	}
	root, err := rng.GetRootHash(nil)
	if err != nil {
		return 0, fmt.Errorf("compute audit root: %w", err)
	}

	err = tx.AppendAudit(ctx,
		storage.AuditLeaf{Index: st.Size, Hash: leafHash, Data: data},
		nodes,
		storage.AuditState{Size: rng.End(), Root: root, Hashes: rng.Hashes()})
	if err != nil {
		return 0, err
	}
	return st.Size, nil
}

// Entry returns the event at index.
func (l *Log) Entry(ctx context.Context, r storage.Reader, index uint64) (*Event, error) {
	leaf, err := r.AuditLeaf(ctx, index)
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(leaf.Data, &ev); err != nil {
		return nil, fmt.Errorf("decode audit event %d: %w", index, err)
	}
	return &ev, nil
}

// Checkpoint is a commitment to the log at one size.
type Checkpoint struct {
	Origin string
	Size   uint64
	Root   []byte
	// Note is the signed note text. Without a signer it holds the body only.
	Note []byte
}

// Checkpoint commits to the current log state.
func (l *Log) Checkpoint(ctx context.Context, r storage.Reader) (*Checkpoint, error) {
	st, err := r.AuditState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit state: %w", err)
	}
	root := st.Root
	if st.Size == 0 {
		root = rfc6962.DefaultHasher.EmptyRoot()
	}

	body := fmtlog.Checkpoint{Origin: l.origin, Size: st.Size, Hash: root}
	text := body.Marshal()
	if l.signer != nil {
		if text, err = note.Sign(&note.Note{Text: string(text)}, l.signer); err != nil {
			return nil, fmt.Errorf("sign checkpoint: %w", err)
		}
	}

	return &Checkpoint{Origin: l.origin, Size: st.Size, Root: root, Note: text}, nil
}

// VerifyCheckpoint checks the note signature of cp against the named key and
// that the note body matches its fields.
func VerifyCheckpoint(cp *Checkpoint, name string, pub ed25519.PublicKey) error {
	v, err := NewVerifier(name, pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	n, err := note.Open(cp.Note, note.VerifierList(v))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}

	var body fmtlog.Checkpoint
	if _, err := body.Unmarshal([]byte(n.Text)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	if body.Origin != cp.Origin || body.Size != cp.Size || !bytes.Equal(body.Hash, cp.Root) {
		return fmt.Errorf("%w: body does not match checkpoint", ErrInvalidCheckpoint)
	}
	return nil
}

// InclusionProof shows that the leaf at Index is part of the tree of Size.
type InclusionProof struct {
	Index    uint64   `json:"index"`
	Size     uint64   `json:"size"`
	LeafHash []byte   `json:"leaf_hash"`
	Hashes   [][]byte `json:"hashes"`
	Root     []byte   `json:"root"`
}

// Prove builds an inclusion proof for index against the current log size.
func (l *Log) Prove(ctx context.Context, r storage.Reader, index uint64) (*InclusionProof, error) {
	st, err := r.AuditState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit state: %w", err)
	}
	nodes, err := proof.Inclusion(index, st.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	leaf, err := r.AuditLeaf(ctx, index)
	if err != nil {
		return nil, err
	}

	hashes := make([][]byte, len(nodes.IDs))
	for i, id := range nodes.IDs {
		if hashes[i], err = r.AuditNode(ctx, id.Level, id.Index); err != nil {
			return nil, err
		}
	}
	hashes, err = nodes.Rehash(hashes, rfc6962.DefaultHasher.HashChildren)
	if err != nil {
		return nil, fmt.Errorf("rehash proof: %w", err)
	}

	return &InclusionProof{
		Index:    index,
		Size:     st.Size,
		LeafHash: leaf.Hash,
		Hashes:   hashes,
		Root:     st.Root,
	}, nil
}

// VerifyInclusion checks p against its own root.
func VerifyInclusion(p *InclusionProof) error {
	return proof.VerifyInclusion(rfc6962.DefaultHasher, p.Index, p.Size, p.LeafHash, p.Hashes, p.Root)
}

// LeafHash returns the leaf hash of encoded event data.
func LeafHash(data []byte) []byte {
	return rfc6962.DefaultHasher.HashLeaf(data)
}
