// Package storagetest is a conformance suite shared by the ledger
// implementations.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/pkg/address"
)

const (
	program = address.Address("did:key:z6MkProgram")
	funder  = address.Address("did:key:z6MkFunder")
	slot    = address.Address("bafkreislot")
)

var errAbort = errors.New("abort")

// Run exercises newLedger against the storage.Ledger contract. Each ledger
// must use storage.DefaultRent.
func Run(t *testing.T, newLedger func(t *testing.T) storage.Ledger) {
	t.Run("AllocateChargesRent", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 10_000)

		err := l.Update(ctx, func(tx storage.Tx) error {
			return tx.Allocate(ctx, slot, program, funder, 100)
		})
		require.NoError(t, err)

		rent := storage.DefaultRent.Rent(100)
		require.NoError(t, l.View(ctx, func(r storage.Reader) error {
			balance, err := r.Balance(ctx, funder)
			require.NoError(t, err)
			assert.Equal(t, uint64(10_000)-rent, balance)

			acc, err := r.Account(ctx, slot)
			require.NoError(t, err)
			assert.Equal(t, program, acc.Owner)
			assert.Equal(t, funder, acc.Funder)
			assert.Equal(t, uint64(100), acc.Size)
			assert.Equal(t, rent, acc.Escrow)
			assert.Empty(t, acc.Data)
			return nil
		}))
	})

	t.Run("AllocateInsufficientFunding", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 10)

		err := l.Update(ctx, func(tx storage.Tx) error {
			return tx.Allocate(ctx, slot, program, funder, 100)
		})
		assert.ErrorIs(t, err, storage.ErrInsufficientFunding)
		assertMissing(t, l, slot)
	})

	t.Run("AllocateTwice", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 10_000)

		require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
			return tx.Allocate(ctx, slot, program, funder, 10)
		}))
		err := l.Update(ctx, func(tx storage.Tx) error {
			return tx.Allocate(ctx, slot, program, funder, 10)
		})
		assert.ErrorIs(t, err, storage.ErrAlreadyAllocated)
	})

	t.Run("WriteAndRead", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 10_000)

		require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
			if err := tx.Allocate(ctx, slot, program, funder, 8); err != nil {
				return err
			}
			if err := tx.Write(ctx, slot, program, []byte("record")); err != nil {
				return err
			}
			// Writes are visible inside the same transaction.
			acc, err := tx.Account(ctx, slot)
			require.NoError(t, err)
			assert.Equal(t, []byte("record"), acc.Data)
			return nil
		}))

		require.NoError(t, l.View(ctx, func(r storage.Reader) error {
			acc, err := r.Account(ctx, slot)
			require.NoError(t, err)
			assert.Equal(t, []byte("record"), acc.Data)
			return nil
		}))
	})

	t.Run("WriteChecks", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 10_000)
		require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
			return tx.Allocate(ctx, slot, program, funder, 4)
		}))

		err := l.Update(ctx, func(tx storage.Tx) error {
			return tx.Write(ctx, slot, program, []byte("too large"))
		})
		assert.ErrorIs(t, err, storage.ErrCapacityExceeded)

		err = l.Update(ctx, func(tx storage.Tx) error {
			return tx.Write(ctx, slot, "did:key:z6MkIntruder", []byte("x"))
		})
		assert.ErrorIs(t, err, storage.ErrNotOwner)

		err = l.Update(ctx, func(tx storage.Tx) error {
			return tx.Write(ctx, "bafkreimissing", program, []byte("x"))
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ReleaseRefundsEscrow", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		payer := address.Address("did:key:z6MkPayer")
		fund(t, l, payer, 10_000)

		require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
			return tx.Allocate(ctx, slot, program, payer, 64)
		}))

		err := l.Update(ctx, func(tx storage.Tx) error {
			return tx.Release(ctx, slot, "did:key:z6MkIntruder")
		})
		assert.ErrorIs(t, err, storage.ErrNotOwner)

		require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
			return tx.Release(ctx, slot, program)
		}))
		assertMissing(t, l, slot)
		assertBalance(t, l, payer, 10_000)
	})

	t.Run("UpdateRollsBack", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 10_000)

		err := l.Update(ctx, func(tx storage.Tx) error {
			if err := tx.Allocate(ctx, slot, program, funder, 16); err != nil {
				return err
			}
			if err := tx.Credit(ctx, "did:key:z6MkOther", 5); err != nil {
				return err
			}
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		assertMissing(t, l, slot)
		assertBalance(t, l, funder, 10_000)
		assertBalance(t, l, "did:key:z6MkOther", 0)
	})

	t.Run("DebitInsufficient", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 3)

		err := l.Update(ctx, func(tx storage.Tx) error {
			return tx.Debit(ctx, funder, 4)
		})
		assert.ErrorIs(t, err, storage.ErrInsufficientFunding)
		assertBalance(t, l, funder, 3)

		require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
			return tx.Debit(ctx, funder, 3)
		}))
		assertBalance(t, l, funder, 0)
	})

	t.Run("ViewIsSnapshot", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		fund(t, l, funder, 10)

		done := make(chan error, 1)
		require.NoError(t, l.View(ctx, func(r storage.Reader) error {
			before, err := r.Balance(ctx, funder)
			require.NoError(t, err)

			go func() {
				done <- l.Update(ctx, func(tx storage.Tx) error {
					return tx.Credit(ctx, funder, 5)
				})
			}()
			// Either the update is held back until the view ends, or it
			// commits without becoming visible here.
			select {
			case err := <-done:
				require.NoError(t, err)
				done <- nil
			case <-time.After(200 * time.Millisecond):
			}

			after, err := r.Balance(ctx, funder)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			return nil
		}))
		require.NoError(t, <-done)
		assertBalance(t, l, funder, 15)
	})

	t.Run("Audit", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)

		require.NoError(t, l.View(ctx, func(r storage.Reader) error {
			st, err := r.AuditState(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(0), st.Size)
			assert.Empty(t, st.Hashes)

			_, err = r.AuditLeaf(ctx, 0)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		}))

		h0 := hash(0xaa)
		h1 := hash(0xbb)
		h2 := hash(0xcc)
		require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
			if err := tx.AppendAudit(ctx,
				storage.AuditLeaf{Index: 0, Hash: h0, Data: []byte("zero")},
				[]storage.AuditNode{{Level: 0, Index: 0, Hash: h0}},
				storage.AuditState{Size: 1, Root: h0, Hashes: [][]byte{h0}}); err != nil {
				return err
			}
			return tx.AppendAudit(ctx,
				storage.AuditLeaf{Index: 1, Hash: h1, Data: []byte("one")},
				[]storage.AuditNode{{Level: 0, Index: 1, Hash: h1}, {Level: 1, Index: 0, Hash: h2}},
				storage.AuditState{Size: 2, Root: h2, Hashes: [][]byte{h2}})
		}))

		require.NoError(t, l.View(ctx, func(r storage.Reader) error {
			st, err := r.AuditState(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), st.Size)
			assert.Equal(t, h2, st.Root)
			assert.Equal(t, [][]byte{h2}, st.Hashes)

			leaf, err := r.AuditLeaf(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("one"), leaf.Data)
			assert.Equal(t, h1, leaf.Hash)

			node, err := r.AuditNode(ctx, 0, 1)
			require.NoError(t, err)
			assert.Equal(t, h1, node)
			node, err = r.AuditNode(ctx, 1, 0)
			require.NoError(t, err)
			assert.Equal(t, h2, node)

			_, err = r.AuditNode(ctx, 1, 1)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			return nil
		}))
	})
}

func fund(t *testing.T, l storage.Ledger, addr address.Address, amount uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		return tx.Credit(ctx, addr, amount)
	}))
}

func assertBalance(t *testing.T, l storage.Ledger, addr address.Address, want uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.View(ctx, func(r storage.Reader) error {
		got, err := r.Balance(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		return nil
	}))
}

func assertMissing(t *testing.T, l storage.Ledger, addr address.Address) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.View(ctx, func(r storage.Reader) error {
		_, err := r.Account(ctx, addr)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	}))
}

func hash(b byte) []byte {
	h := make([]byte, 32)
	for i := range h {
		h[i] = b
	}
	return h
}
