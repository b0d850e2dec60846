package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/internal/storage/sqlite"
	"github.com/relves/quorumsig/internal/storage/storagetest"
)

func TestLedger_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Ledger {
		tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(tmpDir) })

		l, err := sqlite.Open(tmpDir)
		require.NoError(t, err)
		t.Cleanup(func() { l.Close() })
		return l
	})
}

func TestLedger_OpenAndClose(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	l, err := sqlite.Open(tmpDir)
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.Equal(t, filepath.Join(tmpDir, "ledger.db"), l.DBPath())
	_, err = os.Stat(l.DBPath())
	assert.NoError(t, err, "database file should exist")

	assert.NoError(t, l.Close())
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	l1, err := sqlite.Open(tmpDir)
	require.NoError(t, err)
	require.NoError(t, l1.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Credit(ctx, "did:key:z6MkFunder", 5000); err != nil {
			return err
		}
		if err := tx.Allocate(ctx, "bafkreislot", "did:key:z6MkProgram", "did:key:z6MkFunder", 32); err != nil {
			return err
		}
		return tx.Write(ctx, "bafkreislot", "did:key:z6MkProgram", []byte("durable"))
	}))
	require.NoError(t, l1.Close())

	l2, err := sqlite.Open(tmpDir)
	require.NoError(t, err)
	defer l2.Close()

	require.NoError(t, l2.View(ctx, func(r storage.Reader) error {
		acc, err := r.Account(ctx, "bafkreislot")
		require.NoError(t, err)
		assert.Equal(t, []byte("durable"), acc.Data)
		return nil
	}))
}

func TestLedger_WithRent(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "sqlite-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()
	rent := storage.RentSchedule{PerByte: 0, Minimum: 7}

	l, err := sqlite.Open(tmpDir, sqlite.WithRent(rent))
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Credit(ctx, "did:key:z6MkFunder", 10); err != nil {
			return err
		}
		return tx.Allocate(ctx, "bafkreislot", "did:key:z6MkProgram", "did:key:z6MkFunder", 4096)
	}))

	require.NoError(t, l.View(ctx, func(r storage.Reader) error {
		balance, err := r.Balance(ctx, "did:key:z6MkFunder")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), balance)
		return nil
	}))
}
