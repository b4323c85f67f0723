package locator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() Snapshot {
	return Snapshot{
		Version:    snapshotVersion,
		Routes:     map[string]string{"1": "us1", "acme": "us1", "2": "de1"},
		Slugs:      map[string]string{"1": "acme"},
		Localities: map[string]string{"us1": "us", "de1": "de"},
		Watermark:  1700000000,
	}
}

func newLevelDBBackup(t *testing.T) BackupStore {
	t.Helper()
	store, err := NewBackupStore(BackupConfig{Type: "filesystem", Path: filepath.Join(t.TempDir(), "routes")})
	require.NoError(t, err)
	return store
}

func newRedisBackup(t *testing.T) BackupStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewBackupStore(BackupConfig{Type: "redis", Addr: mr.Addr(), Key: "synapse:test"})
	require.NoError(t, err)
	return store
}

func TestBackupStores(t *testing.T) {
	stores := map[string]func(*testing.T) BackupStore{
		"filesystem": newLevelDBBackup,
		"redis":      newRedisBackup,
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			defer store.Close()

			_, ok, err := store.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "empty store must report no snapshot")

			want := testSnapshot()
			require.NoError(t, store.Save(ctx, want))
			got, ok, err := store.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
			}

			// a smaller snapshot replaces the previous one entirely
			smaller := Snapshot{Version: snapshotVersion, Routes: map[string]string{"1": "us2"}, Watermark: want.Watermark + 1}
			require.NoError(t, store.Save(ctx, smaller))
			got, ok, err = store.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			if diff := cmp.Diff(smaller, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRedisBackupUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewBackupStore(BackupConfig{Type: "redis", Addr: mr.Addr(), Key: "k"})
	require.NoError(t, err)
	defer store.Close()
	mr.Close()

	_, _, err = store.Load(context.Background())
	assert.ErrorIs(t, err, ErrBackupStoreUnavailable)
}

func TestNoopBackupStore(t *testing.T) {
	store, err := NewBackupStore(BackupConfig{Type: "none"})
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), testSnapshot()))
	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
