package storage

import (
	"path/filepath"
	"testing"

	"github.com/ruteri/secrets-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreFor(t *testing.T) {
	factory := NewStoreFactory(testLogger()).WithVaultToken("root")

	t.Run("memory", func(t *testing.T) {
		store, err := factory.StoreFor("memory://")
		require.NoError(t, err)
		assert.IsType(t, &MemoryBackend{}, store)
	})

	t.Run("file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "store")
		store, err := factory.StoreFor("file://" + dir)
		require.NoError(t, err)
		assert.Equal(t, "file://"+dir, store.LocationURI())
	})

	t.Run("vault with namespace", func(t *testing.T) {
		store, err := factory.StoreFor("vault://vault:8200/kv/games/app?timeout=10s")
		require.NoError(t, err)
		vault := store.(*VaultBackend)
		assert.Equal(t, "kv", vault.mountPath)
		assert.Equal(t, "games/app", vault.dataPath)
		assert.Equal(t, "kv/data/games/app/jwt", vault.dataPathFor("jwt"))
	})

	t.Run("vault defaults", func(t *testing.T) {
		store, err := factory.StoreFor("vault://vault:8200")
		require.NoError(t, err)
		vault := store.(*VaultBackend)
		assert.Equal(t, "secret/data/app/database", vault.dataPathFor("database"))
	})

	t.Run("invalid", func(t *testing.T) {
		for _, uri := range []string{"s3://bucket", "vault://", "vault://vault:8200?timeout=abc", "::"} {
			_, err := factory.StoreFor(uri)
			assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI, uri)
		}
	})
}
