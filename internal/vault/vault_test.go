package vault_test

import (
	"calcchat/backend/internal/vault"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func openVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.Open(filepath.Join(t.TempDir(), "vault.db"), map[string]string{
		vault.KeyCalculator: "500",
		vault.KeyUserA:      "423",
	})
	require.NoError(t, err)
	v.Cost = bcrypt.MinCost
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func TestVault_VerifyFallsBackToDefault(t *testing.T) {
	v := openVault(t)
	ctx := context.Background()

	ok, err := v.Verify(ctx, vault.KeyCalculator, "500")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify(ctx, vault.KeyUserA, "500")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Verify(ctx, "unknown", "")
	require.NoError(t, err)
	assert.False(t, ok, "a key without default never verifies")
}

func TestVault_SetReplacesDefault(t *testing.T) {
	v := openVault(t)
	ctx := context.Background()

	written, err := v.Set(ctx, vault.KeyCalculator, "1234", time.Unix(100, 0))
	require.NoError(t, err)
	assert.True(t, written)

	ok, err := v.Verify(ctx, vault.KeyCalculator, "1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify(ctx, vault.KeyCalculator, "500")
	require.NoError(t, err)
	assert.False(t, ok)

	at, err := v.UpdatedAt(ctx, vault.KeyCalculator)
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Unix(100, 0)))
}

func TestVault_OlderWriteIgnored(t *testing.T) {
	v := openVault(t)
	ctx := context.Background()

	_, err := v.Set(ctx, vault.KeyUserA, "new", time.Unix(200, 0))
	require.NoError(t, err)

	written, err := v.Set(ctx, vault.KeyUserA, "old", time.Unix(100, 0))
	require.NoError(t, err)
	assert.False(t, written)

	written, err = v.Set(ctx, vault.KeyUserA, "same-time", time.Unix(200, 0))
	require.NoError(t, err)
	assert.False(t, written)

	ok, err := v.Verify(ctx, vault.KeyUserA, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVault_EmptyCodeRejected(t *testing.T) {
	v := openVault(t)
	_, err := v.Set(context.Background(), vault.KeyCalculator, "", time.Now())
	assert.ErrorIs(t, err, vault.ErrEmptyCode)
}

func TestVault_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	ctx := context.Background()

	v, err := vault.Open(path, nil)
	require.NoError(t, err)
	v.Cost = bcrypt.MinCost
	_, err = v.Set(ctx, vault.KeyCalculator, "77", time.Now())
	require.NoError(t, err)
	require.NoError(t, v.Close())

	v, err = vault.Open(path, nil)
	require.NoError(t, err)
	defer v.Close()
	ok, err := v.Verify(ctx, vault.KeyCalculator, "77")
	require.NoError(t, err)
	assert.True(t, ok)
}
