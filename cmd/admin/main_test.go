package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"calcchat/backend/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPrintCodes(t *testing.T) {
	codes, err := vault.Open(filepath.Join(t.TempDir(), "vault.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = codes.Close() })
	codes.Cost = bcrypt.MinCost

	ctx := context.Background()
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	_, err = codes.Set(ctx, vault.KeyCalculator, "777", at)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printCodes(ctx, &out, codes))

	assert.Equal(t,
		"code calculator: set "+at.Local().Format(time.RFC3339)+"\ncode user-a: default\n",
		out.String())
}
