package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupClaimsRepository(t *testing.T) (*ClaimsRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewClaimsRepository(client, "claims:"), mr
}

// TestPurpose: Validates that a claims write replaces the whole stored set.
// Scope: Unit Test
// Security: Stale capability flags must not survive a replacement write (privilege retention)
// Expected: The second Put leaves no trace of keys only present in the first.
// Test Case ID: RDS-01
func TestClaimsRepository_PutReplaces(t *testing.T) {
	repo, mr := setupClaimsRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "u1", claims.Set{"admin": true, "role": "admin"}))
	require.NoError(t, repo.Put(ctx, "u1", claims.Set{"free": true, "role": "free_user"}))

	got, err := repo.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, claims.Set{"free": true, "role": "free_user"}, got)
	assert.True(t, mr.Exists("claims:u1"))
}

// TestPurpose: Validates the not-found mapping for an unknown uid.
// Scope: Unit Test
// Expected: claims.ErrClaimsNotFound.
// Test Case ID: RDS-02
func TestClaimsRepository_GetMissing(t *testing.T) {
	repo, _ := setupClaimsRepository(t)

	_, err := repo.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, claims.ErrClaimsNotFound)
}

func TestClaimsRepository_GetCorrupt(t *testing.T) {
	repo, mr := setupClaimsRepository(t)
	require.NoError(t, mr.Set("claims:u1", "{not json"))

	_, err := repo.Get(context.Background(), "u1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, claims.ErrClaimsNotFound)
}

func TestClaimsRepository_Unavailable(t *testing.T) {
	repo, mr := setupClaimsRepository(t)
	mr.Close()

	err := repo.Put(context.Background(), "u1", claims.Set{"free": true})
	assert.Error(t, err)
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), Config{Addr: addr})
	assert.Error(t, err)
}
