// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build integration
// +build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opentrusty/entitlements/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := Config{
		Host:         envOr("DB_HOST", "localhost"),
		Port:         envOr("DB_PORT", "5432"),
		User:         envOr("DB_USER", "entitlements"),
		Password:     envOr("DB_PASSWORD", "entitlements_dev_password"),
		Database:     envOr("DB_NAME", "entitlements"),
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 1,
	}

	ctx := context.Background()
	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx, InitialSchema))
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestPurpose: Validates create-if-absent semantics and field-path updates against a real database.
// Scope: Database Integration Test
// Expected: Second Create returns ErrProfileAlreadyExists without overwriting; Update touches only named fields.
// Test Case ID: PGI-01
func TestProfileRepository_CreateUpdate(t *testing.T) {
	db := openTestDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	p := profile.New("pgi-01", "alice@example.com", "", now)
	require.NoError(t, repo.Create(ctx, p))
	defer db.pool.Exec(ctx, "DELETE FROM profiles WHERE uid = $1", p.UID)

	dup := profile.New("pgi-01", "mallory@example.com", "Mallory", now)
	assert.ErrorIs(t, repo.Create(ctx, dup), profile.ErrProfileAlreadyExists)

	require.NoError(t, repo.Update(ctx, p.UID, []profile.Update{
		profile.Set(profile.FieldRole, "premium_user"),
		profile.Set(profile.FieldSubscriptionPlanType, profile.PlanPro),
		profile.Set(profile.FieldUpdatedAt, profile.ServerTimestamp),
	}))

	got, err := repo.Get(ctx, p.UID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, "alice", got.DisplayName)
	assert.Equal(t, "premium_user", got.Role)
	assert.Equal(t, profile.PlanPro, got.Subscription.PlanType)
	assert.Nil(t, got.Subscription.EndDate)

	assert.ErrorIs(t, repo.Update(ctx, "pgi-missing", []profile.Update{
		profile.Set(profile.FieldRole, "admin"),
	}), profile.ErrProfileNotFound)
}

// TestPurpose: Validates that a batch commits every mutation and skips missing rows.
// Scope: Database Integration Test
// Expected: Usage counters are zeroed for existing profiles; a missing uid does not fail the batch.
// Test Case ID: PGI-02
func TestProfileRepository_ApplyBatch(t *testing.T) {
	db := openTestDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, uid := range []string{"pgi-02-a", "pgi-02-b"} {
		require.NoError(t, repo.Create(ctx, profile.New(uid, uid+"@example.com", "", now)))
		require.NoError(t, repo.Update(ctx, uid, []profile.Update{profile.Set(profile.FieldUsageAPICalls, 42)}))
		defer db.pool.Exec(ctx, "DELETE FROM profiles WHERE uid = $1", uid)
	}

	err := repo.ApplyBatch(ctx, []profile.Mutation{
		{UID: "pgi-02-a", Updates: profile.ResetUsageUpdates()},
		{UID: "pgi-02-missing", Updates: profile.ResetUsageUpdates()},
		{UID: "pgi-02-b", Updates: profile.ResetUsageUpdates()},
	})
	require.NoError(t, err)

	for _, uid := range []string{"pgi-02-a", "pgi-02-b"} {
		got, err := repo.Get(ctx, uid)
		require.NoError(t, err)
		assert.Zero(t, got.Usage.APICalls)
	}

	uids, err := repo.ListUIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, uids, "pgi-02-a")
	assert.Contains(t, uids, "pgi-02-b")
}
