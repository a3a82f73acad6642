package profile

import (
	"strings"
	"testing"
	"time"

	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates the initial profile for a new account.
// Scope: Unit Test
// Expected: free_user role, free active plan without end date or auto-renew, zero usage.
// Test Case ID: PRF-01
func TestProfile_New_Defaults(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	p := New("u1", "jane@example.com", "", now)

	assert.Equal(t, claims.RoleFree, p.Role)
	assert.Equal(t, "jane", p.DisplayName)
	assert.Equal(t, PlanFree, p.Subscription.PlanType)
	assert.True(t, p.Subscription.IsActive)
	assert.False(t, p.Subscription.AutoRenew)
	assert.Nil(t, p.Subscription.EndDate)
	assert.Zero(t, p.Usage.Bookmarks)
	assert.Zero(t, p.Usage.Downloads)
	assert.Zero(t, p.Usage.APICalls)
	assert.Equal(t, now, p.Usage.LastReset)
	assert.Equal(t, now, p.CreatedAt)
}

func TestProfile_DefaultDisplayName(t *testing.T) {
	assert.Equal(t, "Jane", DefaultDisplayName("Jane", "jane@example.com"))
	assert.Equal(t, "jane", DefaultDisplayName("", "jane@example.com"))
	assert.Equal(t, "", DefaultDisplayName("", ""))
}

// TestPurpose: Validates that field-path updates touch only the named fields.
// Scope: Unit Test
// Expected: Unrelated fields (usage, email) keep their values; ServerTimestamp resolves to now.
// Test Case ID: PRF-02
func TestProfile_Apply_FieldPaths(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created.Add(48 * time.Hour)
	p := New("u1", "a@example.com", "A", created)
	p.Usage.Downloads = 7

	err := p.Apply([]Update{
		Set(FieldRole, claims.RolePremium),
		Set(FieldSubscriptionPlanType, PlanPro),
		Set(FieldSubscriptionStartDate, ServerTimestamp),
		Set(FieldUpdatedAt, ServerTimestamp),
	}, now)
	require.NoError(t, err)

	assert.Equal(t, claims.RolePremium, p.Role)
	assert.Equal(t, PlanPro, p.Subscription.PlanType)
	assert.Equal(t, now, p.Subscription.StartDate)
	assert.Equal(t, now, p.UpdatedAt)
	assert.Equal(t, int64(7), p.Usage.Downloads)
	assert.Equal(t, "a@example.com", p.Email)
	assert.Equal(t, created, p.CreatedAt)
}

// TestPurpose: Validates that malformed updates are rejected before any field changes.
// Scope: Unit Test
// Expected: Unknown paths and mistyped values fail; the profile is unchanged.
// Test Case ID: PRF-03
func TestProfile_ValidateUpdates(t *testing.T) {
	tests := []struct {
		name    string
		updates []Update
		wantErr error
	}{
		{"empty", nil, ErrInvalidFieldValue},
		{"unknown path", []Update{Set("subscription.price", 10)}, ErrUnknownField},
		{"wrong type", []Update{Set(FieldRole, true)}, ErrInvalidFieldValue},
		{"timestamp into counter", []Update{Set(FieldUsageAPICalls, ServerTimestamp)}, ErrInvalidFieldValue},
		{"nullable end date", []Update{Set(FieldSubscriptionEndDate, nil)}, nil},
		{"int counter", []Update{Set(FieldUsageBookmarks, 0)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpdates(tt.updates)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	p := New("u1", "a@example.com", "", time.Now())
	before := *p
	assert.Error(t, p.Apply([]Update{Set(FieldRole, "admin"), Set("bogus", 1)}, time.Now()))
	assert.Equal(t, before, *p)
}

func TestProfile_ResetUsageUpdates(t *testing.T) {
	now := time.Now()
	p := New("u1", "", "", now.Add(-time.Hour))
	p.Usage = Usage{Bookmarks: 3, Downloads: 4, APICalls: 5}

	require.NoError(t, p.Apply(ResetUsageUpdates(), now))
	assert.Equal(t, Usage{LastReset: now}, p.Usage)
}

// TestPurpose: Validates uid shape checks that run before any write.
// Scope: Unit Test
// Security: Path traversal into other documents (CWE-22)
// Expected: Empty, oversized, slash, whitespace, control and invalid UTF-8 uids are rejected.
// Test Case ID: PRF-04
func TestValidateUID(t *testing.T) {
	assert.NoError(t, ValidateUID("user-123"))
	assert.NoError(t, ValidateUID(strings.Repeat("a", MaxUIDLength)))

	for _, uid := range []string{
		"",
		strings.Repeat("a", MaxUIDLength+1),
		"users/other",
		"has space",
		"tab\tuid",
		"nul\x00",
		"bad\xffutf8",
	} {
		assert.ErrorIs(t, ValidateUID(uid), ErrInvalidUID, "%q", uid)
	}
}
