package claims

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockTokenService struct {
	mock.Mock
}

func (m *mockTokenService) SetCustomUserClaims(ctx context.Context, uid string, set Set) error {
	args := m.Called(ctx, uid, set)
	return args.Error(0)
}

// TestPurpose: Validates truthiness rules for capability checks.
// Scope: Unit Test
// Security: Capability evaluation (only true/non-empty values grant)
// Expected: false, "" and non-bool/non-string values never grant a capability.
// Test Case ID: CLM-01
func TestClaims_Set_Has(t *testing.T) {
	s := Set{"admin": true, "premium": false, "role": "admin", "empty": "", "num": 1}

	assert.True(t, s.Has(CapAdmin))
	assert.False(t, s.Has(CapPremium))
	assert.True(t, s.Has(FieldRole))
	assert.False(t, s.Has("empty"))
	assert.False(t, s.Has("num"))
	assert.False(t, s.Has("missing"))
	assert.Equal(t, RoleAdmin, s.Role())
	assert.Equal(t, "", Set{}.Role())
}

// TestPurpose: Validates claim set validation rules.
// Scope: Unit Test
// Security: Prevents shadowing of registered token claims
// Expected: Reserved names, unsupported types and oversized sets are rejected.
// Test Case ID: CLM-02
func TestClaims_Set_Validate(t *testing.T) {
	assert.NoError(t, Set{"admin": true, "role": RoleAdmin}.Validate())
	assert.ErrorIs(t, Set{"sub": "someone-else"}.Validate(), ErrReservedClaim)
	assert.ErrorIs(t, Set{"quota": 10}.Validate(), ErrInvalidClaimType)
	assert.ErrorIs(t, Set{"note": strings.Repeat("x", MaxPayloadBytes)}.Validate(), ErrClaimsTooLarge)
}

// TestPurpose: Validates that the adapter forwards a copy of the set and wraps failures.
// Scope: Unit Test
// Expected: Token service receives an equal set; its errors are wrapped, invalid sets never reach it.
// Test Case ID: CLM-03
func TestClaims_Adapter_SetClaims(t *testing.T) {
	ctx := context.Background()
	svc := new(mockTokenService)
	a := NewAdapter(svc)

	set := Set{"premium": true, "role": RolePremium, "free": false}
	svc.On("SetCustomUserClaims", ctx, "u1", set).Return(nil).Once()
	assert.NoError(t, a.SetClaims(ctx, "u1", set))

	downstream := errors.New("token service unavailable")
	svc.On("SetCustomUserClaims", ctx, "u2", mock.Anything).Return(downstream).Once()
	assert.ErrorIs(t, a.SetClaims(ctx, "u2", set), downstream)

	assert.ErrorIs(t, a.SetClaims(ctx, "u3", Set{"exp": "never"}), ErrReservedClaim)
	svc.AssertNotCalled(t, "SetCustomUserClaims", ctx, "u3", mock.Anything)
	svc.AssertExpectations(t)
}
