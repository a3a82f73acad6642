package authz_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/opentrusty/entitlements/internal/authz"
	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates that the guard fails closed on every non-privileged caller shape.
// Scope: Unit Test
// Security: Privilege escalation prevention (CWE-269)
// Expected: nil caller and empty uid are unauthenticated; missing or falsy capability is denied.
// Test Case ID: AUZ-01
func TestGuard_Check(t *testing.T) {
	g := authz.NewGuard()

	tests := []struct {
		name   string
		caller *authz.Caller
		want   authz.Kind
	}{
		{"nil caller", nil, authz.KindUnauthenticated},
		{"empty uid", &authz.Caller{Claims: claims.Set{"admin": true}}, authz.KindUnauthenticated},
		{"no claims", &authz.Caller{UID: "u1"}, authz.KindPermissionDenied},
		{"false flag", &authz.Caller{UID: "u1", Claims: claims.Set{"admin": false}}, authz.KindPermissionDenied},
		{"premium only", &authz.Caller{UID: "u1", Claims: claims.Set{"premium": true, "role": "premium_user"}}, authz.KindPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(tt.caller, claims.CapAdmin)
			assert.Error(t, err)
			assert.Equal(t, tt.want, authz.KindOf(err))
		})
	}
}

func TestGuard_CheckAllowsAdmin(t *testing.T) {
	g := authz.NewGuard()
	assert.NoError(t, g.Check(&authz.Caller{UID: "u1", Claims: claims.Set{"admin": true}}, claims.CapAdmin))
}

// TestPurpose: Validates error kind classification for wrapped and foreign errors.
// Scope: Unit Test
// Expected: Wrapped *Error keeps its kind; any other error is internal.
// Test Case ID: AUZ-02
func TestKindOf(t *testing.T) {
	assert.Equal(t, authz.KindInvalidArgument, authz.KindOf(fmt.Errorf("wrap: %w", authz.InvalidArgument("bad uid"))))
	assert.Equal(t, authz.KindInternal, authz.KindOf(errors.New("boom")))
	assert.Equal(t, "permission-denied: nope", authz.PermissionDenied("nope").Error())
}
