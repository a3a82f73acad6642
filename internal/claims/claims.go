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

package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrClaimsNotFound   = errors.New("claims not found")
	ErrClaimsTooLarge   = errors.New("claims payload exceeds size limit")
	ErrInvalidClaimType = errors.New("claim values must be bool or string")
	ErrReservedClaim    = errors.New("claim name is reserved")
)

// Capability names carried as boolean flags.
const (
	CapAdmin   = "admin"
	CapPremium = "premium"
	CapFree    = "free"
)

// FieldRole carries the authoritative role family.
const FieldRole = "role"

// Role values. Exactly one is authoritative at a time, through FieldRole; the
// boolean flags may briefly disagree while a transition is in flight.
const (
	RoleFree    = "free_user"
	RolePremium = "premium_user"
	RoleAdmin   = "admin"
)

// MaxPayloadBytes bounds the serialized size of a claims set so tokens stay small.
const MaxPayloadBytes = 1000

// Registered JWT claim names that a custom set must not shadow.
var reserved = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "nbf": true, "iat": true, "jti": true,
}

// Set maps capability names to the values embedded in every token issued for a uid.
type Set map[string]any

// Role returns the authoritative role, or "" when none is set.
func (s Set) Role() string {
	r, _ := s[FieldRole].(string)
	return r
}

// Has reports whether capability is present with a truthy value.
func (s Set) Has(capability string) bool {
	switch v := s[capability].(type) {
	case bool:
		return v
	case string:
		return v != ""
	default:
		return false
	}
}

// Clone returns a shallow copy so callers cannot mutate a stored set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Validate checks value types, reserved names and the serialized size.
func (s Set) Validate() error {
	for k, v := range s {
		if reserved[k] {
			return fmt.Errorf("%w: %s", ErrReservedClaim, k)
		}
		switch v.(type) {
		case bool, string:
		default:
			return fmt.Errorf("%w: %s is %T", ErrInvalidClaimType, k, v)
		}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode claims: %w", err)
	}
	if len(b) > MaxPayloadBytes {
		return ErrClaimsTooLarge
	}
	return nil
}

// Store is the sole writer of claims sets. SetClaims replaces the whole set for uid.
type Store interface {
	SetClaims(ctx context.Context, uid string, set Set) error
}

// TokenService is the external capability that embeds a claims set into
// tokens issued for uid after their next refresh.
type TokenService interface {
	SetCustomUserClaims(ctx context.Context, uid string, set Set) error
}

// Adapter implements Store on top of a TokenService.
type Adapter struct {
	svc TokenService
}

// NewAdapter creates a claims store backed by svc
func NewAdapter(svc TokenService) *Adapter {
	return &Adapter{svc: svc}
}

// SetClaims validates and writes set for uid.
func (a *Adapter) SetClaims(ctx context.Context, uid string, set Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if err := a.svc.SetCustomUserClaims(ctx, uid, set.Clone()); err != nil {
		return fmt.Errorf("failed to set custom claims: %w", err)
	}
	return nil
}
