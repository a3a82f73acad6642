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

// Package token issues and verifies the bearer tokens callers present. Each
// token embeds the custom claims stored for its subject at issue time, so a
// claims change reaches a caller on their next refresh.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/opentrusty/entitlements/internal/id"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// MinSecretLength is the shortest accepted HMAC signing secret.
const MinSecretLength = 32

// Repository persists custom claims per uid.
type Repository interface {
	Put(ctx context.Context, uid string, set claims.Set) error
	Get(ctx context.Context, uid string) (claims.Set, error)
}

// Config holds signing parameters
type Config struct {
	Issuer        string
	SigningSecret string
	TTL           time.Duration
}

// Claims is the JWT body. Custom carries the capability set.
type Claims struct {
	jwt.RegisteredClaims
	Custom claims.Set `json:"claims,omitempty"`
}

// Service issues HS256 tokens and implements claims.TokenService.
type Service struct {
	repo   Repository
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service
func NewService(repo Repository, cfg Config) (*Service, error) {
	if len(cfg.SigningSecret) < MinSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("token TTL must be positive")
	}

	return &Service{
		repo:   repo,
		issuer: cfg.Issuer,
		secret: []byte(cfg.SigningSecret),
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

// SetCustomUserClaims replaces the claims embedded in future tokens for uid.
func (s *Service) SetCustomUserClaims(ctx context.Context, uid string, set claims.Set) error {
	return s.repo.Put(ctx, uid, set)
}

// Issue mints a token for uid carrying its current custom claims. A uid with
// no stored claims gets a token with an empty set.
func (s *Service) Issue(ctx context.Context, uid string) (string, error) {
	if uid == "" {
		return "", errors.New("uid is required")
	}

	set, err := s.repo.Get(ctx, uid)
	if err != nil && !errors.Is(err, claims.ErrClaimsNotFound) {
		return "", fmt.Errorf("failed to load claims: %w", err)
	}

	now := s.now()
	body := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.NewUUIDv7(),
			Issuer:    s.issuer,
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Custom: set,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the body.
func (s *Service) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	body := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, body,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if body.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if body.Custom == nil {
		body.Custom = claims.Set{}
	}
	return body, nil
}
