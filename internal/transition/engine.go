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

// Package transition applies named role changes across the claims store and
// the profile store. Claims are written first because they gate future
// authorization; a profile failure afterwards leaves the claims in place and
// is reported as an internal error.
package transition

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/opentrusty/entitlements/internal/audit"
	"github.com/opentrusty/entitlements/internal/authz"
	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/opentrusty/entitlements/internal/id"
	"github.com/opentrusty/entitlements/internal/observability/logger"
	"github.com/opentrusty/entitlements/internal/observability/metrics"
	"github.com/opentrusty/entitlements/internal/profile"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const invalidUIDMessage = "The uid parameter is required and must be a string."

var tracer = otel.Tracer("github.com/opentrusty/entitlements/internal/transition")

// Result is returned to the caller on success.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Engine orchestrates transitions. It owns neither store.
type Engine struct {
	guard    *authz.Guard
	claims   claims.Store
	profiles profile.Repository
	audit    audit.Logger
	metrics  *metrics.Instruments
	now      func() time.Time
}

// NewEngine creates a transition engine
func NewEngine(
	guard *authz.Guard,
	claimsStore claims.Store,
	profiles profile.Repository,
	auditLogger audit.Logger,
	instruments *metrics.Instruments,
) *Engine {
	if instruments == nil {
		instruments = metrics.NoopInstruments()
	}
	return &Engine{
		guard:    guard,
		claims:   claimsStore,
		profiles: profiles,
		audit:    auditLogger,
		metrics:  instruments,
		now:      time.Now,
	}
}

// PromoteToAdmin grants the admin role to uid
func (e *Engine) PromoteToAdmin(ctx context.Context, caller *authz.Caller, uid string) (*Result, error) {
	return e.Apply(ctx, caller, uid, mustLookup(NamePromoteToAdmin))
}

// UpgradeToPremium moves uid onto the pro plan
func (e *Engine) UpgradeToPremium(ctx context.Context, caller *authz.Caller, uid string) (*Result, error) {
	return e.Apply(ctx, caller, uid, mustLookup(NameUpgradeToPremium))
}

// DowngradeToFree moves uid back onto the free plan
func (e *Engine) DowngradeToFree(ctx context.Context, caller *authz.Caller, uid string) (*Result, error) {
	return e.Apply(ctx, caller, uid, mustLookup(NameDowngradeToFree))
}

// Apply runs t against targetUID. Every returned error is an *authz.Error;
// authorization and uid checks complete before any store is written.
func (e *Engine) Apply(ctx context.Context, caller *authz.Caller, targetUID string, t Transition) (*Result, error) {
	ctx, span := tracer.Start(ctx, "transition.Apply", trace.WithAttributes(
		attribute.String("transition.name", t.Name),
	))
	defer span.End()

	start := e.now()
	actor, ip := "", ""
	if caller != nil {
		actor, ip = caller.UID, caller.IPAddress
	}

	if err := e.guard.Check(caller, t.RequiredCapability); err != nil {
		if authz.KindOf(err) == authz.KindPermissionDenied {
			if t.DeniedMessage != "" {
				err = authz.PermissionDenied(t.DeniedMessage)
			}
			slog.InfoContext(ctx, "role transition denied",
				logger.Transition(t.Name),
				logger.Capability(t.RequiredCapability),
				logger.ActorID(actor),
			)
			e.audit.Log(ctx, audit.Event{
				ID:        id.NewUUIDv7(),
				Type:      audit.TypeTransitionDenied,
				ActorID:   actor,
				Resource:  targetUID,
				Metadata:  map[string]any{audit.AttrTransition: t.Name},
				IPAddress: ip,
			})
		}
		span.SetStatus(codes.Error, string(authz.KindOf(err)))
		e.record(ctx, t, metrics.OutcomeDenied, start)
		return nil, err
	}

	if err := profile.ValidateUID(targetUID); err != nil {
		span.SetStatus(codes.Error, string(authz.KindInvalidArgument))
		e.record(ctx, t, metrics.OutcomeInvalid, start)
		return nil, authz.InvalidArgument(invalidUIDMessage)
	}

	if err := e.claims.SetClaims(ctx, targetUID, t.Claims); err != nil {
		return nil, e.fail(ctx, span, t, actor, ip, targetUID, "set_claims", err, start)
	}

	updates := append(slices.Clone(t.Profile), profile.Set(profile.FieldUpdatedAt, profile.ServerTimestamp))
	if err := e.profiles.Update(ctx, targetUID, updates); err != nil {
		return nil, e.fail(ctx, span, t, actor, ip, targetUID, "update_profile", err, start)
	}

	slog.InfoContext(ctx, "role transition applied",
		logger.Transition(t.Name),
		logger.UID(targetUID),
		logger.Role(t.Claims.Role()),
		logger.ActorID(actor),
	)
	e.audit.Log(ctx, audit.Event{
		ID:       id.NewUUIDv7(),
		Type:     audit.TypeRoleTransitioned,
		ActorID:  actor,
		Resource: targetUID,
		Metadata: map[string]any{
			audit.AttrTransition: t.Name,
			audit.AttrRole:       t.Claims.Role(),
		},
		IPAddress: ip,
	})
	e.record(ctx, t, metrics.OutcomeSuccess, start)

	return &Result{
		Success: true,
		Message: fmt.Sprintf(t.SuccessFormat, targetUID),
	}, nil
}

// fail logs the store error with full context and hides it from the caller.
func (e *Engine) fail(ctx context.Context, span trace.Span, t Transition, actor, ip, targetUID, op string, cause error, start time.Time) error {
	slog.ErrorContext(ctx, "role transition failed",
		logger.Component("transition"),
		logger.Operation(op),
		logger.Transition(t.Name),
		logger.UID(targetUID),
		logger.ActorID(actor),
		logger.Error(cause),
	)
	span.RecordError(cause)
	span.SetStatus(codes.Error, op)

	e.audit.Log(ctx, audit.Event{
		ID:       id.NewUUIDv7(),
		Type:     audit.TypeTransitionFailed,
		ActorID:  actor,
		Resource: targetUID,
		Metadata: map[string]any{
			audit.AttrTransition: t.Name,
			audit.AttrReason:     op,
		},
		IPAddress: ip,
	})
	e.record(ctx, t, metrics.OutcomeFailure, start)

	msg := t.FailureMessage
	if msg == "" {
		msg = "Failed to apply transition."
	}
	return authz.Internal(msg)
}

func (e *Engine) record(ctx context.Context, t Transition, outcome string, start time.Time) {
	e.metrics.RecordTransition(ctx, t.Name, outcome, float64(e.now().Sub(start).Milliseconds()))
}
