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

// Package provisioning establishes the initial role state for new accounts.
package provisioning

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opentrusty/entitlements/internal/audit"
	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/opentrusty/entitlements/internal/id"
	"github.com/opentrusty/entitlements/internal/observability/logger"
	"github.com/opentrusty/entitlements/internal/observability/metrics"
	"github.com/opentrusty/entitlements/internal/profile"
)

// Event is the account-creation notification.
type Event struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// InitialClaims is written for every newly provisioned account.
func InitialClaims() claims.Set {
	return claims.Set{
		claims.CapFree:   true,
		claims.FieldRole: claims.RoleFree,
	}
}

// Handler reacts to account creation.
type Handler struct {
	claims   claims.Store
	profiles profile.Repository
	audit    audit.Logger
	metrics  *metrics.Instruments
	now      func() time.Time
}

// NewHandler creates a provisioning handler
func NewHandler(claimsStore claims.Store, profiles profile.Repository, auditLogger audit.Logger, instruments *metrics.Instruments) *Handler {
	if instruments == nil {
		instruments = metrics.NoopInstruments()
	}
	return &Handler{
		claims:   claimsStore,
		profiles: profiles,
		audit:    auditLogger,
		metrics:  instruments,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleUserCreated creates the profile if absent and writes the initial
// claims when this call created it. A duplicate delivery leaves a transitioned
// user alone; it rewrites the initial claims only while the stored profile is
// still untouched, which completes a delivery whose claims write failed.
// Failures are logged and swallowed.
func (h *Handler) HandleUserCreated(ctx context.Context, ev Event) {
	log := slog.With(logger.Component("provisioning"), logger.UID(ev.UID))

	if err := profile.ValidateUID(ev.UID); err != nil {
		log.WarnContext(ctx, "rejected account creation event", logger.Error(err))
		h.finish(ctx, ev, audit.TypeProvisionFailed, metrics.OutcomeFailure, "invalid_uid")
		return
	}

	reason := ""
	p := profile.New(ev.UID, ev.Email, ev.DisplayName, h.now())
	if err := h.profiles.Create(ctx, p); err != nil {
		if !errors.Is(err, profile.ErrProfileAlreadyExists) {
			log.ErrorContext(ctx, "failed to create user profile", logger.Operation("create_profile"), logger.Error(err))
			h.finish(ctx, ev, audit.TypeProvisionFailed, metrics.OutcomeFailure, "create_profile")
			return
		}

		existing, err := h.profiles.Get(ctx, ev.UID)
		if err != nil {
			log.ErrorContext(ctx, "failed to read existing profile", logger.Operation("get_profile"), logger.Error(err))
			h.finish(ctx, ev, audit.TypeProvisionFailed, metrics.OutcomeFailure, "get_profile")
			return
		}
		if !untouched(existing) {
			log.InfoContext(ctx, "profile already exists, skipping provisioning")
			h.finish(ctx, ev, audit.TypeProvisionSkipped, metrics.OutcomeSkipped, "profile_exists")
			return
		}
		log.InfoContext(ctx, "profile exists but was never updated, rewriting initial claims")
		reason = "claims_completed"
	}

	if err := h.claims.SetClaims(ctx, ev.UID, InitialClaims()); err != nil {
		log.ErrorContext(ctx, "failed to set initial claims", logger.Operation("set_claims"), logger.Error(err))
		h.finish(ctx, ev, audit.TypeProvisionFailed, metrics.OutcomeFailure, "set_claims")
		return
	}

	log.InfoContext(ctx, "default user profile created", logger.Email(ev.Email))
	h.finish(ctx, ev, audit.TypeUserProvisioned, metrics.OutcomeSuccess, reason)
}

// untouched reports whether p is still exactly as provisioning created it:
// on the free role and never written by a transition.
func untouched(p *profile.Profile) bool {
	return p.Role == claims.RoleFree && p.UpdatedAt.Equal(p.CreatedAt)
}

func (h *Handler) finish(ctx context.Context, ev Event, eventType, outcome, reason string) {
	meta := map[string]any{
		audit.AttrEmail: ev.Email,
		audit.AttrRole:  claims.RoleFree,
	}
	if reason != "" {
		meta[audit.AttrReason] = reason
	}
	h.audit.Log(ctx, audit.Event{
		ID:       id.NewUUIDv7(),
		Type:     eventType,
		ActorID:  audit.ActorSystemProvisioning,
		Resource: ev.UID,
		Metadata: meta,
	})
	h.metrics.RecordProvisioning(ctx, outcome)
}
