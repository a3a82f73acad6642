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

package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/opentrusty/entitlements/internal/claims"
)

// Domain errors
var (
	ErrProfileNotFound      = errors.New("profile not found")
	ErrProfileAlreadyExists = errors.New("profile already exists")
	ErrUnknownField         = errors.New("unknown profile field")
	ErrInvalidFieldValue    = errors.New("invalid profile field value")
	ErrBatchTooLarge        = errors.New("batch exceeds store limit")
	ErrInvalidUID           = errors.New("invalid uid")
)

// Plan types
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// MaxBatchSize is the largest number of mutations ApplyBatch accepts.
const MaxBatchSize = 500

// MaxUIDLength bounds a uid in bytes.
const MaxUIDLength = 128

// ValidateUID checks that uid can address a single profile.
func ValidateUID(uid string) error {
	if uid == "" || len(uid) > MaxUIDLength {
		return fmt.Errorf("%w: length must be 1-%d bytes", ErrInvalidUID, MaxUIDLength)
	}
	for _, r := range uid {
		if r == '/' || r == utf8.RuneError || unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains %q", ErrInvalidUID, r)
		}
	}
	return nil
}

// Profile is the durable per-user record. Role mirrors the claims role.
type Profile struct {
	UID          string       `json:"uid"`
	Email        string       `json:"email"`
	DisplayName  string       `json:"displayName"`
	Role         string       `json:"role"`
	Subscription Subscription `json:"subscription"`
	Usage        Usage        `json:"usage"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	LastLogin    time.Time    `json:"lastLogin"`
}

// Subscription holds billing state
type Subscription struct {
	PlanType  string     `json:"planType"`
	IsActive  bool       `json:"isActive"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	AutoRenew bool       `json:"autoRenew"`
}

// Usage holds per-period counters
type Usage struct {
	Bookmarks int64     `json:"bookmarks"`
	Downloads int64     `json:"downloads"`
	APICalls  int64     `json:"apiCalls"`
	LastReset time.Time `json:"lastReset"`
}

// Field paths addressable by Update.
const (
	FieldEmail                 = "email"
	FieldDisplayName           = "displayName"
	FieldRole                  = "role"
	FieldSubscriptionPlanType  = "subscription.planType"
	FieldSubscriptionIsActive  = "subscription.isActive"
	FieldSubscriptionStartDate = "subscription.startDate"
	FieldSubscriptionEndDate   = "subscription.endDate"
	FieldSubscriptionAutoRenew = "subscription.autoRenew"
	FieldUsageBookmarks        = "usage.bookmarks"
	FieldUsageDownloads        = "usage.downloads"
	FieldUsageAPICalls         = "usage.apiCalls"
	FieldUsageLastReset        = "usage.lastReset"
	FieldUpdatedAt             = "updatedAt"
	FieldLastLogin             = "lastLogin"
)

type kind int

const (
	kindString kind = iota
	kindBool
	kindInt
	kindTime
	kindNullableTime
)

var fieldKinds = map[string]kind{
	FieldEmail:                 kindString,
	FieldDisplayName:           kindString,
	FieldRole:                  kindString,
	FieldSubscriptionPlanType:  kindString,
	FieldSubscriptionIsActive:  kindBool,
	FieldSubscriptionStartDate: kindTime,
	FieldSubscriptionEndDate:   kindNullableTime,
	FieldSubscriptionAutoRenew: kindBool,
	FieldUsageBookmarks:        kindInt,
	FieldUsageDownloads:        kindInt,
	FieldUsageAPICalls:         kindInt,
	FieldUsageLastReset:        kindTime,
	FieldUpdatedAt:             kindTime,
	FieldLastLogin:             kindTime,
}

type serverTimestamp struct{}

// ServerTimestamp is resolved to the store's write time when an Update is applied.
var ServerTimestamp any = serverTimestamp{}

// Update sets one field path. Only the named fields are written, so concurrent
// updates to unrelated fields are never clobbered.
type Update struct {
	Path  string
	Value any
}

// Set builds an Update
func Set(path string, value any) Update {
	return Update{Path: path, Value: value}
}

// Resolve returns the concrete value to store, substituting now for ServerTimestamp.
func (u Update) Resolve(now time.Time) any {
	if _, ok := u.Value.(serverTimestamp); ok {
		return now
	}
	return u.Value
}

// Mutation is one document's worth of updates inside a batch.
type Mutation struct {
	UID     string
	Updates []Update
}

// ValidateUpdates checks every path is known and every value has the field's type.
func ValidateUpdates(updates []Update) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: empty update", ErrInvalidFieldValue)
	}
	for _, u := range updates {
		k, ok := fieldKinds[u.Path]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, u.Path)
		}
		if _, ts := u.Value.(serverTimestamp); ts {
			if k == kindTime || k == kindNullableTime {
				continue
			}
			return fmt.Errorf("%w: %s cannot hold a timestamp", ErrInvalidFieldValue, u.Path)
		}
		if !valueMatches(k, u.Value) {
			return fmt.Errorf("%w: %s got %T", ErrInvalidFieldValue, u.Path, u.Value)
		}
	}
	return nil
}

func valueMatches(k kind, v any) bool {
	switch k {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindBool:
		_, ok := v.(bool)
		return ok
	case kindInt:
		switch v.(type) {
		case int, int64:
			return true
		}
		return false
	case kindTime:
		_, ok := v.(time.Time)
		return ok
	case kindNullableTime:
		switch v.(type) {
		case nil, time.Time, *time.Time:
			return true
		}
		return false
	}
	return false
}

// Apply writes updates into p in order. It is the in-process equivalent of a
// store's field-path update and is used by stores that hold documents in memory.
func (p *Profile) Apply(updates []Update, now time.Time) error {
	if err := ValidateUpdates(updates); err != nil {
		return err
	}
	for _, u := range updates {
		v := u.Resolve(now)
		switch u.Path {
		case FieldEmail:
			p.Email = v.(string)
		case FieldDisplayName:
			p.DisplayName = v.(string)
		case FieldRole:
			p.Role = v.(string)
		case FieldSubscriptionPlanType:
			p.Subscription.PlanType = v.(string)
		case FieldSubscriptionIsActive:
			p.Subscription.IsActive = v.(bool)
		case FieldSubscriptionStartDate:
			p.Subscription.StartDate = v.(time.Time)
		case FieldSubscriptionEndDate:
			p.Subscription.EndDate = toTimePtr(v)
		case FieldSubscriptionAutoRenew:
			p.Subscription.AutoRenew = v.(bool)
		case FieldUsageBookmarks:
			p.Usage.Bookmarks = toInt64(v)
		case FieldUsageDownloads:
			p.Usage.Downloads = toInt64(v)
		case FieldUsageAPICalls:
			p.Usage.APICalls = toInt64(v)
		case FieldUsageLastReset:
			p.Usage.LastReset = v.(time.Time)
		case FieldUpdatedAt:
			p.UpdatedAt = v.(time.Time)
		case FieldLastLogin:
			p.LastLogin = v.(time.Time)
		}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func toTimePtr(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

// New returns the initial profile for a freshly created account: free plan,
// active, no end date, zeroed usage.
func New(uid, email, displayName string, now time.Time) *Profile {
	return &Profile{
		UID:         uid,
		Email:       email,
		DisplayName: DefaultDisplayName(displayName, email),
		Role:        claims.RoleFree,
		Subscription: Subscription{
			PlanType:  PlanFree,
			IsActive:  true,
			StartDate: now,
			EndDate:   nil,
			AutoRenew: false,
		},
		Usage: Usage{
			LastReset: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
		LastLogin: now,
	}
}

// DefaultDisplayName falls back to the local part of email.
func DefaultDisplayName(displayName, email string) string {
	if displayName != "" {
		return displayName
	}
	if local, _, ok := strings.Cut(email, "@"); ok {
		return local
	}
	return email
}

// ResetUsageUpdates zeroes the per-period counters and stamps the reset time.
func ResetUsageUpdates() []Update {
	return []Update{
		Set(FieldUsageBookmarks, int64(0)),
		Set(FieldUsageDownloads, int64(0)),
		Set(FieldUsageAPICalls, int64(0)),
		Set(FieldUsageLastReset, ServerTimestamp),
	}
}

// Repository is the sole writer of profiles.
type Repository interface {
	// Create inserts p only if no profile exists for p.UID; otherwise it
	// returns ErrProfileAlreadyExists and leaves the stored profile untouched.
	Create(ctx context.Context, p *Profile) error

	// Get retrieves a profile by uid
	Get(ctx context.Context, uid string) (*Profile, error)

	// Update applies field-path updates to an existing profile.
	// Returns ErrProfileNotFound if there is none.
	Update(ctx context.Context, uid string, updates []Update) error

	// ListUIDs returns every profile uid.
	ListUIDs(ctx context.Context) ([]string, error)

	// ApplyBatch commits all mutations atomically. Mutations addressing a uid
	// that no longer exists are no-ops. At most MaxBatchSize mutations.
	ApplyBatch(ctx context.Context, mutations []Mutation) error
}
