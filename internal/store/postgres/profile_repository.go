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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/entitlements/internal/profile"
)

// fieldColumns maps profile field paths to their columns. Only these columns
// can ever appear in a generated UPDATE.
var fieldColumns = map[string]string{
	profile.FieldEmail:                 "email",
	profile.FieldDisplayName:           "display_name",
	profile.FieldRole:                  "role",
	profile.FieldSubscriptionPlanType:  "subscription_plan_type",
	profile.FieldSubscriptionIsActive:  "subscription_is_active",
	profile.FieldSubscriptionStartDate: "subscription_start_date",
	profile.FieldSubscriptionEndDate:   "subscription_end_date",
	profile.FieldSubscriptionAutoRenew: "subscription_auto_renew",
	profile.FieldUsageBookmarks:        "usage_bookmarks",
	profile.FieldUsageDownloads:        "usage_downloads",
	profile.FieldUsageAPICalls:         "usage_api_calls",
	profile.FieldUsageLastReset:        "usage_last_reset",
	profile.FieldUpdatedAt:             "updated_at",
	profile.FieldLastLogin:             "last_login",
}

const profileColumns = `uid, email, display_name, role,
	subscription_plan_type, subscription_is_active, subscription_start_date,
	subscription_end_date, subscription_auto_renew,
	usage_bookmarks, usage_downloads, usage_api_calls, usage_last_reset,
	created_at, updated_at, last_login`

// ProfileRepository implements profile.Repository
type ProfileRepository struct {
	db  *DB
	now func() time.Time
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *DB) *ProfileRepository {
	return &ProfileRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts p unless a profile already exists for its uid
func (r *ProfileRepository) Create(ctx context.Context, p *profile.Profile) error {
	result, err := r.db.pool.Exec(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (uid) DO NOTHING
	`,
		p.UID, p.Email, p.DisplayName, p.Role,
		p.Subscription.PlanType, p.Subscription.IsActive, p.Subscription.StartDate,
		p.Subscription.EndDate, p.Subscription.AutoRenew,
		p.Usage.Bookmarks, p.Usage.Downloads, p.Usage.APICalls, p.Usage.LastReset,
		p.CreatedAt, p.UpdatedAt, p.LastLogin,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	if result.RowsAffected() == 0 {
		return profile.ErrProfileAlreadyExists
	}

	return nil
}

// Get retrieves a profile by uid
func (r *ProfileRepository) Get(ctx context.Context, uid string) (*profile.Profile, error) {
	var p profile.Profile

	err := r.db.pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE uid = $1
	`, uid).Scan(
		&p.UID, &p.Email, &p.DisplayName, &p.Role,
		&p.Subscription.PlanType, &p.Subscription.IsActive, &p.Subscription.StartDate,
		&p.Subscription.EndDate, &p.Subscription.AutoRenew,
		&p.Usage.Bookmarks, &p.Usage.Downloads, &p.Usage.APICalls, &p.Usage.LastReset,
		&p.CreatedAt, &p.UpdatedAt, &p.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, profile.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &p, nil
}

// Update applies field-path updates to a single profile
func (r *ProfileRepository) Update(ctx context.Context, uid string, updates []profile.Update) error {
	query, args, err := buildUpdate(uid, updates, r.now())
	if err != nil {
		return err
	}

	result, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}

	if result.RowsAffected() == 0 {
		return profile.ErrProfileNotFound
	}

	return nil
}

// ListUIDs returns every profile uid in a stable order
func (r *ProfileRepository) ListUIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT uid FROM profiles ORDER BY uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	uids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile uids: %w", err)
	}

	return uids, nil
}

type statement struct {
	uid   string
	query string
	args  []any
}

// ApplyBatch commits all mutations in one transaction
func (r *ProfileRepository) ApplyBatch(ctx context.Context, mutations []profile.Mutation) error {
	if len(mutations) > profile.MaxBatchSize {
		return fmt.Errorf("%w: %d mutations", profile.ErrBatchTooLarge, len(mutations))
	}
	if len(mutations) == 0 {
		return nil
	}

	// Every mutation in the batch shares one write time.
	now := r.now()
	stmts := make([]statement, 0, len(mutations))
	for _, m := range mutations {
		query, args, err := buildUpdate(m.UID, m.Updates, now)
		if err != nil {
			return fmt.Errorf("invalid mutation for %s: %w", m.UID, err)
		}
		stmts = append(stmts, statement{uid: m.UID, query: query, args: args})
	}

	return pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, s := range stmts {
			batch.Queue(s.query, s.args...)
		}

		br := tx.SendBatch(ctx, batch)
		for _, s := range stmts {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to apply mutation for %s: %w", s.uid, err)
			}
		}
		return br.Close()
	})
}

// buildUpdate renders a single-row UPDATE for the given field paths. A path
// repeated within one update keeps its last value.
func buildUpdate(uid string, updates []profile.Update, now time.Time) (string, []any, error) {
	if err := profile.ValidateUpdates(updates); err != nil {
		return "", nil, err
	}

	order := make([]string, 0, len(updates))
	values := make(map[string]any, len(updates))
	for _, u := range updates {
		col := fieldColumns[u.Path]
		if col == "" {
			return "", nil, fmt.Errorf("%w: %s", profile.ErrUnknownField, u.Path)
		}
		if _, seen := values[col]; !seen {
			order = append(order, col)
		}
		values[col] = columnValue(u.Resolve(now))
	}

	args := make([]any, 0, len(order)+1)
	args = append(args, uid)
	sets := make([]string, 0, len(order))
	for _, col := range order {
		args = append(args, values[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	return "UPDATE profiles SET " + strings.Join(sets, ", ") + " WHERE uid = $1", args, nil
}

func columnValue(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	}
	return v
}
