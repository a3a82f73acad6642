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

// Package profiletest provides an in-memory profile repository for tests.
package profiletest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opentrusty/entitlements/internal/profile"
)

// Repository keeps profiles in memory with the same semantics as the
// Postgres repository, plus hooks for injecting failures.
type Repository struct {
	mu       sync.Mutex
	profiles map[string]*profile.Profile
	batches  int
	writes   int

	Now func() time.Time

	// Failure hooks; nil means succeed.
	CreateErr error
	UpdateErr error
	ListErr   error
	// BatchErr is consulted with the zero-based index of each ApplyBatch call.
	BatchErr func(call int) error
}

// NewRepository returns an empty repository
func NewRepository() *Repository {
	return &Repository{
		profiles: make(map[string]*profile.Profile),
		Now:      time.Now,
	}
}

func (r *Repository) Create(ctx context.Context, p *profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateErr != nil {
		return r.CreateErr
	}
	if _, ok := r.profiles[p.UID]; ok {
		return profile.ErrProfileAlreadyExists
	}
	cp := *p
	r.profiles[p.UID] = &cp
	r.writes++
	return nil
}

func (r *Repository) Get(ctx context.Context, uid string) (*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[uid]
	if !ok {
		return nil, profile.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *Repository) Update(ctx context.Context, uid string, updates []profile.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return r.UpdateErr
	}
	p, ok := r.profiles[uid]
	if !ok {
		return profile.ErrProfileNotFound
	}
	cp := *p
	if err := cp.Apply(updates, r.Now()); err != nil {
		return err
	}
	r.profiles[uid] = &cp
	r.writes++
	return nil
}

func (r *Repository) ListUIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	uids := make([]string, 0, len(r.profiles))
	for uid := range r.profiles {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids, nil
}

func (r *Repository) ApplyBatch(ctx context.Context, mutations []profile.Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.batches
	r.batches++
	if len(mutations) > profile.MaxBatchSize {
		return profile.ErrBatchTooLarge
	}
	if r.BatchErr != nil {
		if err := r.BatchErr(call); err != nil {
			return err
		}
	}

	now := r.Now()
	staged := make(map[string]*profile.Profile, len(mutations))
	for _, m := range mutations {
		p, ok := staged[m.UID]
		if !ok {
			cur, exists := r.profiles[m.UID]
			if !exists {
				continue
			}
			cp := *cur
			p = &cp
		}
		if err := p.Apply(m.Updates, now); err != nil {
			return err
		}
		staged[m.UID] = p
	}
	for uid, p := range staged {
		r.profiles[uid] = p
	}
	r.writes++
	return nil
}

// Put seeds a profile without counting it as a write.
func (r *Repository) Put(p *profile.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.profiles[p.UID] = &cp
}

// Writes returns the number of successful mutating calls.
func (r *Repository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// BatchCalls returns how many times ApplyBatch was invoked.
func (r *Repository) BatchCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches
}
