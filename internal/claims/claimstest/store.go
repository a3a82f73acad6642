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

// Package claimstest provides an in-memory claims store for tests.
package claimstest

import (
	"context"
	"sync"

	"github.com/opentrusty/entitlements/internal/claims"
)

// Store records claims sets in memory and can be told to fail.
type Store struct {
	mu     sync.Mutex
	sets   map[string]claims.Set
	writes int

	// Err, when set, is returned by every SetClaims call without storing anything.
	Err error
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{sets: make(map[string]claims.Set)}
}

func (s *Store) SetClaims(ctx context.Context, uid string, set claims.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sets[uid] = set.Clone()
	s.writes++
	return nil
}

// Get returns the stored set for uid, or nil.
func (s *Store) Get(uid string) claims.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[uid]; ok {
		return set.Clone()
	}
	return nil
}

// Put seeds a set without counting it as a write.
func (s *Store) Put(uid string, set claims.Set) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[uid] = set.Clone()
}

// Writes returns how many successful SetClaims calls were made.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
