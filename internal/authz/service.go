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

package authz

// Guard gates privileged operations on the caller's token claims.
type Guard struct{}

// NewGuard creates a guard
func NewGuard() *Guard {
	return &Guard{}
}

// Check fails closed: a missing caller is unauthenticated, and a capability
// that is absent or falsy in the caller's claims is denied.
func (g *Guard) Check(caller *Caller, capability string) error {
	if caller == nil || caller.UID == "" {
		return Unauthenticated("The function must be called while authenticated.")
	}
	if !caller.Claims.Has(capability) {
		return PermissionDenied("Only " + capability + " users can perform this operation.")
	}
	return nil
}
