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

package transition

import (
	"slices"

	"github.com/opentrusty/entitlements/internal/claims"
	"github.com/opentrusty/entitlements/internal/profile"
)

// Transition names accepted by Lookup
const (
	NamePromoteToAdmin   = "promote-to-admin"
	NameUpgradeToPremium = "upgrade-to-premium"
	NameDowngradeToFree  = "downgrade-to-free"
)

// Transition describes one role change across both stores. Claims replaces
// the caller-visible set; Profile lists the only profile fields touched.
type Transition struct {
	Name               string
	RequiredCapability string
	Claims             claims.Set
	Profile            []profile.Update

	// SuccessFormat takes the target uid.
	SuccessFormat  string
	DeniedMessage  string
	FailureMessage string
}

var catalog = map[string]Transition{
	NamePromoteToAdmin: {
		Name:               NamePromoteToAdmin,
		RequiredCapability: claims.CapAdmin,
		Claims: claims.Set{
			claims.CapAdmin:  true,
			claims.FieldRole: claims.RoleAdmin,
		},
		Profile: []profile.Update{
			profile.Set(profile.FieldRole, claims.RoleAdmin),
		},
		SuccessFormat:  "User %s has been promoted to admin.",
		DeniedMessage:  "Only admins can promote users to admin.",
		FailureMessage: "Failed to promote user to admin.",
	},
	NameUpgradeToPremium: {
		Name:               NameUpgradeToPremium,
		RequiredCapability: claims.CapAdmin,
		Claims: claims.Set{
			claims.CapPremium: true,
			claims.FieldRole:  claims.RolePremium,
			claims.CapFree:    false,
		},
		Profile: []profile.Update{
			profile.Set(profile.FieldRole, claims.RolePremium),
			profile.Set(profile.FieldSubscriptionPlanType, profile.PlanPro),
			profile.Set(profile.FieldSubscriptionIsActive, true),
			profile.Set(profile.FieldSubscriptionStartDate, profile.ServerTimestamp),
		},
		SuccessFormat:  "User %s has been upgraded to premium.",
		DeniedMessage:  "Only admins can upgrade users to premium.",
		FailureMessage: "Failed to upgrade user to premium.",
	},
	NameDowngradeToFree: {
		Name:               NameDowngradeToFree,
		RequiredCapability: claims.CapAdmin,
		Claims: claims.Set{
			claims.CapFree:    true,
			claims.FieldRole:  claims.RoleFree,
			claims.CapPremium: false,
		},
		Profile: []profile.Update{
			profile.Set(profile.FieldRole, claims.RoleFree),
			profile.Set(profile.FieldSubscriptionPlanType, profile.PlanFree),
			profile.Set(profile.FieldSubscriptionIsActive, true),
			profile.Set(profile.FieldSubscriptionEndDate, profile.ServerTimestamp),
			profile.Set(profile.FieldSubscriptionAutoRenew, false),
		},
		SuccessFormat:  "User %s has been downgraded to free.",
		DeniedMessage:  "Only admins can downgrade users to free.",
		FailureMessage: "Failed to downgrade user to free.",
	},
}

// Lookup returns a copy of the named catalog entry.
func Lookup(name string) (Transition, bool) {
	t, ok := catalog[name]
	if !ok {
		return Transition{}, false
	}
	t.Claims = t.Claims.Clone()
	t.Profile = slices.Clone(t.Profile)
	return t, true
}

// Names lists the catalog in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func mustLookup(name string) Transition {
	t, ok := Lookup(name)
	if !ok {
		panic("transition: unknown catalog entry " + name)
	}
	return t
}
