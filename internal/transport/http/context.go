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

package http

import (
	"context"

	"github.com/opentrusty/entitlements/internal/authz"
)

type contextKey string

const callerKey contextKey = "caller"

// WithCaller stores the verified caller in ctx.
func WithCaller(ctx context.Context, caller *authz.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCaller retrieves the verified caller from context, or nil.
func GetCaller(ctx context.Context) *authz.Caller {
	if val, ok := ctx.Value(callerKey).(*authz.Caller); ok {
		return val
	}
	return nil
}
