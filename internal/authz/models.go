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

import (
	"errors"

	"github.com/opentrusty/entitlements/internal/claims"
)

// Kind classifies a caller-facing failure.
type Kind string

// Error kinds
const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindPermissionDenied Kind = "permission-denied"
	KindInvalidArgument  Kind = "invalid-argument"
	KindInternal         Kind = "internal"
)

// Error is the only error shape returned to callers. Message never carries
// store or transport detail.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Unauthenticated creates an unauthenticated error
func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// PermissionDenied creates a permission-denied error
func PermissionDenied(msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Message: msg}
}

// InvalidArgument creates an invalid-argument error
func InvalidArgument(msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

// Internal creates an internal error
func Internal(msg string) *Error {
	return &Error{Kind: KindInternal, Message: msg}
}

// KindOf returns the kind of err. Anything that is not an *Error is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Caller is the authenticated identity of an invocation. It is built only
// from a verified token, never from request payloads.
type Caller struct {
	UID    string
	Claims claims.Set
	// IPAddress is the client address the call arrived from, for auditing.
	IPAddress string
}
