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
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/entitlements/internal/authz"
	"github.com/opentrusty/entitlements/internal/observability/logger"
)

// EventSecretHeader carries the shared secret on internal event deliveries.
const EventSecretHeader = "X-Event-Secret"

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware verifies the bearer token and puts the caller into the
// request context. A request without a token continues with no caller so the
// guard can reject it; a token that fails verification is rejected here.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			respondAuthzError(w, authz.Unauthenticated("malformed authorization header"))
			return
		}

		body, err := h.verifier.Verify(r.Context(), strings.TrimSpace(raw))
		if err != nil {
			slog.WarnContext(r.Context(), "rejected bearer token",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.RemoteAddr(r.RemoteAddr),
				logger.Error(err),
			)
			respondAuthzError(w, authz.Unauthenticated("invalid or expired token"))
			return
		}

		caller := &authz.Caller{UID: body.Subject, Claims: body.Custom, IPAddress: getClientIP(r)}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// EventSecretMiddleware admits only deliveries carrying the shared secret.
func (h *Handler) EventSecretMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(EventSecretHeader)
		if h.eventSecret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.eventSecret)) != 1 {
			slog.WarnContext(r.Context(), "rejected event delivery",
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)
			respondAuthzError(w, authz.Unauthenticated("invalid event secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
