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

// @title Entitlements API
// @version 1.0.0
// @description Role transitions and account provisioning
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/entitlements/internal/authz"
	"github.com/opentrusty/entitlements/internal/observability/logger"
	"github.com/opentrusty/entitlements/internal/provisioning"
	"github.com/opentrusty/entitlements/internal/token"
	"github.com/opentrusty/entitlements/internal/transition"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	maxBodyBytes          = 4 << 10
	kindResourceExhausted = "resource-exhausted"
	kindNotFound          = "not-found"
)

// TransitionService applies role transitions on behalf of a caller.
type TransitionService interface {
	PromoteToAdmin(ctx context.Context, caller *authz.Caller, uid string) (*transition.Result, error)
	UpgradeToPremium(ctx context.Context, caller *authz.Caller, uid string) (*transition.Result, error)
	Apply(ctx context.Context, caller *authz.Caller, uid string, t transition.Transition) (*transition.Result, error)
}

// Provisioner handles account-creation events.
type Provisioner interface {
	HandleUserCreated(ctx context.Context, ev provisioning.Event)
}

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, tokenString string) (*token.Claims, error)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Config holds handler settings
type Config struct {
	EventSecret  string
	// EventTimeout bounds background provisioning; zero means no bound.
	EventTimeout time.Duration
	HealthChecks []HealthCheck
	// TrustProxy takes the client address from proxy headers. Enable only
	// behind a proxy that overwrites them.
	TrustProxy   bool
}

// Handler holds HTTP handlers and dependencies
type Handler struct {
	transitions  TransitionService
	provisioner  Provisioner
	verifier     TokenVerifier
	eventSecret  string
	eventTimeout time.Duration
	checks       []HealthCheck
	trustProxy   bool

	inflight sync.WaitGroup
}

// NewHandler creates a new HTTP handler
func NewHandler(
	transitions TransitionService,
	provisioner Provisioner,
	verifier TokenVerifier,
	cfg Config,
) *Handler {
	return &Handler{
		transitions:  transitions,
		provisioner:  provisioner,
		verifier:     verifier,
		eventSecret:  cfg.EventSecret,
		eventTimeout: cfg.EventTimeout,
		checks:       cfg.HealthChecks,
		trustProxy:   cfg.TrustProxy,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	if h.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)

	// Health check
	r.Get("/health", h.HealthCheck)

	// Caller-invoked transitions
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/roles/admin", h.PromoteToAdmin)
		r.Post("/roles/premium", h.UpgradeToPremium)
		r.Post("/transitions/{name}", h.ApplyTransition)
	})

	// System-triggered events
	r.Route("/internal/events", func(r chi.Router) {
		r.Use(h.EventSecretMiddleware)

		r.Post("/user-created", h.UserCreated)
	})

	return r
}

// Drain waits for accepted background events to finish or ctx to end.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks the service and its stores
// @Tags System
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			slog.WarnContext(ctx, "health check failed", logger.Component(c.Name), logger.Error(err))
			results[c.Name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	respondJSON(w, status, map[string]any{
		"status":  overall,
		"service": "entitlements",
		"checks":  results,
	})
}

// PromoteToAdmin grants the admin role
// @Summary Promote to admin
// @Tags Roles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body uidRequest true "Target user"
// @Success 200 {object} transition.Result
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Failure 500 {object} errorResponse
// @Router /api/v1/roles/admin [post]
func (h *Handler) PromoteToAdmin(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.transitions.PromoteToAdmin)
}

// UpgradeToPremium moves a user onto the pro plan
// @Summary Upgrade to premium
// @Tags Roles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body uidRequest true "Target user"
// @Success 200 {object} transition.Result
// @Router /api/v1/roles/premium [post]
func (h *Handler) UpgradeToPremium(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.transitions.UpgradeToPremium)
}

// ApplyTransition runs any catalog transition by name
// @Summary Apply transition
// @Tags Roles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param name path string true "Transition name"
// @Param request body uidRequest true "Target user"
// @Success 200 {object} transition.Result
// @Failure 404 {object} errorResponse
// @Router /api/v1/transitions/{name} [post]
func (h *Handler) ApplyTransition(w http.ResponseWriter, r *http.Request) {
	t, ok := transition.Lookup(chi.URLParam(r, "name"))
	if !ok {
		respondError(w, http.StatusNotFound, kindNotFound, "unknown transition")
		return
	}
	h.runTransition(w, r, func(ctx context.Context, caller *authz.Caller, uid string) (*transition.Result, error) {
		return h.transitions.Apply(ctx, caller, uid, t)
	})
}

type transitionFunc func(ctx context.Context, caller *authz.Caller, uid string) (*transition.Result, error)

func (h *Handler) runTransition(w http.ResponseWriter, r *http.Request, run transitionFunc) {
	// A missing or non-string uid is passed on as empty so the engine still
	// checks authorization before rejecting the argument.
	uid := decodeUID(w, r)

	// Once started, a transition runs to completion even if the client goes
	// away; a cancelled profile write would leave the claims ahead of it.
	ctx := context.WithoutCancel(r.Context())
	res, err := run(ctx, GetCaller(ctx), uid)
	if err != nil {
		respondAuthzError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// uidRequest is the transition request body
type uidRequest struct {
	UID any `json:"uid"`
}

// decodeUID returns the uid only when the body is a JSON object whose uid is a string.
func decodeUID(w http.ResponseWriter, r *http.Request) string {
	var req uidRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return ""
	}
	uid, _ := req.UID.(string)
	return uid
}

// UserCreated accepts an account-creation event and provisions in the background
// @Summary Account created
// @Tags Events
// @Accept json
// @Produce json
// @Param X-Event-Secret header string true "Shared event secret"
// @Param request body provisioning.Event true "New account"
// @Success 202 {object} transition.Result
// @Router /internal/events/user-created [post]
func (h *Handler) UserCreated(w http.ResponseWriter, r *http.Request) {
	var ev provisioning.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		respondAuthzError(w, authz.InvalidArgument("The request body must be a JSON object."))
		return
	}

	// The delivery is acknowledged before provisioning runs; its outcome is
	// only visible through logs and metrics.
	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		runCtx := ctx
		if h.eventTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, h.eventTimeout)
			defer cancel()
		}
		h.provisioner.HandleUserCreated(runCtx, ev)
	}()

	respondJSON(w, http.StatusAccepted, transition.Result{Success: true, Message: "accepted"})
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(kind authz.Kind) int {
	switch kind {
	case authz.KindUnauthenticated:
		return http.StatusUnauthorized
	case authz.KindPermissionDenied:
		return http.StatusForbidden
	case authz.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondAuthzError(w http.ResponseWriter, err error) {
	var e *authz.Error
	if !errors.As(err, &e) {
		e = authz.Internal("internal error")
	}
	respondError(w, statusFor(e.Kind), string(e.Kind), e.Message)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, errorResponse{Error: kind, Message: message})
}
