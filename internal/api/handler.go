// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package api exposes bulk execution and permission checks over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bidmart/bidmart/internal/access"
	"github.com/bidmart/bidmart/internal/bulk"
	"github.com/bidmart/bidmart/pkg/errutil"
)

// CallerHeader carries the authenticated caller's user id.
const CallerHeader = "X-Caller-ID"

// MaxBodyBytes caps the size of a bulk request body.
const MaxBodyBytes = 1 << 20

// Runner executes authorized bulk requests.
type Runner interface {
	Run(ctx context.Context, callerID string, req bulk.Request, opts bulk.RunOptions) (bulk.Result, error)
}

// PermissionChecker answers role checks for a caller.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, callerID string, required access.Role) access.PermissionCheckResult
}

// RequestRecorder counts API responses.
type RequestRecorder interface {
	RecordHTTPRequest(route string, status int)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handler serves the BidMart HTTP API.
type Handler struct {
	runner   Runner
	checker  PermissionChecker
	logger   *slog.Logger
	recorder RequestRecorder
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRequestRecorder counts every response by route pattern and status.
func WithRequestRecorder(r RequestRecorder) Option {
	return func(h *Handler) { h.recorder = r }
}

// NewHandler creates a Handler.
func NewHandler(runner Runner, checker PermissionChecker, opts ...Option) *Handler {
	h := &Handler{
		runner:  runner,
		checker: checker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns a chi router serving every API route.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.countRequests)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/bulk", h.RunBulk)
		r.Get("/permissions/{role}", h.CheckPermission)
	})
}

// RunBulk executes the bulk request in the body for the caller named by
// CallerHeader. ?transactional=true selects all-or-nothing execution.
func (h *Handler) RunBulk(w http.ResponseWriter, r *http.Request) {
	callerID := r.Header.Get(CallerHeader)
	if callerID == "" {
		h.writeError(w, http.StatusUnauthorized, "", "missing "+CallerHeader+" header")
		return
	}

	transactional := false
	if raw := r.URL.Query().Get("transactional"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "BULK_INVALID_REQUEST", "transactional must be a boolean")
			return
		}
		transactional = v
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "BULK_BODY_TOO_LARGE", "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "BULK_INVALID_REQUEST", "could not read request body")
		return
	}

	req, err := bulk.ParseRequest(body)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}

	result, err := h.runner.Run(r.Context(), callerID, req, bulk.RunOptions{Transactional: transactional})
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CheckPermission reports whether the caller holds at least the role in the path.
func (h *Handler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	callerID := r.Header.Get(CallerHeader)
	if callerID == "" {
		h.writeError(w, http.StatusUnauthorized, "", "missing "+CallerHeader+" header")
		return
	}

	role, err := access.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errutil.Code(err), err.Error())
		return
	}

	check := h.checker.CheckPermission(r.Context(), callerID, role)
	status := http.StatusOK
	if !check.Valid {
		status = http.StatusForbidden
	}
	h.writeJSON(w, status, check)
}

// statusFor maps a service error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case "BULK_INVALID_REQUEST":
		return http.StatusBadRequest
	case "BULK_TOO_MANY_ITEMS":
		return http.StatusRequestEntityTooLarge
	case "PERMISSION_DENIED":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	code := errutil.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		errutil.LogError(h.logger, "bulk request failed", err, "request_id", middleware.GetReqID(ctx))
		h.writeError(w, status, code, "internal error")
		return
	}
	h.logger.DebugContext(ctx, "bulk request rejected",
		"code", code,
		"error", err.Error(),
		"request_id", middleware.GetReqID(ctx))
	h.writeError(w, status, code, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// countRequests reports each response to the recorder, labelled by the
// matched route pattern.
func (h *Handler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.recorder == nil {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.recorder.RecordHTTPRequest(route, status)
	})
}
