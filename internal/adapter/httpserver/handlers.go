// Package httpserver contains the HTTP handlers and middleware for the
// verification API: requesting a second check, polling its outcome and
// probing job eligibility. HTTP concerns stay here; business logic lives
// in the usecase services.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
	"github.com/fairyhunter13/ai-job-verifier/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Verify      usecase.VerifyService
	Eligibility usecase.EligibilityService
	DBCheck     func(ctx context.Context) error
	RedisCheck  func(ctx context.Context) error
	RenderCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, verify usecase.VerifyService, eligibility usecase.EligibilityService, dbCheck, redisCheck, renderCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Verify: verify, Eligibility: eligibility, DBCheck: dbCheck, RedisCheck: redisCheck, RenderCheck: renderCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// negotiateJSON rejects requests whose Accept header excludes JSON. Only
// JSON responses are supported.
func negotiateJSON(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return true
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return false
}

// VerifyHandler accepts a second-check request and enqueues it.
func (s *Server) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !negotiateJSON(w, r) {
			return
		}
		// Cap body size to prevent abuse
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			JobNo string `json:"jobNo" validate:"required,max=20,alphanum"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		id, err := s.Verify.Enqueue(r.Context(), req.JobNo)
		if err != nil {
			writeError(w, r, fmt.Errorf("enqueue: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"verificationRequestId": id,
			"status":                string(domain.RequestPending),
		})
	}
}

// RequestHandler returns one verification request by id.
func (s *Server) RequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !negotiateJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if err := validateRequestID(id); err != nil {
			writeError(w, r, err, map[string]string{"field": "id"})
			return
		}
		req, err := s.Verify.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildRequestEnvelope(req))
	}
}

// LatestHandler returns the most recent verification request for a job.
func (s *Server) LatestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !negotiateJSON(w, r) {
			return
		}
		jobNo := chi.URLParam(r, "jobNo")
		if err := validateJobNo(jobNo); err != nil {
			writeError(w, r, err, map[string]string{"field": "jobNo"})
			return
		}
		req, err := s.Verify.LatestForJob(r.Context(), jobNo)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildRequestEnvelope(req))
	}
}

// EligibilityHandler grades a job against the second-check qualification
// rules without enqueuing anything.
func (s *Server) EligibilityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !negotiateJSON(w, r) {
			return
		}
		jobNo := chi.URLParam(r, "jobNo")
		if err := validateJobNo(jobNo); err != nil {
			writeError(w, r, err, map[string]string{"field": "jobNo"})
			return
		}
		res, err := s.Eligibility.Check(r.Context(), jobNo)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ReadyzHandler probes the DB, Redis and the PDF render sidecar.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	probe := func(ctx context.Context, name string, fn func(context.Context) error, checks []check) []check {
		if fn == nil {
			return checks
		}
		if err := fn(ctx); err != nil {
			return append(checks, check{Name: name, OK: false, Details: err.Error()})
		}
		return append(checks, check{Name: name, OK: true})
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		checks = probe(ctx, "db", s.DBCheck, checks)
		checks = probe(ctx, "redis", s.RedisCheck, checks)
		checks = probe(ctx, "render", s.RenderCheck, checks)
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// BuildRequestEnvelope renders a verification request for API responses.
// Message, discrepancies and resultAt appear only once set.
func BuildRequestEnvelope(req domain.VerificationRequest) map[string]any {
	m := map[string]any{
		"verificationRequestId": req.ID,
		"jobNo":                 req.JobNo,
		"status":                string(req.Status),
		"requestedAt":           req.RequestedAt.UTC().Format(time.RFC3339),
	}
	if req.Message != "" {
		m["message"] = req.Message
	}
	if req.Discrepancies != nil {
		m["discrepancies"] = req.Discrepancies
	}
	if req.ResultAt != nil {
		m["resultAt"] = req.ResultAt.UTC().Format(time.RFC3339)
	}
	return m
}
