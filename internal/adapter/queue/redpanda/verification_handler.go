package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	adapterobs "github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
	"github.com/fairyhunter13/ai-job-verifier/internal/observability"
)

// ProcessFunc runs the verification pipeline for one request.
type ProcessFunc func(ctx context.Context, requestID, jobNo string) error

// DeadLetterFunc parks a record's original bytes on the DLQ topic.
type DeadLetterFunc func(ctx context.Context, rec *kgo.Record, reason string) error

// VerificationHandler decodes queue records and hands them to the
// orchestrator. Decode order: a direct payload object, a JSON string wrapping
// the object (double-encoding producers), then a bare job-number string that
// spawns a fresh PENDING request inline. Records that survive none of those
// are dead-lettered with their original bytes intact.
type VerificationHandler struct {
	Requests   domain.VerificationRequestRepository
	Process    ProcessFunc
	DeadLetter DeadLetterFunc
}

// Handle processes one record. Orchestrator errors are captured and counted,
// never returned, so a failed verification can not wedge the consumer on a
// single offset.
func (h *VerificationHandler) Handle(ctx context.Context, rec *kgo.Record) error {
	payload, err := h.decode(ctx, rec.Value)
	if err != nil {
		return h.deadLetter(ctx, rec, err)
	}

	ctx, lg := observability.WithVerificationScope(ctx, payload.VerificationRequestID, payload.JobNo)
	lg.Info("processing verification task",
		slog.String("topic", rec.Topic),
		slog.Int64("offset", rec.Offset))

	if err := h.Process(ctx, payload.VerificationRequestID, payload.JobNo); err != nil {
		code := classifyFailureCode(err.Error())
		adapterobs.RecordConsumerFailure(code)
		lg.Error("verification task failed",
			slog.String("failure_code", code),
			slog.Any("error", err))
		return nil
	}
	lg.Info("verification task completed")
	return nil
}

func (h *VerificationHandler) decode(ctx context.Context, raw []byte) (domain.VerificationTaskPayload, error) {
	var p domain.VerificationTaskPayload
	if err := json.Unmarshal(raw, &p); err == nil {
		if p.VerificationRequestID != "" && p.JobNo != "" {
			return p, nil
		}
		return p, fmt.Errorf("%w: payload fields missing", domain.ErrSchemaInvalid)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return p, fmt.Errorf("%w: undecodable payload", domain.ErrSchemaInvalid)
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &p); err == nil &&
			p.VerificationRequestID != "" && p.JobNo != "" {
			return p, nil
		}
		return p, fmt.Errorf("%w: double-encoded payload invalid", domain.ErrSchemaInvalid)
	}
	if s == "" {
		return p, fmt.Errorf("%w: empty payload", domain.ErrSchemaInvalid)
	}

	// Bare job-number shorthand: legacy producers publish just the job
	// number, so spawn the request they skipped.
	id, err := h.Requests.Create(ctx, domain.VerificationRequest{
		JobNo:       s,
		Status:      domain.RequestPending,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return p, fmt.Errorf("spawn request for bare job number %s: %w", s, err)
	}
	slog.Info("spawned verification request for bare job number",
		slog.String("request_id", id), slog.String("job_no", s))
	return domain.VerificationTaskPayload{VerificationRequestID: id, JobNo: s}, nil
}

func (h *VerificationHandler) deadLetter(ctx context.Context, rec *kgo.Record, cause error) error {
	slog.Error("dead-lettering verification task",
		slog.String("topic", rec.Topic),
		slog.Int64("offset", rec.Offset),
		slog.Int("value_size", len(rec.Value)),
		slog.Any("error", cause))
	if h.DeadLetter == nil {
		return nil
	}
	if err := h.DeadLetter(ctx, rec, cause.Error()); err != nil {
		return fmt.Errorf("op=queue.dead_letter: %w", err)
	}
	return nil
}
