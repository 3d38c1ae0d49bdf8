package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// StuckRequestSweeper fails verification requests that sat in PROCESSING
// longer than the max age. A request gets stuck when its worker dies between
// the claim and the terminal write, or when both terminal-write attempts
// fail; the sweeper is the recovery path for both.
type StuckRequestSweeper struct {
	requests         domain.VerificationRequestRepository
	jobs             domain.JobRepository
	activity         domain.ActivityLogRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckRequestSweeper constructs a sweeper. A nil request repository
// yields a nil sweeper, which Run treats as a no-op.
func NewStuckRequestSweeper(requests domain.VerificationRequestRepository, jobs domain.JobRepository, activity domain.ActivityLogRepository, maxProcessingAge, interval time.Duration) *StuckRequestSweeper {
	if requests == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 15 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StuckRequestSweeper{
		requests:         requests,
		jobs:             jobs,
		activity:         activity,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *StuckRequestSweeper) Run(ctx context.Context) {
	if s == nil || s.requests == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck request sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckRequestSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("requests.sweeper")
	ctx, span := tracer.Start(ctx, "StuckRequestSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxProcessingAge)
	const pageSize = 100
	span.SetAttributes(
		attribute.Int("requests.page_size", pageSize),
		attribute.Float64("requests.max_processing_age_seconds", s.maxProcessingAge.Seconds()),
	)

	totalChecked := 0
	totalFailed := 0

	for offset := 0; ; offset += pageSize {
		requests, err := s.requests.ListByStatus(ctx, domain.RequestProcessing, offset, pageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stuck request sweep failed to list requests", slog.Any("error", err))
			return
		}
		totalChecked += len(requests)
		if len(requests) == 0 {
			break
		}

		for _, r := range requests {
			if r.UpdatedAt.Before(cutoff) && s.failRequest(ctx, r) {
				totalFailed++
			}
		}

		if len(requests) < pageSize {
			break
		}
	}

	span.SetAttributes(
		attribute.Int("requests.total_checked", totalChecked),
		attribute.Int("requests.total_failed", totalFailed),
	)
}

func (s *StuckRequestSweeper) failRequest(ctx context.Context, r domain.VerificationRequest) bool {
	tracer := otel.Tracer("requests.sweeper")
	ctx, span := tracer.Start(ctx, "StuckRequestSweeper.failRequest")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", r.ID),
		attribute.String("request.job_no", r.JobNo),
	)

	msg := fmt.Sprintf("verification processing exceeded maximum age %v; failed by sweeper", s.maxProcessingAge)
	if err := s.requests.Finalize(ctx, r.ID, domain.RequestFailed, msg, nil); err != nil {
		span.RecordError(err)
		slog.Error("stuck request sweep failed to finalize request",
			slog.String("request_id", r.ID), slog.Any("error", err))
		return false
	}
	observability.FinalizeRequest(string(domain.RequestFailed))

	if s.jobs != nil {
		if err := s.jobs.UpdateStatus(ctx, r.JobNo, domain.JobError); err != nil {
			slog.Warn("stuck request sweep could not mark job",
				slog.String("job_no", r.JobNo), slog.Any("error", err))
		}
	}
	if s.activity != nil {
		_ = s.activity.Append(ctx, domain.ActivityEvent{
			EventType:    domain.EventRequestSwept,
			Description:  msg,
			RelatedJobID: r.JobNo,
		})
	}
	slog.Warn("stuck verification request failed by sweeper",
		slog.String("request_id", r.ID),
		slog.String("job_no", r.JobNo),
		slog.Duration("max_age", s.maxProcessingAge))
	return true
}
