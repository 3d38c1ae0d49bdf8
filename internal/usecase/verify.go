// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// VerifyService accepts verification requests and hands them to the queue.
type VerifyService struct {
	Requests domain.VerificationRequestRepository
	Queue    domain.Queue
	Activity domain.ActivityLogRepository
}

// NewVerifyService constructs a VerifyService with its dependencies.
func NewVerifyService(r domain.VerificationRequestRepository, q domain.Queue, a domain.ActivityLogRepository) VerifyService {
	return VerifyService{Requests: r, Queue: q, Activity: a}
}

// Enqueue records a PENDING verification request for jobNo and enqueues the
// processing task. A request that cannot be enqueued is failed immediately so
// it never lingers as PENDING.
func (s VerifyService) Enqueue(ctx domain.Context, jobNo string) (string, error) {
	if jobNo == "" {
		return "", fmt.Errorf("%w: job number required", domain.ErrInvalidArgument)
	}
	id, err := s.Requests.Create(ctx, domain.VerificationRequest{
		JobNo:       jobNo,
		Status:      domain.RequestPending,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	payload := domain.VerificationTaskPayload{VerificationRequestID: id, JobNo: jobNo}
	if _, err := s.Queue.EnqueueVerification(ctx, payload); err != nil {
		msg := "enqueue failed"
		if ferr := s.Requests.Finalize(ctx, id, domain.RequestFailed, msg, []string{msg}); ferr != nil {
			slog.Error("failed to fail unenqueued request",
				slog.String("request_id", id), slog.Any("error", ferr))
		}
		return "", err
	}
	observability.EnqueueRequest()
	_ = s.Activity.Append(ctx, domain.ActivityEvent{
		EventType:    domain.EventVerificationRequested,
		Description:  fmt.Sprintf("Second check requested for job %s", jobNo),
		RelatedJobID: jobNo,
	})
	return id, nil
}

// Get loads one verification request by id.
func (s VerifyService) Get(ctx domain.Context, id string) (domain.VerificationRequest, error) {
	if id == "" {
		return domain.VerificationRequest{}, fmt.Errorf("%w: request id required", domain.ErrInvalidArgument)
	}
	return s.Requests.Get(ctx, id)
}

// LatestForJob returns the most recent verification request for a job.
func (s VerifyService) LatestForJob(ctx domain.Context, jobNo string) (domain.VerificationRequest, error) {
	if jobNo == "" {
		return domain.VerificationRequest{}, fmt.Errorf("%w: job number required", domain.ErrInvalidArgument)
	}
	return s.Requests.LatestByJobNo(ctx, jobNo)
}
