package usecase

import (
	"errors"
	"fmt"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// EligibilityService applies the second-check qualification rules against
// the live ERP job list. It is exposed on the HTTP surface and consumed by
// the orchestrator before any document work starts.
type EligibilityService struct {
	ERP domain.ERPClient
}

// NewEligibilityService constructs an EligibilityService.
func NewEligibilityService(erp domain.ERPClient) EligibilityService {
	return EligibilityService{ERP: erp}
}

// Check fetches the job-list entry for jobNo and grades it. A missing entry
// is a normal "not eligible" outcome, not an error; only transport-level
// failures surface as errors.
func (s EligibilityService) Check(ctx domain.Context, jobNo string) (domain.EligibilityResult, error) {
	if jobNo == "" {
		return domain.EligibilityResult{}, fmt.Errorf("%w: job number required", domain.ErrInvalidArgument)
	}
	entry, err := s.ERP.FetchJobListEntry(ctx, jobNo)
	return gradeEligibility(jobNo, entry, err)
}

// gradeEligibility turns a job-list fetch outcome into an eligibility
// verdict. Shared with the orchestrator so the entry is fetched once per run.
func gradeEligibility(jobNo string, entry domain.JobListEntry, fetchErr error) (domain.EligibilityResult, error) {
	if fetchErr != nil {
		if errors.Is(fetchErr, domain.ErrNotFound) {
			return domain.EligibilityResult{
				JobNo:   jobNo,
				Message: domain.SkipReasonCanonical,
			}, nil
		}
		return domain.EligibilityResult{}, fmt.Errorf("op=eligibility.check: %w", fetchErr)
	}

	res := domain.EligibilityResult{
		JobNo:        jobNo,
		JobTitle:     entry.Description,
		CustomerName: entry.CustomerName,
	}
	switch {
	case entry.FirstCheckDate == "":
		res.Message = domain.SkipReasonFirstCheckMissing
	case entry.SecondCheckBy != "":
		res.Message = domain.SkipReasonSecondCheckDone(entry.SecondCheckBy)
	default:
		res.IsEligible = true
		res.Message = domain.EligibleMessage
	}
	return res, nil
}
