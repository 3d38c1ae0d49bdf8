package httpserver

import (
	"fmt"
	"regexp"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// requestIDPattern matches the ids issued by the request repository
// (UUIDs and test ids alike).
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// validateJobNo enforces the job-number format shared by path and body
// parameters: required, alphanumeric, at most 20 characters.
func validateJobNo(jobNo string) error {
	if jobNo == "" {
		return fmt.Errorf("%w: job number required", domain.ErrInvalidArgument)
	}
	if err := getValidator().Var(jobNo, "max=20,alphanum"); err != nil {
		return fmt.Errorf("%w: job number must be alphanumeric, max 20 characters", domain.ErrInvalidArgument)
	}
	return nil
}

// validateRequestID sanity-checks a verification request id from the path.
func validateRequestID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: request id required", domain.ErrInvalidArgument)
	}
	if len(id) > 100 || !requestIDPattern.MatchString(id) {
		return fmt.Errorf("%w: malformed request id", domain.ErrInvalidArgument)
	}
	return nil
}
