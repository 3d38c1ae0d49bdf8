package erp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// PATCH body field names on the job-list entity.
const (
	fieldSecondCheckDate = "_x0032_nd_Check_Date"
	fieldSecondCheckTime = "_x0032_nd_Check_Time"
	fieldSecondCheckBy   = "_x0032_nd_Check_By"
	fieldComment         = "Verification_Comment"
)

// UpdateVerificationFields stamps the second-check audit columns on the
// job-list entity under the ERP's concurrency-token protocol: read the
// current etag, PATCH with If-Match, and on a 412 re-read and try again.
// Exhausting the attempts yields ErrWriteBackFailed wrapping the last cause.
func (c *Client) UpdateVerificationFields(ctx domain.Context, jobNo, checkDate, checkTime, checker, comment string) error {
	maxAttempts := c.cfg.WritebackMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	payload, err := json.Marshal(map[string]string{
		fieldSecondCheckDate: checkDate,
		fieldSecondCheckTime: checkTime,
		fieldSecondCheckBy:   checker,
		fieldComment:         comment,
	})
	if err != nil {
		return fmt.Errorf("op=erp.write_back: encode: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		row, err := c.fetchJobListRow(ctx, jobNo)
		if err != nil {
			lastErr = err
			break
		}

		_, _, err = c.do(ctx, "write_back", request{
			method: http.MethodPatch,
			url:    c.entityKeyURL(entityJobList, jobNo),
			body:   payload,
			etag:   row.ETag,
		})
		if err == nil {
			slog.Info("write-back applied",
				slog.String("job_no", jobNo),
				slog.String("checker", checker),
				slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		observability.ERPWriteBackRetriesTotal.Inc()
		slog.Warn("write-back concurrency conflict, re-reading etag",
			slog.String("job_no", jobNo),
			slog.Int("attempt", attempt))
	}

	return fmt.Errorf("op=erp.write_back: job %s: %w: %w", jobNo, domain.ErrWriteBackFailed, lastErr)
}
