package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// ActivityLogRepo appends audit events. The table is append-only; rows are
// only ever removed by the retention cleanup.
type ActivityLogRepo struct{ Pool PgxPool }

// NewActivityLogRepo constructs an ActivityLogRepo with the given pool.
func NewActivityLogRepo(p PgxPool) *ActivityLogRepo { return &ActivityLogRepo{Pool: p} }

// Append stores one audit event.
func (r *ActivityLogRepo) Append(ctx domain.Context, e domain.ActivityEvent) error {
	tracer := otel.Tracer("repo.activity_log")
	ctx, span := tracer.Start(ctx, "activity_log.Append")
	defer span.End()
	q := `INSERT INTO activity_log (event_type, description, related_job_id, user_identifier, created_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5)`
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.Pool.Exec(ctx, q, e.EventType, e.Description, e.RelatedJobID, e.UserIdentifier, createdAt)
	if err != nil {
		return fmt.Errorf("op=activity_log.append: %w", err)
	}
	return nil
}
