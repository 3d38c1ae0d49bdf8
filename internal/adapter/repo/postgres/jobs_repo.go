package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// JobRepo persists the per-job aggregate using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, business_central_job_id, COALESCE(job_title,''), COALESCE(customer_name,''), status, last_processed_at, created_at, updated_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.BusinessCentralJobID, &j.JobTitle, &j.CustomerName, &j.Status, &j.LastProcessedAt, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// Ensure returns the job row for jobNo, inserting a PENDING one when absent.
// The no-op update on conflict lets RETURNING yield the existing row.
func (r *JobRepo) Ensure(ctx domain.Context, jobNo string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Ensure")
	defer span.End()
	now := time.Now().UTC()
	q := `INSERT INTO jobs (id, business_central_job_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (business_central_job_id) DO UPDATE SET updated_at = jobs.updated_at
		RETURNING ` + jobColumns
	j, err := scanJob(r.Pool.QueryRow(ctx, q, uuid.New().String(), jobNo, domain.JobPending, now))
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.ensure: %w", err)
	}
	return j, nil
}

// GetByJobNo loads a job by its business-central job number.
func (r *JobRepo) GetByJobNo(ctx domain.Context, jobNo string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.GetByJobNo")
	defer span.End()
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE business_central_job_id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, jobNo))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get_by_job_no: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get_by_job_no: %w", err)
	}
	return j, nil
}

// UpdateStatus sets the aggregate status for a job.
func (r *JobRepo) UpdateStatus(ctx domain.Context, jobNo string, status domain.JobStatus) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	q := `UPDATE jobs SET status=$2, updated_at=$3 WHERE business_central_job_id=$1`
	tag, err := r.Pool.Exec(ctx, q, jobNo, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateDetails fills the informational title and customer fields from the
// ERP job list. Blank inputs leave the stored values alone.
func (r *JobRepo) UpdateDetails(ctx domain.Context, jobNo, title, customer string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateDetails")
	defer span.End()
	q := `UPDATE jobs SET
			job_title = COALESCE(NULLIF($2,''), job_title),
			customer_name = COALESCE(NULLIF($3,''), customer_name),
			updated_at = $4
		WHERE business_central_job_id=$1`
	_, err := r.Pool.Exec(ctx, q, jobNo, title, customer, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.update_details: %w", err)
	}
	return nil
}
