package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// VerificationRequestRepo persists verification attempts using a minimal pgx
// pool. Terminal statuses are write-once: Finalize refuses to touch a row
// that already reached COMPLETED, SKIPPED or FAILED.
type VerificationRequestRepo struct{ Pool PgxPool }

// NewVerificationRequestRepo constructs a VerificationRequestRepo with the given pool.
func NewVerificationRequestRepo(p PgxPool) *VerificationRequestRepo {
	return &VerificationRequestRepo{Pool: p}
}

const requestColumns = `id, job_no, status, requested_at, result_at, COALESCE(message,''), discrepancies_json, created_at, updated_at`

func scanRequest(row pgx.Row) (domain.VerificationRequest, error) {
	var (
		r   domain.VerificationRequest
		raw []byte
	)
	if err := row.Scan(&r.ID, &r.JobNo, &r.Status, &r.RequestedAt, &r.ResultAt, &r.Message, &raw, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.VerificationRequest{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r.Discrepancies); err != nil {
			return domain.VerificationRequest{}, fmt.Errorf("decode discrepancies: %w", err)
		}
	}
	return r, nil
}

// Create stores a new PENDING request and returns its id (generates one if empty).
func (r *VerificationRequestRepo) Create(ctx domain.Context, req domain.VerificationRequest) (string, error) {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "verification_requests"),
	)
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := req.Status
	if status == "" {
		status = domain.RequestPending
	}
	requestedAt := req.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now().UTC()
	}
	q := `INSERT INTO verification_requests (id, job_no, status, requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`
	if _, err := r.Pool.Exec(ctx, q, id, req.JobNo, status, requestedAt, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("op=verification_request.create: %w", err)
	}
	return id, nil
}

// Get loads a request by id or returns ErrNotFound.
func (r *VerificationRequestRepo) Get(ctx domain.Context, id string) (domain.VerificationRequest, error) {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.Get")
	defer span.End()
	q := `SELECT ` + requestColumns + ` FROM verification_requests WHERE id=$1`
	req, err := scanRequest(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VerificationRequest{}, fmt.Errorf("op=verification_request.get: %w", domain.ErrNotFound)
		}
		return domain.VerificationRequest{}, fmt.Errorf("op=verification_request.get: %w", err)
	}
	return req, nil
}

// LatestByJobNo returns the most recent request for a job or ErrNotFound.
func (r *VerificationRequestRepo) LatestByJobNo(ctx domain.Context, jobNo string) (domain.VerificationRequest, error) {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.LatestByJobNo")
	defer span.End()
	q := `SELECT ` + requestColumns + ` FROM verification_requests
		WHERE job_no=$1 ORDER BY requested_at DESC, created_at DESC LIMIT 1`
	req, err := scanRequest(r.Pool.QueryRow(ctx, q, jobNo))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.VerificationRequest{}, fmt.Errorf("op=verification_request.latest: %w", domain.ErrNotFound)
		}
		return domain.VerificationRequest{}, fmt.Errorf("op=verification_request.latest: %w", err)
	}
	return req, nil
}

// MarkProcessing claims a PENDING request and flips its job to PROCESSING in
// one transaction. Returns ErrConflict when the request is no longer PENDING,
// which callers treat as "someone else already has it".
func (r *VerificationRequestRepo) MarkProcessing(ctx domain.Context, id, jobNo string) error {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.MarkProcessing")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("verification.request_id", id),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=verification_request.mark_processing: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE verification_requests SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4`,
		id, domain.RequestProcessing, now, domain.RequestPending)
	if err != nil {
		return fmt.Errorf("op=verification_request.mark_processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=verification_request.mark_processing: %w", domain.ErrConflict)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status=$2, last_processed_at=$3, updated_at=$3 WHERE business_central_job_id=$1`,
		jobNo, domain.JobProcessing, now); err != nil {
		return fmt.Errorf("op=verification_request.mark_processing: job update: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=verification_request.mark_processing: commit: %w", err)
	}
	return nil
}

// Finalize writes a terminal status with the result timestamp, message and
// discrepancy list. An empty list is stored as NULL. Rows already terminal
// are left untouched and reported as ErrConflict.
func (r *VerificationRequestRepo) Finalize(ctx domain.Context, id string, status domain.RequestStatus, message string, discrepancies []string) error {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.Finalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("verification.request_id", id),
		attribute.String("verification.status", string(status)),
	)
	if !status.Terminal() {
		return fmt.Errorf("op=verification_request.finalize: status %s: %w", status, domain.ErrInvalidArgument)
	}
	var raw []byte
	if len(discrepancies) > 0 {
		b, err := json.Marshal(discrepancies)
		if err != nil {
			return fmt.Errorf("op=verification_request.finalize: encode discrepancies: %w", err)
		}
		raw = b
	}
	now := time.Now().UTC()
	q := `UPDATE verification_requests
		SET status=$2, result_at=$3, message=$4, discrepancies_json=$5, updated_at=$3
		WHERE id=$1 AND status IN ($6, $7)`
	tag, err := r.Pool.Exec(ctx, q, id, status, now, message, raw, domain.RequestPending, domain.RequestProcessing)
	if err != nil {
		return fmt.Errorf("op=verification_request.finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=verification_request.finalize: %w", domain.ErrConflict)
	}
	return nil
}

// ListByStatus pages through requests in a given status, oldest update first.
// The stuck-request sweeper is the main consumer.
func (r *VerificationRequestRepo) ListByStatus(ctx domain.Context, status domain.RequestStatus, offset, limit int) ([]domain.VerificationRequest, error) {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.ListByStatus")
	defer span.End()
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + requestColumns + ` FROM verification_requests
		WHERE status=$1 ORDER BY updated_at ASC OFFSET $2 LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, status, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("op=verification_request.list_by_status: %w", err)
	}
	defer rows.Close()

	var out []domain.VerificationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("op=verification_request.list_by_status: scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=verification_request.list_by_status: rows: %w", err)
	}
	return out, nil
}
