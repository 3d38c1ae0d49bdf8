package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// JobDocumentRepo persists document blobs keyed by (job_no, file_name).
type JobDocumentRepo struct{ Pool PgxPool }

// NewJobDocumentRepo constructs a JobDocumentRepo with the given pool.
func NewJobDocumentRepo(p PgxPool) *JobDocumentRepo { return &JobDocumentRepo{Pool: p} }

const documentColumns = `id, job_no, file_name, document_type, COALESCE(classified_document_type,''), content_type, document_data, source_url, page_count, size_bytes, created_at, updated_at`

func scanDocument(row pgx.Row) (domain.JobDocument, error) {
	var d domain.JobDocument
	err := row.Scan(&d.ID, &d.JobNo, &d.FileName, &d.DocumentType, &d.ClassifiedDocumentType,
		&d.ContentType, &d.DocumentData, &d.SourceURL, &d.PageCount, &d.SizeBytes, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// Upsert inserts or replaces the row for (JobNo, FileName) and returns its id.
// Replacing keeps a previously stored classified type when the incoming one
// is empty; a non-empty incoming value wins. A serialization failure or a
// unique-constraint race on first execution is retried once.
func (r *JobDocumentRepo) Upsert(ctx domain.Context, d domain.JobDocument) (int64, error) {
	tracer := otel.Tracer("repo.job_documents")
	ctx, span := tracer.Start(ctx, "job_documents.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "job_documents"),
		attribute.String("verification.job_no", d.JobNo),
	)
	docType := d.DocumentType
	if strings.TrimSpace(docType) == "" {
		docType = domain.DocTypeUnclassified
	}
	now := time.Now().UTC()
	q := `INSERT INTO job_documents
			(job_no, file_name, document_type, classified_document_type, content_type, document_data, source_url, page_count, size_bytes, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (job_no, file_name) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			classified_document_type = COALESCE(EXCLUDED.classified_document_type, job_documents.classified_document_type),
			content_type = EXCLUDED.content_type,
			document_data = EXCLUDED.document_data,
			source_url = EXCLUDED.source_url,
			page_count = EXCLUDED.page_count,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	var id int64
	err := r.Pool.QueryRow(ctx, q,
		d.JobNo, d.FileName, docType, d.ClassifiedDocumentType, d.ContentType,
		d.DocumentData, d.SourceURL, d.PageCount, d.SizeBytes, now).Scan(&id)
	if retryableUpsert(err) {
		err = r.Pool.QueryRow(ctx, q,
			d.JobNo, d.FileName, docType, d.ClassifiedDocumentType, d.ContentType,
			d.DocumentData, d.SourceURL, d.PageCount, d.SizeBytes, now).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("op=job_document.upsert: %w", err)
	}
	return id, nil
}

// retryableUpsert reports whether err is a concurrent-write failure worth one
// more attempt: serialization_failure or a unique_violation lost race.
func retryableUpsert(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "23505"
}

// GetLatest returns the highest-id document for a job whose stored or
// classified type matches. Inputs are trimmed before lookup.
func (r *JobDocumentRepo) GetLatest(ctx domain.Context, jobNo, documentType string) (domain.JobDocument, error) {
	tracer := otel.Tracer("repo.job_documents")
	ctx, span := tracer.Start(ctx, "job_documents.GetLatest")
	defer span.End()
	jobNo = strings.TrimSpace(jobNo)
	documentType = strings.TrimSpace(documentType)
	q := `SELECT ` + documentColumns + ` FROM job_documents
		WHERE job_no=$1 AND (document_type=$2 OR classified_document_type=$2)
		ORDER BY id DESC LIMIT 1`
	d, err := scanDocument(r.Pool.QueryRow(ctx, q, jobNo, documentType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobDocument{}, fmt.Errorf("op=job_document.get_latest: %w", domain.ErrNotFound)
		}
		return domain.JobDocument{}, fmt.Errorf("op=job_document.get_latest: %w", err)
	}
	return d, nil
}

// SetClassifiedType fills the classified type where none is recorded yet.
// A document already classified keeps its value.
func (r *JobDocumentRepo) SetClassifiedType(ctx domain.Context, jobNo, fileName, classified string) error {
	tracer := otel.Tracer("repo.job_documents")
	ctx, span := tracer.Start(ctx, "job_documents.SetClassifiedType")
	defer span.End()
	q := `UPDATE job_documents SET classified_document_type=$3, updated_at=$4
		WHERE job_no=$1 AND file_name=$2
		AND (classified_document_type IS NULL OR classified_document_type='' OR classified_document_type=$5)`
	_, err := r.Pool.Exec(ctx, q, jobNo, fileName, classified, time.Now().UTC(), domain.DocTypeUnclassified)
	if err != nil {
		return fmt.Errorf("op=job_document.set_classified_type: %w", err)
	}
	return nil
}
