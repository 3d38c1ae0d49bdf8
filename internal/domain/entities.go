package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUnavailable       = errors.New("upstream unavailable")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrWriteBackFailed   = errors.New("write-back failed")
	ErrInternal          = errors.New("internal error")
)

//go:generate mockery --name=JobRepository --with-expecter --filename=job_repository_mock.go
//go:generate mockery --name=VerificationRequestRepository --with-expecter --filename=verification_request_repository_mock.go
//go:generate mockery --name=JobDocumentRepository --with-expecter --filename=job_document_repository_mock.go
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go
//go:generate mockery --name=ERPClient --with-expecter --filename=erp_client_mock.go
//go:generate mockery --name=LLMClient --with-expecter --filename=llm_client_mock.go

// JobStatus is the aggregate status of a business-central job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobVerified   JobStatus = "VERIFIED"
	JobFlagged    JobStatus = "FLAGGED"
	JobSkipped    JobStatus = "SKIPPED"
	JobError      JobStatus = "ERROR"
)

// RequestStatus is the status of a single verification attempt.
// PENDING is initial; COMPLETED, SKIPPED and FAILED are terminal and
// immutable once written.
type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestProcessing RequestStatus = "PROCESSING"
	RequestCompleted  RequestStatus = "COMPLETED"
	RequestSkipped    RequestStatus = "SKIPPED"
	RequestFailed     RequestStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestSkipped || s == RequestFailed
}

// Job is the per-job aggregate. One row per business-central job number,
// created lazily on first reference and mutated only by the orchestrator.
type Job struct {
	ID                   string
	BusinessCentralJobID string
	JobTitle             string
	CustomerName         string
	Status               JobStatus
	LastProcessedAt      *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// VerificationRequest records one verification attempt for a job.
type VerificationRequest struct {
	ID            string
	JobNo         string
	Status        RequestStatus
	RequestedAt   time.Time
	ResultAt      *time.Time
	Message       string
	Discrepancies []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobDocument is a stored document blob, unique per (JobNo, FileName).
type JobDocument struct {
	ID                     int64
	JobNo                  string
	FileName               string
	DocumentType           string
	ClassifiedDocumentType string
	ContentType            string
	DocumentData           []byte
	SourceURL              string
	PageCount              int
	SizeBytes              int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ActivityEvent is an append-only audit record.
type ActivityEvent struct {
	ID             int64
	EventType      string
	Description    string
	RelatedJobID   string
	UserIdentifier string
	CreatedAt      time.Time
}

// Repositories (ports)

type JobRepository interface {
	// Ensure returns the job for jobNo, creating it with status PENDING
	// when absent.
	Ensure(ctx Context, jobNo string) (Job, error)
	GetByJobNo(ctx Context, jobNo string) (Job, error)
	UpdateStatus(ctx Context, jobNo string, status JobStatus) error
	// UpdateDetails fills informational title/customer fields; blanks are
	// ignored.
	UpdateDetails(ctx Context, jobNo, title, customer string) error
}

type VerificationRequestRepository interface {
	Create(ctx Context, r VerificationRequest) (string, error)
	Get(ctx Context, id string) (VerificationRequest, error)
	LatestByJobNo(ctx Context, jobNo string) (VerificationRequest, error)
	// MarkProcessing atomically sets the request and its job to PROCESSING
	// and stamps the job's last-processed time.
	MarkProcessing(ctx Context, id, jobNo string) error
	// Finalize writes the terminal status, message and discrepancy list.
	// An empty discrepancy list is stored as NULL.
	Finalize(ctx Context, id string, status RequestStatus, message string, discrepancies []string) error
	ListByStatus(ctx Context, status RequestStatus, offset, limit int) ([]VerificationRequest, error)
}

type JobDocumentRepository interface {
	// Upsert inserts or replaces the row keyed (JobNo, FileName). A non-empty
	// ClassifiedDocumentType overwrites, an empty one preserves the stored value.
	Upsert(ctx Context, d JobDocument) (int64, error)
	// GetLatest returns the highest-id document whose document type or
	// classified type matches. Inputs are trimmed before lookup.
	GetLatest(ctx Context, jobNo, documentType string) (JobDocument, error)
	// SetClassifiedType fills the classified type only when the stored value
	// is empty or UNCLASSIFIED.
	SetClassifiedType(ctx Context, jobNo, fileName, classified string) error
}

type ActivityLogRepository interface {
	Append(ctx Context, e ActivityEvent) error
}

// Queue (port)

type Queue interface {
	EnqueueVerification(ctx Context, payload VerificationTaskPayload) (string, error)
}

// VerificationTaskPayload is the queue wire format. Field names are part of
// the protocol; producers may double-encode the object as a JSON string.
type VerificationTaskPayload struct {
	VerificationRequestID string `json:"verificationRequestId"`
	JobNo                 string `json:"jobNo"`
}

// ERPClient (port). All fetch operations are idempotent and side-effect-free.

type ERPClient interface {
	FetchJobListEntry(ctx Context, jobNo string) (JobListEntry, error)
	FetchLedgerEntries(ctx Context, jobNo string) ([]JobLedgerEntry, error)
	FetchSalesQuote(ctx Context, quoteNo string) (SalesQuote, error)
	FetchSalesInvoice(ctx Context, invoiceNo string) (SalesInvoiceHeader, error)
	FetchAttachmentLinks(ctx Context, jobNo string) ([]string, error)
	DownloadDocument(ctx Context, url string) (DocumentPayload, error)
}

// WriteBack posts second-check fields to the ERP under its concurrency-token
// protocol. Failures surface as ErrWriteBackFailed and are never fatal to a
// verification outcome.
type WriteBack interface {
	UpdateVerificationFields(ctx Context, jobNo, checkDate, checkTime, checker, comment string) error
}

// DocumentPayload is a downloaded attachment.
type DocumentPayload struct {
	Data        []byte
	ContentType string
	FileName    string
}

// LLMClient (port)

type LLMClient interface {
	ClassifyAndVerify(ctx Context, req ClassifyVerifyRequest) (ClassifyVerifyResponse, error)
}

// DocumentRenderer turns a document blob into page images. Invalid blobs
// yield synthetic error pages rather than an error.
type DocumentRenderer interface {
	RenderPages(ctx Context, data []byte) (RenderResult, error)
}

// RenderResult carries the page images for one document. Synthetic is true
// when the whole document was substituted (invalid, encrypted, zero pages or
// a whole-document render failure); classification must then be treated as
// UNKNOWN with confidence 0.
type RenderResult struct {
	Pages     [][]byte
	PageCount int
	Synthetic bool
}

// Context is an alias so the domain does not spell out std context in every
// signature; adapters and usecases pass context.Context through.
type Context = context.Context
