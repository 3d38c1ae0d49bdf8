package httpserver_test

import (
	"fmt"
	"testing"
	"time"

	httpserver "github.com/fairyhunter13/ai-job-verifier/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
	"github.com/fairyhunter13/ai-job-verifier/internal/usecase"
)

// Fakes shared by the handler tests. Each test wires only the ports its
// route touches.

type fakeRequests struct {
	requests  map[string]domain.VerificationRequest
	latest    map[string]string
	createErr error
	getErr    error
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{
		requests: map[string]domain.VerificationRequest{},
		latest:   map[string]string{},
	}
}

func (f *fakeRequests) Create(_ domain.Context, r domain.VerificationRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	r.ID = fmt.Sprintf("req-%d", len(f.requests)+1)
	f.requests[r.ID] = r
	f.latest[r.JobNo] = r.ID
	return r.ID, nil
}

func (f *fakeRequests) Get(_ domain.Context, id string) (domain.VerificationRequest, error) {
	if f.getErr != nil {
		return domain.VerificationRequest{}, f.getErr
	}
	r, ok := f.requests[id]
	if !ok {
		return domain.VerificationRequest{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRequests) LatestByJobNo(_ domain.Context, jobNo string) (domain.VerificationRequest, error) {
	id, ok := f.latest[jobNo]
	if !ok {
		return domain.VerificationRequest{}, domain.ErrNotFound
	}
	return f.requests[id], nil
}

func (f *fakeRequests) MarkProcessing(_ domain.Context, _, _ string) error { return nil }

func (f *fakeRequests) Finalize(_ domain.Context, id string, status domain.RequestStatus, message string, discrepancies []string) error {
	r := f.requests[id]
	r.Status = status
	r.Message = message
	r.Discrepancies = discrepancies
	f.requests[id] = r
	return nil
}

func (f *fakeRequests) ListByStatus(_ domain.Context, _ domain.RequestStatus, _, _ int) ([]domain.VerificationRequest, error) {
	return nil, nil
}

type fakeQueue struct {
	payloads []domain.VerificationTaskPayload
	err      error
}

func (f *fakeQueue) EnqueueVerification(_ domain.Context, p domain.VerificationTaskPayload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.payloads = append(f.payloads, p)
	return p.VerificationRequestID, nil
}

type fakeActivity struct{ events []domain.ActivityEvent }

func (f *fakeActivity) Append(_ domain.Context, e domain.ActivityEvent) error {
	f.events = append(f.events, e)
	return nil
}

// fakeERP serves only the job-list lookup; the other fetches are never hit
// from the HTTP surface.
type fakeERP struct {
	entry    domain.JobListEntry
	entryErr error
}

func (f *fakeERP) FetchJobListEntry(_ domain.Context, _ string) (domain.JobListEntry, error) {
	return f.entry, f.entryErr
}

func (f *fakeERP) FetchLedgerEntries(_ domain.Context, _ string) ([]domain.JobLedgerEntry, error) {
	return nil, nil
}

func (f *fakeERP) FetchSalesQuote(_ domain.Context, _ string) (domain.SalesQuote, error) {
	return domain.SalesQuote{}, nil
}

func (f *fakeERP) FetchSalesInvoice(_ domain.Context, _ string) (domain.SalesInvoiceHeader, error) {
	return domain.SalesInvoiceHeader{}, nil
}

func (f *fakeERP) FetchAttachmentLinks(_ domain.Context, _ string) ([]string, error) {
	return nil, nil
}

func (f *fakeERP) DownloadDocument(_ domain.Context, _ string) (domain.DocumentPayload, error) {
	return domain.DocumentPayload{}, nil
}

type serverFixture struct {
	srv      *httpserver.Server
	requests *fakeRequests
	queue    *fakeQueue
	erp      *fakeERP
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	requests := newFakeRequests()
	queue := &fakeQueue{}
	erp := &fakeERP{entry: domain.JobListEntry{
		JobNo:          "J069026",
		Description:    "Conveyor refit",
		CustomerName:   "Acme Fabrication",
		FirstCheckDate: "2026-03-02",
	}}
	srv := httpserver.NewServer(
		config.Config{Port: 8080},
		usecase.NewVerifyService(requests, queue, &fakeActivity{}),
		usecase.NewEligibilityService(erp),
		nil, nil, nil,
	)
	return &serverFixture{srv: srv, requests: requests, queue: queue, erp: erp}
}

func seedRequest(f *serverFixture, r domain.VerificationRequest) {
	f.requests.requests[r.ID] = r
	f.requests.latest[r.JobNo] = r.ID
}

func completedRequest(id, jobNo string) domain.VerificationRequest {
	resultAt := time.Date(2026, 3, 2, 12, 34, 56, 0, time.UTC)
	return domain.VerificationRequest{
		ID:            id,
		JobNo:         jobNo,
		Status:        domain.RequestCompleted,
		Message:       "Verification passed.",
		Discrepancies: []string{},
		RequestedAt:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		ResultAt:      &resultAt,
	}
}
