package usecase_test

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// Hand-rolled fakes for the domain ports. Each fake records calls so tests
// can assert ordering-sensitive behavior without a mocking framework.

type finalizeCall struct {
	id            string
	status        domain.RequestStatus
	message       string
	discrepancies []string
}

type fakeRequestRepo struct {
	mu            sync.Mutex
	requests      map[string]domain.VerificationRequest
	createErr     error
	getErr        error
	markErr       error
	finalizeFails int // number of leading Finalize calls to reject
	finalizeCalls []finalizeCall
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: map[string]domain.VerificationRequest{}}
}

func (r *fakeRequestRepo) Create(_ domain.Context, req domain.VerificationRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return "", r.createErr
	}
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("req-%d", len(r.requests)+1)
	}
	req.ID = id
	if req.Status == "" {
		req.Status = domain.RequestPending
	}
	r.requests[id] = req
	return id, nil
}

func (r *fakeRequestRepo) Get(_ domain.Context, id string) (domain.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.VerificationRequest{}, r.getErr
	}
	req, ok := r.requests[id]
	if !ok {
		return domain.VerificationRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (r *fakeRequestRepo) LatestByJobNo(_ domain.Context, jobNo string) (domain.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest domain.VerificationRequest
	for _, req := range r.requests {
		if req.JobNo == jobNo && req.ID > latest.ID {
			latest = req
		}
	}
	if latest.ID == "" {
		return domain.VerificationRequest{}, domain.ErrNotFound
	}
	return latest, nil
}

func (r *fakeRequestRepo) MarkProcessing(_ domain.Context, id, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	req, ok := r.requests[id]
	if !ok || req.Status != domain.RequestPending {
		return domain.ErrConflict
	}
	req.Status = domain.RequestProcessing
	r.requests[id] = req
	return nil
}

func (r *fakeRequestRepo) Finalize(_ domain.Context, id string, status domain.RequestStatus, message string, discrepancies []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalizeFails > 0 {
		r.finalizeFails--
		return errors.New("db unavailable")
	}
	req, ok := r.requests[id]
	if !ok || req.Status.Terminal() {
		return domain.ErrConflict
	}
	req.Status = status
	req.Message = message
	req.Discrepancies = discrepancies
	r.requests[id] = req
	r.finalizeCalls = append(r.finalizeCalls, finalizeCall{
		id: id, status: status, message: message, discrepancies: discrepancies,
	})
	return nil
}

func (r *fakeRequestRepo) ListByStatus(_ domain.Context, status domain.RequestStatus, _, _ int) ([]domain.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.VerificationRequest
	for _, req := range r.requests {
		if req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	ensureErr error
	statuses  []domain.JobStatus
	details   []string
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[string]domain.Job{}}
}

func (r *fakeJobRepo) Ensure(_ domain.Context, jobNo string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensureErr != nil {
		return domain.Job{}, r.ensureErr
	}
	j, ok := r.jobs[jobNo]
	if !ok {
		j = domain.Job{ID: "job-" + jobNo, BusinessCentralJobID: jobNo, Status: domain.JobPending}
		r.jobs[jobNo] = j
	}
	return j, nil
}

func (r *fakeJobRepo) GetByJobNo(_ domain.Context, jobNo string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobNo]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}

func (r *fakeJobRepo) UpdateStatus(_ domain.Context, jobNo string, status domain.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[jobNo]
	j.Status = status
	r.jobs[jobNo] = j
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *fakeJobRepo) UpdateDetails(_ domain.Context, jobNo, title, customer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.details = append(r.details, jobNo+"|"+title+"|"+customer)
	return nil
}

type fakeDocRepo struct {
	mu         sync.Mutex
	upserts    []domain.JobDocument
	upsertErr  error
	classified map[string]string
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{classified: map[string]string{}}
}

func (r *fakeDocRepo) Upsert(_ domain.Context, d domain.JobDocument) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return 0, r.upsertErr
	}
	r.upserts = append(r.upserts, d)
	return int64(len(r.upserts)), nil
}

func (r *fakeDocRepo) GetLatest(_ domain.Context, jobNo, documentType string) (domain.JobDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.upserts) - 1; i >= 0; i-- {
		d := r.upserts[i]
		if d.JobNo == jobNo && (d.DocumentType == documentType || r.classified[d.FileName] == documentType) {
			return d, nil
		}
	}
	return domain.JobDocument{}, domain.ErrNotFound
}

func (r *fakeDocRepo) SetClassifiedType(_ domain.Context, _, fileName, classified string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.classified[fileName]; !taken {
		r.classified[fileName] = classified
	}
	return nil
}

type fakeActivityRepo struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
}

func (r *fakeActivityRepo) Append(_ domain.Context, e domain.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeActivityRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []domain.VerificationTaskPayload
	err      error
}

func (q *fakeQueue) EnqueueVerification(_ domain.Context, p domain.VerificationTaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, p)
	return fmt.Sprintf("task-%d", len(q.payloads)), nil
}

type fakeERP struct {
	mu            sync.Mutex
	entry         domain.JobListEntry
	entryErr      error
	ledger        []domain.JobLedgerEntry
	ledgerErr     error
	quote         domain.SalesQuote
	quoteErr      error
	quoteNoSeen   string
	invoice       domain.SalesInvoiceHeader
	invoiceErr    error
	invoiceNoSeen string
	links         []string
	linksErr      error
	downloads     map[string]domain.DocumentPayload
	downloadErrs  map[string]error
}

func (e *fakeERP) FetchJobListEntry(_ domain.Context, _ string) (domain.JobListEntry, error) {
	if e.entryErr != nil {
		return domain.JobListEntry{}, e.entryErr
	}
	return e.entry, nil
}

func (e *fakeERP) FetchLedgerEntries(_ domain.Context, _ string) ([]domain.JobLedgerEntry, error) {
	if e.ledgerErr != nil {
		return nil, e.ledgerErr
	}
	return e.ledger, nil
}

func (e *fakeERP) FetchSalesQuote(_ domain.Context, quoteNo string) (domain.SalesQuote, error) {
	e.mu.Lock()
	e.quoteNoSeen = quoteNo
	e.mu.Unlock()
	if e.quoteErr != nil {
		return domain.SalesQuote{}, e.quoteErr
	}
	return e.quote, nil
}

func (e *fakeERP) FetchSalesInvoice(_ domain.Context, invoiceNo string) (domain.SalesInvoiceHeader, error) {
	e.mu.Lock()
	e.invoiceNoSeen = invoiceNo
	e.mu.Unlock()
	if e.invoiceErr != nil {
		return domain.SalesInvoiceHeader{}, e.invoiceErr
	}
	return e.invoice, nil
}

func (e *fakeERP) FetchAttachmentLinks(_ domain.Context, _ string) ([]string, error) {
	if e.linksErr != nil {
		return nil, e.linksErr
	}
	return e.links, nil
}

func (e *fakeERP) DownloadDocument(_ domain.Context, url string) (domain.DocumentPayload, error) {
	if err, ok := e.downloadErrs[url]; ok {
		return domain.DocumentPayload{}, err
	}
	p, ok := e.downloads[url]
	if !ok {
		return domain.DocumentPayload{}, domain.ErrNotFound
	}
	return p, nil
}

type writeBackCall struct {
	jobNo   string
	date    string
	time    string
	checker string
	comment string
}

type fakeWriteBack struct {
	mu    sync.Mutex
	calls []writeBackCall
	err   error
}

func (w *fakeWriteBack) UpdateVerificationFields(_ domain.Context, jobNo, checkDate, checkTime, checker, comment string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, writeBackCall{
		jobNo: jobNo, date: checkDate, time: checkTime, checker: checker, comment: comment,
	})
	if w.err != nil {
		return w.err
	}
	return nil
}

type fakeLLM struct {
	mu      sync.Mutex
	err     error
	resp    domain.ClassifyVerifyResponse
	perFile map[string]domain.ClassifyVerifyResponse
	calls   []domain.ClassifyVerifyRequest
}

func (l *fakeLLM) ClassifyAndVerify(_ domain.Context, req domain.ClassifyVerifyRequest) (domain.ClassifyVerifyResponse, error) {
	l.mu.Lock()
	l.calls = append(l.calls, req)
	l.mu.Unlock()
	if l.err != nil {
		return domain.ClassifyVerifyResponse{}, l.err
	}
	if r, ok := l.perFile[req.FileName]; ok {
		return r, nil
	}
	return l.resp, nil
}

type fakeRenderer struct {
	synthetic bool
	err       error
	pageCount int
}

func (r *fakeRenderer) RenderPages(_ domain.Context, _ []byte) (domain.RenderResult, error) {
	if r.err != nil {
		return domain.RenderResult{}, r.err
	}
	if r.synthetic {
		return domain.RenderResult{Pages: [][]byte{[]byte("error-page")}, PageCount: 1, Synthetic: true}, nil
	}
	n := r.pageCount
	if n <= 0 {
		n = 1
	}
	pages := make([][]byte, n)
	for i := range pages {
		pages[i] = fmt.Appendf(nil, "page-%d", i+1)
	}
	return domain.RenderResult{Pages: pages, PageCount: n}, nil
}
