package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// ProcessService drives one verification request through the full pipeline:
// claim, eligibility, ERP reference collection, per-document classify+verify,
// aggregation, ERP write-back and the terminal status write. All failure
// handling is done here; callers only log the returned error.
type ProcessService struct {
	Requests  domain.VerificationRequestRepository
	Jobs      domain.JobRepository
	Documents domain.JobDocumentRepository
	Activity  domain.ActivityLogRepository
	ERP       domain.ERPClient
	WriteBack domain.WriteBack
	LLM       domain.LLMClient
	Renderer  domain.DocumentRenderer

	// Actor is the user string stamped into ERP write-backs and audit events.
	Actor string
	// DocConcurrency bounds the per-request document worker pool.
	DocConcurrency int
}

// NewProcessService constructs a ProcessService with its dependencies.
func NewProcessService(
	requests domain.VerificationRequestRepository,
	jobs domain.JobRepository,
	documents domain.JobDocumentRepository,
	activity domain.ActivityLogRepository,
	erp domain.ERPClient,
	writeBack domain.WriteBack,
	llm domain.LLMClient,
	renderer domain.DocumentRenderer,
	actor string,
	docConcurrency int,
) ProcessService {
	return ProcessService{
		Requests:       requests,
		Jobs:           jobs,
		Documents:      documents,
		Activity:       activity,
		ERP:            erp,
		WriteBack:      writeBack,
		LLM:            llm,
		Renderer:       renderer,
		Actor:          actor,
		DocConcurrency: docConcurrency,
	}
}

// docWork is one downloaded attachment awaiting verification.
type docWork struct {
	payload domain.DocumentPayload
	source  string
}

// Process executes the verification pipeline for one request. Requests that
// vanished or were already claimed are absorbed silently; everything else
// ends in exactly one terminal status (or is left PROCESSING for the sweeper
// when the terminal write itself is lost).
func (s ProcessService) Process(ctx domain.Context, requestID, jobNo string) error {
	tracer := otel.Tracer("usecase.process")
	ctx, span := tracer.Start(ctx, "ProcessVerification")
	defer span.End()
	span.SetAttributes(
		attribute.String("verification.request_id", requestID),
		attribute.String("verification.job_no", jobNo),
	)

	req, err := s.Requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Error("verification request vanished", slog.String("request_id", requestID))
			return nil
		}
		return fmt.Errorf("op=process.load: %w", err)
	}
	if req.Status != domain.RequestPending {
		slog.Info("verification request already picked up",
			slog.String("request_id", requestID), slog.String("status", string(req.Status)))
		return nil
	}
	if jobNo == "" {
		jobNo = req.JobNo
	}

	if _, err := s.Jobs.Ensure(ctx, jobNo); err != nil {
		return s.fail(ctx, requestID, jobNo, fmt.Sprintf("job bootstrap failed: %v", err))
	}

	if err := s.Requests.MarkProcessing(ctx, requestID, jobNo); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			slog.Info("verification request claimed elsewhere", slog.String("request_id", requestID))
			return nil
		}
		return s.fail(ctx, requestID, jobNo, fmt.Sprintf("claim failed: %v", err))
	}
	observability.StartProcessingRequest()
	defer observability.EndProcessingRequest()
	_ = s.Activity.Append(ctx, domain.ActivityEvent{
		EventType:      domain.EventVerificationStarted,
		Description:    fmt.Sprintf("Second check started for job %s", jobNo),
		RelatedJobID:   jobNo,
		UserIdentifier: s.Actor,
	})

	// Eligibility reuses the job-list entry the reference bundle needs anyway.
	entry, fetchErr := s.ERP.FetchJobListEntry(ctx, jobNo)
	elig, err := gradeEligibility(jobNo, entry, fetchErr)
	if err != nil {
		return s.fail(ctx, requestID, jobNo, fmt.Sprintf("eligibility check failed: %v", err))
	}
	if !elig.IsEligible {
		return s.skip(ctx, requestID, jobNo, elig)
	}
	_ = s.Jobs.UpdateDetails(ctx, jobNo, entry.Description, entry.CustomerName)

	ledger, err := s.ERP.FetchLedgerEntries(ctx, jobNo)
	if err != nil {
		return s.fail(ctx, requestID, jobNo, fmt.Sprintf("ledger fetch failed for job %s: %v", jobNo, err))
	}
	if len(ledger) == 0 {
		return s.fail(ctx, requestID, jobNo, "Ledger entry not found for job "+jobNo)
	}
	anchor := ledger[0]
	for _, e := range ledger[1:] {
		if e.EntryNo < anchor.EntryNo {
			anchor = e
		}
	}

	bundle, discrepancies, links, err := s.collectReferences(ctx, jobNo, entry, anchor)
	if err != nil {
		return s.fail(ctx, requestID, jobNo, err.Error())
	}

	var work []docWork
	for _, link := range links {
		payload, err := s.ERP.DownloadDocument(ctx, link)
		if err != nil {
			discrepancies = append(discrepancies,
				fmt.Sprintf("document %s unavailable: %v", documentName(link), err))
			continue
		}
		work = append(work, docWork{payload: payload, source: link})
	}
	if len(work) == 0 {
		slog.Warn("no documents to verify", slog.String("job_no", jobNo), slog.Int("links", len(links)))
	}

	results := make([][]string, len(work))
	g, gctx := errgroup.WithContext(ctx)
	limit := s.DocConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, w := range work {
		g.Go(func() error {
			out, err := s.verifyDocument(gctx, jobNo, w, bundle)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s.fail(ctx, requestID, jobNo, fmt.Sprintf("document verification failed: %v", err))
	}
	for _, r := range results {
		discrepancies = append(discrepancies, r...)
	}

	blocking := 0
	for _, d := range discrepancies {
		if !strings.HasPrefix(d, domain.AdvisoryPrefix) {
			blocking++
		}
	}
	pass := blocking == 0

	if pass {
		now := time.Now()
		comment := fmt.Sprintf("AI second check: %d document(s) passed verification.", len(work))
		err := s.WriteBack.UpdateVerificationFields(ctx, jobNo,
			now.Format("2006-01-02"), now.Format("15:04:05"), s.Actor, comment)
		if err != nil {
			slog.Error("write-back failed", slog.String("job_no", jobNo), slog.Any("error", err))
			discrepancies = append(discrepancies,
				fmt.Sprintf("%sERP write-back failed: %v", domain.AdvisoryPrefix, err))
			_ = s.Activity.Append(ctx, domain.ActivityEvent{
				EventType:      domain.EventWriteBackFailed,
				Description:    fmt.Sprintf("ERP write-back failed for job %s: %v", jobNo, err),
				RelatedJobID:   jobNo,
				UserIdentifier: s.Actor,
			})
		}
	}

	var (
		message   string
		jobStatus domain.JobStatus
	)
	if pass {
		message = "Verification passed."
		jobStatus = domain.JobVerified
	} else {
		message = fmt.Sprintf("Verification flagged %d discrepancy(ies).", blocking)
		jobStatus = domain.JobFlagged
	}
	if err := s.finalize(ctx, requestID, jobNo, domain.RequestCompleted, message, discrepancies); err != nil {
		return err
	}
	_ = s.Jobs.UpdateStatus(ctx, jobNo, jobStatus)
	_ = s.Activity.Append(ctx, domain.ActivityEvent{
		EventType:      domain.EventVerificationCompleted,
		Description:    fmt.Sprintf("Second check for job %s completed: %s", jobNo, message),
		RelatedJobID:   jobNo,
		UserIdentifier: s.Actor,
	})
	observability.ObserveVerification(len(discrepancies))
	slog.Info("verification completed",
		slog.String("request_id", requestID),
		slog.String("job_no", jobNo),
		slog.Bool("pass", pass),
		slog.Int("documents", len(work)),
		slog.Int("discrepancies", len(discrepancies)))
	return nil
}

// collectReferences fetches the sales quote, sales invoice and attachment
// links in parallel. An individual miss becomes a discrepancy; losing every
// referenced bundle aborts the run.
func (s ProcessService) collectReferences(ctx domain.Context, jobNo string, entry domain.JobListEntry, anchor domain.JobLedgerEntry) (domain.ReferenceBundle, []string, []string, error) {
	bundle := domain.ReferenceBundle{JobNo: jobNo, JobList: entry, Ledger: anchor}

	var (
		quote      domain.SalesQuote
		invoice    domain.SalesInvoiceHeader
		links      []string
		quoteErr   error
		invoiceErr error
		linksErr   error
		g          errgroup.Group
	)
	if entry.SalesQuoteNo != "" {
		g.Go(func() error {
			quote, quoteErr = s.ERP.FetchSalesQuote(ctx, entry.SalesQuoteNo)
			return nil
		})
	}
	if anchor.DocumentNo != "" {
		g.Go(func() error {
			invoice, invoiceErr = s.ERP.FetchSalesInvoice(ctx, anchor.DocumentNo)
			return nil
		})
	}
	g.Go(func() error {
		links, linksErr = s.ERP.FetchAttachmentLinks(ctx, jobNo)
		return nil
	})
	_ = g.Wait()

	referenced, failed := 1, 0
	var misses []string
	if entry.SalesQuoteNo != "" {
		referenced++
		if quoteErr != nil {
			failed++
			misses = append(misses, fmt.Sprintf("reference data missing: sales quote: %v", quoteErr))
		} else {
			bundle.Quote = &quote
		}
	}
	if anchor.DocumentNo != "" {
		referenced++
		if invoiceErr != nil {
			failed++
			misses = append(misses, fmt.Sprintf("reference data missing: sales invoice: %v", invoiceErr))
		} else {
			bundle.Invoice = &invoice
		}
	}
	if linksErr != nil {
		failed++
		misses = append(misses, fmt.Sprintf("reference data missing: attachment links: %v", linksErr))
	}
	if failed == referenced {
		return bundle, nil, nil, fmt.Errorf("reference data unavailable for job %s: %s",
			jobNo, strings.Join(misses, "; "))
	}
	return bundle, misses, links, nil
}

// verifyDocument renders one attachment, stores it, and asks the LLM to
// classify and cross-check it against the reference bundle. The returned
// strings are the lifted discrepancies; LLM exhaustion degrades to an
// UNKNOWN classification instead of an error.
func (s ProcessService) verifyDocument(ctx domain.Context, jobNo string, w docWork, bundle domain.ReferenceBundle) ([]string, error) {
	res, err := s.Renderer.RenderPages(ctx, w.payload.Data)
	if err != nil {
		return nil, fmt.Errorf("op=process.render: %s: %w", w.payload.FileName, err)
	}

	doc := domain.JobDocument{
		JobNo:        jobNo,
		FileName:     w.payload.FileName,
		DocumentType: domain.DocTypeUnclassified,
		ContentType:  w.payload.ContentType,
		DocumentData: w.payload.Data,
		SourceURL:    w.source,
		PageCount:    res.PageCount,
		SizeBytes:    int64(len(w.payload.Data)),
	}
	if _, err := s.Documents.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("op=process.store_document: %s: %w", w.payload.FileName, err)
	}

	resp, llmErr := s.LLM.ClassifyAndVerify(ctx, domain.ClassifyVerifyRequest{
		JobNo:    jobNo,
		FileName: w.payload.FileName,
		Pages:    res.Pages,
		Bundle:   bundle,
	})
	if llmErr != nil {
		observability.DocumentsClassifiedTotal.WithLabelValues(domain.DocTypeUnknown).Inc()
		return []string{fmt.Sprintf("document %s: LLM unavailable: %v", w.payload.FileName, llmErr)}, nil
	}

	docType := domain.NormalizeDocumentType(resp.DocumentType)
	if res.Synthetic {
		// The model only saw the substituted error page.
		docType = domain.DocTypeUnknown
		resp.ClassificationConfidence = 0
	}
	observability.DocumentsClassifiedTotal.WithLabelValues(docType).Inc()
	if docType != domain.DocTypeUnknown {
		if err := s.Documents.SetClassifiedType(ctx, jobNo, w.payload.FileName, docType); err != nil {
			slog.Warn("classified type not persisted",
				slog.String("job_no", jobNo),
				slog.String("file", w.payload.FileName),
				slog.Any("error", err))
		}
	}

	out := make([]string, 0, len(resp.Discrepancies))
	for _, d := range resp.Discrepancies {
		out = append(out, d.Lifted())
	}
	slog.Info("document verified",
		slog.String("job_no", jobNo),
		slog.String("file", w.payload.FileName),
		slog.String("document_type", docType),
		slog.Float64("confidence", resp.ClassificationConfidence),
		slog.Int("discrepancies", len(out)))
	return out, nil
}

// skip finalizes an ineligible request. The stored discrepancy list always
// carries the canonical reason; the specific reason goes to the message.
func (s ProcessService) skip(ctx domain.Context, requestID, jobNo string, elig domain.EligibilityResult) error {
	_ = s.Jobs.UpdateDetails(ctx, jobNo, elig.JobTitle, elig.CustomerName)
	if err := s.finalize(ctx, requestID, jobNo, domain.RequestSkipped, elig.Message,
		[]string{domain.SkipReasonCanonical}); err != nil {
		return err
	}
	_ = s.Jobs.UpdateStatus(ctx, jobNo, domain.JobSkipped)
	_ = s.Activity.Append(ctx, domain.ActivityEvent{
		EventType:      domain.EventVerificationSkipped,
		Description:    fmt.Sprintf("Second check skipped for job %s: %s", jobNo, elig.Message),
		RelatedJobID:   jobNo,
		UserIdentifier: s.Actor,
	})
	slog.Info("verification skipped",
		slog.String("request_id", requestID),
		slog.String("job_no", jobNo),
		slog.String("reason", elig.Message))
	return nil
}

// fail finalizes a request as FAILED with msg as both message and sole
// discrepancy, and parks the job in ERROR.
func (s ProcessService) fail(ctx domain.Context, requestID, jobNo, msg string) error {
	if err := s.finalize(ctx, requestID, jobNo, domain.RequestFailed, msg, []string{msg}); err != nil {
		return err
	}
	_ = s.Jobs.UpdateStatus(ctx, jobNo, domain.JobError)
	_ = s.Activity.Append(ctx, domain.ActivityEvent{
		EventType:      domain.EventVerificationFailed,
		Description:    msg,
		RelatedJobID:   jobNo,
		UserIdentifier: s.Actor,
	})
	slog.Error("verification failed",
		slog.String("request_id", requestID),
		slog.String("job_no", jobNo),
		slog.String("reason", msg))
	return errors.New(msg)
}

// finalize commits a terminal status, retrying once. A request whose terminal
// write is lost stays PROCESSING for the sweeper to reap.
func (s ProcessService) finalize(ctx domain.Context, requestID, jobNo string, status domain.RequestStatus, message string, discrepancies []string) error {
	err := s.Requests.Finalize(ctx, requestID, status, message, discrepancies)
	if err != nil {
		slog.Warn("terminal write failed, retrying",
			slog.String("request_id", requestID), slog.Any("error", err))
		err = s.Requests.Finalize(ctx, requestID, status, message, discrepancies)
	}
	if err != nil {
		slog.Error("terminal write lost, leaving request to the sweeper",
			slog.String("request_id", requestID), slog.Any("error", err))
		_ = s.Activity.Append(ctx, domain.ActivityEvent{
			EventType:      domain.EventVerificationFailed,
			Description:    fmt.Sprintf("terminal write for request %s lost: %v", requestID, err),
			RelatedJobID:   jobNo,
			UserIdentifier: s.Actor,
		})
		return fmt.Errorf("op=process.finalize: %w", err)
	}
	observability.FinalizeRequest(string(status))
	return nil
}

// documentName extracts a display name for an attachment link whose download
// failed before any server-provided name was seen.
func documentName(link string) string {
	if u, err := url.Parse(link); err == nil {
		if b := path.Base(u.Path); b != "" && b != "." && b != "/" {
			return b
		}
	}
	return link
}
