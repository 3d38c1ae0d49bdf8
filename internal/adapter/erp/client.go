// Package erp is the Business Central OData adapter: reference-data
// fetches, attachment downloads, and the second-check write-back.
package erp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
	obsctx "github.com/fairyhunter13/ai-job-verifier/internal/observability"
	"github.com/fairyhunter13/ai-job-verifier/pkg/textx"
)

// Entity sets published by the ERP's OData web services.
const (
	entityJobList       = "JobList"
	entityLedgerEntries = "JobLedgerEntries"
	entityQuoteHeaders  = "SalesQuotes"
	entityQuoteLines    = "SalesQuoteLines"
	entityInvoices      = "SalesInvoices"
)

// Client talks to the Business Central OData endpoint. All fetches are
// idempotent; the only mutating call is the second-check write-back.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

var (
	_ domain.ERPClient = (*Client)(nil)
	_ domain.WriteBack = (*Client)(nil)
)

// New constructs an ERP client with a fixed per-request timeout and a
// traced transport.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("ERP %s %s", r.Method, r.URL.Host)
		}),
	)
	timeout := cfg.ERPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// listEnvelope is the OData collection wrapper. NextLink is present when the
// server paged the result.
type listEnvelope[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// jobListRow mirrors the job-list entity. The first/second check columns
// start with a digit, which OData escapes as _x00NN_.
type jobListRow struct {
	ETag                string `json:"@odata.etag"`
	JobNo               string `json:"Job_No"`
	Description         string `json:"Description"`
	CustomerName        string `json:"Bill_to_Name"`
	FirstCheckDate      string `json:"_x0031_st_Check_Date"`
	FirstCheckBy        string `json:"_x0031_st_Check_By"`
	SecondCheckDate     string `json:"_x0032_nd_Check_Date"`
	SecondCheckTime     string `json:"_x0032_nd_Check_Time"`
	SecondCheckBy       string `json:"_x0032_nd_Check_By"`
	VerificationComment string `json:"Verification_Comment"`
	SalesQuoteNo        string `json:"Sales_Quote_No"`
	AttachmentURLs      string `json:"Attachment_URLs"`
}

func (r jobListRow) toDomain() domain.JobListEntry {
	return domain.JobListEntry{
		JobNo:               r.JobNo,
		Description:         r.Description,
		CustomerName:        r.CustomerName,
		FirstCheckDate:      normalizeDate(r.FirstCheckDate),
		FirstCheckBy:        strings.TrimSpace(r.FirstCheckBy),
		SecondCheckDate:     normalizeDate(r.SecondCheckDate),
		SecondCheckTime:     strings.TrimSpace(r.SecondCheckTime),
		SecondCheckBy:       strings.TrimSpace(r.SecondCheckBy),
		VerificationComment: r.VerificationComment,
		SalesQuoteNo:        strings.TrimSpace(r.SalesQuoteNo),
		ETag:                r.ETag,
	}
}

type ledgerRow struct {
	EntryNo     int64   `json:"Entry_No"`
	JobNo       string  `json:"Job_No"`
	DocumentNo  string  `json:"Document_No"`
	Type        string  `json:"Type"`
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitPrice   float64 `json:"Unit_Price_LCY"`
	TotalPrice  float64 `json:"Total_Price_LCY"`
	PostingDate string  `json:"Posting_Date"`
}

type quoteHeaderRow struct {
	No            string  `json:"No"`
	CustomerName  string  `json:"Sell_to_Customer_Name"`
	DocumentDate  string  `json:"Document_Date"`
	AmountInclVAT float64 `json:"Amount_Including_VAT"`
}

type quoteLineRow struct {
	DocumentNo  string  `json:"Document_No"`
	LineNo      int     `json:"Line_No"`
	ItemNo      string  `json:"No"`
	Description string  `json:"Description"`
	Quantity    float64 `json:"Quantity"`
	UnitPrice   float64 `json:"Unit_Price"`
	LineAmount  float64 `json:"Line_Amount"`
}

type invoiceHeaderRow struct {
	No            string  `json:"No"`
	CustomerName  string  `json:"Sell_to_Customer_Name"`
	PostingDate   string  `json:"Posting_Date"`
	AmountInclVAT float64 `json:"Amount_Including_VAT"`
}

// FetchJobListEntry returns the job-list row for jobNo, or ErrNotFound when
// the ERP has no such job.
func (c *Client) FetchJobListEntry(ctx domain.Context, jobNo string) (domain.JobListEntry, error) {
	row, err := c.fetchJobListRow(ctx, jobNo)
	if err != nil {
		return domain.JobListEntry{}, err
	}
	return row.toDomain(), nil
}

// FetchLedgerEntries returns every ledger entry posted to jobNo, walking
// server-side pages until exhausted. No entries is not an error.
func (c *Client) FetchLedgerEntries(ctx domain.Context, jobNo string) ([]domain.JobLedgerEntry, error) {
	rows, err := fetchList[ledgerRow](ctx, c, "ledger_entries", c.entityURL(entityLedgerEntries, "Job_No eq "+odataString(jobNo)))
	if err != nil {
		return nil, err
	}
	out := make([]domain.JobLedgerEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.JobLedgerEntry{
			EntryNo:     r.EntryNo,
			JobNo:       r.JobNo,
			DocumentNo:  r.DocumentNo,
			Type:        r.Type,
			Description: r.Description,
			Quantity:    r.Quantity,
			UnitPrice:   r.UnitPrice,
			TotalPrice:  r.TotalPrice,
			PostingDate: normalizeDate(r.PostingDate),
		})
	}
	return out, nil
}

// FetchSalesQuote returns the quote header plus its lines.
func (c *Client) FetchSalesQuote(ctx domain.Context, quoteNo string) (domain.SalesQuote, error) {
	headers, err := fetchList[quoteHeaderRow](ctx, c, "sales_quote", c.entityURL(entityQuoteHeaders, "No eq "+odataString(quoteNo)))
	if err != nil {
		return domain.SalesQuote{}, err
	}
	if len(headers) == 0 {
		return domain.SalesQuote{}, fmt.Errorf("op=erp.sales_quote: quote %s: %w", quoteNo, domain.ErrNotFound)
	}
	lines, err := fetchList[quoteLineRow](ctx, c, "sales_quote_lines", c.entityURL(entityQuoteLines, "Document_No eq "+odataString(quoteNo)))
	if err != nil {
		return domain.SalesQuote{}, err
	}
	q := domain.SalesQuote{
		Header: domain.SalesQuoteHeader{
			No:            headers[0].No,
			CustomerName:  headers[0].CustomerName,
			DocumentDate:  normalizeDate(headers[0].DocumentDate),
			AmountInclVAT: headers[0].AmountInclVAT,
		},
		Lines: make([]domain.SalesQuoteLine, 0, len(lines)),
	}
	for _, l := range lines {
		q.Lines = append(q.Lines, domain.SalesQuoteLine{
			LineNo:      l.LineNo,
			ItemNo:      l.ItemNo,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineAmount:  l.LineAmount,
		})
	}
	return q, nil
}

// FetchSalesInvoice returns the posted invoice header.
func (c *Client) FetchSalesInvoice(ctx domain.Context, invoiceNo string) (domain.SalesInvoiceHeader, error) {
	rows, err := fetchList[invoiceHeaderRow](ctx, c, "sales_invoice", c.entityURL(entityInvoices, "No eq "+odataString(invoiceNo)))
	if err != nil {
		return domain.SalesInvoiceHeader{}, err
	}
	if len(rows) == 0 {
		return domain.SalesInvoiceHeader{}, fmt.Errorf("op=erp.sales_invoice: invoice %s: %w", invoiceNo, domain.ErrNotFound)
	}
	return domain.SalesInvoiceHeader{
		No:            rows[0].No,
		CustomerName:  rows[0].CustomerName,
		PostingDate:   normalizeDate(rows[0].PostingDate),
		AmountInclVAT: rows[0].AmountInclVAT,
	}, nil
}

// FetchAttachmentLinks splits the job's comma-separated attachment field
// into individual URLs. Blank segments are dropped.
func (c *Client) FetchAttachmentLinks(ctx domain.Context, jobNo string) ([]string, error) {
	row, err := c.fetchJobListRow(ctx, jobNo)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(row.AttachmentURLs, ",")
	links := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		links = append(links, p)
	}
	return links, nil
}

// DownloadDocument fetches one attachment by its absolute URL. Generic or
// missing content types are re-sniffed from the payload.
func (c *Client) DownloadDocument(ctx domain.Context, rawURL string) (domain.DocumentPayload, error) {
	body, header, err := c.do(ctx, "download", request{method: http.MethodGet, url: rawURL})
	if err != nil {
		return domain.DocumentPayload{}, err
	}
	contentType := header.Get("Content-Type")
	if mt, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		contentType = mt
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(body).String()
	}
	return domain.DocumentPayload{
		Data:        body,
		ContentType: contentType,
		FileName:    attachmentFileName(header, rawURL, body),
	}, nil
}

func (c *Client) fetchJobListRow(ctx domain.Context, jobNo string) (jobListRow, error) {
	rows, err := fetchList[jobListRow](ctx, c, "job_list", c.entityURL(entityJobList, "Job_No eq "+odataString(jobNo)))
	if err != nil {
		return jobListRow{}, err
	}
	if len(rows) == 0 {
		return jobListRow{}, fmt.Errorf("op=erp.job_list: job %s: %w", jobNo, domain.ErrNotFound)
	}
	return rows[0], nil
}

// fetchList walks an OData collection across nextLink pages.
func fetchList[T any](ctx domain.Context, c *Client, op, rawURL string) ([]T, error) {
	var out []T
	next := rawURL
	for next != "" {
		body, _, err := c.do(ctx, op, request{method: http.MethodGet, url: next})
		if err != nil {
			return nil, err
		}
		var env listEnvelope[T]
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("op=erp.%s: decode: %w: %v", op, domain.ErrSchemaInvalid, err)
		}
		out = append(out, env.Value...)
		next = env.NextLink
	}
	return out, nil
}

// request is one ERP round trip. The body is kept as bytes so retries can
// re-send it.
type request struct {
	method string
	url    string
	body   []byte
	etag   string
}

// do performs the round trip under exponential backoff. Timeouts, transport
// failures, 429 and 5xx are retried; other 4xx are permanent. Returned
// errors wrap the domain taxonomy so callers can errors.Is them.
func (c *Client) do(ctx domain.Context, op string, r request) ([]byte, http.Header, error) {
	maxBytes := c.cfg.ERPMaxResponseBytes()
	var body []byte
	var header http.Header

	attempt := func() error {
		start := time.Now()
		var rd io.Reader
		if r.body != nil {
			rd = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, r.url, rd)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("op=erp.%s: %w: %v", op, domain.ErrInvalidArgument, err))
		}
		req.Header.Set("Accept", "application/json")
		if r.body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if r.etag != "" {
			req.Header.Set("If-Match", r.etag)
		}
		// Forward the originating request id so ERP-side logs line up with ours.
		if rid := obsctx.RequestIDFromContext(ctx); rid != "" {
			req.Header.Set("X-Request-Id", rid)
		}
		if c.cfg.ERPUser != "" {
			req.SetBasicAuth(c.cfg.ERPUser, c.cfg.ERPKey)
		}

		resp, err := c.hc.Do(req)
		observability.ERPRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				observability.ERPRequestsTotal.WithLabelValues(op, "timeout").Inc()
				return fmt.Errorf("op=erp.%s: %w: %v", op, domain.ErrUpstreamTimeout, err)
			}
			observability.ERPRequestsTotal.WithLabelValues(op, "transport").Inc()
			return fmt.Errorf("op=erp.%s: %w: %v", op, domain.ErrUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
		if err != nil {
			observability.ERPRequestsTotal.WithLabelValues(op, "transport").Inc()
			return fmt.Errorf("op=erp.%s: read body: %w: %v", op, domain.ErrUnavailable, err)
		}
		if int64(len(data)) > maxBytes {
			observability.ERPRequestsTotal.WithLabelValues(op, "oversize").Inc()
			return backoff.Permanent(fmt.Errorf("op=erp.%s: response exceeds %d bytes: %w", op, maxBytes, domain.ErrSchemaInvalid))
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			observability.ERPRequestsTotal.WithLabelValues(op, "ok").Inc()
			body = data
			header = resp.Header
			return nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			observability.ERPRequestsTotal.WithLabelValues(op, "auth").Inc()
			return backoff.Permanent(fmt.Errorf("op=erp.%s: status %d: %w", op, resp.StatusCode, domain.ErrUnauthorized))
		case resp.StatusCode == http.StatusNotFound:
			observability.ERPRequestsTotal.WithLabelValues(op, "not_found").Inc()
			return backoff.Permanent(fmt.Errorf("op=erp.%s: status 404: %w", op, domain.ErrNotFound))
		case resp.StatusCode == http.StatusPreconditionFailed:
			observability.ERPRequestsTotal.WithLabelValues(op, "etag_conflict").Inc()
			return backoff.Permanent(fmt.Errorf("op=erp.%s: status 412: %w", op, domain.ErrConflict))
		case resp.StatusCode == http.StatusTooManyRequests:
			observability.ERPRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			slog.Warn("erp rate limited", slog.String("op", op), slog.Int("status", resp.StatusCode))
			return fmt.Errorf("op=erp.%s: status 429: %w", op, domain.ErrUpstreamRateLimit)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			observability.ERPRequestsTotal.WithLabelValues(op, "client_error").Inc()
			slog.Warn("erp 4xx", slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", snippet(data)))
			return backoff.Permanent(fmt.Errorf("op=erp.%s: status %d: %w", op, resp.StatusCode, domain.ErrInvalidArgument))
		default:
			observability.ERPRequestsTotal.WithLabelValues(op, "server_error").Inc()
			slog.Error("erp non-2xx", slog.String("op", op), slog.Int("status", resp.StatusCode), slog.String("body", snippet(data)))
			return fmt.Errorf("op=erp.%s: status %d: %w", op, resp.StatusCode, domain.ErrUnavailable)
		}
	}

	expo := backoff.NewExponentialBackOff()
	maxElapsed, initial, maxInterval, multiplier := c.cfg.GetERPBackoffConfig()
	expo.MaxElapsedTime = maxElapsed
	expo.InitialInterval = initial
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	bo := backoff.WithContext(expo, ctx)

	if err := backoff.Retry(attempt, bo); err != nil {
		return nil, nil, err
	}
	return body, header, nil
}

func (c *Client) entityURL(entity, filter string) string {
	u := strings.TrimRight(c.cfg.ERPBaseURL, "/") + "/" + entity
	if filter != "" {
		u += "?$filter=" + url.QueryEscape(filter)
	}
	return u
}

// entityKeyURL addresses a single entity by key, OData style.
func (c *Client) entityKeyURL(entity, key string) string {
	return strings.TrimRight(c.cfg.ERPBaseURL, "/") + "/" + entity + "('" + url.PathEscape(strings.ReplaceAll(key, "'", "''")) + "')"
}

// odataString quotes a literal for a $filter expression. Embedded quotes are
// doubled per the OData escaping rule.
func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// normalizeDate maps the ERP's zero date to empty so callers can test
// presence with a plain comparison.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "0001-01-01" {
		return ""
	}
	return s
}

// attachmentFileName picks a name from Content-Disposition, then the URL
// path, then synthesizes one from the sniffed type. Both header values and
// decoded URL paths are attacker-controlled, so names are flattened before
// they become document keys.
func attachmentFileName(header http.Header, rawURL string, data []byte) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := textx.Line(params["filename"]); name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := textx.Line(path.Base(u.Path)); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "document" + mimetype.Detect(data).Extension()
}

func snippet(b []byte) string {
	if len(b) > 512 {
		b = b[:512]
	}
	return string(b)
}
