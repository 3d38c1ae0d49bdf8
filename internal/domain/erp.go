package domain

// JobListEntry is the per-job metadata row from the ERP job list, including
// the first/second-check audit fields the eligibility rules read.
type JobListEntry struct {
	JobNo               string `json:"jobNo"`
	Description         string `json:"description"`
	CustomerName        string `json:"customerName"`
	FirstCheckDate      string `json:"firstCheckDate"`
	FirstCheckBy        string `json:"firstCheckBy"`
	SecondCheckDate     string `json:"secondCheckDate"`
	SecondCheckTime     string `json:"secondCheckTime"`
	SecondCheckBy       string `json:"secondCheckBy"`
	VerificationComment string `json:"verificationComment"`
	SalesQuoteNo        string `json:"salesQuoteNo"`
	ETag                string `json:"-"`
}

// JobLedgerEntry is one accounting record for a job. The entry with the
// lowest EntryNo anchors verification.
type JobLedgerEntry struct {
	EntryNo     int64   `json:"entryNo"`
	JobNo       string  `json:"jobNo"`
	DocumentNo  string  `json:"documentNo"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TotalPrice  float64 `json:"totalPrice"`
	PostingDate string  `json:"postingDate"`
}

type SalesQuoteHeader struct {
	No            string  `json:"no"`
	CustomerName  string  `json:"customerName"`
	DocumentDate  string  `json:"documentDate"`
	AmountInclVAT float64 `json:"amountIncludingVat"`
}

type SalesQuoteLine struct {
	LineNo      int     `json:"lineNo"`
	ItemNo      string  `json:"itemNo"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineAmount  float64 `json:"lineAmount"`
}

// SalesQuote couples a quote header with its lines.
type SalesQuote struct {
	Header SalesQuoteHeader `json:"header"`
	Lines  []SalesQuoteLine `json:"lines"`
}

type SalesInvoiceHeader struct {
	No            string  `json:"no"`
	CustomerName  string  `json:"customerName"`
	PostingDate   string  `json:"postingDate"`
	AmountInclVAT float64 `json:"amountIncludingVat"`
}

// ReferenceBundle is the ERP data tree handed to the LLM for comparison.
// Quote and Invoice are nil when the job references none or the fetch failed;
// the orchestrator records the miss as a discrepancy instead of failing.
type ReferenceBundle struct {
	JobNo   string              `json:"jobNo"`
	JobList JobListEntry        `json:"jobListEntry"`
	Ledger  JobLedgerEntry      `json:"ledgerEntry"`
	Quote   *SalesQuote         `json:"salesQuote,omitempty"`
	Invoice *SalesInvoiceHeader `json:"salesInvoice,omitempty"`
}
