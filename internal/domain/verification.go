package domain

import (
	"fmt"
	"strings"
)

// Recognized document classifications. UNCLASSIFIED marks a stored document
// no classifier has seen yet; UNKNOWN is an affirmative "could not classify".
const (
	DocTypeSalesQuote      = "Sales Quote"
	DocTypeProformaInvoice = "Proforma Invoice"
	DocTypeJobConsumption  = "Job Consumption"
	DocTypeUnknown         = "UNKNOWN"
	DocTypeUnclassified    = "UNCLASSIFIED"
)

// Discrepancy severities as emitted by the LLM.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// AdvisoryPrefix marks discrepancy strings that inform without flagging.
const AdvisoryPrefix = "[advisory] "

// Skip reasons surfaced on ineligible jobs. The canonical reason is what the
// request's discrepancy list carries; the specific reason goes to the
// request message and the activity log.
const (
	SkipReasonCanonical         = "Job does not qualify for second check."
	SkipReasonFirstCheckMissing = "First check has not been completed."
)

// SkipReasonSecondCheckDone names the user who already performed the check.
func SkipReasonSecondCheckDone(by string) string {
	return "Second check already completed by " + by + "."
}

// EligibleMessage confirms a job passed every qualification rule.
const EligibleMessage = "Job is eligible for second check."

// Activity log event types.
const (
	EventVerificationRequested = "VERIFICATION_REQUESTED"
	EventVerificationStarted   = "VERIFICATION_STARTED"
	EventVerificationCompleted = "VERIFICATION_COMPLETED"
	EventVerificationSkipped   = "VERIFICATION_SKIPPED"
	EventVerificationFailed    = "VERIFICATION_FAILED"
	EventWriteBackFailed       = "WRITEBACK_FAILED"
	EventQueuePoison           = "QUEUE_POISON"
	EventRequestSwept          = "REQUEST_SWEPT"
)

// ClassifyVerifyRequest is one document's worth of work for the LLM: the
// rendered page images plus the ERP reference data to compare against.
type ClassifyVerifyRequest struct {
	JobNo    string
	FileName string
	Pages    [][]byte
	Bundle   ReferenceBundle
}

// ClassifyVerifyResponse mirrors the LLM service's JSON body.
type ClassifyVerifyResponse struct {
	DocumentType                  string             `json:"documentType"`
	ClassificationConfidence      float64            `json:"classificationConfidence"`
	ClassificationReasoning       string             `json:"classificationReasoning"`
	Discrepancies                 []FieldDiscrepancy `json:"discrepancies"`
	FieldConfidences              []FieldConfidence  `json:"fieldConfidences"`
	OverallVerificationConfidence float64            `json:"overallVerificationConfidence"`
}

// FieldDiscrepancy is a field-level mismatch between document and ERP.
type FieldDiscrepancy struct {
	FieldName     string `json:"field_name"`
	DocumentValue string `json:"document_value"`
	ERPValue      string `json:"erp_value"`
	Severity      string `json:"severity"`
	Description   string `json:"description"`
}

// FieldConfidence is the LLM's per-field extraction verdict.
type FieldConfidence struct {
	FieldName      string  `json:"field_name"`
	Confidence     float64 `json:"confidence"`
	ExtractedValue string  `json:"extracted_value"`
	Verified       bool    `json:"verified"`
}

// Advisory reports whether the discrepancy is informational only. Advisory
// entries never flag a job on their own. Unrecognized severities count as
// blocking.
func (d FieldDiscrepancy) Advisory() bool {
	return strings.ToLower(strings.TrimSpace(d.Severity)) == SeverityLow
}

// Lifted renders the discrepancy as its audit string.
func (d FieldDiscrepancy) Lifted() string {
	s := fmt.Sprintf("%s: doc=%s erp=%s (%s)", d.FieldName, d.DocumentValue, d.ERPValue, d.Description)
	if d.Advisory() {
		return AdvisoryPrefix + s
	}
	return s
}

// NormalizeDocumentType maps a classifier's free-form label onto the
// canonical vocabulary. Empty input becomes UNKNOWN; labels outside the
// vocabulary pass through verbatim.
func NormalizeDocumentType(s string) string {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "":
		return DocTypeUnknown
	case "sales quote", "quote":
		return DocTypeSalesQuote
	case "proforma invoice", "proforma":
		return DocTypeProformaInvoice
	case "job consumption", "job shipment":
		return DocTypeJobConsumption
	case "unknown":
		return DocTypeUnknown
	case "unclassified":
		return DocTypeUnclassified
	}
	return t
}

// EligibilityResult is the outcome of the second-check qualification rules.
type EligibilityResult struct {
	IsEligible   bool   `json:"isEligible"`
	JobNo        string `json:"jobNo"`
	JobTitle     string `json:"jobTitle"`
	CustomerName string `json:"customerName"`
	Message      string `json:"message"`
}
