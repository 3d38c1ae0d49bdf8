package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// systemInstruction renders the verification rubric into the model's system
// prompt. The response schema here must stay in lockstep with
// domain.ClassifyVerifyResponse.
func systemInstruction(rubric config.Rubric) string {
	var b strings.Builder
	b.WriteString("You are a meticulous back-office auditor performing a second check of job paperwork against ERP records.\n\n")
	b.WriteString("You receive page images of one document plus a JSON tree of ERP reference data for the same job.\n\n")
	b.WriteString("Tasks:\n")
	b.WriteString("1. Classify the document as exactly one of: \"Sales Quote\", \"Proforma Invoice\", \"Job Consumption\". Use \"UNKNOWN\" when none fits or the pages are unreadable.\n")
	b.WriteString("2. Compare the document's fields against the ERP reference data and report every mismatch as a discrepancy with severity \"high\", \"medium\" or \"low\". Severity \"low\" is advisory only (cosmetic differences, formatting). Missing ERP reference data for a field is a \"medium\" discrepancy.\n\n")

	b.WriteString("Focus areas:\n")
	for _, f := range rubric.FocusAreas {
		b.WriteString("- " + f + "\n")
	}
	b.WriteString("\nFields to verify per document type:\n")
	for _, d := range rubric.Documents {
		b.WriteString("- " + d.DocumentType + ": " + strings.Join(d.Fields, ", ") + "\n")
	}

	b.WriteString(`
Respond with strict JSON only, no prose and no markdown fences, using exactly this shape:
{
  "documentType": "Sales Quote | Proforma Invoice | Job Consumption | UNKNOWN",
  "classificationConfidence": 0.0,
  "classificationReasoning": "string",
  "discrepancies": [
    {"field_name": "string", "document_value": "string", "erp_value": "string", "severity": "high|medium|low", "description": "string"}
  ],
  "fieldConfidences": [
    {"field_name": "string", "confidence": 0.0, "extracted_value": "string", "verified": true}
  ],
  "overallVerificationConfidence": 0.0
}
An empty discrepancies array means the document matches the ERP records.
`)
	return b.String()
}

// userPrompt packs the job identity and the ERP reference bundle for one
// document. The page images travel as separate parts.
func userPrompt(req domain.ClassifyVerifyRequest) (string, error) {
	bundle, err := json.MarshalIndent(req.Bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("op=llm.prompt: encode bundle: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Job number: %s\nDocument file name: %s\nPage images: %d (attached in order)\n\n", req.JobNo, req.FileName, len(req.Pages))
	b.WriteString("ERP reference data:\n")
	b.Write(bundle)
	b.WriteString("\n\nClassify the document and verify it against the ERP reference data above.")
	return b.String(), nil
}
