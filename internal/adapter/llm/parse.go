package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
	"github.com/fairyhunter13/ai-job-verifier/pkg/textx"
)

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// maxModelText bounds each free-text field a model may emit. Everything past
// it is noise for the stored row and the result message.
const maxModelText = 500

// parseResponse runs the model's text output through a repair ladder: direct
// decode, fence stripping, brace extraction, trailing-comma repair, and
// finally a keyword scan. A response that survives none of it is a schema
// failure, which rolls the caller to the next model.
func parseResponse(raw string) (domain.ClassifyVerifyResponse, error) {
	if resp, ok := tryDecode(raw); ok {
		return finish(resp), nil
	}

	stripped := stripFence(raw)
	if resp, ok := tryDecode(stripped); ok {
		return finish(resp), nil
	}

	extracted := extractObject(stripped)
	if resp, ok := tryDecode(extracted); ok {
		return finish(resp), nil
	}

	repaired := trailingCommaRe.ReplaceAllString(extracted, "$1")
	if resp, ok := tryDecode(repaired); ok {
		return finish(resp), nil
	}

	if resp, ok := keywordFallback(raw); ok {
		return resp, nil
	}

	return domain.ClassifyVerifyResponse{}, fmt.Errorf("op=llm.parse: unparseable response: %w", domain.ErrSchemaInvalid)
}

// tryDecode decodes a candidate JSON document. A decode without a document
// type does not count: it means the model answered something else entirely.
func tryDecode(s string) (domain.ClassifyVerifyResponse, bool) {
	var resp domain.ClassifyVerifyResponse
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		return domain.ClassifyVerifyResponse{}, false
	}
	if strings.TrimSpace(resp.DocumentType) == "" {
		return domain.ClassifyVerifyResponse{}, false
	}
	return resp, true
}

// stripFence removes a surrounding markdown code fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractObject returns the substring from the first '{' to its matching
// closing brace, or the input unchanged when no balanced object exists.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s
}

// keywordFallback scans free text for a recognizable type name. A hit is a
// low-confidence classification with no verification detail.
func keywordFallback(raw string) (domain.ClassifyVerifyResponse, bool) {
	lower := strings.ToLower(raw)
	var docType string
	switch {
	case strings.Contains(lower, "sales quote"):
		docType = domain.DocTypeSalesQuote
	case strings.Contains(lower, "proforma"):
		docType = domain.DocTypeProformaInvoice
	case strings.Contains(lower, "job shipment"), strings.Contains(lower, "job consumption"):
		docType = domain.DocTypeJobConsumption
	default:
		return domain.ClassifyVerifyResponse{}, false
	}
	return domain.ClassifyVerifyResponse{
		DocumentType:             docType,
		ClassificationConfidence: 0.5,
		ClassificationReasoning:  "keyword match on unstructured model output",
	}, true
}

// finish normalizes a decoded response: canonical type vocabulary,
// confidences clamped to [0,1], and free text sanitized and bounded.
func finish(resp domain.ClassifyVerifyResponse) domain.ClassifyVerifyResponse {
	resp.DocumentType = domain.NormalizeDocumentType(resp.DocumentType)
	resp.ClassificationConfidence = clamp01(resp.ClassificationConfidence)
	resp.OverallVerificationConfidence = clamp01(resp.OverallVerificationConfidence)
	resp.ClassificationReasoning = cleanText(resp.ClassificationReasoning)
	for i := range resp.Discrepancies {
		d := &resp.Discrepancies[i]
		d.FieldName = cleanText(d.FieldName)
		d.DocumentValue = cleanText(d.DocumentValue)
		d.ERPValue = cleanText(d.ERPValue)
		d.Severity = cleanText(d.Severity)
		d.Description = cleanText(d.Description)
	}
	for i := range resp.FieldConfidences {
		fc := &resp.FieldConfidences[i]
		fc.Confidence = clamp01(fc.Confidence)
		fc.FieldName = cleanText(fc.FieldName)
		fc.ExtractedValue = cleanText(fc.ExtractedValue)
	}
	return resp
}

func cleanText(s string) string {
	return textx.Clip(textx.Sanitize(s), maxModelText)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
