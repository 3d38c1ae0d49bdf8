package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant JobStatus
		expected string
	}{
		{"JobPending", JobPending, "PENDING"},
		{"JobProcessing", JobProcessing, "PROCESSING"},
		{"JobVerified", JobVerified, "VERIFIED"},
		{"JobFlagged", JobFlagged, "FLAGGED"},
		{"JobSkipped", JobSkipped, "SKIPPED"},
		{"JobError", JobError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, string(tt.constant))
			}
		})
	}
}

func TestRequestStatusConstants(t *testing.T) {
	tests := []struct {
		name     string
		constant RequestStatus
		expected string
	}{
		{"RequestPending", RequestPending, "PENDING"},
		{"RequestProcessing", RequestProcessing, "PROCESSING"},
		{"RequestCompleted", RequestCompleted, "COMPLETED"},
		{"RequestSkipped", RequestSkipped, "SKIPPED"},
		{"RequestFailed", RequestFailed, "FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("Expected %s to be %q, got %q", tt.name, tt.expected, string(tt.constant))
			}
		})
	}
}

func TestRequestStatusTerminal(t *testing.T) {
	tests := []struct {
		status   RequestStatus
		terminal bool
	}{
		{RequestPending, false},
		{RequestProcessing, false},
		{RequestCompleted, true},
		{RequestSkipped, true},
		{RequestFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if tt.status.Terminal() != tt.terminal {
				t.Errorf("Expected %s.Terminal() to be %v", tt.status, tt.terminal)
			}
		})
	}
}

func TestVerificationRequest(t *testing.T) {
	now := time.Now()
	result := now.Add(2 * time.Second)
	req := VerificationRequest{
		ID:            "req-123",
		JobNo:         "J069026",
		Status:        RequestCompleted,
		RequestedAt:   now,
		ResultAt:      &result,
		Message:       "verification passed",
		Discrepancies: nil,
	}

	if req.ID != "req-123" {
		t.Errorf("Expected ID to be 'req-123', got %q", req.ID)
	}
	if req.JobNo != "J069026" {
		t.Errorf("Expected JobNo to be 'J069026', got %q", req.JobNo)
	}
	if req.Status != RequestCompleted {
		t.Errorf("Expected Status to be %q, got %q", RequestCompleted, req.Status)
	}
	if req.ResultAt == nil || req.ResultAt.Before(req.RequestedAt) {
		t.Errorf("Expected ResultAt at or after RequestedAt, got %v / %v", req.ResultAt, req.RequestedAt)
	}
	if req.Discrepancies != nil {
		t.Errorf("Expected Discrepancies to be nil, got %v", req.Discrepancies)
	}
}

func TestJobDocumentIdentity(t *testing.T) {
	doc := JobDocument{
		JobNo:                  "J069026",
		FileName:               "quote.pdf",
		DocumentType:           DocTypeUnclassified,
		ClassifiedDocumentType: "",
		ContentType:            "application/pdf",
		DocumentData:           []byte{0x25, 0x50, 0x44, 0x46},
		SourceURL:              "https://example.sharepoint.com/quote.pdf",
	}

	if doc.JobNo != "J069026" || doc.FileName != "quote.pdf" {
		t.Errorf("Expected identity (J069026, quote.pdf), got (%q, %q)", doc.JobNo, doc.FileName)
	}
	if doc.DocumentType != "UNCLASSIFIED" {
		t.Errorf("Expected DocumentType UNCLASSIFIED, got %q", doc.DocumentType)
	}
}

func TestVerificationTaskPayloadWireFormat(t *testing.T) {
	payload := VerificationTaskPayload{
		VerificationRequestID: "u1",
		JobNo:                 "J1",
	}

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := `{"verificationRequestId":"u1","jobNo":"J1"}`
	if string(b) != want {
		t.Errorf("Expected wire form %s, got %s", want, string(b))
	}

	var back VerificationTaskPayload
	if err := json.Unmarshal([]byte(want), &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != payload {
		t.Errorf("Expected %+v, got %+v", payload, back)
	}
}
