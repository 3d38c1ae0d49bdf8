// Package render turns document blobs into page images for the LLM.
//
// Blobs are structurally validated with pdfcpu before rasterization is
// delegated to the rendering sidecar. A blob that cannot be rendered never
// fails the pipeline: the whole document (or the single broken page) is
// substituted with an embedded synthetic error page instead.
package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// Service implements domain.DocumentRenderer on top of pdfcpu validation
// and the rasterizer sidecar. A circuit breaker around the sidecar skips
// the HTTP round trip while the sidecar is known to be down; a shed call
// degrades to the same synthetic page as a failed one.
type Service struct {
	sidecar *sidecarClient
	breaker *observability.CircuitBreaker
}

var _ domain.DocumentRenderer = (*Service)(nil)

// New constructs a renderer talking to the sidecar at cfg.RenderURL.
func New(cfg config.Config) *Service {
	return &Service{
		sidecar: newSidecarClient(cfg),
		breaker: observability.NewCircuitBreaker("render-sidecar", 5, 30*time.Second),
	}
}

// RenderPages validates data and rasterizes it into one PNG per page.
//
// An invalid, encrypted or empty document, and a whole-request rasterizer
// failure, all yield a single synthetic page with Synthetic set; the caller
// must then treat the document as unclassifiable. A rasterizer failure on an
// individual page substitutes the synthetic page for that page only.
func (s *Service) RenderPages(ctx domain.Context, data []byte) (domain.RenderResult, error) {
	if err := validate(data); err != nil {
		slog.Warn("document failed validation, substituting error page", slog.Any("error", err))
		return syntheticResult(), nil
	}

	var pages [][]byte
	err := s.breaker.Call(func() error {
		var rerr error
		pages, rerr = s.sidecar.rasterize(ctx, data)
		return rerr
	})
	if err != nil {
		slog.Warn("rasterizer unavailable, substituting error page", slog.Any("error", err))
		return syntheticResult(), nil
	}

	for i, p := range pages {
		if len(p) == 0 {
			slog.Warn("page failed to render, substituting error page", slog.Int("page", i+1))
			pages[i] = ErrorPage()
		}
	}
	return domain.RenderResult{Pages: pages, PageCount: len(pages), Synthetic: false}, nil
}

func syntheticResult() domain.RenderResult {
	observability.DocumentsRenderedSynthetic.Inc()
	return domain.RenderResult{Pages: [][]byte{ErrorPage()}, PageCount: 1, Synthetic: true}
}

// validate reads the cross reference table from data and rejects blobs the
// rasterizer cannot handle: broken structure, encryption, zero pages.
func validate(data []byte) error {
	pdfCtx, err := api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return fmt.Errorf("op=render.validate: %w", err)
	}
	if pdfCtx.Encrypt != nil {
		return fmt.Errorf("op=render.validate: document is encrypted")
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return fmt.Errorf("op=render.validate: %w", err)
	}
	if pdfCtx.PageCount == 0 {
		return fmt.Errorf("op=render.validate: document has no pages")
	}
	return nil
}
