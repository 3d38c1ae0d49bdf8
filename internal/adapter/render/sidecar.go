package render

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
)

// renderDPI is the raster resolution requested from the sidecar.
const renderDPI = 300

// sidecarClient posts a PDF to the rendering sidecar and receives one
// base64 PNG per page. An empty entry marks a page the sidecar could not
// produce; the caller substitutes those.
type sidecarClient struct {
	baseURL string
	hc      *http.Client
}

func newSidecarClient(cfg config.Config) *sidecarClient {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("RENDER %s %s", r.Method, r.URL.Host)
		}),
	)
	return &sidecarClient{
		baseURL: strings.TrimRight(cfg.RenderURL, "/"),
		hc: &http.Client{
			Timeout:   cfg.RenderTimeout,
			Transport: transport,
		},
	}
}

type renderResponse struct {
	PageCount int      `json:"pageCount"`
	Pages     []string `json:"pages"`
}

func (c *sidecarClient) rasterize(ctx domain.Context, data []byte) ([][]byte, error) {
	u := fmt.Sprintf("%s/render?dpi=%d&format=png", c.baseURL, renderDPI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("op=render.rasterize: %w", err)
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=render.rasterize: %w: %w", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("op=render.rasterize: status %d: %w", resp.StatusCode, domain.ErrUnavailable)
	}

	var rr renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("op=render.rasterize: %w: %w", domain.ErrSchemaInvalid, err)
	}
	if rr.PageCount <= 0 || len(rr.Pages) != rr.PageCount {
		return nil, fmt.Errorf("op=render.rasterize: pageCount %d with %d pages: %w",
			rr.PageCount, len(rr.Pages), domain.ErrSchemaInvalid)
	}

	pages := make([][]byte, len(rr.Pages))
	for i, enc := range rr.Pages {
		if enc == "" {
			continue
		}
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			continue
		}
		pages[i] = b
	}
	return pages, nil
}
