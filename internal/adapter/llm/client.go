// Package llm classifies and verifies document page images against ERP
// reference data using Gemini models with ordered fallback.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/llm/tokencount"
	"github.com/fairyhunter13/ai-job-verifier/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-verifier/internal/config"
	"github.com/fairyhunter13/ai-job-verifier/internal/domain"
	"github.com/fairyhunter13/ai-job-verifier/internal/service/ratelimiter"
)

// Client implements domain.LLMClient on the Gemini API. Each request walks
// the configured model list until one yields a parseable verification
// response; a per-model circuit breaker keeps known-bad models out of the
// rotation and an optional shared limiter enforces the request budget.
type Client struct {
	cfg      config.Config
	models   []string
	genc     *genai.Client
	system   string
	breakers *breakerSet
	limiter  ratelimiter.Limiter
	counter  *tokencount.Counter
	drift    *observability.ConfidenceDriftMonitor
}

var _ domain.LLMClient = (*Client)(nil)

// New constructs the client. The limiter may be nil, which disables quota
// checks.
func New(ctx context.Context, cfg config.Config, rubric config.Rubric, limiter ratelimiter.Limiter) (*Client, error) {
	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("op=llm.New: %w: LLM_API_KEY missing", domain.ErrInvalidArgument)
	}
	models := cfg.LLMModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("op=llm.New: %w: no models configured", domain.ErrInvalidArgument)
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.LLMAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.LLMBaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.LLMBaseURL
	}
	genc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("op=llm.New: init client: %w", err)
	}

	slog.Info("llm client initialized",
		slog.Any("models", models),
		slog.Duration("timeout", cfg.LLMTimeout))

	return &Client{
		cfg:      cfg,
		models:   models,
		genc:     genc,
		system:   systemInstruction(rubric),
		breakers: newBreakerSet(),
		limiter:  limiter,
		counter:  tokencount.NewCounter(),
		drift:    observability.NewConfidenceDriftMonitor(0, 0),
	}, nil
}

// ClassifyAndVerify runs one document through the model rotation. The error
// return is the last failure once every model has been tried; callers decide
// how to degrade.
func (c *Client) ClassifyAndVerify(ctx domain.Context, req domain.ClassifyVerifyRequest) (domain.ClassifyVerifyResponse, error) {
	user, err := userPrompt(req)
	if err != nil {
		return domain.ClassifyVerifyResponse{}, err
	}

	var lastErr error
	for i, model := range c.models {
		if i > 0 {
			observability.LLMModelFallbacksTotal.Inc()
		}

		br := c.breakers.get(model)
		if !br.ShouldAttempt() {
			lastErr = fmt.Errorf("op=llm.classify: model %s: circuit open: %w", model, domain.ErrUnavailable)
			slog.Warn("skipping model with open circuit", slog.String("model", model))
			continue
		}
		if c.limiter != nil {
			allowed, retryAfter, limitErr := c.limiter.Allow(ctx, "llm:"+model, 1)
			if limitErr == nil && !allowed {
				lastErr = fmt.Errorf("op=llm.classify: model %s: quota exhausted: %w", model, domain.ErrRateLimited)
				slog.Warn("model quota exhausted",
					slog.String("model", model),
					slog.Duration("retry_after", retryAfter))
				continue
			}
		}

		if tokens, cntErr := c.counter.CountPrompt(c.system, user, len(req.Pages), model); cntErr == nil {
			observability.LLMPromptTokens.WithLabelValues(model).Observe(float64(tokens))
		}

		raw, genErr := c.generate(ctx, model, user, req.Pages)
		if genErr != nil {
			br.RecordFailure()
			observability.LLMRequestsTotal.WithLabelValues(model, "error").Inc()
			if errors.Is(genErr, domain.ErrUpstreamRateLimit) {
				c.throttle(model)
			}
			lastErr = genErr
			slog.Warn("model attempt failed",
				slog.String("model", model),
				slog.String("job_no", req.JobNo),
				slog.String("file", req.FileName),
				slog.Any("error", genErr))
			continue
		}

		parsed, parseErr := parseResponse(raw)
		if parseErr != nil {
			br.RecordFailure()
			observability.LLMRequestsTotal.WithLabelValues(model, "parse_error").Inc()
			lastErr = fmt.Errorf("op=llm.classify: model %s: %w", model, parseErr)
			slog.Warn("model returned unparseable response",
				slog.String("model", model),
				slog.String("job_no", req.JobNo),
				slog.String("snippet", textSnippet(raw)))
			continue
		}

		br.RecordSuccess()
		observability.LLMRequestsTotal.WithLabelValues(model, "ok").Inc()
		c.drift.Record(model, parsed.ClassificationConfidence)
		slog.Info("document classified",
			slog.String("model", model),
			slog.String("job_no", req.JobNo),
			slog.String("file", req.FileName),
			slog.String("document_type", parsed.DocumentType),
			slog.Float64("confidence", parsed.ClassificationConfidence),
			slog.Int("discrepancies", len(parsed.Discrepancies)))
		return parsed, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("op=llm.classify: %w: no models configured", domain.ErrUnavailable)
	}
	return domain.ClassifyVerifyResponse{}, lastErr
}

// generate performs one model call: a text part carrying the job identity
// and ERP bundle, then one image part per page.
func (c *Client) generate(ctx domain.Context, model, user string, pages [][]byte) (string, error) {
	parts := make([]*genai.Part, 0, 1+len(pages))
	parts = append(parts, genai.NewPartFromText(user))
	for _, page := range pages {
		parts = append(parts, genai.NewPartFromBytes(page, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	gcfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.1)),
		TopP:              genai.Ptr(float32(0.95)),
		TopK:              genai.Ptr(float32(40)),
		MaxOutputTokens:   4096,
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(c.system, genai.RoleUser),
	}

	callCtx := ctx
	if c.cfg.LLMTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.LLMTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.genc.Models.GenerateContent(callCtx, model, contents, gcfg)
	observability.LLMRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return "", fmt.Errorf("op=llm.generate: model %s: %w: %v", model, domain.ErrUpstreamTimeout, err)
		case isRateLimited(err):
			return "", fmt.Errorf("op=llm.generate: model %s: %w: %v", model, domain.ErrUpstreamRateLimit, err)
		default:
			return "", fmt.Errorf("op=llm.generate: model %s: %w: %v", model, domain.ErrUnavailable, err)
		}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("op=llm.generate: model %s: empty response: %w", model, domain.ErrSchemaInvalid)
	}
	return text, nil
}

// isRateLimited matches Gemini quota errors. The SDK reports them as text
// carrying the 429 code or the RESOURCE_EXHAUSTED status.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "429") ||
		strings.Contains(s, "RESOURCE_EXHAUSTED") ||
		strings.Contains(s, "quota")
}

// throttle halves a model's bucket after a provider 429: the configured quota
// was evidently looser than the real one. Repeated hits settle at half the
// configured rate rather than shrinking to nothing.
func (c *Client) throttle(model string) {
	if c.cfg.LLMRatePerMin <= 0 {
		return
	}
	tuner, ok := c.limiter.(interface {
		SetBucketConfig(key string, cfg ratelimiter.BucketConfig)
	})
	if !ok {
		return
	}
	perMin := c.cfg.LLMRatePerMin / 2
	if perMin < 1 {
		perMin = 1
	}
	tuner.SetBucketConfig("llm:"+model, ratelimiter.NewBucketConfigFromPerMinute(perMin))
	slog.Warn("provider rate limit hit; tightening local quota",
		slog.String("model", model),
		slog.Int("per_minute", perMin))
}

func textSnippet(s string) string {
	if len(s) > 256 {
		return s[:256]
	}
	return s
}
