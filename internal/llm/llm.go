// Package llm is the model gateway used by the enrichment pipeline and the
// case matcher: free-text completion, schema-constrained completion and
// search-augmented completion, with pacing and bounded retry of transient
// provider failures.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/perplexity"
)

// Model is the language-model surface the pipeline depends on.
type Model interface {
	Complete(ctx context.Context, system, user string) (string, error)
	CompleteStructured(ctx context.Context, system, user string, schema Schema, out any) error
	WebSearch(ctx context.Context, query string, loc Location) (string, error)
}

// Location biases a web search towards a country.
type Location struct {
	// Country is an ISO 3166-1 alpha-2 code; empty means no hint.
	Country string
}

// Config tunes the gateway.
type Config struct {
	Model       string
	MaxTokens   int64
	Temperature *float64
	CacheTTL    string

	SearchModel   string
	SearchRecency string

	// RequestsPerSecond paces outbound calls across all stages; zero disables.
	RequestsPerSecond float64
	Burst             int

	Retry RetryConfig
}

// Client implements Model on Anthropic for completion and Perplexity for search.
type Client struct {
	ai      anthropic.Client
	search  perplexity.Client
	limiter *rate.Limiter
	cfg     Config
}

// New creates a Client. search may be nil, in which case WebSearch fails with
// ErrSearchUnavailable.
func New(ai anthropic.Client, search perplexity.Client, cfg Config) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.CacheTTL == "" {
		cfg.CacheTTL = "5m"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	c := &Client{ai: ai, search: search, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

type stageKey struct{}

// WithStage labels calls made with ctx for cost and retry logs.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage label carried by ctx, or "unlabelled".
func StageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey{}).(string); ok && s != "" {
		return s
	}
	return "unlabelled"
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "llm: rate limiter")
	}
	return nil
}

// Complete returns the model's free-text answer.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	stage := StageFrom(ctx)

	retry := c.cfg.Retry
	retry.OnRetry = retryLogger("anthropic", stage)

	resp, err := DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		return c.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       c.cfg.Model,
			MaxTokens:   c.cfg.MaxTokens,
			System:      anthropic.BuildCachedSystemBlocks(system, c.cfg.CacheTTL),
			Messages:    []anthropic.Message{{Role: "user", Content: user}},
			Temperature: c.cfg.Temperature,
		})
	})
	if err != nil {
		return "", eris.Wrapf(err, "llm: complete (%s)", stage)
	}

	resp.Usage.LogCost(c.cfg.Model, stage)
	return strings.TrimSpace(resp.Text()), nil
}

// CompleteStructured asks for a JSON object matching schema and decodes it
// into out. Undecodable output yields ErrMalformedOutput.
func (c *Client) CompleteStructured(ctx context.Context, system, user string, schema Schema, out any) error {
	prompt := schema.instructions()
	if system != "" {
		prompt = system + "\n\n" + prompt
	}

	text, err := c.Complete(ctx, prompt, user)
	if err != nil {
		return err
	}
	return decodeStructured(text, out)
}

func decodeStructured(text string, out any) error {
	raw := cleanJSON(text)
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return eris.Wrapf(ErrMalformedOutput, "no JSON object in %q", truncate(text, 120))
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return eris.Wrapf(ErrMalformedOutput, "decode: %v", err)
	}
	return nil
}

// WebSearch runs a search-augmented completion and returns the answer text
// followed by the sources the provider cited.
func (c *Client) WebSearch(ctx context.Context, query string, loc Location) (string, error) {
	if c.search == nil {
		return "", ErrSearchUnavailable
	}
	stage := StageFrom(ctx)

	req := perplexity.ChatCompletionRequest{
		Model:               c.cfg.SearchModel,
		Messages:            []perplexity.Message{{Role: "user", Content: query}},
		SearchRecencyFilter: c.cfg.SearchRecency,
	}
	if loc.Country != "" {
		req.WebSearchOptions = &perplexity.WebSearchOptions{
			UserLocation: &perplexity.UserLocation{Country: loc.Country},
		}
	}

	retry := c.cfg.Retry
	retry.OnRetry = retryLogger("perplexity", stage)

	resp, err := DoVal(ctx, retry, func(ctx context.Context) (*perplexity.ChatCompletionResponse, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		return c.search.ChatCompletion(ctx, req)
	})
	if err != nil {
		return "", eris.Wrapf(err, "llm: web search (%s)", stage)
	}

	zap.L().Info("search usage",
		zap.String("stage", stage),
		zap.String("country", loc.Country),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return renderSearch(resp), nil
}

func renderSearch(resp *perplexity.ChatCompletionResponse) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(resp.Content()))

	if len(resp.SearchResults) > 0 {
		b.WriteString("\n\nSources:")
		for _, r := range resp.SearchResults {
			b.WriteString("\n- ")
			b.WriteString(r.Title)
			if r.Date != "" {
				fmt.Fprintf(&b, " (%s)", r.Date)
			}
			if r.URL != "" {
				b.WriteString(" ")
				b.WriteString(r.URL)
			}
		}
	} else if len(resp.Citations) > 0 {
		b.WriteString("\n\nSources:")
		for _, u := range resp.Citations {
			b.WriteString("\n- ")
			b.WriteString(u)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
