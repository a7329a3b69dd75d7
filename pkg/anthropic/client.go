package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the Anthropic API operations used by the outreach pipeline.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is our own request type for CreateMessage.
type MessageRequest struct {
	Model       string
	MaxTokens   int64
	System      []SystemBlock
	Messages    []Message
	Temperature *float64
}

// SystemBlock represents a system prompt block, optionally with cache control.
type SystemBlock struct {
	Text         string
	CacheControl *CacheControl
}

// CacheControl configures caching for a content block.
type CacheControl struct {
	TTL string // "5m" or "1h"
}

// Message represents a single conversational message.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse is our own response type from CreateMessage.
type MessageResponse struct {
	ID           string
	Model        string
	Content      []ContentBlock
	StopReason   string
	Usage        TokenUsage
	StopSequence string
}

// Text joins the text blocks of the response.
func (r *MessageResponse) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, b := range r.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentBlock represents a block of content in a response.
type ContentBlock struct {
	Type string
	Text string
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// rate is a model's list price in USD per million tokens.
type rate struct {
	input, output float64
}

// Cache writes bill at 1.25x the input rate, cache reads at 0.1x.
const (
	cacheWriteFactor = 1.25
	cacheReadFactor  = 0.1
)

var rates = map[string]rate{
	"claude-haiku-4-5":           {input: 1, output: 5},
	"claude-haiku-4-5-20251001":  {input: 1, output: 5},
	"claude-sonnet-4-5":          {input: 3, output: 15},
	"claude-sonnet-4-5-20250929": {input: 3, output: 15},
	"claude-opus-4-1-20250805":   {input: 15, output: 75},
}

// EstimateCost prices the usage in USD for model. Unknown models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	r, ok := rates[model]
	if !ok {
		return 0
	}
	inputEquivalent := float64(u.InputTokens) +
		float64(u.CacheCreationInputTokens)*cacheWriteFactor +
		float64(u.CacheReadInputTokens)*cacheReadFactor
	return (inputEquivalent*r.input + float64(u.OutputTokens)*r.output) / 1e6
}

// LogCost records one model call's usage under the pipeline stage that made it.
func (u TokenUsage) LogCost(model, stage string) {
	zap.L().Info("anthropic: usage",
		zap.String("stage", stage),
		zap.String("model", model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("cost_usd", u.EstimateCost(model)),
	)
}

// StatusCode returns the HTTP status of a failed API call, or 0 when err did
// not come from an API response.
func StatusCode(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ClientOption configures the SDK-backed client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	baseURL    string
	maxRetries int
	timeout    time.Duration
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) { o.baseURL = url }
}

// WithMaxRetries sets how many times the SDK itself retries a request.
func WithMaxRetries(n int) ClientOption {
	return func(o *clientOptions) { o.maxRetries = n }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates a new Anthropic client backed by the SDK.
func NewClient(apiKey string, opts ...ClientOption) Client {
	o := clientOptions{maxRetries: -1}
	for _, fn := range opts {
		fn(&o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(o.maxRetries))
	}
	if o.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(o.timeout))
	}
	return &sdkClient{client: sdk.NewClient(reqOpts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
		System:    toSDKSystemBlocks(req.System),
	}
	if t := req.Temperature; t != nil {
		params.Temperature = sdk.Float(*t)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrapf(err, "anthropic: create message (model %s)", req.Model)
	}
	return fromSDKMessage(msg), nil
}

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		text := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(text))
			continue
		}
		out = append(out, sdk.NewUserMessage(text))
	}
	return out
}

// toSDKSystemBlocks returns nil for no blocks so the system field is omitted.
func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]sdk.TextBlockParam, 0, len(blocks))
	for _, b := range blocks {
		p := sdk.TextBlockParam{Text: b.Text}
		if cc := b.CacheControl; cc != nil {
			p.CacheControl = sdk.NewCacheControlEphemeralParam()
			if cc.TTL != "" {
				p.CacheControl.TTL = sdk.CacheControlEphemeralTTL(cc.TTL)
			}
		}
		out = append(out, p)
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Content:      make([]ContentBlock, 0, len(msg.Content)),
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	u := msg.Usage
	resp.Usage = TokenUsage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
	return resp
}
