package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/cache"
	"github.com/sells-group/outreach-cli/internal/casematch"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/llm"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
	anthropicpkg "github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/perplexity"
)

// appEnv holds the store and every service built on it. Model-backed fields
// are nil in store mode.
type appEnv struct {
	Store     store.Store
	Settings  *settings.Service
	Matcher   *casematch.Matcher
	Processor *pipeline.Processor
	Scheduler *scheduler.Scheduler
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates the config for mode and builds the environment. Store
// mode opens the store and settings only; pipeline and serve modes also build
// the model gateway, case matcher, processor and scheduler. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{
		Store:    st,
		Settings: settings.NewService(st, cache.NewTTL[[]model.Setting](cfg.Settings.CacheTTL())),
	}
	if mode == config.ModeStore {
		return env, nil
	}

	gateway := newModel()
	env.Matcher = casematch.New(gateway, st, env.Settings, nil,
		casematch.WithFetchTimeout(time.Duration(cfg.Cases.FetchTimeoutSecs)*time.Second),
	)
	env.Processor = pipeline.New(gateway, env.Settings, env.Matcher, st)
	env.Scheduler = scheduler.New(st, env.Processor, scheduler.WithBatchSize(cfg.Scheduler.BatchSize))

	zap.L().Debug("environment ready",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.String("model", cfg.Anthropic.Model),
	)
	return env, nil
}

// newModel builds the LLM gateway. News search is disabled when no
// Perplexity key is configured.
func newModel() *llm.Client {
	aiOpts := []anthropicpkg.ClientOption{
		anthropicpkg.WithTimeout(time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second),
		// Retries are handled by the gateway.
		anthropicpkg.WithMaxRetries(0),
	}
	if cfg.Anthropic.BaseURL != "" {
		aiOpts = append(aiOpts, anthropicpkg.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	ai := anthropicpkg.NewClient(cfg.Anthropic.Key, aiOpts...)

	var search perplexity.Client
	if cfg.Perplexity.Key != "" {
		search = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
			perplexity.WithTimeout(time.Duration(cfg.Perplexity.TimeoutSecs)*time.Second),
		)
	} else {
		zap.L().Warn("OUTREACH_PERPLEXITY_KEY not set, news search disabled")
	}

	return llm.New(ai, search, llmConfig(cfg))
}

// llmConfig maps configuration onto the gateway settings.
func llmConfig(c *config.Config) llm.Config {
	retry := llm.DefaultRetryConfig()
	if c.LLM.RetryAttempts > 0 {
		retry.MaxAttempts = c.LLM.RetryAttempts
	}
	if c.LLM.RetryBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(c.LLM.RetryBackoffMs) * time.Millisecond
	}
	temperature := c.LLM.Temperature

	return llm.Config{
		Model:             c.Anthropic.Model,
		MaxTokens:         c.LLM.MaxTokens,
		Temperature:       &temperature,
		CacheTTL:          c.LLM.CacheTTL,
		SearchModel:       c.Perplexity.Model,
		SearchRecency:     c.Perplexity.Recency,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
		Retry:             retry,
	}
}
