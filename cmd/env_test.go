package main

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// testConfig points cfg at a fresh SQLite file and returns it.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "outreach.db")
	c.Anthropic.Key = "sk-ant-test"
	c.Anthropic.Model = "claude-sonnet-4-5-20250929"
	c.Anthropic.TimeoutSecs = 30
	c.Perplexity.Model = "sonar"
	c.Perplexity.Recency = "month"
	c.LLM.MaxTokens = 1024
	c.LLM.Temperature = 0.7
	c.LLM.CacheTTL = "5m"
	c.LLM.RetryAttempts = 3
	c.Scheduler.Enabled = true
	c.Scheduler.BatchSize = 5
	c.Scheduler.IntervalSecs = 10
	c.Cases.FetchTimeoutSecs = 5
	c.Settings.CacheTTLSecs = 300
	c.Server.Port = 8080
	cfg = c
	return c
}

func TestInitStore_SQLite(t *testing.T) {
	testConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	testConfig(t).Store.DatabaseURL = ""

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	_, err = os.Stat(filepath.Join(tmpDir, "outreach.db"))
	assert.NoError(t, err)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	testConfig(t).Store.Driver = "mysql"

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_StoreMode(t *testing.T) {
	c := testConfig(t)
	c.Anthropic.Key = ""

	env, err := initEnv(context.Background(), config.ModeStore)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Settings)
	assert.Nil(t, env.Processor)
	assert.Nil(t, env.Scheduler)
}

func TestInitEnv_PipelineMode(t *testing.T) {
	testConfig(t)

	env, err := initEnv(context.Background(), config.ModePipeline)
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Matcher)
	assert.NotNil(t, env.Processor)
	require.NotNil(t, env.Scheduler)
	assert.Equal(t, 5, env.Scheduler.BatchSize())
}

func TestInitEnv_PipelineModeNeedsKey(t *testing.T) {
	testConfig(t).Anthropic.Key = ""

	_, err := initEnv(context.Background(), config.ModePipeline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestLLMConfig(t *testing.T) {
	c := testConfig(t)
	c.LLM.RetryBackoffMs = 250
	c.LLM.RequestsPerSecond = 2
	c.LLM.Burst = 4

	lc := llmConfig(c)
	assert.Equal(t, "claude-sonnet-4-5-20250929", lc.Model)
	assert.Equal(t, int64(1024), lc.MaxTokens)
	require.NotNil(t, lc.Temperature)
	assert.InDelta(t, 0.7, *lc.Temperature, 0.001)
	assert.Equal(t, "sonar", lc.SearchModel)
	assert.Equal(t, "month", lc.SearchRecency)
	assert.Equal(t, 3, lc.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, lc.Retry.InitialBackoff)
	assert.InDelta(t, 2.0, lc.RequestsPerSecond, 0.001)
	assert.Equal(t, 4, lc.Burst)

	// The temperature is copied, not shared with the config.
	c.LLM.Temperature = 0.1
	assert.InDelta(t, 0.7, *lc.Temperature, 0.001)
}

// slowRunner keeps working for a while after its context ends.
type slowRunner struct {
	finished atomic.Bool
}

func (r *slowRunner) Run(ctx context.Context, _ time.Duration) {
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	r.finished.Store(true)
}

func TestStartScheduler_StopWaitsForRun(t *testing.T) {
	r := &slowRunner{}
	stop := startScheduler(context.Background(), r, time.Second)

	assert.False(t, r.finished.Load())
	stop()
	assert.True(t, r.finished.Load(), "stop returned before the scheduler finished")
}

func TestStartScheduler_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &slowRunner{}
	stop := startScheduler(ctx, r, time.Second)

	cancel()
	stop()
	assert.True(t, r.finished.Load())
}
