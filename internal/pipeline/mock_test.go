package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/llm"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// mockModel mocks llm.Model.
type mockModel struct {
	mock.Mock
}

func (m *mockModel) Complete(ctx context.Context, system, user string) (string, error) {
	args := m.Called(ctx, system, user)
	return args.String(0), args.Error(1)
}

func (m *mockModel) CompleteStructured(ctx context.Context, system, user string, schema llm.Schema, out any) error {
	args := m.Called(ctx, system, user, schema, out)
	return args.Error(0)
}

func (m *mockModel) WebSearch(ctx context.Context, query string, loc llm.Location) (string, error) {
	args := m.Called(ctx, query, loc)
	return args.String(0), args.Error(1)
}

func schemaNamed(name string) any {
	return mock.MatchedBy(func(s llm.Schema) bool { return s.Name == name })
}

// fillJSON decodes raw into the structured output argument.
func fillJSON(t *testing.T, raw string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		require.NoError(t, json.Unmarshal([]byte(raw), args.Get(4)))
	}
}

// echoMessage answers a message prompt with "draft: <prompt>".
func echoMessage(t *testing.T) func(mock.Arguments) {
	return func(args mock.Arguments) {
		raw, err := json.Marshal(map[string]string{"content": "draft: " + args.String(2)})
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, args.Get(4)))
	}
}

// fakeSettings serves overrides first, then compiled-in defaults. Keys in
// missing resolve to nothing.
type fakeSettings struct {
	values  map[string]string
	missing map[string]bool
}

func newFakeSettings(values map[string]string, missing ...string) *fakeSettings {
	f := &fakeSettings{values: values, missing: make(map[string]bool)}
	for _, k := range missing {
		f.missing[k] = true
	}
	return f
}

func (f *fakeSettings) Lookup(_ context.Context, key string) (string, bool) {
	if f.missing[key] {
		return "", false
	}
	if v, ok := f.values[key]; ok {
		return v, true
	}
	return settings.Default(key)
}

func (f *fakeSettings) GetMap(ctx context.Context, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := f.Lookup(ctx, k); ok {
			out[k] = v
		}
	}
	return out
}

// testPrompts keeps prompt text short enough to assert on.
func testPrompts() map[string]string {
	return map[string]string{
		settings.KeyPromptResearch:    "research {{company_name}}",
		settings.KeyPromptClassify:    "classify {{company_name}} from {{research}}",
		settings.KeyPromptNewsSearch:  "news {{company_name}} {{industry}} {{country}}",
		settings.KeyPromptNewsExtract: "extract {{search_results}}",
		settings.KeyPromptSystem:      "You write outreach.",
		settings.KeyPromptMessage1:    "M1 {{contact_name}} {{company_name}} {{country}}",
		settings.KeyPromptMessage2:    "M2 {{company_name}} {{news}}",
		settings.KeyPromptMessage3:    "M3 {{company_name}} {{cases}}",
		"regional_tone_dach":          "Be precise and formal.",
	}
}

type fakeMatcher struct {
	cases []model.MatchedCase
	calls []string
	mu    sync.Mutex
}

func (f *fakeMatcher) MatchCasesForOpportunity(_ context.Context, company, industry, country string) []model.MatchedCase {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, company+"|"+industry+"|"+country)
	return f.cases
}

type fakeRecords struct {
	records map[string]*model.Record
	updates []model.MessageUpdate
	err     error
}

func (f *fakeRecords) GetRecord(_ context.Context, id string) (*model.Record, error) {
	r, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRecords) UpdateRecordMessages(_ context.Context, id string, upd model.MessageUpdate) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, upd)
	r := f.records[id]
	for n, m := range upd.Messages {
		r.SetMessage(n, m)
	}
	r.SelectedNewsIndices = upd.SelectedNewsIndices
	r.SelectedCaseIndices = upd.SelectedCaseIndices
	r.ToneKey = upd.ToneKey
	return nil
}
