package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/casematch"
	"github.com/sells-group/outreach-cli/internal/llm"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/tone"
)

var acme = model.Record{
	ID:    "rec-1",
	JobID: "job-1",
	Lead: model.Lead{
		CompanyName: "Acme GmbH",
		ContactName: "Jana Weber",
		Title:       "CTO",
		Link:        "https://acme.example",
	},
}

func TestProcess_GermanFintech(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, "", "research Acme GmbH").
		Return("Acme builds payment APIs in Berlin.", nil)
	mm.On("CompleteStructured", mock.Anything, "", mock.Anything, schemaNamed("classification"), mock.Anything).
		Run(fillJSON(t, `{"country":"germany","industry":"fintech","news":[
			{"title":"Acme raises $10M","date":"2025-01-10","source":"TechCrunch","summary":"Seed."}]}`)).
		Return(nil)
	mm.On("WebSearch", mock.Anything, "news Acme GmbH Fintech Germany", llm.Location{Country: "DE"}).
		Return("Acme Raises 10M Series A ... Acme opens Munich office", nil)
	mm.On("CompleteStructured", mock.Anything, "", "extract Acme Raises 10M Series A ... Acme opens Munich office", schemaNamed("news"), mock.Anything).
		Run(fillJSON(t, `{"news":[
			{"title":"Acme Raises 10M Series A","date":"2025-01-11","source":"Handelsblatt"},
			{"title":"Acme opens Munich office","date":"2025-03-02","source":"Reuters"}]}`)).
		Return(nil)
	mm.On("CompleteStructured", mock.Anything, mock.MatchedBy(func(s string) bool {
		return strings.HasPrefix(s, "You write outreach.") && strings.Contains(s, "Be precise and formal.")
	}), mock.Anything, schemaNamed("message"), mock.Anything).
		Run(echoMessage(t)).
		Return(nil).Times(3)

	matcher := &fakeMatcher{cases: []model.MatchedCase{{Title: "Payments platform", Link: "https://cases.example/1"}}}
	p := New(mm, newFakeSettings(testPrompts()), matcher, &fakeRecords{})

	out := p.Process(context.Background(), acme)

	assert.False(t, out.Degraded)
	assert.Empty(t, out.Error)
	assert.Equal(t, "Germany", out.Region)
	assert.Equal(t, "Fintech", out.Industry)
	assert.Equal(t, "regional_tone_dach", out.ToneKey)
	assert.Equal(t, "Acme builds payment APIs in Berlin.", out.ResearchData)

	require.Len(t, out.News, 2)
	assert.Equal(t, "Acme opens Munich office", out.News[0].Title)
	assert.Equal(t, "Acme Raises 10M Series A", out.News[1].Title, "fresh duplicate wins over the classified item")
	assert.Equal(t, []int{0, 1}, out.SelectedNewsIndices)

	assert.Equal(t, matcher.cases, out.Cases)
	assert.Equal(t, []int{0}, out.SelectedCaseIndices)
	assert.Equal(t, []string{"Acme GmbH|Fintech|Germany"}, matcher.calls)

	assert.Equal(t, "draft: M1 Jana Weber Acme GmbH Germany", out.Messages[0])
	assert.Contains(t, out.Messages[1], "1. Acme opens Munich office (2025-03-02, Reuters)")
	assert.Contains(t, out.Messages[2], "1. Payments platform - https://cases.example/1")
	mm.AssertExpectations(t)
}

func TestProcess_UnknownCountrySkipsNewsSearch(t *testing.T) {
	for _, cls := range []string{
		`{"country":"Atlantis","industry":"Fintech","news":[]}`,
		`{"country":"Germany","industry":"Underwater basket weaving","news":[]}`,
	} {
		t.Run(cls, func(t *testing.T) {
			mm := &mockModel{}
			mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("notes", nil)
			mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("classification"), mock.Anything).
				Run(fillJSON(t, cls)).Return(nil)
			mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("message"), mock.Anything).
				Run(echoMessage(t)).Return(nil)

			p := New(mm, newFakeSettings(testPrompts()), &fakeMatcher{}, &fakeRecords{})
			out := p.Process(context.Background(), acme)

			assert.False(t, out.Degraded)
			assert.Empty(t, out.News)
			assert.NotNil(t, out.Cases)
			assert.Contains(t, out.Messages[1], "No recent news found.")
			assert.Contains(t, out.Messages[2], "No relevant case studies available.")
			mm.AssertNotCalled(t, "WebSearch", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestProcess_UnknownCountryUsesDefaultTone(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("notes", nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("classification"), mock.Anything).
		Run(fillJSON(t, `{"country":"Unknown","industry":"Other"}`)).Return(nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("message"), mock.Anything).
		Run(echoMessage(t)).Return(nil)

	p := New(mm, newFakeSettings(testPrompts()), &fakeMatcher{}, &fakeRecords{})
	out := p.Process(context.Background(), acme)

	assert.Equal(t, tone.Unknown, out.Region)
	assert.Equal(t, casematch.Other, out.Industry)
	assert.Equal(t, "regional_tone_usa", out.ToneKey)
}

func TestProcess_NewsSearchFailureIsNotFatal(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("notes", nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("classification"), mock.Anything).
		Run(fillJSON(t, `{"country":"France","industry":"Retail","news":[{"title":"Acme enters France"}]}`)).Return(nil)
	mm.On("WebSearch", mock.Anything, mock.Anything, llm.Location{Country: "FR"}).
		Return("", errors.New("search down"))
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("message"), mock.Anything).
		Run(echoMessage(t)).Return(nil)

	p := New(mm, newFakeSettings(testPrompts()), &fakeMatcher{}, &fakeRecords{})
	out := p.Process(context.Background(), acme)

	assert.False(t, out.Degraded)
	require.Len(t, out.News, 1)
	assert.Equal(t, "Acme enters France", out.News[0].Title)
	assert.Equal(t, "regional_tone_eu", out.ToneKey)
}

func TestProcess_ResearchFailureFallsBack(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("anthropic: 500"))

	p := New(mm, newFakeSettings(testPrompts()), &fakeMatcher{}, &fakeRecords{})
	out := p.Process(context.Background(), acme)

	assert.True(t, out.Degraded)
	assert.Contains(t, out.Error, "anthropic: 500")
	assert.True(t, strings.HasPrefix(out.ResearchData, "Pipeline error: "))
	assert.Equal(t, tone.Unknown, out.Region)
	assert.Equal(t, casematch.Other, out.Industry)
	assert.Empty(t, out.News)
	assert.NotNil(t, out.News)
	assert.Empty(t, out.SelectedCaseIndices)
	for i, msg := range out.Messages {
		assert.NotEmpty(t, msg, "message %d", i+1)
		assert.NotContains(t, msg, "{{company_name}}")
	}
	assert.Contains(t, out.Messages[0], "Acme GmbH")
	mm.AssertNotCalled(t, "CompleteStructured", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_MessageFailureFailsStage(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("notes", nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("classification"), mock.Anything).
		Run(fillJSON(t, `{"country":"Unknown","industry":"Other"}`)).Return(nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.MatchedBy(func(u string) bool {
		return strings.HasPrefix(u, "M2")
	}), schemaNamed("message"), mock.Anything).Return(llm.ErrMalformedOutput)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("message"), mock.Anything).
		Run(echoMessage(t)).Return(nil)

	p := New(mm, newFakeSettings(testPrompts()), &fakeMatcher{}, &fakeRecords{})
	out := p.Process(context.Background(), acme)

	assert.True(t, out.Degraded)
	assert.Contains(t, out.Error, "message 2")
}

func TestProcess_EmptyMessageFailsStage(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("notes", nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("classification"), mock.Anything).
		Run(fillJSON(t, `{"country":"Unknown","industry":"Other"}`)).Return(nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("message"), mock.Anything).
		Run(fillJSON(t, `{"content":"   "}`)).Return(nil)

	p := New(mm, newFakeSettings(testPrompts()), &fakeMatcher{}, &fakeRecords{})
	out := p.Process(context.Background(), acme)

	assert.True(t, out.Degraded)
	assert.Contains(t, out.Error, "is empty")
}

func TestProcess_MissingToneAddsNoGuidance(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("notes", nil)
	mm.On("CompleteStructured", mock.Anything, mock.Anything, mock.Anything, schemaNamed("classification"), mock.Anything).
		Run(fillJSON(t, `{"country":"Austria","industry":"Other"}`)).Return(nil)
	mm.On("CompleteStructured", mock.Anything, "You write outreach.", mock.Anything, schemaNamed("message"), mock.Anything).
		Run(echoMessage(t)).Return(nil).Times(3)

	p := New(mm, newFakeSettings(testPrompts(), "regional_tone_dach"), &fakeMatcher{}, &fakeRecords{})
	out := p.Process(context.Background(), acme)

	assert.False(t, out.Degraded)
	assert.Equal(t, "regional_tone_dach", out.ToneKey)
	mm.AssertExpectations(t)
}

func TestProcess_PanicFallsBack(t *testing.T) {
	mm := &mockModel{}
	mm.On("Complete", mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	}).Return("", nil)

	p := New(mm, newFakeSettings(testPrompts()), &fakeMatcher{}, &fakeRecords{})
	out := p.Process(context.Background(), acme)

	assert.True(t, out.Degraded)
	assert.Contains(t, out.Error, "panic: boom")
}

func TestFallback_UsesDefaultsWhenPromptsMissing(t *testing.T) {
	out := Fallback(acme.Lead, map[string]string{}, nil)
	for i, key := range settings.FallbackMessageKeys {
		tmpl, ok := settings.Default(key)
		require.True(t, ok)
		assert.Equal(t, settings.Interpolate(tmpl, leadVars(acme.Lead)), out.Messages[i])
	}
	assert.Equal(t, "unknown error", out.Error)
}

func TestClassify_Canonicalizes(t *testing.T) {
	mm := &mockModel{}
	mm.On("CompleteStructured", mock.Anything, "", mock.MatchedBy(func(u string) bool {
		return strings.Contains(u, "from notes")
	}), schemaNamed("classification"), mock.Anything).
		Run(fillJSON(t, `{"country":" switzerland ","industry":"HEALTHCARE","news":[{"title":"  "},{"title":" Acme hires CFO "}]}`)).
		Return(nil)

	p := New(mm, newFakeSettings(nil), &fakeMatcher{}, &fakeRecords{})
	cls, err := p.Classify(context.Background(), acme.Lead, "notes", testPrompts())
	require.NoError(t, err)
	assert.Equal(t, "Switzerland", cls.Country)
	assert.Equal(t, "Healthcare", cls.Industry)
	require.Len(t, cls.News, 1)
	assert.Equal(t, "Acme hires CFO", cls.News[0].Title)
}

func TestClassificationSchema(t *testing.T) {
	s := classificationSchema()
	props := s.Definition["properties"].(map[string]any)
	country := props["country"].(map[string]any)["enum"].([]string)
	assert.Contains(t, country, tone.Unknown)
	assert.Contains(t, country, "Germany")
	industry := props["industry"].(map[string]any)["enum"].([]string)
	assert.Equal(t, casematch.Other, industry[len(industry)-1])
}

func TestShouldSearchNews(t *testing.T) {
	tests := []struct {
		country, industry string
		want              bool
	}{
		{"Germany", "Fintech", true},
		{tone.Unknown, "Fintech", false},
		{"Germany", casematch.Other, false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.country, tt.industry), func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldSearchNews(Classification{Country: tt.country, Industry: tt.industry}))
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, "base", SystemPrompt("base", "  "))
	assert.Equal(t, "base\n\nRegional tone guidance:\nBe direct.", SystemPrompt("base", "Be direct.\n"))
}

func TestLeadVars_ExtraColumnsDoNotShadowLead(t *testing.T) {
	lead := acme.Lead
	lead.Extra = map[string]string{"company_name": "spoof", "linkedin": "in/jana"}
	vars := leadVars(lead)
	assert.Equal(t, "Acme GmbH", vars["company_name"])
	assert.Equal(t, "in/jana", vars["linkedin"])
}
