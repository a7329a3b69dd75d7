// Package pipeline turns a lead into classification, news, matched cases and
// three drafted outreach messages.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/casematch"
	"github.com/sells-group/outreach-cli/internal/llm"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/tone"
)

// Stage names used in logs and cost attribution.
const (
	StageResearch   = "research"
	StageClassify   = "classify"
	StageNewsSearch = "news_search"
	StageTone       = "tone"
	StageCases      = "cases"
	StageMessages   = "messages"
)

// Settings resolves prompt templates and tone texts.
type Settings interface {
	GetMap(ctx context.Context, keys ...string) map[string]string
	Lookup(ctx context.Context, key string) (string, bool)
}

// CaseMatcher selects reference cases for an opportunity.
type CaseMatcher interface {
	MatchCasesForOpportunity(ctx context.Context, company, industry, country string) []model.MatchedCase
}

// RecordStore is the persistence the regeneration path needs.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	UpdateRecordMessages(ctx context.Context, id string, upd model.MessageUpdate) error
}

// Processor runs the enrichment stages for one record at a time. It is safe
// for concurrent use.
type Processor struct {
	model    llm.Model
	settings Settings
	cases    CaseMatcher
	store    RecordStore
}

// New creates a Processor.
func New(m llm.Model, s Settings, cases CaseMatcher, st RecordStore) *Processor {
	return &Processor{model: m, settings: s, cases: cases, store: st}
}

var promptKeys = []string{
	settings.KeyPromptResearch,
	settings.KeyPromptClassify,
	settings.KeyPromptNewsSearch,
	settings.KeyPromptNewsExtract,
	settings.KeyPromptSystem,
	settings.KeyPromptMessage1,
	settings.KeyPromptMessage2,
	settings.KeyPromptMessage3,
	settings.KeyFallbackMessage1,
	settings.KeyFallbackMessage2,
	settings.KeyFallbackMessage3,
}

// Process enriches one record. It never returns an error: any stage failure
// yields fallback output marked Degraded.
func (p *Processor) Process(ctx context.Context, rec model.Record) model.Enrichment {
	log := zap.L().With(
		zap.String("record_id", rec.ID),
		zap.String("job_id", rec.JobID),
		zap.String("company", rec.Lead.CompanyName),
	)
	prompts := p.settings.GetMap(ctx, promptKeys...)

	out, err := p.run(ctx, log, rec.Lead, prompts)
	if err != nil {
		log.Warn("pipeline: falling back to placeholder messages", zap.Error(err))
		return Fallback(rec.Lead, prompts, err)
	}
	return out
}

func (p *Processor) run(ctx context.Context, log *zap.Logger, lead model.Lead, prompts map[string]string) (out model.Enrichment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: panic: %v", r)
		}
	}()

	trackStage := func(name string, fn func(ctx context.Context) error) error {
		start := time.Now()
		stageErr := fn(llm.WithStage(ctx, name))
		duration := time.Since(start).Milliseconds()
		if stageErr != nil {
			log.Warn("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", duration),
				zap.Error(stageErr),
			)
			return stageErr
		}
		log.Info("pipeline: stage complete",
			zap.String("stage", name),
			zap.Int64("duration_ms", duration),
		)
		return nil
	}

	// Stage 1: research.
	var research string
	if err := trackStage(StageResearch, func(ctx context.Context) error {
		var rErr error
		research, rErr = p.Research(ctx, lead, prompts)
		return rErr
	}); err != nil {
		return out, err
	}

	// Stage 2: classification.
	var cls Classification
	if err := trackStage(StageClassify, func(ctx context.Context) error {
		var cErr error
		cls, cErr = p.Classify(ctx, lead, research, prompts)
		return cErr
	}); err != nil {
		return out, err
	}

	// Stage 2.5: news search, only when both country and industry resolved.
	news := cls.News
	if ShouldSearchNews(cls) {
		_ = trackStage(StageNewsSearch, func(ctx context.Context) error {
			fresh, sErr := p.SearchNews(ctx, lead, cls, prompts)
			if sErr != nil {
				return sErr
			}
			news = MergeNews(news, fresh)
			return nil
		})
	}
	news = MergeNews(news, nil)

	// Stage 2.6: regional tone.
	var toneKey, toneText string
	_ = trackStage(StageTone, func(ctx context.Context) error {
		toneKey, toneText = p.ResolveTone(ctx, cls.Country)
		return nil
	})

	// Stage 3: case matching.
	var cases []model.MatchedCase
	_ = trackStage(StageCases, func(ctx context.Context) error {
		cases = p.cases.MatchCasesForOpportunity(ctx, lead.CompanyName, cls.Industry, cls.Country)
		return nil
	})
	if cases == nil {
		cases = []model.MatchedCase{}
	}

	// Stage 4: three messages, concurrently.
	vars := MessageVars(lead, cls.Country, cls.Industry, research, news, cases)
	system := SystemPrompt(prompts[settings.KeyPromptSystem], toneText)

	var messages [model.MessageCount]string
	if err := trackStage(StageMessages, func(ctx context.Context) error {
		var mErr error
		messages, mErr = p.GenerateMessages(ctx, system, prompts, vars)
		return mErr
	}); err != nil {
		return out, err
	}

	return model.Enrichment{
		Region:              cls.Country,
		Industry:            cls.Industry,
		News:                news,
		Cases:               cases,
		Messages:            messages,
		ToneKey:             toneKey,
		SelectedNewsIndices: allIndices(len(news)),
		SelectedCaseIndices: allIndices(len(cases)),
		ResearchData:        research,
	}, nil
}

// Fallback builds the placeholder output used when the pipeline fails.
func Fallback(lead model.Lead, prompts map[string]string, cause error) model.Enrichment {
	vars := leadVars(lead)
	var msgs [model.MessageCount]string
	for i, key := range settings.FallbackMessageKeys {
		tmpl, ok := prompts[key]
		if !ok {
			tmpl, _ = settings.Default(key)
		}
		msgs[i] = settings.Interpolate(tmpl, vars)
	}

	errText := "unknown error"
	if cause != nil {
		errText = cause.Error()
	}
	return model.Enrichment{
		Region:              tone.Unknown,
		Industry:            casematch.Other,
		News:                []model.NewsItem{},
		Cases:               []model.MatchedCase{},
		Messages:            msgs,
		SelectedNewsIndices: []int{},
		SelectedCaseIndices: []int{},
		ResearchData:        "Pipeline error: " + errText,
		Degraded:            true,
		Error:               errText,
	}
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
