package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/tone"
)

var (
	// ErrNotRegenerable is returned for records that have no completed output.
	ErrNotRegenerable = eris.New("pipeline: record is not completed")

	// ErrInvalidMessage is returned for a message number outside 0..3.
	ErrInvalidMessage = eris.New("pipeline: invalid message number")

	// ErrInvalidTone is returned for a tone override that names no tone.
	ErrInvalidTone = eris.New("pipeline: invalid tone")
)

// RegenerateRequest selects what to redraft for a completed record.
type RegenerateRequest struct {
	RecordID string
	// MessageNumber is 1..3, or 0 for all three.
	MessageNumber int
	// Selected*Indices pick stored news and cases by position. Nil keeps
	// every stored item; out-of-range indices are ignored.
	SelectedNewsIndices []int
	SelectedCaseIndices []int
	// ToneOverride is a tone key or bucket name; empty keeps the record's tone.
	ToneOverride string
}

// RegenerateResult carries the regenerated messages and the context used.
type RegenerateResult struct {
	Messages            map[int]string `json:"messages"`
	ToneKey             string         `json:"tone_key"`
	SelectedNewsIndices []int          `json:"selected_news_indices"`
	SelectedCaseIndices []int          `json:"selected_case_indices"`
}

// Regenerate re-runs message generation for a completed record against the
// selected context and persists only the regenerated messages and selections.
func (p *Processor) Regenerate(ctx context.Context, req RegenerateRequest) (*RegenerateResult, error) {
	if req.MessageNumber < 0 || req.MessageNumber > model.MessageCount {
		return nil, eris.Wrapf(ErrInvalidMessage, "message %d", req.MessageNumber)
	}

	rec, err := p.store.GetRecord(ctx, req.RecordID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: regenerate %s", req.RecordID)
	}
	if rec.Status != model.RecordStatusCompleted {
		return nil, eris.Wrapf(ErrNotRegenerable, "record %s is %s", rec.ID, rec.Status)
	}

	toneKey, err := resolveToneOverride(req.ToneOverride, rec)
	if err != nil {
		return nil, err
	}

	newsIdx := selectIndices(req.SelectedNewsIndices, len(rec.News))
	caseIdx := selectIndices(req.SelectedCaseIndices, len(rec.Cases))
	news := make([]model.NewsItem, len(newsIdx))
	for i, idx := range newsIdx {
		news[i] = rec.News[idx]
	}
	matched := make([]model.MatchedCase, len(caseIdx))
	for i, idx := range caseIdx {
		matched[i] = rec.Cases[idx]
	}

	prompts := p.settings.GetMap(ctx, settings.KeyPromptSystem,
		settings.KeyPromptMessage1, settings.KeyPromptMessage2, settings.KeyPromptMessage3)
	toneText, _ := p.settings.Lookup(ctx, toneKey)
	system := SystemPrompt(prompts[settings.KeyPromptSystem], toneText)
	vars := MessageVars(rec.Lead, rec.Region, rec.Industry, rec.ResearchData, news, matched)

	msgs := make(map[int]string)
	if req.MessageNumber == 0 {
		all, err := p.GenerateMessages(ctx, system, prompts, vars)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: regenerate %s", rec.ID)
		}
		for i, m := range all {
			msgs[i+1] = m
		}
	} else {
		n := req.MessageNumber
		prompt := settings.Interpolate(prompts[settings.MessagePromptKeys[n-1]], vars)
		m, err := p.generateMessage(ctx, n, system, prompt)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: regenerate %s", rec.ID)
		}
		msgs[n] = m
	}

	upd := model.MessageUpdate{
		Messages:            msgs,
		SelectedNewsIndices: newsIdx,
		SelectedCaseIndices: caseIdx,
		ToneKey:             toneKey,
	}
	if err := p.store.UpdateRecordMessages(ctx, rec.ID, upd); err != nil {
		return nil, eris.Wrapf(err, "pipeline: save regenerated messages %s", rec.ID)
	}

	zap.L().Info("pipeline: messages regenerated",
		zap.String("record_id", rec.ID),
		zap.Int("message", req.MessageNumber),
		zap.String("tone_key", toneKey),
		zap.Ints("news", newsIdx),
		zap.Ints("cases", caseIdx),
	)

	return &RegenerateResult{
		Messages:            msgs,
		ToneKey:             toneKey,
		SelectedNewsIndices: newsIdx,
		SelectedCaseIndices: caseIdx,
	}, nil
}

func resolveToneOverride(override string, rec *model.Record) (string, error) {
	override = strings.ToLower(strings.TrimSpace(override))
	if override == "" {
		if tone.IsKey(rec.ToneKey) {
			return rec.ToneKey, nil
		}
		return tone.ToneKey(rec.Region), nil
	}
	if !strings.HasPrefix(override, tone.KeyPrefix) {
		override = tone.KeyPrefix + override
	}
	if !tone.IsKey(override) {
		return "", eris.Wrapf(ErrInvalidTone, "%q", override)
	}
	return override, nil
}

// selectIndices keeps in-range, distinct indices in request order. Nil
// selects every index.
func selectIndices(requested []int, n int) []int {
	if requested == nil {
		return allIndices(n)
	}
	out := make([]int, 0, len(requested))
	seen := make(map[int]bool, len(requested))
	for _, i := range requested {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}
