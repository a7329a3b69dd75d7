package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/casematch"
	"github.com/sells-group/outreach-cli/internal/llm"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
	"github.com/sells-group/outreach-cli/internal/tone"
)

// Classification is the structured result of stage 2.
type Classification struct {
	Country  string           `json:"country"`
	Industry string           `json:"industry"`
	News     []model.NewsItem `json:"news"`
}

func newsItemSchema() map[string]any {
	return llm.ObjectProp(map[string]any{
		"title":   llm.StringProp("Headline"),
		"date":    llm.StringProp("Publication date, YYYY-MM-DD when known"),
		"source":  llm.StringProp("Publisher"),
		"summary": llm.StringProp("One-sentence summary"),
	})
}

func classificationSchema() llm.Schema {
	return llm.ObjectSchema("classification", map[string]any{
		"country":  llm.EnumProp("Headquarters country", append(tone.Countries(), tone.Unknown)),
		"industry": llm.EnumProp("Primary industry", casematch.Industries()),
		"news":     llm.ArrayProp(newsItemSchema()),
	})
}

var (
	newsSchema = llm.ObjectSchema("news", map[string]any{
		"news": llm.ArrayProp(newsItemSchema()),
	})
	messageSchema = llm.ObjectSchema("message", map[string]any{
		"content": llm.StringProp("The message text"),
	})
)

func leadVars(lead model.Lead) map[string]string {
	vars := make(map[string]string, len(lead.Extra)+4)
	for k, v := range lead.Extra {
		vars[k] = v
	}
	vars["company_name"] = lead.CompanyName
	vars["contact_name"] = lead.ContactName
	vars["title"] = lead.Title
	vars["link"] = lead.Link
	return vars
}

// Research runs stage 1 and returns free-text notes about the company.
func (p *Processor) Research(ctx context.Context, lead model.Lead, prompts map[string]string) (string, error) {
	prompt := settings.Interpolate(prompts[settings.KeyPromptResearch], leadVars(lead))
	text, err := p.model.Complete(ctx, "", prompt)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: research")
	}
	if strings.TrimSpace(text) == "" {
		return "", eris.New("pipeline: research returned no text")
	}
	return text, nil
}

// Classify runs stage 2. Answers outside the enumerations collapse to
// Unknown and Other instead of failing.
func (p *Processor) Classify(ctx context.Context, lead model.Lead, research string, prompts map[string]string) (Classification, error) {
	vars := leadVars(lead)
	vars["research"] = research
	vars["countries"] = strings.Join(tone.Countries(), ", ")
	vars["industries"] = strings.Join(casematch.Industries(), ", ")

	var cls Classification
	if err := p.model.CompleteStructured(ctx, "", settings.Interpolate(prompts[settings.KeyPromptClassify], vars), classificationSchema(), &cls); err != nil {
		return Classification{}, eris.Wrap(err, "pipeline: classify")
	}

	cls.Country = tone.Canonical(cls.Country)
	cls.Industry = canonicalIndustry(cls.Industry)
	cls.News = cleanNews(cls.News)
	return cls, nil
}

func canonicalIndustry(s string) string {
	s = strings.TrimSpace(s)
	for _, ind := range casematch.Industries() {
		if strings.EqualFold(ind, s) {
			return ind
		}
	}
	return casematch.Other
}

func cleanNews(items []model.NewsItem) []model.NewsItem {
	out := make([]model.NewsItem, 0, len(items))
	for _, n := range items {
		n.Title = strings.TrimSpace(n.Title)
		if n.Title == "" {
			continue
		}
		n.Date = strings.TrimSpace(n.Date)
		n.Source = strings.TrimSpace(n.Source)
		n.Summary = strings.TrimSpace(n.Summary)
		out = append(out, n)
	}
	return out
}

// ShouldSearchNews gates stage 2.5: both country and industry must be known.
func ShouldSearchNews(cls Classification) bool {
	return cls.Country != "" && cls.Country != tone.Unknown &&
		cls.Industry != "" && cls.Industry != casematch.Other
}

// SearchNews runs stage 2.5: a location-aware web search followed by a
// structured extraction of news items.
func (p *Processor) SearchNews(ctx context.Context, lead model.Lead, cls Classification, prompts map[string]string) ([]model.NewsItem, error) {
	vars := leadVars(lead)
	vars["country"] = cls.Country
	vars["industry"] = cls.Industry

	results, err := p.model.WebSearch(ctx,
		settings.Interpolate(prompts[settings.KeyPromptNewsSearch], vars),
		llm.Location{Country: tone.CountryCode(cls.Country)},
	)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: news search")
	}

	vars["search_results"] = results
	var extracted struct {
		News []model.NewsItem `json:"news"`
	}
	if err := p.model.CompleteStructured(ctx, "", settings.Interpolate(prompts[settings.KeyPromptNewsExtract], vars), newsSchema, &extracted); err != nil {
		return nil, eris.Wrap(err, "pipeline: news extract")
	}
	return cleanNews(extracted.News), nil
}

// ResolveTone runs stage 2.6. A missing tone text yields "" without error.
func (p *Processor) ResolveTone(ctx context.Context, country string) (key, text string) {
	key = tone.ToneKey(country)
	text, _ = p.settings.Lookup(ctx, key)
	return key, text
}

// SystemPrompt appends tone guidance to the shared system prompt.
func SystemPrompt(base, toneText string) string {
	toneText = strings.TrimSpace(toneText)
	if toneText == "" {
		return base
	}
	return base + "\n\nRegional tone guidance:\n" + toneText
}

// MessageVars assembles the variables shared by the three message prompts.
func MessageVars(lead model.Lead, country, industry, research string, news []model.NewsItem, cases []model.MatchedCase) map[string]string {
	vars := leadVars(lead)
	vars["country"] = country
	vars["industry"] = industry
	vars["research"] = research
	vars["news"] = FormatNews(news)
	vars["cases"] = FormatCases(cases)
	return vars
}

// GenerateMessages runs stage 4: the three message prompts concurrently.
// Any failure fails the whole stage.
func (p *Processor) GenerateMessages(ctx context.Context, system string, prompts map[string]string, vars map[string]string) ([model.MessageCount]string, error) {
	var out [model.MessageCount]string
	g, gCtx := errgroup.WithContext(ctx)
	for i, key := range settings.MessagePromptKeys {
		prompt := settings.Interpolate(prompts[key], vars)
		g.Go(func() error {
			msg, err := p.generateMessage(gCtx, i+1, system, prompt)
			if err != nil {
				return err
			}
			out[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return [model.MessageCount]string{}, err
	}
	return out, nil
}

func (p *Processor) generateMessage(ctx context.Context, n int, system, prompt string) (string, error) {
	var res struct {
		Content string `json:"content"`
	}
	ctx = llm.WithStage(ctx, StageMessages+"_"+strconv.Itoa(n))
	if err := p.model.CompleteStructured(ctx, system, prompt, messageSchema, &res); err != nil {
		return "", eris.Wrapf(err, "pipeline: message %d", n)
	}
	content := strings.TrimSpace(res.Content)
	if content == "" {
		return "", eris.Errorf("pipeline: message %d is empty", n)
	}
	return content, nil
}
