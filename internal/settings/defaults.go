package settings

import "github.com/sells-group/outreach-cli/internal/model"

// Setting keys read by the pipeline and case matcher.
const (
	KeyPromptResearch     = "prompt_research"
	KeyPromptClassify     = "prompt_classify"
	KeyPromptNewsSearch   = "prompt_news_search"
	KeyPromptNewsExtract  = "prompt_news_extract"
	KeyPromptSystem       = "prompt_system"
	KeyPromptMessage1     = "prompt_message_1"
	KeyPromptMessage2     = "prompt_message_2"
	KeyPromptMessage3     = "prompt_message_3"
	KeyPromptCaseRank     = "prompt_case_rank"
	KeyFallbackMessage1   = "fallback_message_1"
	KeyFallbackMessage2   = "fallback_message_2"
	KeyFallbackMessage3   = "fallback_message_3"
	KeyCaseCatalogURL     = "case_catalog_url"
	KeyRegionalTonePrefix = "regional_tone_"
)

// MessagePromptKeys lists the three message archetype prompts in message order.
var MessagePromptKeys = [model.MessageCount]string{KeyPromptMessage1, KeyPromptMessage2, KeyPromptMessage3}

// FallbackMessageKeys lists the placeholder message templates in message order.
var FallbackMessageKeys = [model.MessageCount]string{KeyFallbackMessage1, KeyFallbackMessage2, KeyFallbackMessage3}

var defaults = []model.Setting{
	{
		Key:         KeyPromptResearch,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 1: free-text web research about the company.",
		Value: `Research the company "{{company_name}}" ({{link}}).
Summarize what the company does, its products, markets, headquarters country, size,
recent funding, partnerships, product launches and any technology initiatives.
Be factual and concise. Write "unknown" for anything you cannot verify.`,
	},
	{
		Key:         KeyPromptClassify,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 2: classify country, industry and extract news from research notes.",
		Value: `Using the research notes below about {{company_name}}, determine:
- country: the headquarters country, exactly one of: {{countries}}. Use "Unknown" if unsure.
- industry: exactly one of: {{industries}}. Use "Other" if none fit.
- news: up to 10 recent news items mentioned in the notes, newest first.

Research notes:
{{research}}`,
	},
	{
		Key:         KeyPromptNewsSearch,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 2.5: location-aware web search for recent company news.",
		Value: `Find the most recent news (last 12 months) about "{{company_name}}", a {{industry}} company in {{country}}.
Include funding rounds, acquisitions, product launches, partnerships, leadership changes and expansion.
For each item give the headline, publication date, source and a one-sentence summary.`,
	},
	{
		Key:         KeyPromptNewsExtract,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 2.5: turn web search output into structured news items.",
		Value: `Extract news items about {{company_name}} from the search results below.
Only include items that are clearly about this company. Use ISO dates (YYYY-MM-DD) when known.

Search results:
{{search_results}}`,
	},
	{
		Key:         KeyPromptSystem,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 4: system prompt shared by all three outreach messages.",
		Value: `You are an experienced B2B business development manager at a software development company.
You write short, personal, specific outreach messages for LinkedIn and email.
Never invent facts. Never use placeholders like [Name]. Write in English.`,
	},
	{
		Key:         KeyPromptMessage1,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 4: message 1, brief proposal.",
		Value: `Write a brief connection message (under 300 characters) to {{contact_name}}, {{title}} at {{company_name}}
({{industry}}, {{country}}). Reference one concrete fact about the company and propose a short call.

Research:
{{research}}

Recent news:
{{news}}`,
	},
	{
		Key:         KeyPromptMessage2,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 4: message 2, detailed invitation.",
		Value: `Write a detailed follow-up message (80-150 words) to {{contact_name}}, {{title}} at {{company_name}}
({{industry}}, {{country}}). Connect a recent development to how an engineering partner could help,
and invite them to a 20-minute call.

Research:
{{research}}

Recent news:
{{news}}`,
	},
	{
		Key:         KeyPromptMessage3,
		Category:    model.SettingCategoryPrompts,
		Description: "Stage 4: message 3, case-study pitch.",
		Value: `Write a case-study pitch (80-150 words) to {{contact_name}}, {{title}} at {{company_name}}
({{industry}}, {{country}}). Mention the relevant case studies below by title and include their links.

Case studies:
{{cases}}

Recent news:
{{news}}`,
	},
	{
		Key:         KeyPromptCaseRank,
		Category:    model.SettingCategoryPrompts,
		Description: "Case matcher: rank candidate case studies for an opportunity.",
		Value: `Select at most 2 case studies most relevant to {{company_name}} ({{industry}}, {{country}}).
Rank by: industry relevance (highest priority), then problem alignment, then geography, then technology fit.
Return the IDs of the selected cases.

Candidates:
{{candidates}}`,
	},
	{
		Key:         KeyFallbackMessage1,
		Category:    model.SettingCategoryPrompts,
		Description: "Placeholder message 1 used when the pipeline fails.",
		Value:       `Hi {{contact_name}}, I came across {{company_name}} and would love to connect and learn more about your work.`,
	},
	{
		Key:         KeyFallbackMessage2,
		Category:    model.SettingCategoryPrompts,
		Description: "Placeholder message 2 used when the pipeline fails.",
		Value: `Hi {{contact_name}}, thanks for connecting. We help companies like {{company_name}} build and scale software products.
Would you be open to a short call to see if there is a fit?`,
	},
	{
		Key:         KeyFallbackMessage3,
		Category:    model.SettingCategoryPrompts,
		Description: "Placeholder message 3 used when the pipeline fails.",
		Value: `Hi {{contact_name}}, we have delivered projects for teams with challenges similar to {{company_name}}'s.
Happy to share a few case studies if that would be useful.`,
	},
	{
		Key:         KeyRegionalTonePrefix + "uk",
		Category:    model.SettingCategoryRegionalTone,
		Description: "Tone guidance for the UK and closest analogs.",
		Value:       "Use a polite, understated tone. Avoid hype and superlatives. Light, dry humour is acceptable.",
	},
	{
		Key:         KeyRegionalTonePrefix + "usa",
		Category:    model.SettingCategoryRegionalTone,
		Description: "Tone guidance for the USA and closest analogs. Default bucket.",
		Value:       "Be direct, energetic and outcome-focused. Lead with value and keep it brief.",
	},
	{
		Key:         KeyRegionalTonePrefix + "mena",
		Category:    model.SettingCategoryRegionalTone,
		Description: "Tone guidance for the Middle East and North Africa.",
		Value:       "Be warm and respectful. Emphasize long-term partnership and trust before business details.",
	},
	{
		Key:         KeyRegionalTonePrefix + "eu",
		Category:    model.SettingCategoryRegionalTone,
		Description: "Tone guidance for continental Europe outside DACH.",
		Value:       "Be professional and balanced. Reference concrete results and respect privacy and regulation.",
	},
	{
		Key:         KeyRegionalTonePrefix + "dach",
		Category:    model.SettingCategoryRegionalTone,
		Description: "Tone guidance for Germany, Austria and Switzerland.",
		Value:       "Be formal, precise and fact-based. Avoid exaggeration. Mention quality, reliability and process.",
	},
	{
		Key:         KeyCaseCatalogURL,
		Category:    model.SettingCategoryGeneral,
		Description: "Remote JSON endpoint listing case studies. Empty uses the local table only.",
		Value:       "",
	},
}

// Defaults returns a copy of the compiled-in settings.
func Defaults() []model.Setting {
	out := make([]model.Setting, len(defaults))
	copy(out, defaults)
	return out
}

var defaultIndex = func() map[string]model.Setting {
	m := make(map[string]model.Setting, len(defaults))
	for _, s := range defaults {
		m[s.Key] = s
	}
	return m
}()

// Default returns the compiled-in value for key.
func Default(key string) (string, bool) {
	s, ok := defaultIndex[key]
	return s.Value, ok
}
