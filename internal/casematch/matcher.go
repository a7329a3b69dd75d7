// Package casematch picks the reference case studies best suited to an
// outreach opportunity from a remote catalog or the local case table.
package casematch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/cache"
	"github.com/sells-group/outreach-cli/internal/llm"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/settings"
)

const (
	// CatalogTTL is how long a successful remote catalog fetch is reused.
	CatalogTTL = time.Hour

	// MaxMatches is the most cases returned for an opportunity.
	MaxMatches = 2

	defaultFetchTimeout = 5 * time.Second
	minFilteredMatches  = 3
)

// CaseSource is the local case table.
type CaseSource interface {
	ListCases(ctx context.Context) ([]model.Case, error)
}

// SettingsReader resolves setting values with their defaults applied.
type SettingsReader interface {
	Get(ctx context.Context, key string) string
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithFetchTimeout bounds the remote catalog request.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Matcher) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithRestClient overrides the HTTP client used for catalog fetches.
func WithRestClient(c *resty.Client) Option {
	return func(m *Matcher) { m.rest = c }
}

// Matcher selects case studies for opportunities.
type Matcher struct {
	model    llm.Model
	local    CaseSource
	settings SettingsReader
	catalog  *cache.TTL[[]model.Case]
	rest     *resty.Client
	timeout  time.Duration
}

// New creates a Matcher. A nil catalog cache gets one with CatalogTTL.
func New(m llm.Model, local CaseSource, s SettingsReader, catalog *cache.TTL[[]model.Case], opts ...Option) *Matcher {
	if catalog == nil {
		catalog = cache.NewTTL[[]model.Case](CatalogTTL)
	}
	mt := &Matcher{
		model:    m,
		local:    local,
		settings: s,
		catalog:  catalog,
		timeout:  defaultFetchTimeout,
	}
	for _, o := range opts {
		o(mt)
	}
	if mt.rest == nil {
		mt.rest = resty.New().SetHeader("Accept", "application/json")
	}
	return mt
}

// FetchCatalog returns every known case. The remote catalog is tried first
// and cached on success; any remote failure falls back to the local table.
func (m *Matcher) FetchCatalog(ctx context.Context) ([]model.Case, error) {
	if cached, ok := m.catalog.Get(); ok {
		return cached, nil
	}

	url := strings.TrimSpace(m.settings.Get(ctx, settings.KeyCaseCatalogURL))
	if url != "" {
		remote, err := m.fetchRemote(ctx, url)
		if err == nil {
			m.catalog.Set(remote)
			return remote, nil
		}
		zap.L().Warn("casematch: remote catalog unavailable, using local cases",
			zap.String("url", url),
			zap.Error(err),
		)
	}

	local, err := m.local.ListCases(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "casematch: list local cases")
	}
	return local, nil
}

func (m *Matcher) fetchRemote(ctx context.Context, url string) ([]model.Case, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, err := m.rest.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, eris.Wrap(err, "casematch: fetch catalog")
	}
	if resp.IsError() {
		return nil, eris.Errorf("casematch: fetch catalog: unexpected status %d", resp.StatusCode())
	}

	cases, err := decodeCatalog(resp.Body())
	if err != nil {
		return nil, err
	}
	return cases, nil
}

// remoteCase tolerates numeric or string IDs.
type remoteCase struct {
	ID       flexID `json:"id"`
	Country  string `json:"country"`
	Title    string `json:"title"`
	Industry string `json:"industry"`
	Link     string `json:"link"`
	URL      string `json:"url"`
}

// decodeCatalog accepts a bare array or an object with a "cases" array.
func decodeCatalog(body []byte) ([]model.Case, error) {
	var list []remoteCase
	if err := json.Unmarshal(body, &list); err != nil {
		var wrapped struct {
			Cases []remoteCase `json:"cases"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil || wrapped.Cases == nil {
			return nil, eris.Wrap(err, "casematch: parse catalog")
		}
		list = wrapped.Cases
	}

	out := make([]model.Case, 0, len(list))
	for i, rc := range list {
		if strings.TrimSpace(rc.Title) == "" {
			continue
		}
		c := model.Case{
			ID:       string(rc.ID),
			Country:  rc.Country,
			Title:    rc.Title,
			Industry: rc.Industry,
			Link:     rc.Link,
		}
		if c.Link == "" {
			c.Link = rc.URL
		}
		if c.ID == "" {
			c.ID = strconv.Itoa(i + 1)
		}
		out = append(out, c)
	}
	return out, nil
}

// FilterByIndustry keeps cases whose industry relates to the target. Sparse
// results are widened with the synonym groups; an empty result yields the
// whole catalog.
func (m *Matcher) FilterByIndustry(catalog []model.Case, industry string) []model.Case {
	return FilterByIndustry(catalog, industry)
}

// FilterByIndustry is the stateless form of Matcher.FilterByIndustry.
func FilterByIndustry(catalog []model.Case, industry string) []model.Case {
	var direct []model.Case
	for _, c := range catalog {
		if related(c.Industry, industry) {
			direct = append(direct, c)
		}
	}

	if len(direct) < minFilteredMatches {
		labels := expandIndustry(industry)
		if len(labels) > 0 {
			var widened []model.Case
			for _, c := range catalog {
				if related(c.Industry, industry) || matchesAny(c.Industry, labels) {
					widened = append(widened, c)
				}
			}
			direct = widened
		}
	}

	if len(direct) == 0 {
		return catalog
	}
	return direct
}

func matchesAny(s string, labels []string) bool {
	for _, l := range labels {
		if related(s, l) {
			return true
		}
	}
	return false
}

type rankResult struct {
	SelectedIDs []flexID `json:"selected_ids"`
}

var rankSchema = llm.ObjectSchema("case_selection", map[string]any{
	"selected_ids": map[string]any{
		"type":     "array",
		"items":    map[string]any{"type": "string"},
		"maxItems": MaxMatches,
	},
})

// SelectBest returns at most two candidates. Small candidate sets are
// returned as-is; otherwise the model ranks them, and any ranking failure
// falls back to the first two in catalog order.
func (m *Matcher) SelectBest(ctx context.Context, candidates []model.Case, company, industry, country string) []model.Case {
	if len(candidates) <= MaxMatches {
		return candidates
	}
	fallback := candidates[:MaxMatches]

	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "[ID: %s] %s | industry: %s | country: %s\n", c.ID, c.Title, c.Industry, c.Country)
	}
	prompt := settings.Interpolate(m.settings.Get(ctx, settings.KeyPromptCaseRank), map[string]string{
		"company_name": company,
		"industry":     industry,
		"country":      country,
		"candidates":   b.String(),
	})

	var res rankResult
	if err := m.model.CompleteStructured(llm.WithStage(ctx, "case_rank"), "", prompt, rankSchema, &res); err != nil {
		zap.L().Warn("casematch: ranking failed, using catalog order", zap.Error(err))
		return fallback
	}

	byID := make(map[string]model.Case, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	var picked []model.Case
	seen := make(map[string]bool)
	for _, id := range res.SelectedIDs {
		key := strings.TrimSpace(string(id))
		c, ok := byID[key]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		picked = append(picked, c)
		if len(picked) == MaxMatches {
			break
		}
	}
	if len(picked) == 0 {
		zap.L().Warn("casematch: model selected no known case IDs, using catalog order",
			zap.Int("returned", len(res.SelectedIDs)),
		)
		return fallback
	}
	return picked
}

// MatchCasesForOpportunity returns up to two {title, link} cases for the
// opportunity. It never fails: catalog errors yield no cases.
func (m *Matcher) MatchCasesForOpportunity(ctx context.Context, company, industry, country string) []model.MatchedCase {
	catalog, err := m.FetchCatalog(ctx)
	if err != nil {
		zap.L().Warn("casematch: no catalog available", zap.Error(err))
		return []model.MatchedCase{}
	}
	if len(catalog) == 0 {
		return []model.MatchedCase{}
	}

	best := m.SelectBest(ctx, m.FilterByIndustry(catalog, industry), company, industry, country)
	out := make([]model.MatchedCase, 0, len(best))
	for _, c := range best {
		out = append(out, c.Matched())
	}
	return out
}

// flexID decodes a JSON string or number as a string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}
