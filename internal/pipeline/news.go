package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/sells-group/outreach-cli/internal/model"
)

// MaxNews caps the stored news list.
const MaxNews = 10

// MergeNews prepends fresh items to existing ones, dropping any item whose
// normalized title contains, or is contained in, a title already kept. The
// result is ordered newest first and capped at MaxNews.
func MergeNews(existing, fresh []model.NewsItem) []model.NewsItem {
	merged := make([]model.NewsItem, 0, len(existing)+len(fresh))
	var keys []string

	add := func(items []model.NewsItem) {
		for _, n := range items {
			key := titleKey(n.Title)
			if key == "" || duplicateTitle(keys, key) {
				continue
			}
			keys = append(keys, key)
			merged = append(merged, n)
		}
	}
	add(fresh)
	add(existing)

	sortNewestFirst(merged)
	if len(merged) > MaxNews {
		merged = merged[:MaxNews]
	}
	return merged
}

// titleKey folds case and reduces a title to letters and digits separated
// by single spaces.
func titleKey(title string) string {
	folded := cases.Fold().String(title)
	var b strings.Builder
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

func duplicateTitle(keys []string, key string) bool {
	for _, k := range keys {
		if strings.Contains(k, key) || strings.Contains(key, k) {
			return true
		}
	}
	return false
}

var newsDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2006",
	"Jan 2006",
	"2006-01",
	"2006",
}

// parseNewsDate reads the loose date formats models return.
func parseNewsDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range newsDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sortNewestFirst orders dated items newest first; undated items follow in
// their original order.
func sortNewestFirst(items []model.NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, okI := parseNewsDate(items[i].Date)
		tj, okJ := parseNewsDate(items[j].Date)
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI:
			return true
		default:
			return false
		}
	})
}

// FormatNews renders news as a numbered list for prompts.
func FormatNews(news []model.NewsItem) string {
	if len(news) == 0 {
		return "No recent news found."
	}
	var b strings.Builder
	for i, n := range news {
		fmt.Fprintf(&b, "%d. %s", i+1, n.Title)
		var meta []string
		if n.Date != "" {
			meta = append(meta, n.Date)
		}
		if n.Source != "" {
			meta = append(meta, n.Source)
		}
		if len(meta) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(meta, ", "))
		}
		if n.Summary != "" {
			b.WriteString(": ")
			b.WriteString(n.Summary)
		}
		if i < len(news)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// FormatCases renders matched cases as a numbered list for prompts.
func FormatCases(matched []model.MatchedCase) string {
	if len(matched) == 0 {
		return "No relevant case studies available."
	}
	var b strings.Builder
	for i, c := range matched {
		fmt.Fprintf(&b, "%d. %s", i+1, c.Title)
		if c.Link != "" {
			b.WriteString(" - ")
			b.WriteString(c.Link)
		}
		if i < len(matched)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
