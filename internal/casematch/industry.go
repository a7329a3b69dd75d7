package casematch

import (
	"strings"

	"golang.org/x/text/cases"
)

// Other is the catch-all industry for leads that fit no listed sector.
const Other = "Other"

// industries is the closed list offered to the classifier.
var industries = []string{
	"Fintech",
	"Banking",
	"Insurance",
	"Healthcare",
	"Pharmaceuticals",
	"E-commerce",
	"Retail",
	"Logistics",
	"Manufacturing",
	"Automotive",
	"Telecommunications",
	"Energy",
	"Real Estate",
	"Construction",
	"Education",
	"Media & Entertainment",
	"Travel & Hospitality",
	"Agriculture",
	"Government",
	"Software & SaaS",
}

// Industries returns the classification enumeration, Other last.
func Industries() []string {
	out := make([]string, 0, len(industries)+1)
	out = append(out, industries...)
	return append(out, Other)
}

// synonymGroups maps a group name to the industry labels that count as the
// same market when a catalog is sparse.
var synonymGroups = map[string][]string{
	"fintech":               {"financial technology", "payment", "payments", "banking tech", "neobank", "lending", "crypto", "wealthtech"},
	"banking":               {"bank", "financial services", "finance", "fintech", "credit"},
	"insurance":             {"insurtech", "insurer", "reinsurance", "financial services"},
	"healthcare":            {"health", "medtech", "medical", "hospital", "healthtech", "clinic", "pharma"},
	"pharmaceuticals":       {"pharma", "biotech", "life sciences", "healthcare"},
	"e-commerce":            {"ecommerce", "online retail", "marketplace", "retail", "d2c"},
	"retail":                {"e-commerce", "ecommerce", "consumer goods", "fmcg"},
	"logistics":             {"supply chain", "transport", "transportation", "shipping", "delivery", "freight"},
	"manufacturing":         {"industrial", "industry 4.0", "factory", "production", "automotive"},
	"automotive":            {"mobility", "cars", "vehicle", "manufacturing"},
	"telecommunications":    {"telecom", "telco", "mobile operator", "internet provider"},
	"energy":                {"utilities", "oil & gas", "renewables", "power", "cleantech"},
	"real estate":           {"proptech", "property", "construction"},
	"construction":          {"real estate", "proptech", "engineering"},
	"education":             {"edtech", "e-learning", "university", "school", "training"},
	"media & entertainment": {"media", "entertainment", "gaming", "publishing", "streaming"},
	"travel & hospitality":  {"travel", "hospitality", "tourism", "hotel", "airline"},
	"agriculture":           {"agritech", "agtech", "farming", "food production"},
	"government":            {"public sector", "govtech", "municipal"},
	"software & saas":       {"saas", "software", "it services", "technology", "cloud"},
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// related reports a case-insensitive substring match in either direction.
func related(a, b string) bool {
	a, b = fold(a), fold(b)
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// expandIndustry returns the labels of every synonym group the industry
// belongs to, by group name or by one of its synonyms.
func expandIndustry(industry string) []string {
	var out []string
	for group, syns := range synonymGroups {
		hit := related(industry, group)
		for _, s := range syns {
			if hit {
				break
			}
			hit = related(industry, s)
		}
		if hit {
			out = append(out, group)
			out = append(out, syns...)
		}
	}
	return out
}
