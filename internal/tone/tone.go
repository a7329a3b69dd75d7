// Package tone maps a lead's country to a regional communication style.
package tone

import (
	"strings"

	"golang.org/x/text/cases"
)

// Regional buckets. Every country resolves to exactly one of these.
const (
	UK   = "uk"
	USA  = "usa"
	MENA = "mena"
	EU   = "eu"
	DACH = "dach"
)

// KeyPrefix prefixes a bucket to form its settings key.
const KeyPrefix = "regional_tone_"

// Unknown is the classification escape value for an unresolved country.
const Unknown = "Unknown"

type country struct {
	name   string
	code   string
	bucket string
}

// countries is the closed enumeration offered to classification. Countries
// outside the five home regions carry their closest analog.
var countries = []country{
	{"United Kingdom", "GB", UK},
	{"Ireland", "IE", UK},
	{"Australia", "AU", UK},
	{"New Zealand", "NZ", UK},
	{"South Africa", "ZA", UK},
	{"Singapore", "SG", UK},
	{"India", "IN", UK},
	{"Nigeria", "NG", UK},
	{"Kenya", "KE", UK},

	{"United States", "US", USA},
	{"Canada", "CA", USA},
	{"Mexico", "MX", USA},
	{"Brazil", "BR", USA},
	{"Argentina", "AR", USA},
	{"Japan", "JP", USA},

	{"United Arab Emirates", "AE", MENA},
	{"Saudi Arabia", "SA", MENA},
	{"Qatar", "QA", MENA},
	{"Kuwait", "KW", MENA},
	{"Bahrain", "BH", MENA},
	{"Oman", "OM", MENA},
	{"Egypt", "EG", MENA},
	{"Jordan", "JO", MENA},
	{"Morocco", "MA", MENA},
	{"Turkey", "TR", MENA},
	{"Israel", "IL", MENA},

	{"Germany", "DE", DACH},
	{"Austria", "AT", DACH},
	{"Switzerland", "CH", DACH},

	{"France", "FR", EU},
	{"Spain", "ES", EU},
	{"Italy", "IT", EU},
	{"Portugal", "PT", EU},
	{"Netherlands", "NL", EU},
	{"Belgium", "BE", EU},
	{"Luxembourg", "LU", EU},
	{"Sweden", "SE", EU},
	{"Norway", "NO", EU},
	{"Denmark", "DK", EU},
	{"Finland", "FI", EU},
	{"Poland", "PL", EU},
	{"Czech Republic", "CZ", EU},
	{"Romania", "RO", EU},
	{"Greece", "GR", EU},
	{"Hungary", "HU", EU},
}

// aliases maps common alternate spellings to canonical names.
var aliases = map[string]string{
	"uk":            "United Kingdom",
	"great britain": "United Kingdom",
	"england":       "United Kingdom",
	"scotland":      "United Kingdom",
	"wales":         "United Kingdom",

	"us":                       "United States",
	"usa":                      "United States",
	"america":                  "United States",
	"united states of america": "United States",

	"uae":             "United Arab Emirates",
	"ksa":             "Saudi Arabia",
	"czechia":         "Czech Republic",
	"türkiye":         "Turkey",
	"turkiye":         "Turkey",
	"holland":         "Netherlands",
	"the netherlands": "Netherlands",
}

var byName = func() map[string]country {
	m := make(map[string]country, len(countries)+len(aliases))
	for _, c := range countries {
		m[fold(c.name)] = c
	}
	for alias, name := range aliases {
		m[fold(alias)] = m[fold(name)]
	}
	return m
}()

func lookup(name string) (country, bool) {
	c, ok := byName[fold(name)]
	return c, ok
}

// fold normalises a country name for lookup with Unicode case folding.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Bucket returns the regional bucket for a country. Unknown and empty input
// fall back to USA.
func Bucket(name string) string {
	if c, ok := lookup(name); ok {
		return c.bucket
	}
	return USA
}

// ToneKey returns the settings key holding the tone guidance for a country.
func ToneKey(name string) string {
	return KeyPrefix + Bucket(name)
}

// Keys returns the five valid tone keys.
func Keys() []string {
	return []string{KeyPrefix + UK, KeyPrefix + USA, KeyPrefix + MENA, KeyPrefix + EU, KeyPrefix + DACH}
}

// IsKey reports whether key names one of the regional tone settings.
func IsKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// CountryCode returns the ISO 3166-1 alpha-2 code for a country, or "" when
// the country is not in the enumeration.
func CountryCode(name string) string {
	if c, ok := lookup(name); ok {
		return c.code
	}
	return ""
}

// Canonical returns the enumeration spelling of a country, or Unknown.
func Canonical(name string) string {
	if c, ok := lookup(name); ok {
		return c.name
	}
	return Unknown
}

// Countries returns the closed country enumeration, without Unknown.
func Countries() []string {
	out := make([]string, len(countries))
	for i, c := range countries {
		out[i] = c.name
	}
	return out
}
