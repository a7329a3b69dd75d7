package model

import "time"

// Case is a reference case study from the catalog.
type Case struct {
	ID       string `json:"id" yaml:"id"`
	Country  string `json:"country,omitempty" yaml:"country"`
	Title    string `json:"title" yaml:"title"`
	Industry string `json:"industry" yaml:"industry"`
	Link     string `json:"link" yaml:"link"`
}

// Matched projects a catalog case onto the shape stored on a record.
func (c Case) Matched() MatchedCase {
	return MatchedCase{Title: c.Title, Link: c.Link}
}

// SettingCategory groups settings for the admin UI.
type SettingCategory string

const (
	SettingCategoryPrompts      SettingCategory = "prompts"
	SettingCategoryRegionalTone SettingCategory = "regional_tone"
	SettingCategoryGeneral      SettingCategory = "general"
)

// Setting is a key-value template or configuration entry.
type Setting struct {
	Key         string          `json:"key"`
	Value       string          `json:"value"`
	Category    SettingCategory `json:"category"`
	Description string          `json:"description"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
