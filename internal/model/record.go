package model

import "time"

// RecordStatus represents the lifecycle state of a single lead.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusCompleted  RecordStatus = "completed"
	RecordStatusFailed     RecordStatus = "failed"
)

// IsTerminal reports whether the record has finished processing.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordStatusCompleted || s == RecordStatusFailed
}

// MessageCount is the number of outreach messages drafted per lead.
const MessageCount = 3

// Lead holds the raw input columns of one spreadsheet row.
type Lead struct {
	CompanyName string            `json:"company_name"`
	ContactName string            `json:"contact_name"`
	Title       string            `json:"title"`
	Link        string            `json:"link,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// NewsItem is one piece of company news. The JSON shape is consumed by the
// export and UI and must stay stable.
type NewsItem struct {
	Title   string `json:"title"`
	Date    string `json:"date"`
	Source  string `json:"source"`
	Summary string `json:"summary"`
}

// MatchedCase is a reference case study attached to a lead.
type MatchedCase struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Enrichment is everything the pipeline produces for one lead.
type Enrichment struct {
	Region              string               `json:"region"`
	Industry            string               `json:"industry"`
	News                []NewsItem           `json:"news"`
	Cases               []MatchedCase        `json:"cases"`
	Messages            [MessageCount]string `json:"messages"`
	ToneKey             string               `json:"tone_key"`
	SelectedNewsIndices []int                `json:"selected_news_indices"`
	SelectedCaseIndices []int                `json:"selected_case_indices"`
	ResearchData        string               `json:"research_data"`

	// Degraded marks fallback output produced after a pipeline failure.
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

// Record is one lead within a job, with its pipeline output once processed.
type Record struct {
	ID       string       `json:"id"`
	JobID    string       `json:"job_id"`
	RowIndex int          `json:"row_index"`
	Status   RecordStatus `json:"status"`
	Lead     Lead         `json:"lead"`

	Region              string        `json:"region,omitempty"`
	Industry            string        `json:"industry,omitempty"`
	News                []NewsItem    `json:"news"`
	Cases               []MatchedCase `json:"cases"`
	Message1            string        `json:"message_1,omitempty"`
	Message2            string        `json:"message_2,omitempty"`
	Message3            string        `json:"message_3,omitempty"`
	ToneKey             string        `json:"tone_key,omitempty"`
	SelectedNewsIndices []int         `json:"selected_news_indices"`
	SelectedCaseIndices []int         `json:"selected_case_indices"`
	ResearchData        string        `json:"research_data,omitempty"`
	Degraded            bool          `json:"degraded"`

	ProcessingMs int64  `json:"processing_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message returns message n (1-based). Out-of-range numbers return "".
func (r *Record) Message(n int) string {
	switch n {
	case 1:
		return r.Message1
	case 2:
		return r.Message2
	case 3:
		return r.Message3
	}
	return ""
}

// SetMessage stores message n (1-based). Out-of-range numbers are ignored.
func (r *Record) SetMessage(n int, content string) {
	switch n {
	case 1:
		r.Message1 = content
	case 2:
		r.Message2 = content
	case 3:
		r.Message3 = content
	}
}

// Apply copies pipeline output onto the record.
func (r *Record) Apply(e Enrichment) {
	r.Region = e.Region
	r.Industry = e.Industry
	r.News = e.News
	r.Cases = e.Cases
	r.Message1, r.Message2, r.Message3 = e.Messages[0], e.Messages[1], e.Messages[2]
	r.ToneKey = e.ToneKey
	r.SelectedNewsIndices = e.SelectedNewsIndices
	r.SelectedCaseIndices = e.SelectedCaseIndices
	r.ResearchData = e.ResearchData
	r.Degraded = e.Degraded
	r.ErrorMessage = e.Error
}

// MessageUpdate is a partial write of regenerated messages.
type MessageUpdate struct {
	// Messages maps a 1-based message number to its new content.
	Messages            map[int]string
	SelectedNewsIndices []int
	SelectedCaseIndices []int
	ToneKey             string
}
