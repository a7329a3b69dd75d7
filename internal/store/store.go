package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNotFound is returned when a job, record or setting does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrNotCancellable is returned when cancelling a job that already finished.
	ErrNotCancellable = eris.New("store: job is not cancellable")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	UserID string          `json:"user_id,omitempty"`
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for jobs, records, settings and cases.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, userID, filename string, leads []model.Lead) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	// OldestPendingJob returns the oldest pending job that still has pending
	// records, or nil when there is none.
	OldestPendingJob(ctx context.Context) (*model.Job, error)
	// ActiveJobsWithPending returns processing jobs with pending records, oldest first.
	ActiveJobsWithPending(ctx context.Context) ([]model.Job, error)
	// StartJob moves a pending job to processing. It reports false when the
	// job is no longer pending, e.g. it was cancelled after being selected.
	StartJob(ctx context.Context, id string) (bool, error)
	// UpdateJobAggregate stores a recomputed status and processed count. A
	// cancelled job keeps its status.
	UpdateJobAggregate(ctx context.Context, id string, status model.JobStatus, processed int) error
	CancelJob(ctx context.Context, id string) error

	// Records
	// ClaimPendingRecords atomically moves up to limit pending records of a
	// pending or processing job to processing and returns them ordered by row
	// index. Records of a cancelled or finished job are never claimed.
	ClaimPendingRecords(ctx context.Context, jobID string, limit int) ([]model.Record, error)
	// ReleaseRecord puts a processing record back to pending.
	ReleaseRecord(ctx context.Context, id string) error
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	ListRecords(ctx context.Context, jobID string) ([]model.Record, error)
	CompleteRecord(ctx context.Context, id string, e model.Enrichment, durationMs int64) error
	FailRecord(ctx context.Context, id string, msg string, durationMs int64) error
	UpdateRecordMessages(ctx context.Context, id string, upd model.MessageUpdate) error

	// Settings
	GetSetting(ctx context.Context, key string) (*model.Setting, error)
	ListSettings(ctx context.Context) ([]model.Setting, error)
	SetSetting(ctx context.Context, s model.Setting) error
	// SeedSettings inserts settings whose keys are missing and returns how many were added.
	SeedSettings(ctx context.Context, settings []model.Setting) (int, error)

	// Cases
	ListCases(ctx context.Context) ([]model.Case, error)
	UpsertCases(ctx context.Context, cases []model.Case) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const jobColumns = `id, user_id, filename, status, total_records, processed_records, created_at, updated_at`

const recordColumns = `id, job_id, row_index, status, company_name, contact_name, title, link, extra,
	region, industry, news, cases, message_1, message_2, message_3, tone_key,
	selected_news_indices, selected_case_indices, research_data, degraded,
	processing_ms, error_message, retry_count, created_at, updated_at`

// messageColumns maps a 1-based message number to its column.
var messageColumns = map[int]string{1: "message_1", 2: "message_2", 3: "message_3"}

type scannable interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	err := row.Scan(&j.ID, &j.UserID, &j.Filename, &j.Status, &j.TotalRecords, &j.ProcessedRecords, &j.CreatedAt, &j.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan job")
	}
	return &j, nil
}

func scanRecord(row scannable) (*model.Record, error) {
	var (
		r                                   model.Record
		extra, news, cases, selNews, selCas []byte
	)
	err := row.Scan(
		&r.ID, &r.JobID, &r.RowIndex, &r.Status,
		&r.Lead.CompanyName, &r.Lead.ContactName, &r.Lead.Title, &r.Lead.Link, &extra,
		&r.Region, &r.Industry, &news, &cases,
		&r.Message1, &r.Message2, &r.Message3, &r.ToneKey,
		&selNews, &selCas, &r.ResearchData, &r.Degraded,
		&r.ProcessingMs, &r.ErrorMessage, &r.RetryCount, &r.CreatedAt, &r.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan record")
	}

	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"extra", extra, &r.Lead.Extra},
		{"news", news, &r.News},
		{"cases", cases, &r.Cases},
		{"selected_news_indices", selNews, &r.SelectedNewsIndices},
		{"selected_case_indices", selCas, &r.SelectedCaseIndices},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal record %s", f.name)
		}
	}
	return &r, nil
}

func scanSetting(row scannable) (*model.Setting, error) {
	var s model.Setting
	err := row.Scan(&s.Key, &s.Value, &s.Category, &s.Description, &s.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan setting")
	}
	return &s, nil
}

func scanCase(row scannable) (*model.Case, error) {
	var c model.Case
	if err := row.Scan(&c.ID, &c.Country, &c.Title, &c.Industry, &c.Link); err != nil {
		return nil, eris.Wrap(err, "store: scan case")
	}
	return &c, nil
}

func sortByRow(records []model.Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].RowIndex < records[j].RowIndex })
}

// encodeJSON marshals v, writing empty arrays and objects instead of null.
func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal json")
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

// recordPayload holds the JSON-encoded output columns of a completed record.
type recordPayload struct {
	news, cases, selNews, selCases string
}

func encodeEnrichment(e model.Enrichment) (recordPayload, error) {
	var (
		p   recordPayload
		err error
	)
	if p.news, err = encodeJSON(e.News, "[]"); err != nil {
		return p, err
	}
	if p.cases, err = encodeJSON(e.Cases, "[]"); err != nil {
		return p, err
	}
	if p.selNews, err = encodeJSON(e.SelectedNewsIndices, "[]"); err != nil {
		return p, err
	}
	p.selCases, err = encodeJSON(e.SelectedCaseIndices, "[]")
	return p, err
}
