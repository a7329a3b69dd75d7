package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	filename          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	total_records     INTEGER NOT NULL DEFAULT 0,
	processed_records INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id                    TEXT PRIMARY KEY,
	job_id                TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	row_index             INTEGER NOT NULL,
	status                TEXT NOT NULL DEFAULT 'pending',
	company_name          TEXT NOT NULL DEFAULT '',
	contact_name          TEXT NOT NULL DEFAULT '',
	title                 TEXT NOT NULL DEFAULT '',
	link                  TEXT NOT NULL DEFAULT '',
	extra                 TEXT NOT NULL DEFAULT '{}',
	region                TEXT NOT NULL DEFAULT '',
	industry              TEXT NOT NULL DEFAULT '',
	news                  TEXT NOT NULL DEFAULT '[]',
	cases                 TEXT NOT NULL DEFAULT '[]',
	message_1             TEXT NOT NULL DEFAULT '',
	message_2             TEXT NOT NULL DEFAULT '',
	message_3             TEXT NOT NULL DEFAULT '',
	tone_key              TEXT NOT NULL DEFAULT '',
	selected_news_indices TEXT NOT NULL DEFAULT '[]',
	selected_case_indices TEXT NOT NULL DEFAULT '[]',
	research_data         TEXT NOT NULL DEFAULT '',
	degraded              INTEGER NOT NULL DEFAULT 0,
	processing_ms         INTEGER NOT NULL DEFAULT 0,
	error_message         TEXT NOT NULL DEFAULT '',
	retry_count           INTEGER NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT 'general',
	description TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
	id       TEXT PRIMARY KEY,
	country  TEXT NOT NULL DEFAULT '',
	title    TEXT NOT NULL,
	industry TEXT NOT NULL DEFAULT '',
	link     TEXT NOT NULL DEFAULT '',
	position INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_user ON jobs(user_id);
CREATE INDEX IF NOT EXISTS idx_records_job_status ON records(job_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, userID, filename string, leads []model.Lead) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:           uuid.New().String(),
		UserID:       userID,
		Filename:     filename,
		Status:       model.JobStatusPending,
		TotalRecords: len(leads),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin create job")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		job.ID, job.UserID, job.Filename, string(job.Status), job.TotalRecords, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (id, job_id, row_index, status, company_name, contact_name, title, link, extra, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare insert record")
	}
	defer stmt.Close() //nolint:errcheck

	for i, lead := range leads {
		extra, err := encodeJSON(lead.Extra, "{}")
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), job.ID, i, string(model.RecordStatusPending),
			lead.CompanyName, lead.ContactName, lead.Title, lead.Link, extra, now, now,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert record %d", i)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit create job")
	}
	return job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	return s.queryJobs(ctx, "list jobs", query, args...)
}

func (s *SQLiteStore) OldestPendingJob(ctx context.Context) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE j.status = ?
		   AND EXISTS (SELECT 1 FROM records r WHERE r.job_id = j.id AND r.status = ?)
		 ORDER BY j.created_at ASC, j.rowid ASC LIMIT 1`,
		string(model.JobStatusPending), string(model.RecordStatusPending),
	)
	j, err := scanJob(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: oldest pending job")
	}
	return j, nil
}

func (s *SQLiteStore) ActiveJobsWithPending(ctx context.Context) ([]model.Job, error) {
	return s.queryJobs(ctx, "active jobs",
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE j.status = ?
		   AND EXISTS (SELECT 1 FROM records r WHERE r.job_id = j.id AND r.status = ?)
		 ORDER BY j.created_at ASC, j.rowid ASC`,
		string(model.JobStatusProcessing), string(model.RecordStatusPending),
	)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) StartJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusProcessing), time.Now().UTC(), id, string(model.JobStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: start job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: start job %s", id)
	}
	return n > 0, nil
}

func (s *SQLiteStore) UpdateJobAggregate(ctx context.Context, id string, status model.JobStatus, processed int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = CASE WHEN status = 'cancelled' THEN status ELSE ? END,
		     processed_records = ?, updated_at = ?
		 WHERE id = ?`,
		string(status), processed, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job aggregate %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CancelJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.JobStatusCancelled), time.Now().UTC(), id,
		string(model.JobStatusPending), string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel job %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return eris.Wrapf(ErrNotCancellable, "sqlite: cancel job %s", id)
}

// --- Records ---

func (s *SQLiteStore) ClaimPendingRecords(ctx context.Context, jobID string, limit int) ([]model.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := s.queryRecords(ctx, "claim records",
		`UPDATE records SET status = ?, updated_at = ?
		 WHERE id IN (
			SELECT id FROM records WHERE job_id = ? AND status = ? ORDER BY row_index LIMIT ?
		 ) AND status = ?
		   AND EXISTS (SELECT 1 FROM jobs WHERE jobs.id = records.job_id AND jobs.status IN (?, ?))
		 RETURNING `+recordColumns,
		string(model.RecordStatusProcessing), time.Now().UTC(),
		jobID, string(model.RecordStatusPending), limit,
		string(model.RecordStatusPending),
		string(model.JobStatusPending), string(model.JobStatusProcessing),
	)
	if err != nil {
		return nil, err
	}
	sortByRow(records)
	return records, nil
}

func (s *SQLiteStore) ReleaseRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.RecordStatusPending), time.Now().UTC(), id, string(model.RecordStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: release record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, jobID string) ([]model.Record, error) {
	return s.queryRecords(ctx, "list records",
		`SELECT `+recordColumns+` FROM records WHERE job_id = ? ORDER BY row_index`, jobID)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", op)
	}
	defer rows.Close() //nolint:errcheck

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrapf(rows.Err(), "sqlite: %s iterate", op)
}

func (s *SQLiteStore) CompleteRecord(ctx context.Context, id string, e model.Enrichment, durationMs int64) error {
	p, err := encodeEnrichment(e)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET
			status = ?, region = ?, industry = ?, news = ?, cases = ?,
			message_1 = ?, message_2 = ?, message_3 = ?, tone_key = ?,
			selected_news_indices = ?, selected_case_indices = ?, research_data = ?,
			degraded = ?, error_message = ?, processing_ms = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.RecordStatusCompleted), e.Region, e.Industry, p.news, p.cases,
		e.Messages[0], e.Messages[1], e.Messages[2], e.ToneKey,
		p.selNews, p.selCases, e.ResearchData,
		e.Degraded, e.Error, durationMs, time.Now().UTC(),
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) FailRecord(ctx context.Context, id string, msg string, durationMs int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET status = ?, error_message = ?, processing_ms = ?, updated_at = ? WHERE id = ?`,
		string(model.RecordStatusFailed), msg, durationMs, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail record %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

func (s *SQLiteStore) UpdateRecordMessages(ctx context.Context, id string, upd model.MessageUpdate) error {
	sets, args, err := messageUpdateSets(upd, func(int) string { return "?" })
	if err != nil {
		return err
	}
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET `+strings.Join(sets, ", ")+`, updated_at = ? WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record messages %s", id)
	}
	return checkRowsAffected(res, "record", id)
}

// --- Settings ---

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, value, category, description, updated_at FROM settings WHERE key = ?`, key)
	st, err := scanSetting(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get setting %s", key)
	}
	return st, nil
}

func (s *SQLiteStore) ListSettings(ctx context.Context) ([]model.Setting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, category, description, updated_at FROM settings ORDER BY category, key`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list settings")
	}
	defer rows.Close() //nolint:errcheck

	var settings []model.Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, *st)
	}
	return settings, eris.Wrap(rows.Err(), "sqlite: list settings iterate")
}

func (s *SQLiteStore) SetSetting(ctx context.Context, st model.Setting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, category, description, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		st.Key, st.Value, string(settingCategory(st)), st.Description, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set setting %s", st.Key)
}

func (s *SQLiteStore) SeedSettings(ctx context.Context, settings []model.Setting) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin seed settings")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	added := 0
	for _, st := range settings {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value, category, description, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO NOTHING`,
			st.Key, st.Value, string(settingCategory(st)), st.Description, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: seed setting %s", st.Key)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit seed settings")
	}
	return added, nil
}

// --- Cases ---

func (s *SQLiteStore) ListCases(ctx context.Context) ([]model.Case, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, country, title, industry, link FROM cases ORDER BY position, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cases")
	}
	defer rows.Close() //nolint:errcheck

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "sqlite: list cases iterate")
}

func (s *SQLiteStore) UpsertCases(ctx context.Context, cases []model.Case) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert cases")
	}
	defer tx.Rollback() //nolint:errcheck

	for i, c := range cases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cases (id, country, title, industry, link, position) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET country = excluded.country, title = excluded.title,
			   industry = excluded.industry, link = excluded.link, position = excluded.position`,
			c.ID, c.Country, c.Title, c.Industry, c.Link, i,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert case %s", c.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert cases")
	}
	return len(cases), nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func settingCategory(st model.Setting) model.SettingCategory {
	if st.Category == "" {
		return model.SettingCategoryGeneral
	}
	return st.Category
}

// messageUpdateSets builds the SET fragments for a MessageUpdate. placeholder
// renders the n-th bind parameter (1-based) in the dialect of the caller.
func messageUpdateSets(upd model.MessageUpdate, placeholder func(n int) string) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+placeholder(len(args)))
	}

	for n := 1; n <= model.MessageCount; n++ {
		if content, ok := upd.Messages[n]; ok {
			add(messageColumns[n], content)
		}
	}
	selNews, err := encodeJSON(upd.SelectedNewsIndices, "[]")
	if err != nil {
		return nil, nil, err
	}
	selCases, err := encodeJSON(upd.SelectedCaseIndices, "[]")
	if err != nil {
		return nil, nil, err
	}
	add("selected_news_indices", selNews)
	add("selected_case_indices", selCases)
	if upd.ToneKey != "" {
		add("tone_key", upd.ToneKey)
	}
	return sets, args, nil
}
