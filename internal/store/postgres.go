package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection.
var preparedStatements = map[string]string{
	"get_job":       `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`,
	"get_record":    `SELECT ` + recordColumns + ` FROM records WHERE id = $1`,
	"list_records":  `SELECT ` + recordColumns + ` FROM records WHERE job_id = $1 ORDER BY row_index`,
	"fail_record":   `UPDATE records SET status = $1, error_message = $2, processing_ms = $3, updated_at = $4 WHERE id = $5`,
	"list_settings": `SELECT key, value, category, description, updated_at FROM settings ORDER BY category, key`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	filename          TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	total_records     INTEGER NOT NULL DEFAULT 0,
	processed_records INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
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
	extra                 JSONB NOT NULL DEFAULT '{}',
	region                TEXT NOT NULL DEFAULT '',
	industry              TEXT NOT NULL DEFAULT '',
	news                  JSONB NOT NULL DEFAULT '[]',
	cases                 JSONB NOT NULL DEFAULT '[]',
	message_1             TEXT NOT NULL DEFAULT '',
	message_2             TEXT NOT NULL DEFAULT '',
	message_3             TEXT NOT NULL DEFAULT '',
	tone_key              TEXT NOT NULL DEFAULT '',
	selected_news_indices JSONB NOT NULL DEFAULT '[]',
	selected_case_indices JSONB NOT NULL DEFAULT '[]',
	research_data         TEXT NOT NULL DEFAULT '',
	degraded              BOOLEAN NOT NULL DEFAULT false,
	processing_ms         BIGINT NOT NULL DEFAULT 0,
	error_message         TEXT NOT NULL DEFAULT '',
	retry_count           INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS settings (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT 'general',
	description TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
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

var recordCopyColumns = []string{
	"id", "job_id", "row_index", "status", "company_name", "contact_name", "title", "link", "extra", "created_at", "updated_at",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, userID, filename string, leads []model.Lead) (*model.Job, error) {
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

	rows := make([][]any, 0, len(leads))
	for i, lead := range leads {
		extra, err := encodeJSON(lead.Extra, "{}")
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{
			uuid.New().String(), job.ID, i, string(model.RecordStatusPending),
			lead.CompanyName, lead.ContactName, lead.Title, lead.Link, extra, now, now,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin create job")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		job.ID, job.UserID, job.Filename, string(job.Status), job.TotalRecords, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	if _, err := db.CopyFrom(ctx, tx, "records", recordCopyColumns, rows); err != nil {
		return nil, eris.Wrap(err, "postgres: insert records")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit create job")
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	return s.queryJobs(ctx, "list jobs", query, args...)
}

func (s *PostgresStore) OldestPendingJob(ctx context.Context) (*model.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE j.status = $1
		   AND EXISTS (SELECT 1 FROM records r WHERE r.job_id = j.id AND r.status = $2)
		 ORDER BY j.created_at ASC LIMIT 1`,
		string(model.JobStatusPending), string(model.RecordStatusPending),
	))
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: oldest pending job")
	}
	return j, nil
}

func (s *PostgresStore) ActiveJobsWithPending(ctx context.Context) ([]model.Job, error) {
	return s.queryJobs(ctx, "active jobs",
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE j.status = $1
		   AND EXISTS (SELECT 1 FROM records r WHERE r.job_id = j.id AND r.status = $2)
		 ORDER BY j.created_at ASC`,
		string(model.JobStatusProcessing), string(model.RecordStatusPending),
	)
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) StartJob(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.JobStatusProcessing), time.Now().UTC(), id, string(model.JobStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: start job %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateJobAggregate(ctx context.Context, id string, status model.JobStatus, processed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = CASE WHEN status = 'cancelled' THEN status ELSE $1 END,
		     processed_records = $2, updated_at = $3
		 WHERE id = $4`,
		string(status), processed, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job aggregate %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status IN ($4, $5)`,
		string(model.JobStatusCancelled), time.Now().UTC(), id,
		string(model.JobStatusPending), string(model.JobStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel job %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return eris.Wrapf(ErrNotCancellable, "postgres: cancel job %s", id)
}

// --- Records ---

func (s *PostgresStore) ClaimPendingRecords(ctx context.Context, jobID string, limit int) ([]model.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := s.queryRecords(ctx, "claim records",
		`UPDATE records SET status = $1, updated_at = $2
		 WHERE id IN (
			SELECT id FROM records WHERE job_id = $3 AND status = $4
			ORDER BY row_index LIMIT $5
			FOR UPDATE SKIP LOCKED
		 )
		   AND EXISTS (SELECT 1 FROM jobs WHERE jobs.id = records.job_id AND jobs.status IN ($6, $7))
		 RETURNING `+recordColumns,
		string(model.RecordStatusProcessing), time.Now().UTC(),
		jobID, string(model.RecordStatusPending), limit,
		string(model.JobStatusPending), string(model.JobStatusProcessing),
	)
	if err != nil {
		return nil, err
	}
	sortByRow(records)
	return records, nil
}

func (s *PostgresStore) ReleaseRecord(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.RecordStatusPending), time.Now().UTC(), id, string(model.RecordStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: release record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, jobID string) ([]model.Record, error) {
	return s.queryRecords(ctx, "list records",
		`SELECT `+recordColumns+` FROM records WHERE job_id = $1 ORDER BY row_index`, jobID)
}

func (s *PostgresStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s", op)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrapf(rows.Err(), "postgres: %s iterate", op)
}

func (s *PostgresStore) CompleteRecord(ctx context.Context, id string, e model.Enrichment, durationMs int64) error {
	p, err := encodeEnrichment(e)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET
			status = $1, region = $2, industry = $3, news = $4, cases = $5,
			message_1 = $6, message_2 = $7, message_3 = $8, tone_key = $9,
			selected_news_indices = $10, selected_case_indices = $11, research_data = $12,
			degraded = $13, error_message = $14, processing_ms = $15, updated_at = $16
		 WHERE id = $17`,
		string(model.RecordStatusCompleted), e.Region, e.Industry, p.news, p.cases,
		e.Messages[0], e.Messages[1], e.Messages[2], e.ToneKey,
		p.selNews, p.selCases, e.ResearchData,
		e.Degraded, e.Error, durationMs, time.Now().UTC(),
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

func (s *PostgresStore) FailRecord(ctx context.Context, id string, msg string, durationMs int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET status = $1, error_message = $2, processing_ms = $3, updated_at = $4 WHERE id = $5`,
		string(model.RecordStatusFailed), msg, durationMs, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateRecordMessages(ctx context.Context, id string, upd model.MessageUpdate) error {
	sets, args, err := messageUpdateSets(upd, func(n int) string { return fmt.Sprintf("$%d", n) })
	if err != nil {
		return err
	}
	args = append(args, time.Now().UTC(), id)

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE records SET %s, updated_at = $%d WHERE id = $%d`,
			strings.Join(sets, ", "), len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record messages %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %s", id)
	}
	return nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, key string) (*model.Setting, error) {
	st, err := scanSetting(s.pool.QueryRow(ctx,
		`SELECT key, value, category, description, updated_at FROM settings WHERE key = $1`, key))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get setting %s", key)
	}
	return st, nil
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]model.Setting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value, category, description, updated_at FROM settings ORDER BY category, key`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list settings")
	}
	defer rows.Close()

	var settings []model.Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		settings = append(settings, *st)
	}
	return settings, eris.Wrap(rows.Err(), "postgres: list settings iterate")
}

func (s *PostgresStore) SetSetting(ctx context.Context, st model.Setting) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, category, description, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		st.Key, st.Value, string(settingCategory(st)), st.Description, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set setting %s", st.Key)
}

func (s *PostgresStore) SeedSettings(ctx context.Context, settings []model.Setting) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(settings))
	for i, st := range settings {
		rows[i] = []any{st.Key, st.Value, string(settingCategory(st)), st.Description, now}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "settings",
		Columns:      []string{"key", "value", "category", "description", "updated_at"},
		ConflictKeys: []string{"key"},
		KeepExisting: true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: seed settings")
	}
	return int(n), nil
}

// --- Cases ---

func (s *PostgresStore) ListCases(ctx context.Context) ([]model.Case, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, country, title, industry, link FROM cases ORDER BY position, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cases")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "postgres: list cases iterate")
}

func (s *PostgresStore) UpsertCases(ctx context.Context, cases []model.Case) (int, error) {
	rows := make([][]any, len(cases))
	for i, c := range cases {
		rows[i] = []any{c.ID, c.Country, c.Title, c.Industry, c.Link, i}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "cases",
		Columns:      []string{"id", "country", "title", "industry", "link", "position"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert cases")
	}
	return int(n), nil
}
