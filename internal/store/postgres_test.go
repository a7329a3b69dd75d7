package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

var recordColumnNames = []string{
	"id", "job_id", "row_index", "status", "company_name", "contact_name", "title", "link", "extra",
	"region", "industry", "news", "cases", "message_1", "message_2", "message_3", "tone_key",
	"selected_news_indices", "selected_case_indices", "research_data", "degraded",
	"processing_ms", "error_message", "retry_count", "created_at", "updated_at",
}

func recordRow(id string, rowIndex int, status model.RecordStatus) []any {
	now := time.Now().UTC()
	return []any{
		id, "job-1", rowIndex, string(status), "Acme", "Ann", "CEO", "", []byte(`{}`),
		"", "", []byte(`[]`), []byte(`[]`), "", "", "", "",
		[]byte(`[]`), []byte(`[]`), "", false,
		int64(0), "", 0, now, now,
	}
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, user_id, filename, status, total_records, processed_records, created_at, updated_at FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "user-1", "leads.xlsx", "pending", 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"records"}, recordCopyColumns).WillReturnResult(2)
	mock.ExpectCommit()

	job, err := s.CreateJob(context.Background(), "user-1", "leads.xlsx", []model.Lead{
		{CompanyName: "Acme"}, {CompanyName: "Globex"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, job.TotalRecords)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob_RollsBackOnCopyError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO jobs`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"records"}, recordCopyColumns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err := s.CreateJob(context.Background(), "u", "x.xlsx", []model.Lead{{CompanyName: "Acme"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OldestPendingJob_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs j\s+WHERE j.status = \$1\s+AND EXISTS`).
		WithArgs("pending", "pending").
		WillReturnError(pgx.ErrNoRows)

	job, err := s.OldestPendingJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimPendingRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows(recordColumnNames).
		AddRow(recordRow("r2", 1, model.RecordStatusProcessing)...).
		AddRow(recordRow("r1", 0, model.RecordStatusProcessing)...)

	mock.ExpectQuery(`(?s)UPDATE records SET status = \$1.*FOR UPDATE SKIP LOCKED.*AND EXISTS \(SELECT 1 FROM jobs.*RETURNING`).
		WithArgs("processing", pgxmock.AnyArg(), "job-1", "pending", 5, "pending", "processing").
		WillReturnRows(rows)

	claimed, err := s.ClaimPendingRecords(context.Background(), "job-1", 5)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "r1", claimed[0].ID)
	assert.Equal(t, "r2", claimed[1].ID)
	assert.Equal(t, model.RecordStatusProcessing, claimed[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimPendingRecords_ZeroLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	claimed, err := s.ClaimPendingRecords(context.Background(), "job-1", 0)
	require.NoError(t, err)
	assert.Nil(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StartJob(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"pending job starts", 1, true},
		{"cancelled or running job is left alone", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)
			mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
				WithArgs("processing", pgxmock.AnyArg(), "job-1", "pending").
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			started, err := s.StartJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, started)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_ReleaseRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE records SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("pending", pgxmock.AnyArg(), "r1", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE records SET status`).
		WithArgs("pending", pgxmock.AnyArg(), "r2", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.ReleaseRecord(context.Background(), "r1"))
	err := s.ReleaseRecord(context.Background(), "r2")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJobAggregate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs\s+SET status = CASE WHEN status = 'cancelled'`).
		WithArgs("completed", 3, pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateJobAggregate(context.Background(), "job-1", model.JobStatusCompleted, 3)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CancelJob_NotCancellable(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE jobs SET status = \$1`).
		WithArgs("cancelled", pgxmock.AnyArg(), "job-1", "pending", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "filename", "status", "total_records", "processed_records", "created_at", "updated_at"}).
			AddRow("job-1", "u", "x.xlsx", "completed", 1, 1, now, now))

	err := s.CancelJob(context.Background(), "job-1")
	assert.True(t, errors.Is(err, ErrNotCancellable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE records SET status = \$1, error_message = \$2`).
		WithArgs("failed", "boom", int64(12), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailRecord(context.Background(), "missing", "boom", 12)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRecordMessages(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE records SET message_1 = \$1, message_3 = \$2, selected_news_indices = \$3, selected_case_indices = \$4, updated_at = \$5 WHERE id = \$6`).
		WithArgs("one", "three", "[0]", "[]", pgxmock.AnyArg(), "r1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateRecordMessages(context.Background(), "r1", model.MessageUpdate{
		Messages:            map[int]string{1: "one", 3: "three"},
		SelectedNewsIndices: []int{0},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetSetting_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("prompt_research", "new", "general", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetSetting(context.Background(), model.Setting{Key: "prompt_research", Value: "new"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SeedSettings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_settings"}, []string{"key", "value", "category", "description", "updated_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("key"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.SeedSettings(context.Background(), []model.Setting{
		{Key: "a", Value: "1"}, {Key: "b", Value: "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresStore_ListCases(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, country, title, industry, link FROM cases ORDER BY position`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "country", "title", "industry", "link"}).
			AddRow("1", "UK", "Payments", "Fintech", "https://c/1").
			AddRow("2", "", "Clinic", "Healthcare", "https://c/2"))

	cases, err := s.ListCases(context.Background())
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "Payments", cases[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}
