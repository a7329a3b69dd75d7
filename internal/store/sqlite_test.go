package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testLeads(n int) []model.Lead {
	leads := make([]model.Lead, n)
	for i := range leads {
		leads[i] = model.Lead{
			CompanyName: "Company " + string(rune('A'+i)),
			ContactName: "Contact",
			Title:       "CTO",
			Extra:       map[string]string{"row": string(rune('0' + i))},
		}
	}
	return leads
}

// --- Jobs ---

func TestSQLite_CreateAndGetJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "user-1", "leads.xlsx", testLeads(3))
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.TotalRecords)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "leads.xlsx", got.Filename)
	assert.Equal(t, 3, got.TotalRecords)
	assert.Equal(t, 0, got.ProcessedRecords)

	records, err := st.ListRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i, r.RowIndex)
		assert.Equal(t, model.RecordStatusPending, r.Status)
		assert.Equal(t, "CTO", r.Lead.Title)
		assert.NotNil(t, r.Lead.Extra)
		assert.Empty(t, r.News)
	}
}

func TestSQLite_GetJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetJob(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListJobs_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	j1, err := st.CreateJob(ctx, "alice", "a.xlsx", testLeads(1))
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, "bob", "b.xlsx", testLeads(1))
	require.NoError(t, err)
	started, err := st.StartJob(ctx, j1.ID)
	require.NoError(t, err)
	require.True(t, started)

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	alice, err := st.ListJobs(ctx, JobFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.Equal(t, j1.ID, alice[0].ID)

	processing, err := st.ListJobs(ctx, JobFilter{Status: model.JobStatusProcessing})
	require.NoError(t, err)
	require.Len(t, processing, 1)

	limited, err := st.ListJobs(ctx, JobFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_OldestPendingJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	none, err := st.OldestPendingJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = st.CreateJob(ctx, "u", "empty.xlsx", nil)
	require.NoError(t, err)
	first, err := st.CreateJob(ctx, "u", "first.xlsx", testLeads(1))
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, "u", "second.xlsx", testLeads(1))
	require.NoError(t, err)

	got, err := st.OldestPendingJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID, "job without records is skipped")
}

func TestSQLite_ActiveJobsWithPending(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateJob(ctx, "u", "a.xlsx", testLeads(2))
	require.NoError(t, err)
	b, err := st.CreateJob(ctx, "u", "b.xlsx", testLeads(1))
	require.NoError(t, err)
	for _, id := range []string{a.ID, b.ID} {
		started, err := st.StartJob(ctx, id)
		require.NoError(t, err)
		require.True(t, started)
	}

	// Drain b so only a still has pending work.
	claimed, err := st.ClaimPendingRecords(ctx, b.ID, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	jobs, err := st.ActiveJobsWithPending(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].ID)
}

func TestSQLite_UpdateJobAggregate_KeepsCancelled(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(2))
	require.NoError(t, err)

	require.NoError(t, st.UpdateJobAggregate(ctx, job.ID, model.JobStatusProcessing, 1))
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, got.Status)
	assert.Equal(t, 1, got.ProcessedRecords)

	require.NoError(t, st.CancelJob(ctx, job.ID))
	require.NoError(t, st.UpdateJobAggregate(ctx, job.ID, model.JobStatusCompleted, 2))
	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Equal(t, 2, got.ProcessedRecords)
}

func TestSQLite_StartJob_OnlyFromPending(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(1))
	require.NoError(t, err)
	cancelled, err := st.CreateJob(ctx, "u", "y.xlsx", testLeads(1))
	require.NoError(t, err)
	require.NoError(t, st.CancelJob(ctx, cancelled.ID))

	started, err := st.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = st.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, started, "already processing")

	started, err = st.StartJob(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.False(t, started)
	got, err := st.GetJob(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	started, err = st.StartJob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, started)
}

func TestSQLite_CancelJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(1))
	require.NoError(t, err)
	require.NoError(t, st.CancelJob(ctx, job.ID))

	err = st.CancelJob(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrNotCancellable))

	err = st.CancelJob(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// --- Records ---

func TestSQLite_ClaimPendingRecords(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(7))
	require.NoError(t, err)

	first, err := st.ClaimPendingRecords(ctx, job.ID, 5)
	require.NoError(t, err)
	require.Len(t, first, 5)
	for i, r := range first {
		assert.Equal(t, i, r.RowIndex)
		assert.Equal(t, model.RecordStatusProcessing, r.Status)
	}

	second, err := st.ClaimPendingRecords(ctx, job.ID, 5)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 5, second[0].RowIndex)

	none, err := st.ClaimPendingRecords(ctx, job.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLite_ClaimPendingRecords_SkipsCancelledJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(3))
	require.NoError(t, err)
	require.NoError(t, st.CancelJob(ctx, job.ID))

	claimed, err := st.ClaimPendingRecords(ctx, job.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	records, err := st.ListRecords(ctx, job.ID)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, model.RecordStatusPending, r.Status)
	}
}

func TestSQLite_ReleaseRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(2))
	require.NoError(t, err)
	claimed, err := st.ClaimPendingRecords(ctx, job.ID, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, st.ReleaseRecord(ctx, claimed[0].ID))
	got, err := st.GetRecord(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusPending, got.Status)

	again, err := st.ClaimPendingRecords(ctx, job.ID, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, claimed[0].ID, again[0].ID)

	// Only processing records can be released.
	require.NoError(t, st.FailRecord(ctx, again[0].ID, "boom", 10))
	err = st.ReleaseRecord(ctx, again[0].ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ClaimPendingRecords_Concurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(10))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := st.ClaimPendingRecords(ctx, job.ID, 5)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range claimed {
				seen[r.ID]++
			}
		}()
	}
	wg.Wait()

	for id, n := range seen {
		assert.Equal(t, 1, n, "record %s claimed more than once", id)
	}
}

func TestSQLite_CompleteRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(1))
	require.NoError(t, err)
	claimed, err := st.ClaimPendingRecords(ctx, job.ID, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	e := model.Enrichment{
		Region:              "Germany",
		Industry:            "Fintech",
		News:                []model.NewsItem{{Title: "Acme raises", Date: "2025-03-01", Source: "TechCrunch", Summary: "Series A"}},
		Cases:               []model.MatchedCase{{Title: "Bank app", Link: "https://cases/1"}},
		Messages:            [model.MessageCount]string{"m1", "m2", "m3"},
		ToneKey:             "regional_tone_dach",
		SelectedNewsIndices: []int{0},
		SelectedCaseIndices: []int{0},
		ResearchData:        "notes",
	}
	require.NoError(t, st.CompleteRecord(ctx, claimed[0].ID, e, 1234))

	got, err := st.GetRecord(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusCompleted, got.Status)
	assert.Equal(t, "Germany", got.Region)
	assert.Equal(t, e.News, got.News)
	assert.Equal(t, e.Cases, got.Cases)
	assert.Equal(t, "m3", got.Message3)
	assert.Equal(t, []int{0}, got.SelectedNewsIndices)
	assert.Equal(t, int64(1234), got.ProcessingMs)
	assert.False(t, got.Degraded)
}

func TestSQLite_CompleteRecord_Degraded(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(1))
	require.NoError(t, err)
	records, err := st.ListRecords(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, st.CompleteRecord(ctx, records[0].ID, model.Enrichment{
		Region:   "Unknown",
		Industry: "Other",
		Degraded: true,
		Error:    "classify: boom",
	}, 10))

	got, err := st.GetRecord(ctx, records[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Degraded)
	assert.Equal(t, "classify: boom", got.ErrorMessage)
	assert.Empty(t, got.News)
	assert.Empty(t, got.Cases)
}

func TestSQLite_FailRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(1))
	require.NoError(t, err)
	records, err := st.ListRecords(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, st.FailRecord(ctx, records[0].ID, "disk full", 55))

	got, err := st.GetRecord(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecordStatusFailed, got.Status)
	assert.Equal(t, "disk full", got.ErrorMessage)
	assert.Equal(t, int64(55), got.ProcessingMs)

	err = st.FailRecord(ctx, "missing", "x", 0)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpdateRecordMessages(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "u", "x.xlsx", testLeads(1))
	require.NoError(t, err)
	records, err := st.ListRecords(ctx, job.ID)
	require.NoError(t, err)
	id := records[0].ID

	require.NoError(t, st.CompleteRecord(ctx, id, model.Enrichment{
		Messages: [model.MessageCount]string{"a", "b", "c"},
		ToneKey:  "regional_tone_usa",
	}, 1))

	require.NoError(t, st.UpdateRecordMessages(ctx, id, model.MessageUpdate{
		Messages:            map[int]string{2: "b2"},
		SelectedNewsIndices: []int{1, 3},
		ToneKey:             "regional_tone_uk",
	}))

	got, err := st.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Message1)
	assert.Equal(t, "b2", got.Message2)
	assert.Equal(t, "c", got.Message3)
	assert.Equal(t, []int{1, 3}, got.SelectedNewsIndices)
	assert.Equal(t, []int{}, got.SelectedCaseIndices)
	assert.Equal(t, "regional_tone_uk", got.ToneKey)
}

// --- Settings ---

func TestSQLite_Settings(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetSetting(ctx, "prompt_research")
	assert.True(t, errors.Is(err, ErrNotFound))

	added, err := st.SeedSettings(ctx, []model.Setting{
		{Key: "prompt_research", Value: "default", Category: model.SettingCategoryPrompts},
		{Key: "regional_tone_uk", Value: "polite", Category: model.SettingCategoryRegionalTone},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	require.NoError(t, st.SetSetting(ctx, model.Setting{Key: "prompt_research", Value: "custom"}))

	added, err = st.SeedSettings(ctx, []model.Setting{
		{Key: "prompt_research", Value: "default", Category: model.SettingCategoryPrompts},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, added, "seed never overwrites")

	got, err := st.GetSetting(ctx, "prompt_research")
	require.NoError(t, err)
	assert.Equal(t, "custom", got.Value)
	assert.Equal(t, model.SettingCategoryPrompts, got.Category)

	all, err := st.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Cases ---

func TestSQLite_Cases(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertCases(ctx, []model.Case{
		{ID: "10", Title: "Payments", Industry: "Fintech", Link: "https://c/10"},
		{ID: "2", Title: "Clinic", Industry: "Healthcare", Link: "https://c/2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = st.UpsertCases(ctx, []model.Case{
		{ID: "10", Title: "Payments v2", Industry: "Fintech", Link: "https://c/10"},
	})
	require.NoError(t, err)

	cases, err := st.ListCases(ctx)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "Payments v2", cases[0].Title)
}
