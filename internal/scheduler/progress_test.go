package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/outreach-cli/internal/model"
)

func recs(statuses ...model.RecordStatus) []model.Record {
	out := make([]model.Record, len(statuses))
	for i, s := range statuses {
		out[i] = model.Record{Status: s}
	}
	return out
}

const (
	pending    = model.RecordStatusPending
	processing = model.RecordStatusProcessing
	completed  = model.RecordStatusCompleted
	failed     = model.RecordStatusFailed
)

func TestAggregateJobStatus(t *testing.T) {
	tests := []struct {
		name    string
		current model.JobStatus
		records []model.Record
		want    model.JobStatus
	}{
		{"no records", model.JobStatusPending, nil, model.JobStatusPending},
		{"all pending", model.JobStatusPending, recs(pending, pending), model.JobStatusPending},
		{"one processing", model.JobStatusPending, recs(processing, pending), model.JobStatusProcessing},
		{"one done", model.JobStatusProcessing, recs(completed, pending), model.JobStatusProcessing},
		{"all completed", model.JobStatusProcessing, recs(completed, completed), model.JobStatusCompleted},
		{"some failed", model.JobStatusProcessing, recs(completed, failed), model.JobStatusCompletedWithErrors},
		{"all failed", model.JobStatusProcessing, recs(failed, failed), model.JobStatusFailed},
		{"failed but unfinished", model.JobStatusProcessing, recs(failed, pending), model.JobStatusProcessing},
		{"cancelled stays", model.JobStatusCancelled, recs(completed, completed), model.JobStatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateJobStatus(tt.current, tt.records))
		})
	}
}

func TestAggregateJobStatus_DegradedCountsAsCompleted(t *testing.T) {
	records := recs(completed, completed)
	records[1].Degraded = true
	assert.Equal(t, model.JobStatusCompleted, AggregateJobStatus(model.JobStatusProcessing, records))
}

func TestEstimateProgress(t *testing.T) {
	records := recs(completed, completed, failed, processing, pending, pending, pending)
	records[0].ProcessingMs = 4000
	records[1].ProcessingMs = 2000
	records[1].Degraded = true
	records[2].ProcessingMs = 6000

	p := EstimateProgress(model.Job{Status: model.JobStatusProcessing, TotalRecords: 7}, records, 5)

	assert.Equal(t, 7, p.Total)
	assert.Equal(t, 3, p.Pending)
	assert.Equal(t, 1, p.Processing)
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 1, p.Failed)
	assert.Equal(t, 1, p.Degraded)
	assert.Equal(t, 3, p.Done())
	assert.InDelta(t, 42.9, p.Percent, 0.001)
	// Four remaining records fit in one batch of the 4s mean.
	assert.Equal(t, 4*time.Second, p.ETA)
}

func TestEstimateProgress_NoHistory(t *testing.T) {
	p := EstimateProgress(model.Job{Status: model.JobStatusPending, TotalRecords: 2}, recs(pending, pending), 5)
	assert.Zero(t, p.Percent)
	assert.Zero(t, p.ETA)
}

func TestEstimateProgress_Finished(t *testing.T) {
	p := EstimateProgress(model.Job{Status: model.JobStatusCompleted, TotalRecords: 2}, recs(completed, completed), 5)
	assert.Equal(t, 100.0, p.Percent)
	assert.Zero(t, p.ETA)
}

func TestEstimateProgress_ManyBatches(t *testing.T) {
	records := recs(completed, pending, pending, pending, pending, pending, pending)
	records[0].ProcessingMs = 1500
	p := EstimateProgress(model.Job{Status: model.JobStatusProcessing}, records, 5)
	assert.Equal(t, 7, p.Total)
	assert.Equal(t, 3*time.Second, p.ETA)
}
