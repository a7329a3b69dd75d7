package scheduler

import (
	"math"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

// AggregateJobStatus derives a job's status from its records. Cancelled jobs
// and jobs without records keep their current status.
func AggregateJobStatus(current model.JobStatus, records []model.Record) model.JobStatus {
	if current == model.JobStatusCancelled || len(records) == 0 {
		return current
	}

	var failed, terminal, processing int
	for _, r := range records {
		switch {
		case r.Status == model.RecordStatusFailed:
			failed++
			terminal++
		case r.Status.IsTerminal():
			terminal++
		case r.Status == model.RecordStatusProcessing:
			processing++
		}
	}

	switch {
	case terminal == len(records) && failed == len(records):
		return model.JobStatusFailed
	case terminal == len(records) && failed > 0:
		return model.JobStatusCompletedWithErrors
	case terminal == len(records):
		return model.JobStatusCompleted
	case processing > 0 || terminal > 0:
		return model.JobStatusProcessing
	default:
		return current
	}
}

// EstimateProgress counts records by status and projects the remaining time
// from the mean duration of processed records, assuming batchSize records run
// per tick.
func EstimateProgress(job model.Job, records []model.Record, batchSize int) model.Progress {
	p := model.Progress{Total: job.TotalRecords}
	if len(records) > p.Total {
		p.Total = len(records)
	}

	var totalMs int64
	for _, r := range records {
		switch r.Status {
		case model.RecordStatusPending:
			p.Pending++
		case model.RecordStatusProcessing:
			p.Processing++
		case model.RecordStatusCompleted:
			p.Completed++
			if r.Degraded {
				p.Degraded++
			}
		case model.RecordStatusFailed:
			p.Failed++
		}
		if r.Status.IsTerminal() {
			totalMs += r.ProcessingMs
		}
	}

	if p.Total > 0 {
		p.Percent = math.Round(float64(p.Done())/float64(p.Total)*1000) / 10
	}

	remaining := p.Pending + p.Processing
	if remaining == 0 || p.Done() == 0 || job.Status.IsTerminal() {
		return p
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	mean := time.Duration(totalMs/int64(p.Done())) * time.Millisecond
	batches := (remaining + batchSize - 1) / batchSize
	p.ETA = time.Duration(batches) * mean
	return p
}
