package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/sheet"
	"github.com/sells-group/outreach-cli/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// jobView is a job with its derived progress.
type jobView struct {
	Job      model.Job      `json:"job"`
	Progress model.Progress `json:"progress"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	leads, err := sheet.ReadLeads(data, hdr.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.deps.Store.CreateJob(r.Context(), UserFrom(r.Context()), hdr.Filename, leads)
	if err != nil {
		internalError(w, r, "create job", err)
		return
	}

	zap.L().Info("job created",
		zap.String("job_id", job.ID),
		zap.String("filename", job.Filename),
		zap.Int("records", job.TotalRecords),
	)
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{Status: model.JobStatus(q.Get("status"))}
	if q.Get("all") != "true" {
		filter.UserID = UserFrom(r.Context())
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	jobs, err := s.deps.Store.ListJobs(r.Context(), filter)
	if err != nil {
		internalError(w, r, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, records, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobView{
		Job:      *job,
		Progress: scheduler.EstimateProgress(*job, records, s.deps.Scheduler.BatchSize()),
	})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	_, records, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.ownedJob(w, r, id); !ok {
		return
	}
	err := s.deps.Store.CancelJob(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, store.ErrNotCancellable):
		writeError(w, http.StatusConflict, "job already finished")
		return
	case err != nil:
		internalError(w, r, "cancel job", err)
		return
	}

	zap.L().Info("job cancelled", zap.String("job_id", id), zap.String("user", UserFrom(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(model.JobStatusCancelled)})
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	job, records, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := sheet.WriteExport(&buf, records); err != nil {
		internalError(w, r, "export job", err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sheet.ExportFilename(job.Filename)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		zap.L().Debug("api: write export", zap.Error(err))
	}
}

// loadJob fetches the job named in the path and its records, writing the
// error response itself when it returns false.
func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*model.Job, []model.Record, bool) {
	id := chi.URLParam(r, "id")
	job, ok := s.ownedJob(w, r, id)
	if !ok {
		return nil, nil, false
	}

	records, err := s.deps.Store.ListRecords(r.Context(), id)
	if err != nil {
		internalError(w, r, "list records", err)
		return nil, nil, false
	}
	return job, records, true
}

// ownedJob fetches a job that belongs to the caller. Jobs of other users
// answer 404 like missing ones.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request, id string) (*model.Job, bool) {
	job, err := s.deps.Store.GetJob(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	case err != nil:
		internalError(w, r, "get job", err)
		return nil, false
	case job.UserID != UserFrom(r.Context()):
		zap.L().Info("api: job owned by another user",
			zap.String("job_id", id),
			zap.String("user", UserFrom(r.Context())),
		)
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
