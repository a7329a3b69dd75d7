package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

type regenerateRequest struct {
	MessageNumber       int    `json:"message_number"`
	SelectedNewsIndices []int  `json:"selected_news_indices"`
	SelectedCaseIndices []int  `json:"selected_case_indices"`
	Tone                string `json:"tone"`
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := s.deps.Store.GetRecord(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
		return
	case err != nil:
		internalError(w, r, "get record", err)
		return
	}
	if _, ok := s.ownedJob(w, r, rec.JobID); !ok {
		return
	}

	res, err := s.deps.Regenerator.Regenerate(r.Context(), pipeline.RegenerateRequest{
		RecordID:            id,
		MessageNumber:       req.MessageNumber,
		SelectedNewsIndices: req.SelectedNewsIndices,
		SelectedCaseIndices: req.SelectedCaseIndices,
		ToneOverride:        req.Tone,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
		return
	case errors.Is(err, pipeline.ErrInvalidMessage), errors.Is(err, pipeline.ErrInvalidTone):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, pipeline.ErrNotRegenerable):
		writeError(w, http.StatusConflict, "record is not completed")
		return
	case err != nil:
		internalError(w, r, "regenerate", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type matchCasesRequest struct {
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
	Country     string `json:"country"`
}

func (s *Server) matchCases(w http.ResponseWriter, r *http.Request) {
	var req matchCasesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		writeError(w, http.StatusBadRequest, "company_name is required")
		return
	}

	cases := s.deps.Cases.MatchCasesForOpportunity(r.Context(), req.CompanyName, req.Industry, req.Country)
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Scheduler.ProcessPendingRecords(r.Context())
	if err != nil {
		internalError(w, r, "scheduler tick", err)
		return
	}
	zap.L().Info("manual tick",
		zap.String("user", UserFrom(r.Context())),
		zap.Int("records", res.RecordsProcessed),
	)
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
