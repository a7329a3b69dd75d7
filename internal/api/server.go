// Package api exposes jobs, records, settings and the scheduler over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/scheduler"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Store is the persistence the API reads and writes directly.
type Store interface {
	CreateJob(ctx context.Context, userID, filename string, leads []model.Lead) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	ListRecords(ctx context.Context, jobID string) ([]model.Record, error)
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	CancelJob(ctx context.Context, id string) error
}

// Settings reads and updates templates.
type Settings interface {
	GetAll(ctx context.Context) []model.Setting
	Update(ctx context.Context, key, value string) error
}

// Regenerator redrafts messages of a completed record.
type Regenerator interface {
	Regenerate(ctx context.Context, req pipeline.RegenerateRequest) (*pipeline.RegenerateResult, error)
}

// CaseMatcher picks reference cases for an opportunity.
type CaseMatcher interface {
	MatchCasesForOpportunity(ctx context.Context, company, industry, country string) []model.MatchedCase
}

// Ticker runs one scheduler tick on demand.
type Ticker interface {
	ProcessPendingRecords(ctx context.Context) (scheduler.Result, error)
	BatchSize() int
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Store       Store
	Settings    Settings
	Regenerator Regenerator
	Cases       CaseMatcher
	Scheduler   Ticker
}

// Options configure authentication, CORS and upload limits.
type Options struct {
	// APIToken is the bearer token every request except /health must carry.
	// Empty disables authentication.
	APIToken       string
	AllowedOrigins []string
	MaxUploadBytes int64
}

const defaultMaxUpload = 10 << 20

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
	opts Options
}

// New creates a Server.
func New(deps Deps, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{deps: deps, opts: opts}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", userHeader},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/records", s.listRecords)
				r.Post("/cancel", s.cancelJob)
				r.Get("/export", s.exportJob)
			})
		})
		r.Post("/records/{id}/regenerate", s.regenerate)
		r.Post("/cases/match", s.matchCases)
		r.Post("/scheduler/tick", s.tick)
		r.Get("/settings", s.listSettings)
		r.Put("/settings/{key}", s.updateSetting)
	})

	return r
}

// requestLogger logs one line per request with zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs err and writes a generic 500.
func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	zap.L().Error("api: "+op,
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}
