package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	all := s.deps.Settings.GetAll(r.Context())
	if all == nil {
		all = []model.Setting{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Server) updateSetting(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	var req struct {
		Value *string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := s.deps.Settings.Update(r.Context(), key, *req.Value); err != nil {
		internalError(w, r, "update setting", err)
		return
	}

	zap.L().Info("setting updated", zap.String("key", key), zap.String("user", UserFrom(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": *req.Value})
}
