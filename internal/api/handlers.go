package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/kurve-cli/internal/model"
	"github.com/sells-group/kurve-cli/internal/store"
)

const defaultRunLimit = 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "rows": n})
}

func parseRange(r *http.Request) (store.Range, error) {
	q := r.URL.Query()
	return store.ParseRange(q.Get("from"), q.Get("to"))
}

func (s *Server) granularityParam(w http.ResponseWriter, r *http.Request) (model.Granularity, bool) {
	g, err := model.ParseGranularity(chi.URLParam(r, "granularity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return g, true
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	g, ok := s.granularityParam(w, r)
	if !ok {
		return
	}
	if !g.HasReadings() {
		writeError(w, http.StatusNotFound, "no readings are stored at "+g.String()+" granularity")
		return
	}
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.store.Readings(r.Context(), g, rng)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.MeterReading{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listAverages(w http.ResponseWriter, r *http.Request) {
	g, ok := s.granularityParam(w, r)
	if !ok {
		return
	}
	if !g.HasAverages() {
		writeError(w, http.StatusNotFound, "no averages are stored at "+g.String()+" granularity")
		return
	}
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.store.Averages(r.Context(), g, rng)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.ConsumptionAverages{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) listTariffs(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Tariffs(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if rows == nil {
		rows = []model.Tariff{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) currentTariff(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.CurrentTariff(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "no current tariff")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.IngestRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
