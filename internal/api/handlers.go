package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jjjenkim/fis-results-scraper/internal/roster"
	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

const (
	defaultAthleteLimit = 100
	maxAthleteLimit     = 500
)

// listAthletes handles GET /v1/athletes?sector=&limit=&offset=.
func (s *Server) listAthletes(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultAthleteLimit, maxAthleteLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	athletes := roster.Filter(s.roster, r.URL.Query().Get("sector"))
	total := len(athletes)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	page := athletes[offset:end]
	if page == nil {
		page = []scrape.AthleteDescriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"athletes": page,
		"total":    total,
	})
}

// listResults handles GET /v1/results. It serves the latest full snapshot
// with an ETag so pollers can revalidate cheaply.
func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.snapshots.ReadSnapshot(r.Context())
	if err != nil {
		s.snapshotError(w, err)
		return
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("encode snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encode snapshot")
		return
	}
	etag := s.hasher.ETag(body)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write snapshot failed", zap.Error(err))
	}
}

// getResults handles GET /v1/results/{fisCode}. A fresher on-demand scrape
// held in the dashboard cache wins over the snapshot.
func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "fisCode")
	if res, ok := s.dashboard.Get(code); ok {
		w.Header().Set("X-Results-Source", "cache")
		writeJSON(w, http.StatusOK, res)
		return
	}
	snapshot, err := s.snapshots.ReadSnapshot(r.Context())
	if err != nil {
		s.snapshotError(w, err)
		return
	}
	res, ok := snapshot.Results[code]
	if !ok {
		writeError(w, http.StatusNotFound, "athlete not in latest snapshot")
		return
	}
	w.Header().Set("X-Results-Source", "snapshot")
	writeJSON(w, http.StatusOK, res)
}

// getHistory handles GET /v1/results/{fisCode}/history from the relational store.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "result history requires the sqlite store")
		return
	}
	code := chi.URLParam(r, "fisCode")
	rows, err := s.history.History(r.Context(), code)
	if err != nil {
		s.logger.Error("read result history", zap.String("fis_code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read result history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fisCode": code, "results": rows})
}

// scrapeAthlete handles POST /v1/athletes/{fisCode}/scrape?force=. The result
// is cached for the dashboard but never replaces the full-run snapshot. With
// force=true the orchestrator's cached copy is dropped first.
func (s *Server) scrapeAthlete(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "fisCode")
	if force, _ := strconv.ParseBool(r.URL.Query().Get("force")); force {
		if athlete, ok := roster.Find(s.roster, code); ok {
			s.scraper.Forget(athlete)
		}
	}
	res, summary, err := s.scraper.RunOne(r.Context(), s.roster, code)
	switch {
	case errors.Is(err, scrape.ErrAthleteNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Warn("on-demand scrape aborted", zap.String("fis_code", code), zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	}
	if summary.Failed > 0 {
		status := http.StatusBadGateway
		msg := "profile could not be scraped"
		if summary.Forbidden > 0 {
			msg = "profile blocked by federation site (403)"
		}
		writeJSON(w, status, map[string]any{"error": msg, "summary": summary})
		return
	}
	s.dashboard.Set(code, res)
	writeJSON(w, http.StatusOK, map[string]any{"athlete": res, "summary": summary})
}

// stats handles GET /v1/stats.
func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"orchestrator": s.scraper.Stats(),
		"cache":        s.dashboard.Stats(),
	}
	if latest, ok := s.snapshots.(*Latest); ok {
		if summary, ok := latest.Summary(); ok {
			body["lastRun"] = summary
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) snapshotError(w http.ResponseWriter, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no completed run yet")
		return
	}
	s.logger.Error("read latest snapshot", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to read latest snapshot")
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := strings.TrimSpace(q.Get("limit")); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := strings.TrimSpace(q.Get("offset")); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
