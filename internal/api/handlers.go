package api

import (
	"net/http"
	"time"

	"grimm.is/audiolink/internal/brand"
	"grimm.is/audiolink/internal/clock"
	"grimm.is/audiolink/internal/config"
	"grimm.is/audiolink/internal/graph"
	"grimm.is/audiolink/internal/journal"
	"grimm.is/audiolink/internal/logging"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: brand.Version,
		Uptime:  clock.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown role", r.PathValue("role"))
		return
	}
	WriteJSON(w, http.StatusOK, s.ctl.Entries(role))
}

type selectionRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleSetSelection(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown role", r.PathValue("role"))
		return
	}
	var req selectionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	keys := make([]graph.Key, 0, len(req.Keys))
	for _, k := range req.Keys {
		keys = append(keys, graph.Key(k))
	}
	if err := s.ctl.SetSelection(role, keys); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.ctl.Entries(role))
}

func (s *Server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown role", r.PathValue("role"))
		return
	}
	if err := s.ctl.ClearSelection(role); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.ctl.Entries(role))
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetAuto(w http.ResponseWriter, r *http.Request) {
	role, ok := roleParam(r)
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown role", r.PathValue("role"))
		return
	}
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ctl.SetAuto(role, req.Enabled); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleSetStreaming(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.ctl.SetStreaming(req.Enabled); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.ctl.Status())
}

type gainRequest struct {
	DB *float64 `json:"db"`
}

func (s *Server) handleSetGain(w http.ResponseWriter, r *http.Request) {
	var req gainRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DB == nil {
		WriteError(w, http.StatusBadRequest, "db is required")
		return
	}
	if *req.DB < config.MinGainDB || *req.DB > config.MaxGainDB {
		WriteError(w, http.StatusBadRequest, "db out of range")
		return
	}
	if err := s.ctl.SetHubGain(*req.DB); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, s.ctl.Status())
}

type routeProcessRequest struct {
	PID int `json:"pid"`
}

func (s *Server) handleRouteProcess(w http.ResponseWriter, r *http.Request) {
	var req routeProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PID <= 0 {
		WriteError(w, http.StatusBadRequest, "pid must be positive")
		return
	}
	if err := s.ctl.RouteProcess(req.PID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		WriteError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	f := journal.Filter{
		Limit:   limitParam(r, 100, 1000),
		Session: r.URL.Query().Get("session"),
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		f.Kinds = []string{kind}
	}
	entries, err := s.journal.Query(f)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "journal query failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := logging.LogQuery{
		Component: r.URL.Query().Get("component"),
		Limit:     limitParam(r, 100, 1000),
	}
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		if _, err := logging.ParseLevel(lvl); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		q.MinLevel = lvl
	}
	WriteJSON(w, http.StatusOK, s.logs.Query(q))
}
