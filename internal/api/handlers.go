package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/pxshell/internal/results"
)

const maxHistoryLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Engines != nil {
		for _, e := range s.deps.Engines.Status() {
			resp.Engines++
			if e.Busy {
				resp.EnginesBusy++
			}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleConfig handles GET /config.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cur := s.deps.Settings.Snapshot()
	sig := "none"
	if cur.InterruptSignal != nil {
		sig = cur.InterruptSignal.Name
	}
	respondJSON(w, http.StatusOK, ConfigResponse{
		Targets:              cur.Targets.String(),
		Block:                cur.Block,
		StreamOutput:         cur.StreamOutput,
		Verbose:              cur.Verbose,
		ProgressAfterSeconds: cur.ProgressAfter.Seconds(),
		SignalOnInterrupt:    sig,
		GroupOutputs:         string(cur.GroupBy),
	})
}

// handleEngines handles GET /engines.
func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engines == nil {
		s.writeError(w, http.StatusServiceUnavailable, "engine pool unavailable")
		return
	}
	respondJSON(w, http.StatusOK, EnginesResponse{Engines: s.deps.Engines.Status()})
}

// handleLastResult handles GET /results/last. It never blocks on a running submission.
func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Results.FetchLast()
	if errors.Is(err, results.ErrNoPreviousResult) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to fetch last result", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to fetch last result")
		return
	}

	resp := ResultResponse{
		ID:          h.ID(),
		SubmittedAt: h.SubmittedAt(),
		Targets:     h.Targets(),
		Done:        h.Done(),
		OutputReady: h.OutputReady(),
	}
	if resp.Done {
		res, getErr := h.Get(r.Context())
		for _, out := range res {
			resp.Results = append(resp.Results, EngineResult{
				Engine:   out.Engine,
				Stdout:   out.Stdout,
				Stderr:   out.Stderr,
				ExitCode: out.ExitCode,
			})
		}
		if getErr != nil {
			resp.Error = getErr.Error()
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleHistory handles GET /history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	resp := HistoryResponse{Submissions: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Submissions = append(resp.Submissions, HistoryEntry{
			ID:          e.ID,
			Command:     e.Command,
			Digest:      e.CommandDigest,
			Targets:     e.Targets,
			Blocking:    e.Blocking,
			Status:      string(e.Status),
			Error:       e.Error,
			SubmittedAt: e.SubmittedAt,
			CompletedAt: e.CompletedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.APIKey != ""))
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
