package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kvlens/kvlens/internal/preview"
)

// API response envelope shared by every JSON endpoint
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// InfoResponse describes the opened store and loaded configuration.
type InfoResponse struct {
	*preview.Info
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// SearchResponse carries the preview results of one search.
type SearchResponse struct {
	Results []preview.Result `json:"results"`
	Count   int              `json:"count"`
}

// Version is stamped at build time.
var Version = "dev"

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
	s.logger.WithField("error", message).WithField("status", statusCode).Warn("API error")
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Info(r.Context())
	if err != nil {
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, InfoResponse{
		Info:          info,
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req preview.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	scope := s.artifacts.NewScope()
	results, err := s.service.Search(r.Context(), scope, req)
	if err != nil {
		// Artifacts from the partial run must not outlive the failed
		// request.
		scope.Release()
		s.metricsManager.RecordSearch(string(req.Mode), 0, time.Since(start), false)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, "Search cancelled", statusClientClosedRequest)
			return
		}
		s.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The response references artifact IDs, so hand them to the manager
	// for TTL-bounded serving.
	s.artifacts.Adopt(scope)
	s.metricsManager.SetArtifactsServed(s.artifacts.Count())
	s.metricsManager.RecordSearch(string(req.Mode), len(results), time.Since(start), true)

	s.writeJSON(w, SearchResponse{Results: results, Count: len(results)})
}

// statusClientClosedRequest is the nginx convention for a request abandoned
// by the client.
const statusClientClosedRequest = 499

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	path, ok := s.artifacts.Lookup(id)
	if !ok {
		s.writeError(w, "Artifact not found or expired", http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Stats(r.Context()); err != nil {
		s.writeError(w, "Store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]string{"status": "healthy"})
}
