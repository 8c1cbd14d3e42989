// Package api is the HTTP front end: authenticated, paginated reads over
// the query layer plus an on-demand pipeline trigger. Pipeline failures
// surface as "stale data, retry later"; store error text never leaks to
// clients.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"calidad/internal/config"
	"calidad/internal/pipeline"
	"calidad/internal/storage"
)

// Server serves the JSON API.
type Server struct {
	cfg     config.APIConfig
	records *storage.RecordStore
	runs    *storage.RunLogStore
	runner  *pipeline.Runner
}

// NewServer wires the API over the query layer and the pipeline runner.
// runner may be nil, which disables the trigger endpoint.
func NewServer(cfg config.APIConfig, records *storage.RecordStore, runs *storage.RunLogStore, runner *pipeline.Runner) *Server {
	return &Server{cfg: cfg, records: records, runs: runs, runner: runner}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := r.PathPrefix("/api/v1").Subrouter()
	authed.Use(mux.MiddlewareFunc(s.requireAuth))
	authed.HandleFunc("/data/{dataType}", s.handleQuery).Methods(http.MethodPost)
	authed.HandleFunc("/data/{dataType}/stats", s.handleStats).Methods(http.MethodGet)
	authed.HandleFunc("/data/{dataType}/runs", s.handleRuns).Methods(http.MethodGet)
	authed.HandleFunc("/pipeline/run/{dataType}", s.handlePipelineRun).Methods(http.MethodPost)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queryRequest is the filter/pagination body for data reads.
type queryRequest struct {
	Filters map[string]string `json:"filters"`
	Empresa string            `json:"empresa"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	dataType := mux.Vars(r)["dataType"]

	req := queryRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	// The query layer is unbounded by contract; the boundary caps.
	limit := req.Limit
	if limit <= 0 || limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	records, err := s.records.Query(r.Context(), storage.QueryParams{
		DataType: dataType,
		Filters:  req.Filters,
		Empresa:  req.Empresa,
		Limit:    limit,
		Offset:   req.Offset,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUnknownFilterField) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("api: query %s: %v", dataType, err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	dataType := mux.Vars(r)["dataType"]
	stats, err := s.records.Stats(r.Context(), dataType)
	if err != nil {
		log.Printf("api: stats %s: %v", dataType, err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	dataType := mux.Vars(r)["dataType"]
	logs, err := s.runs.List(r.Context(), dataType, 50)
	if err != nil {
		log.Printf("api: runs %s: %v", dataType, err)
		writeError(w, http.StatusInternalServerError, "run history failed")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotImplemented, "pipeline trigger not configured")
		return
	}
	dataType := mux.Vars(r)["dataType"]

	result, err := s.runner.Run(r.Context(), dataType)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeError(w, http.StatusConflict, "a run for this data type is already in progress")
	case err != nil:
		log.Printf("api: pipeline run %s: %v", dataType, err)
		writeError(w, http.StatusServiceUnavailable, "pipeline run failed; stored data is stale, retry later")
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
