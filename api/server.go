// Package api serves the control plane and the warehouse read models over
// HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bds-warehouse/controlplane"
	"bds-warehouse/models"
	"bds-warehouse/pipeline"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
)

const defaultProcessLimit = 50

// Server exposes the HTTP API.
type Server struct {
	pipeline *pipeline.Pipeline
	control  *storage.ControlStore
	facts    *storage.FactStore
	mart     *storage.MartStore
	logger   *utils.Logger
	router   *mux.Router
}

// NewServer builds the router over p and the read stores.
func NewServer(p *pipeline.Pipeline, stores *storage.Stores, logger *utils.Logger) *Server {
	s := &Server{
		pipeline: p,
		control:  storage.NewControlStore(stores.Control),
		facts:    storage.NewFactStore(stores.Warehouse),
		mart:     storage.NewMartStore(stores.Mart),
		logger:   logger,
		router:   mux.NewRouter(),
	}

	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/stages/{stage}/run", s.handleRunStage).Methods("POST")
	r.HandleFunc("/batches", s.handleBatches).Methods("GET")
	r.HandleFunc("/batches/{id:[0-9]+}", s.handleBatch).Methods("GET")
	r.HandleFunc("/processes", s.handleProcesses).Methods("GET")

	r.HandleFunc("/listings/current", s.handleCurrentListings).Methods("GET")
	r.HandleFunc("/listings", s.handleListingsAsOf).Methods("GET")
	r.HandleFunc("/listings/{key}/history", s.handleHistory).Methods("GET")

	r.HandleFunc("/mart/districts", s.handleDistricts).Methods("GET")
	r.HandleFunc("/mart/type-months", s.handleTypeMonths).Methods("GET")
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.control.DB().PingContext(ctx); err != nil {
		respondError(w, s.logger, http.StatusServiceUnavailable, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	stage := mux.Vars(r)["stage"]
	// the stage outlives a dropped client
	ctx := context.WithoutCancel(r.Context())

	res, err := s.pipeline.RunStage(ctx, "", stage)
	switch {
	case err == nil:
		respondJSON(w, s.logger, http.StatusOK, res)
	case errors.Is(err, controlplane.ErrUnknownStage):
		respondError(w, s.logger, http.StatusNotFound, err)
	case errors.Is(err, controlplane.ErrStageBusy):
		respondError(w, s.logger, http.StatusConflict, err)
	case errors.Is(err, controlplane.ErrNoEligibleBatch):
		respondJSON(w, s.logger, http.StatusOK, controlplane.Result{Stage: stage, Skipped: true, Detail: err.Error()})
	case res != nil:
		respondJSON(w, s.logger, http.StatusInternalServerError, res)
	default:
		respondError(w, s.logger, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	var statuses []models.BatchStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, code := range strings.Split(raw, ",") {
			st, err := models.ParseBatchStatus(strings.TrimSpace(code))
			if err != nil {
				respondError(w, s.logger, http.StatusBadRequest, err)
				return
			}
			statuses = append(statuses, st)
		}
	}

	files, err := s.control.ListFiles(r.Context(), statuses...)
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, nonNil(files))
}

type batchDetail struct {
	Batch     *models.FileRecord     `json:"batch"`
	Processes []models.ProcessRecord `json:"processes"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, s.logger, http.StatusBadRequest, err)
		return
	}

	batch, err := s.control.GetFile(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, s.logger, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	procs, err := s.control.ProcessesForFile(r.Context(), id)
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, batchDetail{Batch: batch, Processes: nonNil(procs)})
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	limit := defaultProcessLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, s.logger, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = n
	}

	procs, err := s.control.ListProcesses(r.Context(), limit)
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, nonNil(procs))
}

func (s *Server) handleCurrentListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listings, err := s.facts.CurrentListings(r.Context(), storage.ListingFilter{
		District:     q.Get("district"),
		PropertyType: q.Get("type"),
		City:         q.Get("city"),
	})
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, nonNil(listings))
}

func (s *Server) handleListingsAsOf(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("as_of")
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		respondError(w, s.logger, http.StatusBadRequest, fmt.Errorf("as_of must be YYYY-MM-DD, got %q", raw))
		return
	}

	listings, err := s.facts.ListingsAsOf(r.Context(), day)
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, nonNil(listings))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	versions, err := s.facts.History(r.Context(), key)
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	if len(versions) == 0 {
		respondError(w, s.logger, http.StatusNotFound, fmt.Errorf("listing %q not found", key))
		return
	}
	respondJSON(w, s.logger, http.StatusOK, versions)
}

func (s *Server) handleDistricts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.mart.Districts(r.Context())
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, nonNil(rows))
}

func (s *Server) handleTypeMonths(w http.ResponseWriter, r *http.Request) {
	rows, err := s.mart.TypeMonths(r.Context())
	if err != nil {
		respondError(w, s.logger, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s.logger, http.StatusOK, nonNil(rows))
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
