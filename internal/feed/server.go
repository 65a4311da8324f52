// Package feed exposes the stored anomaly stream as an HTTP/JSON query
// surface for dashboards and alerting consumers.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/oddsradar/internal/logger"
	"github.com/rewired-gh/oddsradar/internal/models"
	"github.com/rewired-gh/oddsradar/internal/storage"
)

const (
	defaultHours = 24
	defaultLimit = 100
	maxLimit     = 500
)

// Store is the query surface the feed needs from storage.
type Store interface {
	QueryAnomalies(filter storage.QueryFilter) ([]models.Anomaly, error)
	CountByKind(hours int) (map[models.AnomalyKind]int, error)
}

// Server serves the anomaly feed API.
type Server struct {
	addr  string
	store Store
}

// NewServer creates a feed server.
func NewServer(addr string, store Store) *Server {
	return &Server{addr: addr, store: store}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/anomalies", s.handleAnomalies)
	mux.HandleFunc("/api/anomalies/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealth)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("Feed server listening on %s", s.addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleAnomalies serves GET /api/anomalies?kind=&hours=&live=&limit=.
// kind accepts a comma-separated list; live accepts true/false.
func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := storage.QueryFilter{
		Hours: intParam(r, "hours", defaultHours),
		Limit: intParam(r, "limit", defaultLimit),
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	if raw := r.URL.Query().Get("kind"); raw != "" && raw != "all" {
		for _, part := range strings.Split(raw, ",") {
			kind := models.AnomalyKind(strings.TrimSpace(part))
			if !models.ValidKind(kind) {
				writeError(w, http.StatusBadRequest, "unknown kind: "+string(kind))
				return
			}
			filter.Kinds = append(filter.Kinds, kind)
		}
	}

	if raw := r.URL.Query().Get("live"); raw != "" {
		live, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "live must be true or false")
			return
		}
		filter.Live = &live
	}

	anomalies, err := s.store.QueryAnomalies(filter)
	if err != nil {
		logger.Error("Feed query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"count":     len(anomalies),
		"anomalies": anomalies,
	})
}

// handleStats serves GET /api/anomalies/stats?hours= with a count-by-kind
// summary.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	hours := intParam(r, "hours", defaultHours)
	counts, err := s.store.CountByKind(hours)
	if err != nil {
		logger.Error("Feed stats query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	total := 0
	byKind := make(map[string]int, len(counts))
	for kind, count := range counts {
		byKind[string(kind)] = count
		total += count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   total,
		"by_kind": byKind,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode feed response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
