// Package api serves the read-only status surface over HTTP.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wikilearn/metasync/pkg/store"
)

// Server exposes translation status for dashboards. It never mutates state.
type Server struct {
	store     *store.Store
	logger    *slog.Logger
	startedAt time.Time
}

// NewServer creates a status server. A nil logger falls back to slog.Default.
func NewServer(st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, logger: logger, startedAt: time.Now()}
}

// Routes builds the router with all status endpoints mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/blocks/{blockID}/status", s.blockStatusHandler)
		r.Get("/courses/{courseID}/blocks", s.courseBlocksHandler)
		r.Get("/courses/{courseID}", s.courseHandler)
		r.Get("/runs", s.runsHandler)
	})

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readyHandler)

	return r
}

// blockSummary is the per-block row of a course listing.
type blockSummary struct {
	BlockID    string `json:"block_id"`
	ParentID   string `json:"parent_id,omitempty"`
	BlockType  string `json:"block_type"`
	Direction  string `json:"direction"`
	Translated bool   `json:"translated"`
	Applied    bool   `json:"applied"`
	Deleted    bool   `json:"deleted"`
}

func (s *Server) blockStatusHandler(w http.ResponseWriter, r *http.Request) {
	blockID := chi.URLParam(r, "blockID")

	status, err := s.store.StatusSnapshot(blockID)
	if err != nil {
		s.logger.Error("status lookup failed", "block_id", blockID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load block status")
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "unknown block "+blockID)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) courseBlocksHandler(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"

	blocks, err := s.store.BlocksForCourse(courseID, !includeDeleted)
	if err != nil {
		s.logger.Error("course listing failed", "course_id", courseID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list course blocks")
		return
	}

	summaries := make([]blockSummary, 0, len(blocks))
	for _, block := range blocks {
		summaries = append(summaries, blockSummary{
			BlockID:    block.BlockID,
			ParentID:   block.ParentID,
			BlockType:  block.BlockType,
			Direction:  block.Direction,
			Translated: block.Translated,
			Applied:    block.AppliedTranslation,
			Deleted:    block.Deleted,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"course_id": courseID,
		"blocks":    summaries,
		"count":     len(summaries),
	})
}

func (s *Server) courseHandler(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")

	link, err := s.store.CourseLinkForCourse(courseID)
	if err != nil {
		s.logger.Error("course link lookup failed", "course_id", courseID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load course link")
		return
	}
	if link == nil {
		writeError(w, http.StatusNotFound, "course "+courseID+" is not linked to a base course")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	runs, err := s.store.RecentSyncRuns(limit)
	if err != nil {
		s.logger.Error("run listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sync runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler verifies database connectivity.
func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	sqlDB, err := s.store.DB().DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
