// Package api exposes the HTTP surface. Routing and identity are thin
// collaborators here: identity verification happens upstream and arrives
// as a trusted header, and all real behavior lives in the upload, query,
// and store packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tettehnarh/serverless-invoice-scanner/internal/apperr"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/config"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/model"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/query"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/store"
	"github.com/tettehnarh/serverless-invoice-scanner/internal/upload"
)

// ownerHeader carries the verified principal set by the upstream
// authorizer. Requests without it are rejected.
const ownerHeader = "X-Owner-Id"

// Server exposes HTTP endpoints for grants and record visibility.
type Server struct {
	cfg     *config.Config
	grants  *upload.Service
	queries *query.Service
	server  *http.Server
	once    sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, grants *upload.Service, queries *query.Service) *Server {
	return &Server{cfg: cfg, grants: grants, queries: queries}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/invoices", s.handleList)
	mux.HandleFunc("/invoices/", s.handleInvoiceRoute)
	return loggingMiddleware(mux)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// envelope is the shared response shape: success plus data, or an error
// code and message.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		log.Printf("internal error: %v", err)
		respondJSON(w, http.StatusInternalServerError, envelope{
			Success: false,
			Error:   "INTERNAL_ERROR",
			Message: "internal error",
		})
		return
	}
	respondJSON(w, kind.HTTPStatus(), envelope{
		Success: false,
		Error:   kind.String(),
		Message: err.Error(),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ownerID := r.Header.Get(ownerHeader)
	opts := store.ListOptions{
		Cursor: r.URL.Query().Get("cursor"),
		Status: model.InvoiceStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, apperr.Newf(apperr.KindValidation, "invalid limit %q", raw))
			return
		}
		opts.Limit = limit
	}
	page, err := s.queries.List(r.Context(), ownerID, opts)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, listResponse{
		Items:      page.Items,
		NextCursor: page.NextCursor,
		Count:      len(page.Items),
	})
}

type listResponse struct {
	Items      []model.InvoiceRecord `json:"items"`
	NextCursor string                `json:"nextCursor,omitempty"`
	Count      int                   `json:"count"`
}

func (s *Server) handleInvoiceRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/invoices/")
	switch rest {
	case "grants":
		s.handleGrant(w, r)
	case "stats":
		s.handleStats(w, r)
	case "search":
		s.handleSearch(w, r)
	case "":
		http.NotFound(w, r)
	default:
		s.handleGet(w, r, rest)
	}
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req upload.GrantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, apperr.Wrap(apperr.KindValidation, "invalid grant request body", err))
		return
	}
	grant, err := s.grants.Grant(r.Context(), r.Header.Get(ownerHeader), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusCreated, grant)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rec, err := s.queries.Get(r.Context(), id, r.Header.Get(ownerHeader))
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.queries.Stats(r.Context(), r.Header.Get(ownerHeader))
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, stats)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	matches, err := s.queries.Search(r.Context(), r.Header.Get(ownerHeader), r.URL.Query().Get("q"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, listResponse{Items: matches, Count: len(matches)})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
