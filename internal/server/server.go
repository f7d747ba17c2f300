// Package server provides the HTTP control plane and handlers.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bryan-buckman/instarelay/internal/accountsfile"
	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/monitor"
	"github.com/bryan-buckman/instarelay/internal/registry"
)

// Control is what the API exposes. *monitor.Control implements it.
type Control interface {
	AddAccount(ctx context.Context, username, channelID string) (model.Account, error)
	RemoveAccount(ctx context.Context, username string) error
	SetEnabled(ctx context.Context, username string, enabled bool) error
	ListAccounts(ctx context.Context) ([]model.Account, error)
	ImportAccounts(ctx context.Context, accounts []model.Account) (int, error)
	CycleStatus(ctx context.Context) (model.CycleStatus, error)
	RunCycle(ctx context.Context) (monitor.Result, error)
}

// Config configures a Server.
type Config struct {
	Control       Control
	OperatorToken string

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

// Server is the control plane HTTP server.
type Server struct {
	control Control
	token   string
	logger  logging.Logger
	router  chi.Router
	http    *http.Server
}

// New creates a new server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		control: cfg.Control,
		token:   cfg.OperatorToken,
		logger:  logger,
	}
	s.setupRoutes(cfg.Gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts", s.handleAddAccount)
		r.Post("/accounts/import", s.handleImportAccounts)
		r.Get("/accounts/export", s.handleExportAccounts)
		r.Delete("/accounts/{username}", s.handleRemoveAccount)
		r.Patch("/accounts/{username}", s.handleUpdateAccount)
		r.Get("/status", s.handleStatus)
		r.Post("/cycle", s.handleRunCycle)
	})

	s.router = r
}

// Handler returns the router, used by tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.WithField("addr", addr).Info("Control plane listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requireToken rejects requests without the operator bearer token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.control.ListAccounts(r.Context())
	if err != nil {
		s.internalError(w, "list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		ChannelID string `json:"channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	account, err := s.control.AddAccount(r.Context(), req.Username, req.ChannelID)
	if errors.Is(err, registry.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "add account", err)
		return
	}
	s.logger.WithFields(logging.Fields{"username": account.Username, "channel_id": account.ChannelID}).Info("Account added")
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	err := s.control.RemoveAccount(r.Context(), username)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "remove account", err)
		return
	}
	s.logger.WithField("username", username).Info("Account removed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	err := s.control.SetEnabled(r.Context(), username, *req.Enabled)
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "update account", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "enabled": *req.Enabled})
}

func (s *Server) handleImportAccounts(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("accounts")
		if err != nil {
			writeError(w, http.StatusBadRequest, "no file provided")
			return
		}
		defer file.Close()
		body = file
	}

	accounts, err := accountsfile.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse accounts: %v", err))
		return
	}
	imported, err := s.control.ImportAccounts(r.Context(), accounts)
	if errors.Is(err, registry.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "import accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": imported,
		"total":    len(accounts),
	})
}

func (s *Server) handleExportAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.control.ListAccounts(r.Context())
	if err != nil {
		s.internalError(w, "list accounts", err)
		return
	}
	data, err := accountsfile.Export("instarelay accounts", accounts)
	if err != nil {
		s.internalError(w, "export accounts", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", "attachment; filename=instarelay-accounts.yaml")
	w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.control.CycleStatus(r.Context())
	if err != nil {
		s.internalError(w, "read status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()
	res, err := s.control.RunCycle(ctx)
	if errors.Is(err, monitor.ErrCycleRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "run cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	s.logger.WithError(err).Errorf("Failed to %s", action)
	writeError(w, http.StatusInternalServerError, "failed to "+action)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
