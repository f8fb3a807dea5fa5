// Package dashboard serves the engine's current snapshot as a JSON API.
package dashboard

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/engine"
	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Engine is the part of engine.Service the server needs.
type Engine interface {
	Snapshot() *engine.Snapshot
	Refresh(ctx context.Context) (*engine.Snapshot, error)
	SetOwner(ctx context.Context, owner common.Address) (*engine.Snapshot, error)
	ClearOwner(ctx context.Context) (*engine.Snapshot, error)
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	engine    Engine
	logger    logrus.FieldLogger
	port      int
	authToken string
	now       func() time.Time
}

type Config struct {
	Port      int
	AuthToken string
}

type PositionsView struct {
	Generation uint64                  `json:"generation"`
	Status     engine.Status           `json:"status"`
	Positions  []models.ActivePosition `json:"positions"`
	Partial    []models.ActivePosition `json:"partial,omitempty"`
}

type WritesView struct {
	Generation    uint64                       `json:"generation"`
	Status        engine.Status                `json:"status"`
	Writes        []models.WritePositionRecord `json:"writes"`
	PartialWrites []models.WritePositionRecord `json:"partial_writes,omitempty"`
}

type ActionsView struct {
	Generation uint64                 `json:"generation"`
	Actions    []models.ActionRequest `json:"actions"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(cfg Config, eng Engine, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    chi.NewRouter(),
		engine:    eng,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/positions", s.handlePositions)
		r.Get("/writes", s.handleWrites)
		r.Get("/strikes/{vault}", s.handleStrikes)
		r.Get("/actions", s.handleActions)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/owner", s.handleSetOwner)
		r.Delete("/owner", s.handleClearOwner)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.Header.Get("X-Auth-Token")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"engine":     snap.Status,
		"generation": snap.Generation,
		"timestamp":  s.now().Unix(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	s.writeJSON(w, http.StatusOK, PositionsView{
		Generation: snap.Generation,
		Status:     snap.Status,
		Positions:  snap.Positions,
		Partial:    snap.Partial,
	})
}

func (s *Server) handleWrites(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	s.writeJSON(w, http.StatusOK, WritesView{
		Generation:    snap.Generation,
		Status:        snap.Status,
		Writes:        snap.Writes,
		PartialWrites: snap.PartialWrites,
	})
}

func (s *Server) handleStrikes(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "vault")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, "invalid vault address")
		return
	}

	chain, ok := s.engine.Snapshot().Chains[common.HexToAddress(raw)]
	if !ok {
		s.writeError(w, http.StatusNotFound, "no strike chain for vault")
		return
	}
	s.writeJSON(w, http.StatusOK, chain)
}

// handleActions lists available actions, optionally filtered with ?kind=.
func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	actions := snap.Actions

	if kind := models.ActionKind(r.URL.Query().Get("kind")); kind != "" {
		actions = make([]models.ActionRequest, 0, len(snap.Actions))
		for _, a := range snap.Actions {
			if a.Kind == kind {
				actions = append(actions, a)
			}
		}
	}
	s.writeJSON(w, http.StatusOK, ActionsView{Generation: snap.Generation, Actions: actions})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Refresh(r.Context())
	s.writePass(w, snap, err)
}

// handleSetOwner switches the wallet being reconciled and runs a pass for it.
func (s *Server) handleSetOwner(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.Owner) {
		s.writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}

	snap, err := s.engine.SetOwner(r.Context(), common.HexToAddress(req.Owner))
	if errors.Is(err, engine.ErrNoOwner) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.WithField("owner", req.Owner).Info("Owner changed")
	s.writePass(w, snap, err)
}

func (s *Server) handleClearOwner(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.ClearOwner(r.Context())
	s.logger.Info("Owner cleared")
	s.writePass(w, snap, err)
}

// writePass maps the outcome of an engine pass to a response.
func (s *Server) writePass(w http.ResponseWriter, snap *engine.Snapshot, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, engine.ErrStaleRefresh):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.WithError(err).Error("Engine pass failed")
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
