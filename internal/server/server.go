// Package server provides the HTTP API for the miniblog.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/miniblog/internal/blog"
	"github.com/hyperjump/miniblog/internal/config"
	"github.com/hyperjump/miniblog/internal/metrics"
	"go.uber.org/zap"
)

// Server is the HTTP server for the miniblog API.
type Server struct {
	blog    *blog.Service
	config  *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. m may be nil.
func NewServer(svc *blog.Service, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		blog:    svc,
		config:  cfg,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if t := s.config.Server.RequestTimeoutSeconds; t > 0 {
		r.Use(middleware.Timeout(time.Duration(t) * time.Second))
	}
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil && s.config.Metrics.EnabledOrDefault() {
		r.Handle(s.config.Metrics.Path, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/users", s.handleRegister)
		r.Get("/users/{username}", s.handleGetProfile)
		r.Get("/users/{username}/posts", s.handleUserPosts)
		r.Get("/search", s.handleSearch)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Put("/me", s.handleUpdateProfile)
			r.Post("/users/{username}/follow", s.handleFollow)
			r.Delete("/users/{username}/follow", s.handleUnfollow)

			r.Post("/posts", s.handleCreatePost)
			r.Get("/posts/{id}", s.handleGetPost)
			r.Put("/posts/{id}", s.handleEditPost)
			r.Delete("/posts/{id}", s.handleDeletePost)
			r.Get("/feed", s.handleFeed)
			r.Get("/explore", s.handleExplore)

			r.Post("/messages/{username}", s.handleSendMessage)
			r.Get("/messages", s.handleMessages)
			r.Get("/messages/unread", s.handleUnreadMessages)
			r.Get("/notifications", s.handleNotifications)

			r.Post("/tasks", s.handleLaunchTask)
			r.Get("/tasks", s.handleTasksInProgress)
			r.Get("/tasks/{id}/progress", s.handleTaskProgress)
			r.Post("/tasks/{id}/complete", s.handleCompleteTask)

			r.Post("/admin/reindex", s.handleReindex)
			r.Delete("/admin/index", s.handleDropIndex)
			r.Get("/admin/index", s.handleIndexStats)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}
