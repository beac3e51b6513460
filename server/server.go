// Package server exposes the watcher status over a small HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/osawatch/osawatch/pkg/domain"
)

// Server represents HTTP server instance
type Server struct {
	config  ConfigProvider
	watcher Watcher
	history History
	version string
	debug   bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Watcher interface for on-demand runs and status reporting
type Watcher interface {
	RunNow(ctx context.Context) error
	LastStats() domain.RunStats
}

// History interface for the notification log, nil when history is disabled
type History interface {
	Recent(ctx context.Context, limit int) ([]domain.Notification, error)
	Count(ctx context.Context) (int, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// New initializes a new server instance
func New(cfg ConfigProvider, watcher Watcher, history History, version string, debug bool) *Server {
	s := &Server{
		config:  cfg,
		watcher: watcher,
		history: history,
		version: version,
		debug:   debug,
		router:  routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	log.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("osawatch", "osawatch", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /notifications", s.notificationsHandler)
		r.HandleFunc("POST /update", s.updateHandler)
	})
}

// statusHandler returns watcher status and last run stats
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.watcher.LastStats()

	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
		"last_run": map[string]interface{}{
			"started_at":  stats.StartedAt,
			"finished_at": stats.FinishedAt,
			"fetched":     stats.Fetched,
			"new":         stats.New,
			"notified":    stats.Notified,
			"error":       stats.Err,
		},
	}

	if s.history != nil {
		if count, err := s.history.Count(r.Context()); err == nil {
			status["total_notified"] = count
		} else {
			log.Printf("[WARN] can't get notification count: %v", err)
		}
	}

	RenderJSON(w, r, http.StatusOK, status)
}

// notificationsHandler returns the most recent delivered notifications
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		RenderError(w, r, errors.New("notification history disabled"), http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			RenderError(w, r, fmt.Errorf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	notifications, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}

	RenderJSON(w, r, http.StatusOK, notifications)
}

// updateHandler triggers an immediate run, the run itself proceeds in the
// background since notification delays can make it slow
func (s *Server) updateHandler(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.watcher.RunNow(context.Background()); err != nil {
			log.Printf("[WARN] triggered run failed: %v", err)
		}
	}()

	RenderJSON(w, r, http.StatusAccepted, map[string]string{"result": "update started"})
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends error response as JSON
func RenderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	RenderJSON(w, r, code, map[string]string{"error": errMsg})
}
