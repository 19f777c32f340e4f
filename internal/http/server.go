package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"scadenze/internal/core"
	"scadenze/internal/services"
)

// RuleStore covers the repository operations the API serves.
type RuleStore interface {
	CreateRule(ctx context.Context, rule core.Rule) (int64, error)
	GetRule(ctx context.Context, owner string, id int64) (core.Rule, error)
	ListRules(ctx context.Context, owner string) ([]core.Rule, error)
	UpdateRule(ctx context.Context, rule core.Rule) error
	SetRuleActive(ctx context.Context, owner string, id int64, active bool) error
	DeleteRule(ctx context.Context, owner string, id int64) error
	ListTransactions(ctx context.Context, owner string) ([]core.Transaction, error)
	HasCategory(ctx context.Context, owner, name string) (bool, error)
	Ping(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	store      RuleStore
	processor  *services.Processor
}

func NewServer(port string, store RuleStore, processor *services.Processor) *Server {
	s := &Server{
		store:     store,
		processor: processor,
	}

	s.httpServer = &http.Server{
		Addr:         ":" + port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(securityHeaders)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Group(func(r chi.Router) {
		r.Use(requireOwner)

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/", s.handleListRules)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/{id}/deactivate", s.handleDeactivateRule)
		})

		r.Post("/process", s.handleProcess)
		r.Get("/transactions", s.handleListTransactions)
	})

	return r
}

type ctxKey int

const ownerKey ctxKey = iota

// requireOwner extracts the authenticated owner set by the fronting auth
// layer. Requests without it never reach a handler.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Owner-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.InfoContext(r.Context(), "Request handled",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
