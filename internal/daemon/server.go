package daemon

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"medscribe/internal/logging"
	"medscribe/internal/services"
)

const shutdownTimeout = 5 * time.Second

type apiServer struct {
	daemon *Daemon
	bind   string
	token  string
	logger *slog.Logger
	router chi.Router

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(d *Daemon, logger *slog.Logger) *apiServer {
	s := &apiServer{
		daemon: d,
		bind:   strings.TrimSpace(d.cfg.Paths.APIBind),
		token:  strings.TrimSpace(d.cfg.Paths.APIToken),
		logger: logging.NewComponentLogger(logger, "api"),
	}
	s.router = s.routes()
	return s
}

func (s *apiServer) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		s.requestContext,
		middleware.Recoverer,
		s.requestLogger,
		s.daemon.metrics.NewMiddleware().Handler,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Submitter"},
			MaxAge:         300,
		}),
	)

	router.Method(http.MethodGet, "/metrics", s.daemon.metrics.Handler())
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/health", s.handleHealth)
		r.Route("/jobs", func(r chi.Router) {
			r.With(s.submitLimit()).Post("/", s.handleSubmit)
			r.Get("/", s.handleListJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Get("/result", s.handleResult)
				r.Post("/cancel", s.handleCancel)
				r.Get("/stream", s.handleStream)
			})
		})
	})
	return router
}

// submitLimit bounds submissions per client IP. A zero limit disables it.
func (s *apiServer) submitLimit() func(http.Handler) http.Handler {
	limit := s.daemon.cfg.Paths.SubmitRateLimit
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limit, s.daemon.cfg.SubmitRateWindow(),
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Warn("submission rate limited",
				logging.String(logging.FieldEventType, "rate_limited"),
				logging.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many submissions; retry later", nil)
		}),
	)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled (no bind address)")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	listener := s.listener
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// requestContext copies chi's request id into the context helpers read by
// the logging package.
func (s *apiServer) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(services.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.WithContext(r.Context(), s.logger).Debug("request handled",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

// authenticate requires "Authorization: Bearer <token>" when a token is
// configured.
func (s *apiServer) authenticate(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	expected := []byte(s.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		supplied, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(supplied), expected) != 1 {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
