package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-archiver/internal/config"
	"github.com/JakeFAU/gazette-archiver/internal/gazette"
	"github.com/JakeFAU/gazette-archiver/internal/id/uuid"
	"github.com/JakeFAU/gazette-archiver/internal/metrics"
	"github.com/JakeFAU/gazette-archiver/internal/pipeline"
)

const (
	serviceName    = "Sheriff Auctions Data ETL API"
	requestTimeout = 3 * time.Minute
	// allPDFsPreview caps the all_pdfs list of the manual check.
	allPDFsPreview = 10
)

// Checker reports candidates on the listing page without side effects.
type Checker interface {
	Check(ctx context.Context) (pipeline.CheckResult, error)
}

// Runner executes one full detection pass.
type Runner interface {
	RunNow(ctx context.Context) (pipeline.Result, error)
}

// Downloader stores a single document.
type Downloader interface {
	Download(ctx context.Context, c gazette.Candidate) (pipeline.Outcome, error)
}

// Inspector summarises an arbitrary page.
type Inspector interface {
	Inspect(ctx context.Context, pageURL string) (pipeline.Inspection, error)
}

// Server wires HTTP handlers to the pipeline and record store.
type Server struct {
	router     chi.Router
	checker    Checker
	runner     Runner
	downloader Downloader
	inspector  Inspector
	records    gazette.RecordStore
	clock      gazette.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	checker Checker,
	runner Runner,
	downloader Downloader,
	inspector Inspector,
	records gazette.RecordStore,
	clock gazette.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		checker:    checker,
		runner:     runner,
		downloader: downloader,
		inspector:  inspector,
		records:    records,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.timeoutMiddleware(requestTimeout))

	r.Get("/", s.index)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/check-new-pdfs", s.checkNewPDFs)
		r.With(bearerMiddleware(cfg.Server.CronSecret, s.fail)).Get("/cron/hourly-check", s.hourlyCheck)
		r.Post("/download-pdf", s.downloadPDF)
		r.Get("/records", s.listRecords)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.fail(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.fail(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// respond writes body inside the envelope. success follows the status code.
func (s *Server) respond(w http.ResponseWriter, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["success"] = status < http.StatusBadRequest
	body["timestamp"] = s.now().Format(time.RFC3339)
	writeJSON(w, status, body, s.logger)
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]any{"error": msg})
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.fail(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds the request context by d. A handler that gives up
// on the deadline without writing a response gets a 504 envelope.
func (s *Server) timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			tw := &trackingWriter{ResponseWriter: w}
			next.ServeHTTP(tw, r.WithContext(ctx))
			if !tw.written && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.fail(w, http.StatusGatewayTimeout, "request timed out")
			}
		})
	}
}

// trackingWriter notes whether a response has been started.
type trackingWriter struct {
	http.ResponseWriter
	written bool
}

func (tw *trackingWriter) WriteHeader(code int) {
	tw.written = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.written = true
	return tw.ResponseWriter.Write(b)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
