// Package api is the HTTP transport: it decodes form posts into workflow
// requests and maps workflow outcomes and errors onto JSON responses.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/penguin-studio/internal/metrics"
	"github.com/fpang/penguin-studio/internal/workflow"
)

// maxFormMemory bounds the in-memory part of multipart form parsing.
const maxFormMemory = 1 << 20

// Options are the collaborators the router exposes.
type Options struct {
	Workflow *workflow.Workflow
	// Metrics enables /metrics when set.
	Metrics *metrics.Prometheus
	// Webhook is mounted at /webhook/instagram when set.
	Webhook http.Handler
	// MediaDir is served under /media when set.
	MediaDir    string
	CORSOrigins []string
}

type server struct {
	wf *workflow.Workflow
}

// NewRouter builds the HTTP handler with middleware and all routes.
func NewRouter(opts Options) http.Handler {
	s := &server{wf: opts.Workflow}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(opts.CORSOrigins),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Post("/workflow", s.handleWorkflow)
		r.Get("/media", s.listMedia)
		r.Delete("/media/{id}", s.deleteMedia)
		r.Get("/ratelimit", s.rateLimit)
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if opts.Webhook != nil {
		r.Handle("/webhook/instagram", opts.Webhook)
	}
	if opts.MediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media", http.FileServer(http.Dir(opts.MediaDir))))
	}

	return gzhttp.GzipHandler(r)
}

func corsOrigins(configured []string) []string {
	if len(configured) == 0 {
		return []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	return configured
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		evt := log.Info()
		if status >= http.StatusInternalServerError {
			evt = log.Error()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Str("requestId", chimiddleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
