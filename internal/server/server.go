// Package server exposes the aggregator and per-provider lookups over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/aggregate"
	"github.com/snapetech/iptvmerge/internal/catalog"
	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/metrics"
	"github.com/snapetech/iptvmerge/internal/provider"
	"github.com/snapetech/iptvmerge/internal/xtream"
)

// DefaultAddr is used when Server.Addr is empty.
const DefaultAddr = ":8080"

// maxBodyBytes caps request bodies; a getChannels body is a list of URLs.
const maxBodyBytes = 1 << 20

// Builder runs one aggregation batch. *aggregate.Aggregator satisfies it.
type Builder interface {
	Build(ctx context.Context, req aggregate.Request) (*catalog.Catalog, error)
}

// PanelClient answers the single-provider lookups.
type PanelClient interface {
	AccountInfo(ctx context.Context) (*xtream.AccountInfo, error)
	ShortEPG(ctx context.Context, streamID string, limit int) ([]xtream.Programme, error)
	FullEPG(ctx context.Context, streamID string) ([]xtream.Programme, error)
}

// PanelFactory binds a PanelClient to one provider.
type PanelFactory func(p provider.Provider) PanelClient

// XtreamPanels returns a PanelFactory producing xtream clients with opts.
func XtreamPanels(opts ...xtream.Option) PanelFactory {
	return func(p provider.Provider) PanelClient {
		return xtream.NewClient(p, opts...)
	}
}

// Server is the HTTP API.
type Server struct {
	Addr       string
	Aggregator Builder
	Panels     PanelFactory // nil = XtreamPanels()
	Health     http.Handler // nil = static ok
	Log        *logrus.Entry
}

// Handler returns the routed API with CORS, metrics and request logging.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method Not Allowed"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/getChannels", s.handleGetChannels)
		r.Post("/getInfo", s.handleGetInfo)
		r.Post("/getEpg", s.handleGetEpg)
	})
	health := s.Health
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	r.Method(http.MethodGet, "/healthz", health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	log := logging.OrDiscard(s.Log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("api listening")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("api shutdown")
		}
		<-serverErr
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logging.OrDiscard(s.Log).WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
			"remote":      r.RemoteAddr,
		}).Info("http request")
	})
}

func (s *Server) panel(p provider.Provider) PanelClient {
	if s.Panels != nil {
		return s.Panels(p)
	}
	return XtreamPanels()(p)
}
