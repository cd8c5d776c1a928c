// Package httpapi exposes the service's inbound HTTP surface: the signed
// storefront proxy endpoints, the batch job trigger, and liveness/health.
package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nordbrew/standing-orders/pkg/batch"
	"github.com/nordbrew/standing-orders/pkg/logging"
	"github.com/nordbrew/standing-orders/pkg/prefs"
	"github.com/nordbrew/standing-orders/pkg/runlock"
	"github.com/nordbrew/standing-orders/pkg/signature"
)

// Config wires the server's collaborators.
type Config struct {
	Shop         string
	Verifier     *signature.Verifier
	Prefs        *prefs.Store
	Orchestrator *batch.Orchestrator
	Locker       runlock.Locker
}

// Server holds the inbound HTTP handlers.
type Server struct {
	shop     string
	verifier *signature.Verifier
	prefs    *prefs.Store
	orch     *batch.Orchestrator
	locker   runlock.Locker
	logger   zerolog.Logger
}

// New creates a server.
func New(cfg Config) *Server {
	locker := cfg.Locker
	if locker == nil {
		locker = runlock.NewMemory()
	}
	return &Server{
		shop:     cfg.Shop,
		verifier: cfg.Verifier,
		prefs:    cfg.Prefs,
		orch:     cfg.Orchestrator,
		locker:   locker,
		logger:   logging.NewLogger("httpapi"),
	}
}

// Routes returns the service's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /proxy/standing-orders", s.handleGetPreferences)
	mux.HandleFunc("POST /proxy/standing-orders", s.handleSavePreferences)
	mux.HandleFunc("POST /jobs/standing-orders/run", s.handleRunJob)
	return mux
}
