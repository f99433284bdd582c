package gateway

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/config"
	"github.com/jeremyschied/kalshi-proxi/pkg/forwarder"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

/*
Server exposes the local proxy surface in front of the trading API.

Request Flow:
  Client → named route or /api/<path> → Forwarder → upstream
    - The forwarder resolves the logical path under the fixed API prefix
    - Each call is signed: timestamp + METHOD + full path, per-request headers
    - The upstream response relays verbatim, error statuses included

Named Routes (thin aliases over common upstream endpoints):
  GET  /balance       → GET  <prefix>/portfolio/balance
  GET  /markets       → GET  <prefix>/markets          (query passthrough)
  GET  /market/{t}    → GET  <prefix>/markets/{t}
  POST /orders        → POST <prefix>/portfolio/orders (JSON body required)
  GET  /positions     → GET  <prefix>/portfolio/positions

Generic Passthrough:
  ANY  /api/<path>    → <path> under the prefix, method, query and body kept

Local Surface (answered here, never forwarded):
  GET  /health        → liveness plus credential presence
  GET  /key           → signing key introspection, public material only
*/

// Server handles HTTP requests for the gateway
type Server struct {
	cfg        *config.GatewayConfig
	forwarder  *forwarder.Forwarder
	signer     requestSigner.IRequestSigner
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(cfg *config.GatewayConfig, fwd *forwarder.Forwarder, signer requestSigner.IRequestSigner, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		forwarder: fwd,
		signer:    signer,
		logger:    logger,
	}

	mux := http.NewServeMux()

	// Local endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/key", s.handleKeyInfo)

	// Named upstream routes
	mux.HandleFunc("/balance", s.handleBalance)
	mux.HandleFunc("/markets", s.handleMarkets)
	mux.HandleFunc("/market/", s.handleMarket)
	mux.HandleFunc("/orders", s.handleOrders)
	mux.HandleFunc("/positions", s.handlePositions)

	// Generic passthrough under the upstream prefix
	mux.HandleFunc("/api/", s.handleProxy)

	// Everything else is a JSON 404
	mux.HandleFunc("/", s.handleNotFound)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "key_id", s.cfg.KeyID, "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests and stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
