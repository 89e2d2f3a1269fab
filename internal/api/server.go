package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/config"
)

// Server hosts the broker and topic surfaces on one listener.
type Server struct {
	http   *http.Server
	logger *logrus.Logger
}

// NewServer builds the router and wraps it with the shared middleware
// chain: request ids, panic recovery, and CORS for browser tooling.
func NewServer(cfg config.APIConfig, broker *BrokerHandler, topics *TopicHandler, logger *logrus.Logger) *Server {
	router := mux.NewRouter()
	broker.Register(router)
	topics.Register(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	chain := requestIDMiddleware(router)
	chain = handlers.RecoveryHandler(handlers.RecoveryLogger(logger))(chain)
	chain = handlers.CORS(
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE"}),
		handlers.AllowedHeaders([]string{"Content-Type", userIDHeader, requestIDHeader}),
	)(chain)

	timeout := cfg.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      chain,
			ReadTimeout:  timeout,
			WriteTimeout: 10 * time.Minute, // purge waits out the retention window
			IdleTimeout:  2 * time.Minute,
		},
		logger: logger,
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.http.Addr).Info("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
