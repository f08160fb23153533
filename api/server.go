// Copyright (C) 2024-2026, the bitcoin-testnet-box authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the network orchestrator over HTTP for the browser
// front-end.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/jwatts201708/bitcoin-testnet-box/network"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Orchestrator is the network surface the API depends on.
type Orchestrator interface {
	BootstrapAsync() error
	Stop(ctx context.Context) error
	Generate(ctx context.Context, blocks int) ([]string, error)
	Send(ctx context.Context, addr string, amount float64) (string, error)
	NewAddress(ctx context.Context, nodeID int) (string, error)
	Info(ctx context.Context) network.Snapshot
}

// Server is the control API HTTP server.
type Server struct {
	log     *zap.Logger
	srv     *http.Server
	handler http.Handler
}

// New assembles the router, middleware, and metrics around the orchestrator.
func New(log *zap.Logger, addr string, orch Orchestrator) *Server {
	metrics := newMetrics()
	svc := &service{log: log, orch: orch}

	router := mux.NewRouter()
	router.HandleFunc("/", svc.root).Methods(http.MethodGet)
	router.HandleFunc("/info", svc.info).Methods(http.MethodGet)
	router.HandleFunc("/start", svc.start).Methods(http.MethodPost)
	router.HandleFunc("/stop", svc.stop).Methods(http.MethodPost)
	router.HandleFunc("/generate", svc.generate).Methods(http.MethodPost)
	router.HandleFunc("/wallet/address/{node}", svc.walletAddress).Methods(http.MethodGet)
	router.HandleFunc("/send", svc.send).Methods(http.MethodPost)
	router.Handle("/metrics", metrics.handler()).Methods(http.MethodGet)

	// The front-end is served from an arbitrary origin (usually file:// or
	// a dev server), so the API answers any origin.
	corsWrapper := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := corsWrapper.Handler(metrics.instrument(requestLogger(log, router)))
	return &Server{
		log:     log,
		handler: handler,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Handler exposes the assembled handler chain, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Dispatch blocks serving requests until Shutdown is called or the listener
// fails.
func (s *Server) Dispatch() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("API server listening", zap.String("address", listener.Addr().String()))
	err = s.srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// requestLogger logs each request with its outcome status.
func requestLogger(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
