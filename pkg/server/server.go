// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

// Package server exposes the rate limit engine to operators over HTTP:
// live statistics, violation history, and manual block, unblock, and
// reset actions.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chirpsocial/backend/pkg/ratelimit"
	"github.com/chirpsocial/backend/pkg/server/middleware"
)

var mon = monkit.Package()

// Error wraps all admin server errors.
var Error = errs.Class("admin server")

// DefaultShutdownTimeout is how long Run waits for in-flight requests
// after its context is canceled.
const DefaultShutdownTimeout = 10 * time.Second

// Config holds the admin server configuration.
type Config struct {
	Address         string        `user:"true" help:"address for the admin api to listen on" default:":8421"`
	ShutdownTimeout time.Duration `user:"true" help:"how long to wait for requests to finish on shutdown" default:"10s"`
}

// Server is the admin HTTP server for the rate limit engine.
type Server struct {
	log      *zap.Logger
	engine   *ratelimit.Engine
	config   Config
	listener net.Listener
	server   *http.Server
}

// New constructs a Server and binds its listener.
func New(log *zap.Logger, engine *ratelimit.Engine, config Config) (*Server, error) {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	server := &Server{
		log:      log,
		engine:   engine,
		config:   config,
		listener: listener,
	}

	router := mux.NewRouter()
	router.Use(middleware.AddRequestID)
	router.Use(middleware.NewLogResponses(log.Named("access")))
	router.HandleFunc("/v1/health/live", server.healthLive).Methods(http.MethodGet)
	router.HandleFunc("/v1/limits/stats", server.stats).Methods(http.MethodGet)
	router.HandleFunc("/v1/limits/{userID}/check", server.check).Methods(http.MethodGet)
	router.HandleFunc("/v1/limits/{userID}/violations", server.violations).Methods(http.MethodGet)
	router.HandleFunc("/v1/limits/{userID}/block", server.block).Methods(http.MethodPost)
	router.HandleFunc("/v1/limits/{userID}/block", server.unblock).Methods(http.MethodDelete)
	router.HandleFunc("/v1/limits/{userID}/reset", server.reset).Methods(http.MethodPost)

	server.server = &http.Server{Handler: router}
	return server, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Run serves requests until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer shutdownCancel()
		return Error.Wrap(s.server.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		defer cancel()
		s.log.Info("admin api started", zap.String("address", s.Addr()))
		err := s.server.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return Error.Wrap(err)
	})

	return group.Wait()
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return Error.Wrap(s.server.Close())
}
