// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

// ratelimitd runs the rate limit engine behind its admin API so other
// backend services and operators can query and manage limits.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"github.com/chirpsocial/backend/pkg/ratelimit"
	"github.com/chirpsocial/backend/pkg/server"
	"github.com/chirpsocial/backend/pkg/trust"
)

// Config aggregates all daemon configuration.
type Config struct {
	RateLimit ratelimit.Config
	Trust     trust.Config
	Server    server.Config
}

var (
	rootCmd = &cobra.Command{
		Use:   "ratelimitd",
		Short: "The API rate limiting service",
		Args:  cobra.OnlyValidArgs,
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the rate limiting service",
		RunE:  cmdRun,
	}

	config Config
)

func init() {
	rootCmd.AddCommand(runCmd)
	bindConfig(runCmd, &config)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := config.RateLimit.Validate(); err != nil {
		return err
	}

	var provider ratelimit.TrustProvider
	if config.RateLimit.TrustBasedEnabled {
		if err := config.Trust.Validate(); err != nil {
			return err
		}
		provider = trust.New(config.Trust)
	}

	engine := ratelimit.New(log.Named("ratelimit"), provider, nil, config.RateLimit)
	defer func() { _ = engine.Close() }()

	admin, err := server.New(log.Named("admin"), engine, config.Server)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return errs2.IgnoreCanceled(engine.Run(ctx))
	})
	group.Go(func() error {
		return errs2.IgnoreCanceled(admin.Run(ctx))
	})

	return group.Wait()
}
