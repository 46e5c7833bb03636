// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/chirpsocial/backend/pkg/ratelimit"
	"github.com/chirpsocial/backend/pkg/server"
)

// bindConfig wires every config option to a flag with its documented
// default.
func bindConfig(cmd *cobra.Command, config *Config) {
	config.RateLimit = ratelimit.DefaultConfig()
	flags := cmd.Flags()

	rl := &config.RateLimit
	flags.BoolVar(&rl.Enabled, "ratelimit.enabled", rl.Enabled,
		"global kill-switch; when false every check is allowed")
	flags.BoolVar(&rl.TrustBasedEnabled, "ratelimit.trust-based-enabled", rl.TrustBasedEnabled,
		"scale sustained limits by the per-user trust multiplier")
	flags.BoolVar(&rl.BurstProtectionEnabled, "ratelimit.burst-protection-enabled", rl.BurstProtectionEnabled,
		"enforce the short-window burst thresholds")
	flags.BoolVar(&rl.AutoBlockingEnabled, "ratelimit.auto-blocking-enabled", rl.AutoBlockingEnabled,
		"block users automatically after repeated violations")
	flags.IntVar(&rl.AutoBlockViolationThreshold, "ratelimit.auto-block-violation-threshold", rl.AutoBlockViolationThreshold,
		"violations inside the retention window that trigger an automatic block")
	flags.DurationVar(&rl.AutoBlockDuration, "ratelimit.auto-block-duration", rl.AutoBlockDuration,
		"how long an automatic block lasts")
	flags.DurationVar(&rl.ViolationRetention, "ratelimit.violation-retention", rl.ViolationRetention,
		"how long a violation counts toward automatic blocking")
	flags.DurationVar(&rl.Window, "ratelimit.window", rl.Window,
		"length of the sustained usage window")
	flags.DurationVar(&rl.BurstPenalty, "ratelimit.burst-penalty", rl.BurstPenalty,
		"how long a caller must wait after tripping a burst threshold")
	flags.BoolVar(&rl.ApplyToAdmins, "ratelimit.apply-to-admins", rl.ApplyToAdmins,
		"apply rate limits to admin accounts")
	flags.BoolVar(&rl.ApplyToModerators, "ratelimit.apply-to-moderators", rl.ApplyToModerators,
		"apply rate limits to moderator accounts")
	flags.Float64Var(&rl.FallbackMultiplier, "ratelimit.fallback-multiplier", rl.FallbackMultiplier,
		"trust multiplier assumed when the trust provider is unavailable")
	flags.DurationVar(&rl.TrustTimeout, "ratelimit.trust-timeout", rl.TrustTimeout,
		"how long to wait for a single trust multiplier lookup")
	flags.DurationVar(&rl.SweepInterval, "ratelimit.sweep-interval", rl.SweepInterval,
		"how often expired windows, blocks, and violations are dropped")

	tr := &config.Trust
	flags.StringVar(&tr.BaseURL, "trust.base-url", "http://localhost:9010",
		"base url of the trust scoring service")
	flags.StringVar(&tr.Token, "trust.token", "",
		"bearer token for the trust scoring service")
	flags.DurationVar(&tr.Timeout, "trust.timeout", 2*time.Second,
		"how long to wait for a single trust service request")
	flags.DurationVar(&tr.Cache.Expiration, "trust.cache.expiration", 5*time.Minute,
		"how long to keep trust multipliers in cache")
	flags.IntVar(&tr.Cache.Capacity, "trust.cache.capacity", 10000,
		"how many trust multipliers to keep in cache")

	srv := &config.Server
	flags.StringVar(&srv.Address, "server.address", ":8421",
		"address for the admin api to listen on")
	flags.DurationVar(&srv.ShutdownTimeout, "server.shutdown-timeout", server.DefaultShutdownTimeout,
		"how long to wait for requests to finish on shutdown")
}
