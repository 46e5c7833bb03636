// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"time"
)

// Config configures the rate limit engine. It is supplied at process
// start and is treated as immutable for the process lifetime.
type Config struct {
	Enabled                     bool          `user:"true" help:"global kill-switch; when false every check is allowed" default:"true"`
	TrustBasedEnabled           bool          `user:"true" help:"scale sustained limits by the per-user trust multiplier" default:"true"`
	BurstProtectionEnabled      bool          `user:"true" help:"enforce the short-window burst thresholds" default:"true"`
	AutoBlockingEnabled         bool          `user:"true" help:"block users automatically after repeated violations" default:"true"`
	AutoBlockViolationThreshold int           `user:"true" help:"violations inside the retention window that trigger an automatic block" default:"10"`
	AutoBlockDuration           time.Duration `user:"true" help:"how long an automatic block lasts" default:"24h"`
	ViolationRetention          time.Duration `user:"true" help:"how long a violation counts toward automatic blocking" default:"24h"`
	Window                      time.Duration `user:"true" help:"length of the sustained usage window" default:"1m"`
	BurstPenalty                time.Duration `user:"true" help:"how long a caller must wait after tripping a burst threshold" default:"10s"`
	ApplyToAdmins               bool          `user:"true" help:"apply rate limits to admin accounts" default:"false"`
	ApplyToModerators           bool          `user:"true" help:"apply rate limits to moderator accounts" default:"false"`
	FallbackMultiplier          float64       `user:"true" help:"trust multiplier assumed when the trust provider is unavailable" default:"1"`
	TrustTimeout                time.Duration `user:"true" help:"how long to wait for a single trust multiplier lookup" default:"2s"`
	SweepInterval               time.Duration `user:"true" help:"how often expired windows, blocks, and violations are dropped" default:"5m"`
}

// DefaultConfig returns the configuration used when no overrides are
// supplied.
func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		TrustBasedEnabled:           true,
		BurstProtectionEnabled:      true,
		AutoBlockingEnabled:         true,
		AutoBlockViolationThreshold: 10,
		AutoBlockDuration:           24 * time.Hour,
		ViolationRetention:          24 * time.Hour,
		Window:                      time.Minute,
		BurstPenalty:                10 * time.Second,
		FallbackMultiplier:          1,
		TrustTimeout:                2 * time.Second,
		SweepInterval:               5 * time.Minute,
	}
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return Error.New("Window must be positive")
	}
	if c.BurstPenalty <= 0 {
		return Error.New("BurstPenalty must be positive")
	}
	if c.AutoBlockingEnabled {
		if c.AutoBlockViolationThreshold <= 0 {
			return Error.New("AutoBlockViolationThreshold must be positive")
		}
		if c.AutoBlockDuration <= 0 {
			return Error.New("AutoBlockDuration must be positive")
		}
		if c.ViolationRetention <= 0 {
			return Error.New("ViolationRetention must be positive")
		}
	}
	if c.FallbackMultiplier < 0 {
		return Error.New("FallbackMultiplier cannot be negative")
	}
	if c.SweepInterval <= 0 {
		return Error.New("SweepInterval must be positive")
	}
	return nil
}
