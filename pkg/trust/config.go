// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package trust

import (
	"net/url"
	"time"

	"github.com/zeebo/errs"

	"github.com/chirpsocial/backend/pkg/backoff"
)

// Error wraps all errors returned when resolving a trust multiplier.
var Error = errs.Class("trust service")

// Config describes how to reach the trust scoring service.
type Config struct {
	BaseURL string        `user:"true" help:"base url of the trust scoring service" releaseDefault:"" devDefault:"http://localhost:9010"`
	Token   string        `user:"true" help:"bearer token for the trust scoring service" releaseDefault:"" devDefault:"dev-secret"`
	Timeout time.Duration `user:"true" help:"how long to wait for a single trust service request" default:"2s"`
	BackOff backoff.ExponentialBackoff
	Cache   CacheConfig
}

// CacheConfig describes caching of trust service lookups.
type CacheConfig struct {
	Expiration time.Duration `user:"true" help:"how long to keep trust multipliers in cache" default:"5m"`
	Capacity   int           `user:"true" help:"how many trust multipliers to keep in cache" default:"10000"`
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	reqURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return Error.Wrap(err)
	}
	if reqURL.Scheme != "http" && reqURL.Scheme != "https" {
		return Error.New("unexpected scheme in base url: %q", reqURL.Scheme)
	}
	if reqURL.Host == "" {
		return Error.New("host missing in base url %q", c.BaseURL)
	}
	return nil
}
