// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

// Package trust is a client for the trust scoring service, which rates
// how trustworthy an account is. The rate limit engine uses the
// multiplier to widen or narrow a user's sustained quota.
package trust

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"

	"github.com/spacemonkeygo/monkit/v3"

	"github.com/chirpsocial/backend/internal/lrucache"
)

var mon = monkit.Package()

// Client resolves per-user trust multipliers over HTTP.
type Client struct {
	Config
	cache *lrucache.ExpiringLRU
}

// New returns a new trust service client.
func New(config Config) *Client {
	return &Client{
		Config: config,
		cache: lrucache.New(lrucache.Options{
			Expiration: config.Cache.Expiration,
			Capacity:   config.Cache.Capacity,
		}),
	}
}

// multiplierResponse is the trust service's wire format.
type multiplierResponse struct {
	Multiplier float64 `json:"multiplier"`
}

// Multiplier returns the rate limit multiplier for userID, consulting
// the cache first. Users unknown to the trust service get a neutral 1.0.
// It implements ratelimit.TrustProvider.
func (c *Client) Multiplier(ctx context.Context, userID string) (_ float64, err error) {
	defer mon.Task()(&ctx)(&err)

	v, err := c.cache.Get(ctx, userID, func() (interface{}, error) {
		return c.resolve(ctx, userID)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// resolve fetches the multiplier from the trust service, retrying
// transient failures until the backoff is exhausted.
func (c *Client) resolve(ctx context.Context, userID string) (_ float64, err error) {
	defer mon.Task()(&ctx)(&err)

	reqURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	reqURL.Path = path.Join(reqURL.Path, "/v1/trust", userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	delay := c.BackOff
	client := http.Client{
		Timeout:   c.Timeout,
		Transport: &http.Transport{ResponseHeaderTimeout: c.Timeout},
	}
	for {
		resp, err := client.Do(req)
		if err != nil {
			if !delay.Maxed() {
				if err := delay.Wait(ctx); err != nil {
					return 0, Error.Wrap(err)
				}
				continue
			}
			return 0, Error.Wrap(err)
		}

		retry, multiplier, err := func() (retry bool, _ float64, _ error) {
			defer func() { _ = resp.Body.Close() }()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				// Unknown users get default trust.
				return false, 1.0, nil
			case resp.StatusCode >= http.StatusInternalServerError:
				return true, 0, nil
			case resp.StatusCode != http.StatusOK:
				return false, 0, Error.New("invalid status code: %d", resp.StatusCode)
			}

			var body multiplierResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return false, 0, Error.Wrap(err)
			}
			if body.Multiplier < 0 {
				return false, 0, Error.New("negative multiplier: %v", body.Multiplier)
			}
			return false, body.Multiplier, nil
		}()

		if retry {
			if delay.Maxed() {
				return 0, Error.New("trust service unavailable")
			}
			if err := delay.Wait(ctx); err != nil {
				return 0, Error.Wrap(err)
			}
			continue
		}

		return multiplier, err
	}
}
