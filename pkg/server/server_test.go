// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/chirpsocial/backend/pkg/ratelimit"
	"github.com/chirpsocial/backend/pkg/server"
)

func startTestServer(t *testing.T) (*server.Server, *ratelimit.Engine) {
	engine := ratelimit.New(zaptest.NewLogger(t),
		ratelimit.TrustFunc(func(ctx context.Context, userID string) (float64, error) {
			return 1.0, nil
		}),
		nil, ratelimit.DefaultConfig())
	t.Cleanup(func() { require.NoError(t, engine.Close()) })

	s, err := server.New(zaptest.NewLogger(t), engine, server.Config{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	return s, engine
}

func adminURL(s *server.Server, format string, args ...interface{}) string {
	return "http://" + s.Addr() + fmt.Sprintf(format, args...)
}

func getJSON(t *testing.T, url string) map[string]interface{} {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthLive(t *testing.T) {
	s, _ := startTestServer(t)

	resp, err := http.Get(adminURL(s, "/v1/health/live"))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s, engine := startTestServer(t)

	actor := ratelimit.Actor{ID: "u1", Role: ratelimit.RoleUser}
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Record(ctx, actor, ratelimit.OpLikePost))
	}

	body := getJSON(t, adminURL(s, "/v1/limits/stats"))
	require.EqualValues(t, 3, body["total_requests"])
	require.EqualValues(t, len(ratelimit.DefaultQuotas()), body["base_rate_limit_configs"])
}

func TestCheckEndpoint(t *testing.T) {
	s, _ := startTestServer(t)

	body := getJSON(t, adminURL(s, "/v1/limits/u1/check?operation=create_post"))
	require.Equal(t, true, body["allowed"])
	require.EqualValues(t, 5, body["remaining"])

	// The probe consumes nothing.
	body = getJSON(t, adminURL(s, "/v1/limits/u1/check?operation=create_post"))
	require.EqualValues(t, 5, body["remaining"])

	resp, err := http.Get(adminURL(s, "/v1/limits/u1/check?operation=launch_rocket"))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBlockLifecycle(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s, engine := startTestServer(t)

	payload := bytes.NewBufferString(`{"duration": "1h", "reason": "abuse report"}`)
	resp, err := http.Post(adminURL(s, "/v1/limits/u1/block"), "application/json", payload)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.True(t, engine.IsUserBlocked(ctx, "u1"))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, adminURL(s, "/v1/limits/u1/block"), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.False(t, engine.IsUserBlocked(ctx, "u1"))
}

func TestBlockRejectsBadPayload(t *testing.T) {
	s, _ := startTestServer(t)

	for _, payload := range []string{"", `{"duration": "soon"}`, `{"duration": "-5m"}`} {
		resp, err := http.Post(adminURL(s, "/v1/limits/u1/block"), "application/json",
			bytes.NewBufferString(payload))
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "payload %q", payload)
	}
}

func TestResetEndpoint(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s, engine := startTestServer(t)

	actor := ratelimit.Actor{ID: "u1", Role: ratelimit.RoleUser}
	for i := 0; i < 4; i++ {
		require.NoError(t, engine.Record(ctx, actor, ratelimit.OpCreatePost))
	}
	require.NotEmpty(t, engine.RecentViolations(ctx, "u1"))

	resp, err := http.Post(adminURL(s, "/v1/limits/u1/reset"), "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, engine.RecentViolations(ctx, "u1"))
}

func TestViolationsEndpoint(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	s, engine := startTestServer(t)

	body := getJSON(t, adminURL(s, "/v1/limits/u1/violations"))
	require.Empty(t, body["violations"])

	actor := ratelimit.Actor{ID: "u1", Role: ratelimit.RoleUser}
	for i := 0; i < 4; i++ {
		require.NoError(t, engine.Record(ctx, actor, ratelimit.OpCreatePost))
	}

	body = getJSON(t, adminURL(s, "/v1/limits/u1/violations"))
	violations := body["violations"].([]interface{})
	require.Len(t, violations, 1)
	first := violations[0].(map[string]interface{})
	require.Equal(t, "create_post", first["operation"])
	require.Equal(t, "burst", first["violation"])
}
