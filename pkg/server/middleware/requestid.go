// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spacemonkeygo/monkit/v3"
)

// XRequestID is the response header carrying the request id.
const XRequestID = "X-Chirp-Request-Id"

type requestIDKey struct{}

// AddRequestID assigns a unique id to each request, exposing it in the
// response headers and the request context so log lines and throttling
// denials can be correlated across services.
func AddRequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if w.Header().Get(XRequestID) == "" {
			requestID := fmt.Sprintf("%x", monkit.NewTrace(monkit.NewId()).Id())
			w.Header().Set(XRequestID, requestID)
			ctx = context.WithValue(ctx, requestIDKey{}, requestID)
		}
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stored in ctx, or empty when absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
