// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/webhelp.v1/whmon"
	"gopkg.in/webhelp.v1/whroute"
)

// StatusLevel maps an HTTP status onto a log level. Server faults are
// errors, client faults are informational, everything else is debug.
func StatusLevel(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zap.ErrorLevel
	case status >= 400:
		return zap.InfoLevel
	default:
		return zap.DebugLevel
	}
}

// LogResponses logs every response with its status, size, and duration.
func LogResponses(log *zap.Logger, h http.Handler) http.Handler {
	return whmon.MonitorResponse(whroute.HandlerFunc(h,
		func(w http.ResponseWriter, r *http.Request) {
			rw := w.(whmon.ResponseWriter)
			start := time.Now()

			h.ServeHTTP(rw, r)

			if !rw.WroteHeader() {
				rw.WriteHeader(http.StatusOK)
			}

			ce := log.Check(StatusLevel(rw.StatusCode()), "response")
			if ce == nil {
				return
			}
			ce.Write(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("code", rw.StatusCode()),
				zap.Int64("written", rw.Written()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request-id", RequestID(r.Context())),
			)
		}))
}

// NewLogResponses is a convenience wrapper around LogResponses that
// returns it as mux.MiddlewareFunc.
func NewLogResponses(log *zap.Logger) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return LogResponses(log, h)
	}
}
