// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/chirpsocial/backend/pkg/ratelimit"
)

var mon = monkit.Package()

// ActorResolver extracts the acting user from a request. Returning false
// means the request has no identifiable actor and is not limited here;
// authentication middleware deals with it.
type ActorResolver func(r *http.Request) (ratelimit.Actor, bool)

// OperationClassifier maps a request to the operation kind it performs.
// Returning false means the request is not subject to rate limiting.
type OperationClassifier func(r *http.Request) (ratelimit.Operation, bool)

// HeaderActor resolves the actor from the X-User-Id and X-User-Role
// headers set by the authentication layer.
func HeaderActor(r *http.Request) (ratelimit.Actor, bool) {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		return ratelimit.Actor{}, false
	}
	role := ratelimit.Role(r.Header.Get("X-User-Role"))
	if role == "" {
		role = ratelimit.RoleUser
	}
	return ratelimit.Actor{ID: id, Role: role}, true
}

// RateLimit applies engine admission control to every classified
// request. Allowed requests consume quota and proceed with
// X-RateLimit-Remaining set; denied requests get 429 with Retry-After
// and a machine-readable body.
func RateLimit(log *zap.Logger, engine *ratelimit.Engine, resolve ActorResolver, classify OperationClassifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var err error
			ctx := r.Context()
			defer mon.TaskNamed("RateLimit")(&ctx)(&err)

			op, ok := classify(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := resolve(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			result, err := engine.Allow(ctx, actor, op)
			if err != nil {
				log.Error("rate limit check failed",
					zap.String("user_id", actor.ID),
					zap.String("operation", string(op)),
					zap.Error(err))
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if !result.Allowed {
				writeDenial(w, result)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenial(w http.ResponseWriter, result ratelimit.Result) {
	retryAfter := int(result.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":               "rate_limited",
		"violation":           string(result.Violation),
		"retry_after_seconds": retryAfter,
	})
}
