// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chirpsocial/backend/pkg/ratelimit"
)

func (s *Server) healthLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_requests":          stats.TotalRequests,
		"total_violations":        stats.TotalViolations,
		"base_rate_limit_configs": stats.ConfiguredOperations,
		"tracked_users":           stats.TrackedUsers,
		"active_blocks":           stats.ActiveBlocks,
	})
}

// check is a read-only probe: it reports what an admission check would
// answer right now without consuming any quota.
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	op := ratelimit.Operation(r.URL.Query().Get("operation"))
	role := ratelimit.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = ratelimit.RoleUser
	}

	result, err := s.engine.Check(r.Context(), ratelimit.Actor{ID: userID, Role: role}, op)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	body := map[string]interface{}{
		"allowed":  result.Allowed,
		"reset_at": result.ResetAt,
	}
	if result.Allowed {
		body["remaining"] = result.Remaining
	} else {
		body["violation"] = string(result.Violation)
		body["retry_after_seconds"] = result.RetryAfter.Seconds()
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) violations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	violations := s.engine.RecentViolations(r.Context(), userID)
	out := make([]map[string]interface{}, 0, len(violations))
	for _, v := range violations {
		out = append(out, map[string]interface{}{
			"operation": string(v.Operation),
			"violation": string(v.Kind),
			"at":        v.At,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    userID,
		"violations": out,
	})
}

type blockRequest struct {
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, Error.Wrap(err))
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, Error.Wrap(err))
		return
	}
	if req.Reason == "" {
		req.Reason = "manual block"
	}

	if err := s.engine.BlockUser(r.Context(), userID, duration, req.Reason); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unblock(w http.ResponseWriter, r *http.Request) {
	s.engine.UnblockUser(r.Context(), mux.Vars(r)["userID"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetUserLimits(r.Context(), mux.Vars(r)["userID"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
