// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

// Package ratelimit implements per-user, per-operation admission control
// for the API.
//
// Every operation kind carries a base quota over a one-minute sustained
// window and, for most kinds, a hard threshold over a short burst window.
// The sustained quota is scaled by a per-user trust multiplier obtained
// from the trust service; the burst threshold is a fixed anti-abuse
// ceiling and is never scaled.
//
// Checking and recording are separate operations: Check is read-only and
// consumes no quota, so callers can probe freely. Callers that want the
// usual check-then-consume semantics under concurrency should use Allow,
// which performs both under the user's lock.
//
// Users that keep violating their quotas are blocked automatically for a
// configured duration. Operators can also block, unblock, and reset users
// explicitly.
package ratelimit
