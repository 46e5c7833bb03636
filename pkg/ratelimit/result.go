// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"time"
)

// ViolationKind describes why a request was denied.
type ViolationKind string

// Denial reasons. These are results, not errors: callers surface them to
// the end user as a throttling response together with RetryAfter.
const (
	ViolationBurst   ViolationKind = "burst"
	ViolationLimit   ViolationKind = "limit"
	ViolationBlocked ViolationKind = "blocked"
)

// Result is the outcome of an admission check.
type Result struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool

	// Remaining is the number of requests left inside the current
	// sustained window. It is only meaningful when Allowed is true.
	Remaining int

	// ResetAt is when the current sustained window ends.
	ResetAt time.Time

	// Violation is set when Allowed is false.
	Violation ViolationKind

	// RetryAfter is how long the caller must wait before retrying. It is
	// positive exactly when Allowed is false.
	RetryAfter time.Duration
}

// Role classifies the account making a request.
type Role string

// Account roles. Admins and moderators bypass rate limiting unless the
// configuration says otherwise.
const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Actor identifies the account a check or record call acts on behalf of.
// Unknown users are fine; they get default trust.
type Actor struct {
	ID   string
	Role Role
}

// Violation is one entry in a user's rolling violation history.
type Violation struct {
	UserID    string
	Operation Operation
	Kind      ViolationKind
	At        time.Time
}

// Stats are process-wide engine counters. TotalRequests and
// TotalViolations are monotonic over the process lifetime.
type Stats struct {
	TotalRequests        int64
	TotalViolations      int64
	ConfiguredOperations int
	TrackedUsers         int
	ActiveBlocks         int
}
