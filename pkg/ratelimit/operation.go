// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"math"
	"time"
)

// Operation classifies an API action subject to its own quota.
type Operation string

// All operation kinds known to the engine. The set is closed: checks for
// any other value fail with ErrUnknownOperation.
const (
	OpCreatePost    Operation = "create_post"
	OpCreateComment Operation = "create_comment"
	OpLikePost      Operation = "like_post"
	OpFollowUser    Operation = "follow_user"
	OpReportContent Operation = "report_content"
	OpSendMessage   Operation = "send_message"
	OpUploadMedia   Operation = "upload_media"
	OpSearch        Operation = "search"
)

// Quota is the immutable per-operation limit configuration.
type Quota struct {
	// Limit is the number of requests allowed per sustained window for a
	// user with a neutral trust multiplier.
	Limit int

	// BurstThreshold is the maximum number of requests allowed inside
	// BurstWindow regardless of trust. Zero disables burst protection for
	// the operation.
	BurstThreshold int

	// BurstWindow is the length of the burst window.
	BurstWindow time.Duration
}

// ScaledLimit returns the sustained limit adjusted by the trust
// multiplier. Fractional results round half to even, so 5 scaled by 0.5
// yields 2 and 30 scaled by 0.25 yields 8. The result is never below 1:
// an operation stays possible no matter how low the multiplier is.
func (q Quota) ScaledLimit(multiplier float64) int {
	if multiplier < 0 {
		multiplier = 0
	}
	limit := int(math.RoundToEven(float64(q.Limit) * multiplier))
	if limit < 1 {
		return 1
	}
	return limit
}

// QuotaTable maps every known operation to its quota.
type QuotaTable map[Operation]Quota

// Lookup returns the quota for op and whether op is a known operation.
func (t QuotaTable) Lookup(op Operation) (Quota, bool) {
	q, ok := t[op]
	return q, ok
}

// DefaultQuotas returns the standard production quota table.
func DefaultQuotas() QuotaTable {
	return QuotaTable{
		OpCreatePost:    {Limit: 5, BurstThreshold: 3, BurstWindow: 10 * time.Second},
		OpCreateComment: {Limit: 10, BurstThreshold: 5, BurstWindow: 10 * time.Second},
		OpLikePost:      {Limit: 30, BurstThreshold: 10, BurstWindow: 5 * time.Second},
		OpFollowUser:    {Limit: 20, BurstThreshold: 8, BurstWindow: 10 * time.Second},
		OpReportContent: {Limit: 5, BurstThreshold: 2, BurstWindow: 30 * time.Second},
		OpSendMessage:   {Limit: 20, BurstThreshold: 6, BurstWindow: 10 * time.Second},
		OpUploadMedia:   {Limit: 10, BurstThreshold: 3, BurstWindow: 30 * time.Second},
		OpSearch:        {Limit: 30, BurstThreshold: 10, BurstWindow: 5 * time.Second},
	}
}
