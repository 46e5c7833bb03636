// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

// Package backoff provides delays between failing attempts.
package backoff

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
)

var mon = monkit.Package()

// ExponentialBackoff doubles the delay on every Wait up to Max. The zero
// value is usable and picks conservative defaults. Copy the struct per
// call site; Wait mutates it.
type ExponentialBackoff struct {
	Delay time.Duration `help:"the current delay between retries, typically not set" default:"0ms"`
	Max   time.Duration `help:"the longest delay between retries" default:"1s"`
	Min   time.Duration `help:"the shortest delay between retries" default:"5ms"`
}

func (e *ExponentialBackoff) init() {
	if e.Max == 0 {
		e.Max = time.Second
	}
	if e.Min == 0 {
		e.Min = 5 * time.Millisecond
	}
}

// Wait sleeps for the next delay in the progression, or returns early
// with the context error when ctx is done.
func (e *ExponentialBackoff) Wait(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	e.init()
	if e.Delay == 0 {
		e.Delay = e.Min
	} else {
		e.Delay *= 2
	}
	if e.Delay > e.Max {
		e.Delay = e.Max
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	t := time.NewTimer(e.Delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Maxed returns true once the delay has reached Max, meaning the caller
// should give up instead of retrying further.
func (e *ExponentialBackoff) Maxed() bool {
	e.init()
	return e.Delay == e.Max
}
