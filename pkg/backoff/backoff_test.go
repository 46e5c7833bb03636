// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
)

func TestWaitProgression(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	b := ExponentialBackoff{Min: 10 * time.Millisecond, Max: 40 * time.Millisecond}

	var delays []time.Duration
	for !b.Maxed() {
		require.NoError(t, b.Wait(ctx))
		delays = append(delays, b.Delay)
	}
	require.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, delays)
}

func TestZeroValueDefaults(t *testing.T) {
	var b ExponentialBackoff
	b.init()
	require.Equal(t, time.Second, b.Max)
	require.Equal(t, 5*time.Millisecond, b.Min)
}

func TestWaitHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := ExponentialBackoff{Min: time.Minute, Max: time.Hour}
	require.ErrorIs(t, b.Wait(ctx), context.Canceled)
}
