// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/sync2"
)

var mon = monkit.Package()

var (
	// Error wraps all engine errors.
	Error = errs.Class("ratelimit")

	// ErrUnknownOperation is returned for operations missing from the
	// quota table. It indicates a missing configuration, not a runtime
	// condition to recover from.
	ErrUnknownOperation = errs.Class("unknown operation")
)

const autoBlockReason = "automatic: repeated rate limit violations"

// TrustProvider supplies per-user trust multipliers. Implementations may
// fail; the engine substitutes the configured fallback multiplier and
// never propagates the failure to admission checks.
type TrustProvider interface {
	Multiplier(ctx context.Context, userID string) (float64, error)
}

// TrustFunc adapts a function to the TrustProvider interface.
type TrustFunc func(ctx context.Context, userID string) (float64, error)

// Multiplier implements TrustProvider.
func (f TrustFunc) Multiplier(ctx context.Context, userID string) (float64, error) {
	return f(ctx, userID)
}

// Engine answers admission checks and records API usage. One instance is
// constructed per process and owns all per-user rate limit state.
type Engine struct {
	log    *zap.Logger
	config Config
	quotas QuotaTable
	trust  TrustProvider
	store  *store

	totalRequests   atomic.Int64
	totalViolations atomic.Int64

	// Sweep drops expired state periodically while Run is active.
	Sweep *sync2.Cycle

	nowFn func() time.Time // overridden in tests
}

// New constructs an Engine. A nil quotas table selects DefaultQuotas.
// trust may be nil, in which case every user gets the fallback
// multiplier.
func New(log *zap.Logger, trust TrustProvider, quotas QuotaTable, config Config) *Engine {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}
	return &Engine{
		log:    log,
		config: config,
		quotas: quotas,
		trust:  trust,
		store:  newStore(),
		Sweep:  sync2.NewCycle(config.SweepInterval),
	}
}

// Run periodically sweeps expired windows, blocks, and violations until
// ctx is canceled. Running the sweep is optional; expiry is enforced
// lazily on every check.
func (e *Engine) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return e.Sweep.Run(ctx, func(ctx context.Context) error {
		e.store.sweep(e.now(), e.config.ViolationRetention)
		return nil
	})
}

// Close stops the sweep cycle.
func (e *Engine) Close() error {
	e.Sweep.Close()
	return nil
}

// Check answers whether actor may perform op right now. It is read-only:
// no counter moves, so repeated checks without an intervening Record
// return the same remaining count.
func (e *Engine) Check(ctx context.Context, actor Actor, op Operation) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	quota, ok := e.quotas.Lookup(op)
	if !ok {
		return Result{}, ErrUnknownOperation.New("%q", op)
	}
	if !e.config.Enabled || e.exempt(actor.Role) {
		return Result{Allowed: true, Remaining: quota.Limit}, nil
	}

	now := e.now()
	u := e.store.user(actor.ID)

	u.mu.Lock()
	block := u.blockedUntil(now)
	u.mu.Unlock()
	if block != nil {
		return e.deny(Result{
			Violation:  ViolationBlocked,
			RetryAfter: block.expiresAt.Sub(now),
			ResetAt:    block.expiresAt,
		}), nil
	}

	limit := quota.ScaledLimit(e.multiplier(ctx, actor.ID))

	u.mu.Lock()
	defer u.mu.Unlock()

	result := e.evaluate(u, op, quota, limit, now)
	if !result.Allowed {
		return e.deny(result), nil
	}
	return result, nil
}

// Record counts one request by actor against op's windows, rolling over
// any window that has elapsed. It is independent of Check: recording is
// safe even when a check would have denied. Recording past a violation
// condition appends to the user's violation history and may trigger an
// automatic block.
func (e *Engine) Record(ctx context.Context, actor Actor, op Operation) (err error) {
	defer mon.Task()(&ctx)(&err)

	quota, ok := e.quotas.Lookup(op)
	if !ok {
		return ErrUnknownOperation.New("%q", op)
	}

	e.totalRequests.Add(1)
	mon.Counter("ratelimit_requests").Inc(1)

	if !e.config.Enabled || e.exempt(actor.Role) {
		return nil
	}

	limit := quota.ScaledLimit(e.multiplier(ctx, actor.ID))
	now := e.now()
	u := e.store.user(actor.ID)

	u.mu.Lock()
	defer u.mu.Unlock()

	e.record(u, actor.ID, op, quota, limit, now)
	return nil
}

// Allow is Check followed by Record under the user's lock, so two racing
// callers cannot both consume the last unit of quota. This is the path
// request handlers should use. On denial nothing is consumed, but the
// violation is added to the user's history and may trigger an automatic
// block.
func (e *Engine) Allow(ctx context.Context, actor Actor, op Operation) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	quota, ok := e.quotas.Lookup(op)
	if !ok {
		return Result{}, ErrUnknownOperation.New("%q", op)
	}

	if !e.config.Enabled || e.exempt(actor.Role) {
		e.totalRequests.Add(1)
		mon.Counter("ratelimit_requests").Inc(1)
		return Result{Allowed: true, Remaining: quota.Limit}, nil
	}

	now := e.now()
	u := e.store.user(actor.ID)

	u.mu.Lock()
	block := u.blockedUntil(now)
	u.mu.Unlock()
	if block != nil {
		return e.deny(Result{
			Violation:  ViolationBlocked,
			RetryAfter: block.expiresAt.Sub(now),
			ResetAt:    block.expiresAt,
		}), nil
	}

	limit := quota.ScaledLimit(e.multiplier(ctx, actor.ID))

	u.mu.Lock()
	defer u.mu.Unlock()

	result := e.evaluate(u, op, quota, limit, now)
	if !result.Allowed {
		e.registerViolation(u, actor.ID, op, result.Violation, now)
		return e.deny(result), nil
	}

	e.record(u, actor.ID, op, quota, limit, now)
	result.Remaining--
	return result, nil
}

// BlockUser installs or replaces a block record for userID expiring
// after duration. It is idempotent.
func (e *Engine) BlockUser(ctx context.Context, userID string, duration time.Duration, reason string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if duration <= 0 {
		return Error.New("block duration must be positive")
	}

	now := e.now()
	u := e.store.user(userID)

	u.mu.Lock()
	u.block = &blockRecord{reason: reason, expiresAt: now.Add(duration)}
	u.mu.Unlock()

	e.log.Info("user blocked",
		zap.String("user_id", userID),
		zap.Duration("duration", duration),
		zap.String("reason", reason))
	return nil
}

// UnblockUser removes userID's block record. It is a no-op when the user
// is not blocked.
func (e *Engine) UnblockUser(ctx context.Context, userID string) {
	defer mon.Task()(&ctx)(nil)

	u, ok := e.store.lookup(userID)
	if !ok {
		return
	}

	u.mu.Lock()
	blocked := u.block != nil
	u.block = nil
	u.mu.Unlock()

	if blocked {
		e.log.Info("user unblocked", zap.String("user_id", userID))
	}
}

// IsUserBlocked reports whether userID has a non-expired block record.
func (e *Engine) IsUserBlocked(ctx context.Context, userID string) bool {
	defer mon.Task()(&ctx)(nil)

	u, ok := e.store.lookup(userID)
	if !ok {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	return u.blockedUntil(e.now()) != nil
}

// ResetUserLimits clears all usage windows, violations, and any block
// record for userID. Afterwards the user checks as if they had never
// made a request.
func (e *Engine) ResetUserLimits(ctx context.Context, userID string) {
	defer mon.Task()(&ctx)(nil)

	e.store.reset(userID)
	e.log.Info("user limits reset", zap.String("user_id", userID))
}

// RecentViolations returns userID's violations still inside the
// retention window, oldest first. Users with no history get an empty
// result.
func (e *Engine) RecentViolations(ctx context.Context, userID string) []Violation {
	defer mon.Task()(&ctx)(nil)

	u, ok := e.store.lookup(userID)
	if !ok {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	recent := recentViolations(u.violations, e.now(), e.config.ViolationRetention)
	out := make([]Violation, len(recent))
	copy(out, recent)
	return out
}

// Stats returns process-wide engine counters, current as of the call.
func (e *Engine) Stats() Stats {
	return Stats{
		TotalRequests:        e.totalRequests.Load(),
		TotalViolations:      e.totalViolations.Load(),
		ConfiguredOperations: len(e.quotas),
		TrackedUsers:         e.store.size(),
		ActiveBlocks:         e.store.activeBlocks(e.now()),
	}
}

// evaluate computes the admission decision for op without moving any
// counters. The caller must hold u.mu.
func (e *Engine) evaluate(u *userState, op Operation, quota Quota, limit int, now time.Time) Result {
	var sustained, burst int
	resetAt := now.Add(e.config.Window)

	w := u.windows[op]
	if w != nil {
		if !w.elapsed(now) {
			sustained = w.count
			resetAt = w.end
		}
		if !w.burstElapsed(now) {
			burst = w.burstCount
		}
	}

	if e.config.BurstProtectionEnabled && quota.BurstThreshold > 0 && burst >= quota.BurstThreshold {
		return Result{
			Violation:  ViolationBurst,
			RetryAfter: e.config.BurstPenalty,
			ResetAt:    resetAt,
		}
	}
	if sustained >= limit {
		return Result{
			Violation:  ViolationLimit,
			RetryAfter: w.end.Sub(now),
			ResetAt:    w.end,
		}
	}
	return Result{
		Allowed:   true,
		Remaining: limit - sustained,
		ResetAt:   resetAt,
	}
}

// record moves the sustained and burst counters for one request and
// registers any violation that the request pushed the user into. The
// caller must hold u.mu.
func (e *Engine) record(u *userState, userID string, op Operation, quota Quota, limit int, now time.Time) {
	w := u.windows[op]
	if w == nil {
		w = &usageWindow{}
		u.windows[op] = w
	}
	if w.end.IsZero() || w.elapsed(now) {
		w.start, w.end, w.count = now, now.Add(e.config.Window), 0
	}
	if quota.BurstWindow > 0 && (w.burstEnd.IsZero() || w.burstElapsed(now)) {
		w.burstStart, w.burstEnd, w.burstCount = now, now.Add(quota.BurstWindow), 0
	}
	w.count++
	w.burstCount++

	switch {
	case e.config.BurstProtectionEnabled && quota.BurstThreshold > 0 && w.burstCount > quota.BurstThreshold:
		e.registerViolation(u, userID, op, ViolationBurst, now)
	case w.count > limit:
		e.registerViolation(u, userID, op, ViolationLimit, now)
	}
}

// registerViolation appends to the user's violation history and installs
// an automatic block once the recent count reaches the configured
// threshold. The caller must hold u.mu.
func (e *Engine) registerViolation(u *userState, userID string, op Operation, kind ViolationKind, now time.Time) {
	u.violations = append(
		recentViolations(u.violations, now, e.config.ViolationRetention),
		Violation{UserID: userID, Operation: op, Kind: kind, At: now},
	)
	e.totalViolations.Add(1)
	mon.Counter("ratelimit_violations",
		monkit.NewSeriesTag("violation", string(kind))).Inc(1)

	if !e.config.AutoBlockingEnabled || u.blockedUntil(now) != nil {
		return
	}
	if len(u.violations) < e.config.AutoBlockViolationThreshold {
		return
	}

	u.block = &blockRecord{
		reason:    autoBlockReason,
		automatic: true,
		expiresAt: now.Add(e.config.AutoBlockDuration),
	}
	e.log.Info("user blocked automatically",
		zap.String("user_id", userID),
		zap.Int("recent_violations", len(u.violations)),
		zap.Duration("duration", e.config.AutoBlockDuration))
	mon.Event("ratelimit_auto_block")
}

// deny tags denial metrics and returns result unchanged.
func (e *Engine) deny(result Result) Result {
	mon.Counter("ratelimit_denied",
		monkit.NewSeriesTag("violation", string(result.Violation))).Inc(1)
	return result
}

// multiplier resolves the trust multiplier for userID with a bounded
// timeout. Lookup failures degrade to the configured fallback and are
// never surfaced to the admission path.
func (e *Engine) multiplier(ctx context.Context, userID string) float64 {
	if !e.config.TrustBasedEnabled {
		return 1
	}
	if e.trust == nil {
		return e.config.FallbackMultiplier
	}

	if e.config.TrustTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TrustTimeout)
		defer cancel()
	}

	m, err := e.trust.Multiplier(ctx, userID)
	if err != nil {
		e.log.Warn("trust multiplier lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		mon.Event("ratelimit_trust_fallback")
		return e.config.FallbackMultiplier
	}
	if m < 0 {
		m = 0
	}
	return m
}

func (e *Engine) exempt(role Role) bool {
	switch role {
	case RoleAdmin:
		return !e.config.ApplyToAdmins
	case RoleModerator:
		return !e.config.ApplyToModerators
	}
	return false
}

func (e *Engine) now() time.Time {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now()
}
