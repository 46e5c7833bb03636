// Copyright (C) 2024 Chirp Social, Inc.
// See LICENSE for copying information.

package ratelimit

import (
	"sync"
	"time"
)

// store owns all per-user engine state. The store mutex only guards the
// user map; counter and block operations serialize on the per-user mutex
// so concurrent callers acting on behalf of the same user never race a
// check against an increment.
type store struct {
	mu    sync.Mutex
	users map[string]*userState
}

func newStore() *store {
	return &store{users: make(map[string]*userState)}
}

// user returns the state for id, creating it when absent.
func (s *store) user(id string) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		u = &userState{windows: make(map[Operation]*usageWindow)}
		s.users[id] = u
	}
	return u
}

// lookup returns the state for id without creating it.
func (s *store) lookup(id string) (*userState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	return u, ok
}

// reset drops all state held for id.
func (s *store) reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, id)
}

// size returns the number of users with any tracked state.
func (s *store) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.users)
}

// activeBlocks counts users with a non-expired block record.
func (s *store) activeBlocks(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, u := range s.users {
		u.mu.Lock()
		if u.blockedUntil(now) != nil {
			count++
		}
		u.mu.Unlock()
	}
	return count
}

// sweep drops expired windows, blocks, and violations, and forgets users
// with nothing left to track. Expiry is otherwise handled lazily; the
// sweep only bounds memory.
func (s *store) sweep(now time.Time, retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		u.mu.Lock()
		for op, w := range u.windows {
			if w.elapsed(now) && w.burstElapsed(now) {
				delete(u.windows, op)
			}
		}
		if u.block != nil && !now.Before(u.block.expiresAt) {
			u.block = nil
		}
		u.violations = recentViolations(u.violations, now, retention)
		empty := len(u.windows) == 0 && u.block == nil && len(u.violations) == 0
		u.mu.Unlock()

		if empty {
			delete(s.users, id)
		}
	}
}

// userState is everything the engine tracks for a single user.
type userState struct {
	mu         sync.Mutex
	windows    map[Operation]*usageWindow
	block      *blockRecord
	violations []Violation
}

// blockedUntil returns the active block record, or nil when the user is
// not blocked. The caller must hold u.mu.
func (u *userState) blockedUntil(now time.Time) *blockRecord {
	if u.block == nil || !now.Before(u.block.expiresAt) {
		return nil
	}
	return u.block
}

// usageWindow holds the sustained and burst counters for one
// (user, operation) pair. Both windows are fixed length, anchored at the
// first request recorded into them, and reset lazily once elapsed.
type usageWindow struct {
	start time.Time
	end   time.Time
	count int

	burstStart time.Time
	burstEnd   time.Time
	burstCount int
}

func (w *usageWindow) elapsed(now time.Time) bool {
	return !now.Before(w.end)
}

func (w *usageWindow) burstElapsed(now time.Time) bool {
	return !now.Before(w.burstEnd)
}

// blockRecord suspends a user until expiresAt.
type blockRecord struct {
	reason    string
	automatic bool
	expiresAt time.Time
}

// recentViolations returns the suffix of violations still inside the
// retention window. Entries are appended in time order, so the suffix is
// found by scanning for the first recent entry.
func recentViolations(violations []Violation, now time.Time, retention time.Duration) []Violation {
	cutoff := now.Add(-retention)
	for i, v := range violations {
		if v.At.After(cutoff) {
			return violations[i:]
		}
	}
	return nil
}
