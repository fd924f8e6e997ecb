// Package lockmanager tracks session-lock ownership and enforces the
// broker-wide lock-duration bounds (C5). Message-lock expiry itself lives
// in the message store/lifecycle engine; this package adds the
// session-lock layer and its expiry sweep. The janitor runs both sweeps.
package lockmanager

import (
	"sync"
	"time"

	"github.com/localzure/brokerd/internal/brokererrors"
)

const (
	// MinLockDuration is the floor applied to requested session-lock durations.
	MinLockDuration = 1 * time.Second
	// MaxLockDuration is the ceiling applied to requested session-lock durations.
	MaxLockDuration = 5 * time.Minute
)

// ClampLockDuration enforces the [MinLockDuration, MaxLockDuration] bound,
// used when a receiver accepts a session with a requested lock duration.
func ClampLockDuration(d time.Duration) time.Duration {
	if d < MinLockDuration {
		return MinLockDuration
	}
	if d > MaxLockDuration {
		return MaxLockDuration
	}
	return d
}

type sessionLock struct {
	owner      string
	lockedUntil time.Time
}

// SessionLocks tracks session-lock ownership for one entity (a
// session-enabled queue or subscription), keyed by session-id.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]sessionLock
}

// NewSessionLocks constructs an empty session-lock table.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]sessionLock)}
}

// AcceptSpecific locks sessionID for owner, failing with
// SessionAlreadyLocked if another owner currently holds it.
func (s *SessionLocks) AcceptSpecific(sessionID, owner string, lockDuration time.Duration, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locks[sessionID]; ok && existing.lockedUntil.After(now) && existing.owner != owner {
		return time.Time{}, brokererrors.SessionAlreadyLocked(sessionID)
	}
	until := now.Add(lockDuration)
	s.locks[sessionID] = sessionLock{owner: owner, lockedUntil: until}
	return until, nil
}

// AcceptNext locks an arbitrary unlocked session from candidateSessionIDs
// (sessions currently holding active messages), returning SessionNotFound
// if none are available.
func (s *SessionLocks) AcceptNext(candidateSessionIDs []string, owner string, lockDuration time.Duration, now time.Time) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sessionID := range candidateSessionIDs {
		if existing, ok := s.locks[sessionID]; ok && existing.lockedUntil.After(now) {
			continue
		}
		until := now.Add(lockDuration)
		s.locks[sessionID] = sessionLock{owner: owner, lockedUntil: until}
		return sessionID, until, nil
	}
	return "", time.Time{}, brokererrors.SessionNotFound("")
}

// Renew extends an owned session lock.
func (s *SessionLocks) Renew(sessionID, owner string, lockDuration time.Duration, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[sessionID]
	if !ok || existing.lockedUntil.Before(now) {
		return time.Time{}, brokererrors.SessionLockLost(sessionID)
	}
	if existing.owner != owner {
		return time.Time{}, brokererrors.SessionLockLost(sessionID)
	}
	until := now.Add(lockDuration)
	s.locks[sessionID] = sessionLock{owner: owner, lockedUntil: until}
	return until, nil
}

// Release drops a session lock regardless of remaining time (used on
// explicit session-close).
func (s *SessionLocks) Release(sessionID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[sessionID]
	if !ok || existing.owner != owner {
		return brokererrors.SessionLockLost(sessionID)
	}
	delete(s.locks, sessionID)
	return nil
}

// IsLocked reports whether sessionID is currently held by any owner with
// an unexpired lock.
func (s *SessionLocks) IsLocked(sessionID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[sessionID]
	return ok && existing.lockedUntil.After(now)
}

// IsHeldBy reports whether sessionID is currently locked, unexpired, and
// owned by owner — the check a receive path uses to confirm its caller
// actually accepted the session before fetching from it.
func (s *SessionLocks) IsHeldBy(sessionID, owner string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.locks[sessionID]
	return ok && existing.lockedUntil.After(now) && existing.owner == owner
}

// Sweep releases sessions whose lock has expired; returns the released
// session ids for callers that need to notify waiters.
func (s *SessionLocks) Sweep(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released []string
	for sessionID, lock := range s.locks {
		if !lock.lockedUntil.After(now) {
			delete(s.locks, sessionID)
			released = append(released, sessionID)
		}
	}
	return released
}
