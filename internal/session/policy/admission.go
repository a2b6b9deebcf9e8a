// Package policy decides which sessions must be evicted before a new one is admitted.
// It is pure: callers pass a ledger snapshot and act on the returned decision.
package policy

import (
	"sort"

	"authsessions/backend/internal/session/domain"
)

// Decision lists the sessions to invalidate before the new session is created.
type Decision struct {
	Evict []*domain.RefreshToken
}

// AdmitNewSession returns the eviction decision for a user whose active sessions are
// active, ordered most-recently-used first (the ledger order, see Less). When the user
// is at or over maxActive, the tail of the sequence is evicted so that one slot is free
// after eviction. In steady state that is exactly one session; a larger overshoot left
// by racing logins is drained in the same decision.
func AdmitNewSession(active []*domain.RefreshToken, maxActive int) Decision {
	if maxActive < 1 {
		maxActive = 1
	}
	if len(active) < maxActive {
		return Decision{}
	}
	n := len(active) - maxActive + 1
	evict := make([]*domain.RefreshToken, 0, n)
	for i := len(active) - 1; i >= len(active)-n; i-- {
		evict = append(evict, active[i])
	}
	return Decision{Evict: evict}
}

// Less is the ledger's session order: LastUsedAt descending, ties broken by ID descending.
// With time-ordered ids the newest record wins a tie, so the tail is always the least
// recently used and, among equals, the oldest.
func Less(a, b *domain.RefreshToken) bool {
	if !a.LastUsedAt.Equal(b.LastUsedAt) {
		return a.LastUsedAt.After(b.LastUsedAt)
	}
	return a.ID > b.ID
}

// SortByRecency sorts sessions in place in ledger order.
func SortByRecency(sessions []*domain.RefreshToken) {
	sort.SliceStable(sessions, func(i, j int) bool { return Less(sessions[i], sessions[j]) })
}
