package domain

import "time"

// RefreshToken is one ledger row: a logged-in device holding a long-lived refresh token.
// IsValid starts true and flips to false exactly once (logout, logout-all, eviction).
type RefreshToken struct {
	ID         string
	UserID     string
	Token      string
	ExpiresAt  time.Time
	DeviceInfo string // JSON snapshot captured at creation; never updated
	IPAddress  string
	IsValid    bool
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// IsActive reports whether the record is valid and unexpired at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return t.IsValid && t.ExpiresAt.After(now)
}

// Purgeable reports whether the sweeper may delete the record at now.
func (t *RefreshToken) Purgeable(now time.Time) bool {
	return !t.IsValid || t.ExpiresAt.Before(now)
}
