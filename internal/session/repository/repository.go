package repository

import (
	"context"
	"time"

	"authsessions/backend/internal/session/domain"
)

// Repository is the session ledger: the source of truth for which refresh tokens are active.
// It does not enforce the per-user cap; callers admit through the policy package first.
// Lookups return (nil, nil) when no row matches. Mutations on missing rows are no-ops.
type Repository interface {
	// Create inserts rec as given. The token must be unique across all rows.
	Create(ctx context.Context, rec *domain.RefreshToken) error
	// FindByToken returns the record for token only while is_valid is true.
	FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	// FindAnyByToken returns the record for token regardless of validity or expiry.
	FindAnyByToken(ctx context.Context, token string) (*domain.RefreshToken, error)
	// Invalidate sets is_valid = false on the record for token. Idempotent.
	Invalidate(ctx context.Context, token string) error
	// InvalidateAllForUser sets is_valid = false on every record owned by userID.
	InvalidateAllForUser(ctx context.Context, userID string) error
	// TouchLastUsed sets last_used_at = at on the record for token.
	TouchLastUsed(ctx context.Context, token string, at time.Time) error
	// ListActiveSessions returns valid, unexpired records for userID ordered by
	// last_used_at DESC, id DESC. Eviction reads the tail of this sequence.
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshToken, error)
	// PurgeExpiredOrInvalid deletes records with expires_at < now or is_valid = false and returns the count.
	PurgeExpiredOrInvalid(ctx context.Context, now time.Time) (int64, error)
}
