package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"authsessions/backend/internal/session/domain"
	"authsessions/backend/internal/session/policy"
)

// ErrDuplicateToken is returned by Create when the token is already stored.
var ErrDuplicateToken = errors.New("refresh token already exists")

// MemoryRepository is an in-process ledger. Each method is atomic with respect to the
// others, which mirrors the single-row atomicity Postgres gives the real ledger.
type MemoryRepository struct {
	mu      sync.RWMutex
	byToken map[string]*domain.RefreshToken
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byToken: make(map[string]*domain.RefreshToken)}
}

// Create stores a copy of rec.
func (r *MemoryRepository) Create(ctx context.Context, rec *domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byToken[rec.Token]; ok {
		return ErrDuplicateToken
	}
	c := *rec
	r.byToken[rec.Token] = &c
	return nil
}

// FindByToken returns a copy of the valid record for token, or nil.
func (r *MemoryRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byToken[token]
	if !ok || !rec.IsValid {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

// FindAnyByToken returns a copy of the record for token, or nil.
func (r *MemoryRepository) FindAnyByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

// Invalidate marks the record for token invalid.
func (r *MemoryRepository) Invalidate(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byToken[token]; ok {
		rec.IsValid = false
	}
	return nil
}

// InvalidateAllForUser marks every record owned by userID invalid.
func (r *MemoryRepository) InvalidateAllForUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byToken {
		if rec.UserID == userID {
			rec.IsValid = false
		}
	}
	return nil
}

// TouchLastUsed sets LastUsedAt on the record for token.
func (r *MemoryRepository) TouchLastUsed(ctx context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.byToken[token]; ok {
		rec.LastUsedAt = at
	}
	return nil
}

// ListActiveSessions returns copies of the user's active records in ledger order.
func (r *MemoryRepository) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshToken, error) {
	r.mu.RLock()
	out := make([]*domain.RefreshToken, 0)
	for _, rec := range r.byToken {
		if rec.UserID == userID && rec.IsActive(now) {
			c := *rec
			out = append(out, &c)
		}
	}
	r.mu.RUnlock()
	policy.SortByRecency(out)
	return out, nil
}

// PurgeExpiredOrInvalid deletes purgeable records and returns how many were removed.
func (r *MemoryRepository) PurgeExpiredOrInvalid(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for token, rec := range r.byToken {
		if rec.Purgeable(now) {
			delete(r.byToken, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, valid or not.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}
