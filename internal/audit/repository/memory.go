package repository

import (
	"context"
	"sort"
	"sync"

	"authsessions/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process. Used with the memory ledger.
type MemoryRepository struct {
	mu   sync.RWMutex
	logs []*domain.AuditLog
}

// NewMemoryRepository returns an empty in-process audit log store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	cp := *a
	r.mu.Lock()
	r.logs = append(r.logs, &cp)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	matched := make([]*domain.AuditLog, 0, len(r.logs))
	for _, a := range r.logs {
		if userID == "" || a.UserID == userID {
			cp := *a
			matched = append(matched, &cp)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if int(offset) >= len(matched) {
		return []*domain.AuditLog{}, nil
	}
	matched = matched[offset:]
	if int(limit) < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
