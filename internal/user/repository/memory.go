package repository

import (
	"context"
	"sync"

	"authsessions/backend/internal/user/domain"
)

// MemoryRepository keeps users in process. It backs LEDGER_BACKEND=memory and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.User
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory user store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.User)}
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id }), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email }), nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username }), nil
}

// Create stores a copy of u. Returns ErrDuplicate when the email or username is taken.
func (r *MemoryRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == u.Email || existing.Username == u.Username {
			return ErrDuplicate
		}
	}
	c := *u
	r.byID[u.ID] = &c
	return nil
}

// Delete removes the user with id, if any.
func (r *MemoryRepository) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *MemoryRepository) find(match func(*domain.User) bool) *domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if match(u) {
			c := *u
			return &c
		}
	}
	return nil
}
