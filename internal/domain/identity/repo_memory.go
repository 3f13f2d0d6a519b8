package identity

import (
	"context"
	"sync"
)

// UserRepoMemory keeps users in process memory. Registration order is kept so
// patient pickers list users the way they signed up.
type UserRepoMemory struct {
	mu    sync.RWMutex
	users map[string]*User
	order []string
}

func NewUserRepoMemory() *UserRepoMemory {
	return &UserRepoMemory{users: make(map[string]*User)}
}

func (r *UserRepoMemory) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.Username]; ok {
		return ErrUserExists
	}
	r.users[u.Username] = u.clone()
	r.order = append(r.order, u.Username)
	return nil
}

func (r *UserRepoMemory) GetByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.clone(), nil
}

func (r *UserRepoMemory) Update(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.Username]; !ok {
		return ErrUserNotFound
	}
	r.users[u.Username] = u.clone()
	return nil
}

func (r *UserRepoMemory) ListByRole(_ context.Context, role Role) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*User
	for _, name := range r.order {
		if u := r.users[name]; u.Role == role {
			out = append(out, u.clone())
		}
	}
	return out, nil
}
