package users

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keithlinneman/tradesignals-web/internal/xerrors"
)

// MemoryStore is an in-process Store. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	byMobile map[string]User

	now   func() time.Time
	newID func() string
}

type MemoryOption func(*MemoryStore)

// WithClock sets the timestamp source for CreatedAt and UpdatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithIDFunc replaces the random UUID generator.
func WithIDFunc(fn func() string) MemoryOption {
	return func(s *MemoryStore) { s.newID = fn }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byMobile: make(map[string]User),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) FindByMobile(ctx context.Context, mobile string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, xerrors.Wrap(err, "find user")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byMobile[mobile]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// Create stores u with a fresh ID and timestamps; any ID or times on u are ignored.
func (s *MemoryStore) Create(ctx context.Context, u User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, xerrors.Wrap(err, "create user")
	}
	if strings.TrimSpace(u.MobileNumber) == "" {
		return User{}, xerrors.New("create user: mobile number is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byMobile[u.MobileNumber]; ok {
		return User{}, ErrExists
	}

	now := s.now().UTC()
	u.ID = s.newID()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.byMobile[u.MobileNumber] = u
	return u, nil
}

// List returns every user, newest first.
func (s *MemoryStore) List(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(err, "list users")
	}

	s.mu.RLock()
	out := make([]User, 0, len(s.byMobile))
	for _, u := range s.byMobile {
		out = append(out, u)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b User) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.MobileNumber, b.MobileNumber)
	})
	return out, nil
}

// Len reports the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byMobile)
}
