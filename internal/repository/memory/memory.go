// Package memory is an in-process implementation of the repository
// contracts. It backs the "memory" database mode and the service tests.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/repository"
)

// DB holds all collections in memory.
type DB struct {
	mu       sync.RWMutex
	users    map[string]domain.UserProfile
	workouts map[string]domain.Workout
	accounts map[string]domain.Account
	watchers map[string][]chan struct{}
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{
		users:    make(map[string]domain.UserProfile),
		workouts: make(map[string]domain.Workout),
		accounts: make(map[string]domain.Account),
		watchers: make(map[string][]chan struct{}),
	}
}

// Workouts returns the workout store view of db.
func (db *DB) Workouts() repository.WorkoutStore { return &workoutStore{db: db} }

// Users returns the user-data view of db.
func (db *DB) Users() repository.UserRepository { return &userRepo{db: db} }

// Accounts returns the credential view of db.
func (db *DB) Accounts() repository.AccountRepository { return &accountRepo{db: db} }

// notifyLocked wakes every watcher of userID. Caller holds db.mu.
func (db *DB) notifyLocked(userID string) {
	for _, ch := range db.watchers[userID] {
		select {
		case ch <- struct{}{}:
		default: // already pending
		}
	}
}

func (db *DB) user(id string) (*domain.UserProfile, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	u, ok := db.users[id]
	if !ok {
		return nil, false
	}
	u.Workouts = slices.Clone(u.Workouts)
	return &u, true
}

// watch delivers the user's current profile (nil when absent) now and after
// every change, one callback at a time, until ctx is done.
func (db *DB) watch(ctx context.Context, userID string, onChange func(*domain.UserProfile)) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}

	db.mu.Lock()
	db.watchers[userID] = append(db.watchers[userID], ch)
	db.mu.Unlock()

	go func() {
		defer func() {
			db.mu.Lock()
			db.watchers[userID] = slices.DeleteFunc(db.watchers[userID], func(c chan struct{}) bool { return c == ch })
			db.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				u, _ := db.user(userID)
				onChange(u)
			}
		}
	}()
}

type workoutStore struct{ db *DB }

func (s *workoutStore) CreateOrReplace(ctx context.Context, w *domain.Workout) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.workouts[w.ID] = w.Clone()
	return nil
}

func (s *workoutStore) GetByID(ctx context.Context, id string) (*domain.Workout, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	w, ok := s.db.workouts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := w.Clone()
	return &out, nil
}

func (s *workoutStore) Delete(ctx context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.workouts, id)
	return nil
}

func (s *workoutStore) LinkToUser(ctx context.Context, workoutID, userID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if !slices.Contains(u.Workouts, workoutID) {
		u.Workouts = append(slices.Clone(u.Workouts), workoutID)
		u.UpdatedAt = time.Now().UTC()
		s.db.users[userID] = u
		s.db.notifyLocked(userID)
	}
	return nil
}

func (s *workoutStore) UnlinkFromUser(ctx context.Context, workoutID, userID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if slices.Contains(u.Workouts, workoutID) {
		u.Workouts = slices.DeleteFunc(slices.Clone(u.Workouts), func(id string) bool { return id == workoutID })
		u.UpdatedAt = time.Now().UTC()
		s.db.users[userID] = u
		s.db.notifyLocked(userID)
	}
	return nil
}

func (s *workoutStore) WorkoutIDs(ctx context.Context, userID string) ([]string, error) {
	u, ok := s.db.user(userID)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u.Workouts, nil
}

func (s *workoutStore) Subscribe(ctx context.Context, userID string, onChange func([]string)) error {
	var last []string
	first := true
	s.db.watch(ctx, userID, func(u *domain.UserProfile) {
		var ids []string
		if u != nil {
			ids = u.Workouts
		}
		if !first && slices.Equal(ids, last) {
			return
		}
		first = false
		last = ids
		onChange(slices.Clone(ids))
	})
	return nil
}

type userRepo struct{ db *DB }

func (r *userRepo) Create(ctx context.Context, u *domain.UserProfile) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.users[u.ID]; exists {
		return repository.ErrDuplicate
	}
	u.DisplayNameLower = domain.NormalizeDisplayName(u.DisplayName)
	for _, other := range r.db.users {
		if other.DisplayNameLower == u.DisplayNameLower {
			return repository.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Workouts == nil {
		u.Workouts = []string{}
	}
	stored := *u
	stored.Workouts = slices.Clone(u.Workouts)
	r.db.users[u.ID] = stored
	r.db.notifyLocked(u.ID)
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	u, ok := r.db.user(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (r *userRepo) GetByDisplayName(ctx context.Context, displayName string) (*domain.UserProfile, error) {
	key := domain.NormalizeDisplayName(displayName)
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, u := range r.db.users {
		if u.DisplayNameLower == key {
			u.Workouts = slices.Clone(u.Workouts)
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) Update(ctx context.Context, id string, update domain.ProfileUpdate) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if update.FirstName != nil {
		u.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		u.LastName = *update.LastName
	}
	if update.Height != nil {
		u.Height = *update.Height
	}
	if update.Weight != nil {
		u.Weight = *update.Weight
	}
	if update.PhotoURL != nil {
		url := *update.PhotoURL
		u.PhotoURL = &url
	}
	if update.ClearPhotoURL {
		u.PhotoURL = nil
	}
	u.UpdatedAt = time.Now().UTC()
	r.db.users[id] = u
	r.db.notifyLocked(id)
	return nil
}

func (r *userRepo) Watch(ctx context.Context, id string, onChange func(*domain.UserProfile)) error {
	r.db.watch(ctx, id, onChange)
	return nil
}

type accountRepo struct{ db *DB }

func (r *accountRepo) Create(ctx context.Context, a *domain.Account) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	email := strings.ToLower(a.Email)
	for _, other := range r.db.accounts {
		if strings.ToLower(other.Email) == email {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt = time.Now().UTC()
	r.db.accounts[a.ID] = *a
	return nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	email = strings.ToLower(email)
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, a := range r.db.accounts {
		if strings.ToLower(a.Email) == email {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	a, ok := r.db.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (r *accountRepo) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.accounts, id)
	return nil
}
