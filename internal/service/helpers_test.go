package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/localstore"
	"fitlog/workout-tracker/internal/repository"
)

var errOffline = errors.New("network unreachable")

func openTestKV(t *testing.T) *localstore.KV {
	t.Helper()
	kv, err := localstore.OpenKV(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func seedUser(t *testing.T, users repository.UserRepository, id string) {
	t.Helper()
	require.NoError(t, users.Create(context.Background(), &domain.UserProfile{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: id,
	}))
}

// flakyStore fails every remote write while offline is set.
type flakyStore struct {
	repository.WorkoutStore
	offline atomic.Bool
	creates atomic.Int32
}

func (s *flakyStore) CreateOrReplace(ctx context.Context, w *domain.Workout) error {
	if s.offline.Load() {
		return errOffline
	}
	s.creates.Add(1)
	return s.WorkoutStore.CreateOrReplace(ctx, w)
}

func (s *flakyStore) LinkToUser(ctx context.Context, workoutID, userID string) error {
	if s.offline.Load() {
		return errOffline
	}
	return s.WorkoutStore.LinkToUser(ctx, workoutID, userID)
}

func (s *flakyStore) Delete(ctx context.Context, workoutID string) error {
	if s.offline.Load() {
		return errOffline
	}
	return s.WorkoutStore.Delete(ctx, workoutID)
}

func (s *flakyStore) UnlinkFromUser(ctx context.Context, workoutID, userID string) error {
	if s.offline.Load() {
		return errOffline
	}
	return s.WorkoutStore.UnlinkFromUser(ctx, workoutID, userID)
}

type sessionEvent struct {
	userID string
	reason ChangeReason
}

type recordingListener struct {
	mu     sync.Mutex
	events []sessionEvent
}

func (l *recordingListener) OnSessionChanged(ctx context.Context, userID string, reason ChangeReason) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, sessionEvent{userID: userID, reason: reason})
}

func (l *recordingListener) last() (sessionEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return sessionEvent{}, false
	}
	return l.events[len(l.events)-1], true
}
