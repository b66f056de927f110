package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/localstore"
	"fitlog/workout-tracker/internal/repository"
	"fitlog/workout-tracker/internal/repository/memory"
)

const testUser = "u1"

var t0 = time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)

type syncFixture struct {
	db     *memory.DB
	store  *flakyStore
	cache  *localstore.WorkoutCache
	engine *WorkoutSyncEngine
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	db := memory.NewDB()
	seedUser(t, db.Users(), testUser)
	seedUser(t, db.Users(), "u2")

	store := &flakyStore{WorkoutStore: db.Workouts()}
	cache := localstore.NewWorkoutCache(openTestKV(t))
	engine := NewWorkoutSyncEngine(store, cache, SyncOptions{OpTimeout: time.Second, FetchConcurrency: 2})
	t.Cleanup(engine.Close)
	return &syncFixture{db: db, store: store, cache: cache, engine: engine}
}

func (f *syncFixture) signIn(t *testing.T, userID string) {
	t.Helper()
	f.engine.OnSessionChanged(context.Background(), userID, SessionSignedIn)
}

func (f *syncFixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Flush(ctx))
}

func (f *syncFixture) remoteIDs(t *testing.T, userID string) []string {
	t.Helper()
	ids, err := f.db.Workouts().WorkoutIDs(context.Background(), userID)
	require.NoError(t, err)
	return ids
}

func listedIDs(list []domain.Workout) []string {
	ids := make([]string, len(list))
	for i, w := range list {
		ids[i] = w.ID
	}
	return ids
}

func finishedDraft(name string, minutes int) domain.WorkoutDraft {
	end := t0.Add(time.Duration(minutes) * time.Minute)
	d := domain.NewWorkoutDraft(t0)
	d.Name = name
	d.EndTime = &end
	exID := d.AddExercise("Bench Press", domain.WeightLbs)
	d.AddSet(exID, "100", "8", "")
	return d
}

func TestSaveWithEmptyNameWritesNothing(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)

	d := finishedDraft("   ", 30)
	_, err := f.engine.Save(context.Background(), d)
	assert.ErrorIs(t, err, ErrEmptyWorkoutName)

	f.flush(t)
	assert.Zero(t, f.engine.PendingCount(context.Background()))
	assert.Zero(t, f.store.creates.Load())
	assert.Empty(t, f.remoteIDs(t, testUser))
	assert.Empty(t, f.engine.Workouts())
}

func TestSaveRequiresSignedInUser(t *testing.T) {
	f := newSyncFixture(t)
	_, err := f.engine.Save(context.Background(), finishedDraft("Push", 30))
	assert.ErrorIs(t, err, ErrNoActiveUser)
}

func TestSaveRejectsEndBeforeStart(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)

	d := finishedDraft("Push", 30)
	before := t0.Add(-time.Minute)
	d.EndTime = &before
	_, err := f.engine.Save(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidTimeRange)
}

func TestSaveSyncsAndKeepsDurationAcrossUpdate(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Push Day", 47))
	require.NoError(t, err)
	require.NotNil(t, saved.Duration)
	assert.Equal(t, 47, *saved.Duration)
	assert.Equal(t, testUser, saved.CreatedBy)
	assert.Equal(t, "45.3592", saved.Exercises[0].Sets[0].Weight, "100 lbs stored as kilograms")
	assert.Equal(t, domain.WeightLbs, saved.Exercises[0].WeightUnit)

	assert.Contains(t, listedIDs(f.engine.Workouts()), saved.ID, "listed before the remote write")

	f.flush(t)
	remote, err := f.db.Workouts().GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "45.3592", remote.Exercises[0].Sets[0].Weight)
	assert.Equal(t, []string{saved.ID}, f.remoteIDs(t, testUser))
	_, cached := f.cache.Get(ctx, saved.ID)
	assert.False(t, cached)

	edited := *saved
	edited.Name = "Push Day (heavy)"
	edited.Duration = nil
	updated, err := f.engine.Update(ctx, edited)
	require.NoError(t, err)
	require.NotNil(t, updated.Duration)
	assert.Equal(t, 47, *updated.Duration)

	f.flush(t)
	remote, err = f.db.Workouts().GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Push Day (heavy)", remote.Name)
	assert.Equal(t, 47, *remote.Duration)
	assert.Equal(t, "45.3592", remote.Exercises[0].Sets[0].Weight, "update does not convert again")
	assert.Equal(t, []string{saved.ID}, f.remoteIDs(t, testUser))

	w, err := f.engine.Workout(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Push Day (heavy)", w.Name)
}

func TestOfflineSaveIsReplayedUntilItSucceeds(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	f.store.offline.Store(true)
	saved, err := f.engine.Save(ctx, finishedDraft("Legs", 60))
	require.NoError(t, err)
	f.flush(t)
	assert.Equal(t, 1, f.engine.PendingCount(ctx))

	// first reconnect: still failing
	f.engine.Replay()
	f.flush(t)
	_, cached := f.cache.Get(ctx, saved.ID)
	assert.True(t, cached)
	_, err = f.db.Workouts().GetByID(ctx, saved.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	// second reconnect: succeeds
	f.store.offline.Store(false)
	f.engine.Replay()
	f.flush(t)
	_, cached = f.cache.Get(ctx, saved.ID)
	assert.False(t, cached)
	assert.Equal(t, int32(1), f.store.creates.Load())
	assert.Equal(t, []string{saved.ID}, f.remoteIDs(t, testUser))
	assert.Zero(t, f.engine.PendingCount(ctx))
}

func TestDeleteRemovesWorkoutEverywhere(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Pull", 40))
	require.NoError(t, err)
	f.flush(t)

	require.NoError(t, f.engine.Delete(ctx, saved.ID))
	assert.NotContains(t, listedIDs(f.engine.Workouts()), saved.ID, "removed before the remote delete")

	f.flush(t)
	_, err = f.db.Workouts().GetByID(ctx, saved.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, f.remoteIDs(t, testUser))
	_, cached := f.cache.Get(ctx, saved.ID)
	assert.False(t, cached)
	assert.Zero(t, f.engine.PendingCount(ctx))

	// the id list change must not bring it back
	require.NoError(t, f.engine.Refresh(ctx))
	assert.NotContains(t, listedIDs(f.engine.Workouts()), saved.ID)
}

func TestOfflineDeleteIsReplayed(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Pull", 40))
	require.NoError(t, err)
	f.flush(t)

	f.store.offline.Store(true)
	require.NoError(t, f.engine.Delete(ctx, saved.ID))
	f.flush(t)
	assert.Equal(t, 1, f.engine.PendingCount(ctx), "tombstone kept")
	_, err = f.db.Workouts().GetByID(ctx, saved.ID)
	require.NoError(t, err)

	_, err = f.engine.Update(ctx, *saved)
	assert.ErrorIs(t, err, ErrWorkoutNotFound)

	f.store.offline.Store(false)
	f.engine.Replay()
	f.flush(t)
	_, err = f.db.Workouts().GetByID(ctx, saved.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, f.remoteIDs(t, testUser))
	assert.Zero(t, f.engine.PendingCount(ctx))
}

func TestMergeUnionsCacheAndRemote(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	mk := func(id string, start time.Time) domain.Workout {
		return domain.Workout{ID: id, Name: id, StartTime: start, CreatedBy: testUser, Exercises: []domain.Exercise{}}
	}
	a := mk("A", t0)
	b := mk("B", t0.Add(time.Hour))
	c := mk("C", t0.Add(2*time.Hour))

	require.NoError(t, f.cache.Put(ctx, a))
	require.NoError(t, f.cache.Put(ctx, b))
	remote := f.db.Workouts()
	for _, w := range []domain.Workout{b, c} {
		require.NoError(t, remote.CreateOrReplace(ctx, &w))
		require.NoError(t, remote.LinkToUser(ctx, w.ID, testUser))
	}

	// keep the startup replay from changing the remote list
	f.store.offline.Store(true)
	f.signIn(t, testUser)

	require.Eventually(t, func() bool {
		ids := listedIDs(f.engine.Workouts())
		return assert.ObjectsAreEqual([]string{"C", "B", "A"}, ids)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMergeSkipsUnreadableDocuments(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	good := domain.Workout{ID: "good", Name: "good", StartTime: t0, CreatedBy: testUser}
	require.NoError(t, f.db.Workouts().CreateOrReplace(ctx, &good))
	require.NoError(t, f.db.Workouts().LinkToUser(ctx, "good", testUser))
	// linked id without a document
	require.NoError(t, f.db.Workouts().LinkToUser(ctx, "missing", testUser))

	f.signIn(t, testUser)
	require.NoError(t, f.engine.Refresh(ctx))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"good"}, listedIDs(f.engine.Workouts()))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSaveThenDeleteBackToBack(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Quick", 10))
	require.NoError(t, err)
	require.NoError(t, f.engine.Delete(ctx, saved.ID))
	f.flush(t)

	_, err = f.db.Workouts().GetByID(ctx, saved.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NotContains(t, f.remoteIDs(t, testUser), saved.ID)
	assert.Zero(t, f.engine.PendingCount(ctx))
}

func TestConcurrentUpdateAndDeleteEndConsistent(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Race", 25))
	require.NoError(t, err)
	f.flush(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		edited := *saved
		edited.Name = "Race edited"
		_, _ = f.engine.Update(ctx, edited)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, f.engine.Delete(ctx, saved.ID))
	}()
	wg.Wait()
	f.flush(t)

	_, getErr := f.db.Workouts().GetByID(ctx, saved.ID)
	docExists := getErr == nil
	linked := assert.ObjectsAreEqual([]string{saved.ID}, f.remoteIDs(t, testUser))
	assert.Equal(t, docExists, linked, "document and reference agree")
	assert.False(t, docExists, "the delete was issued last or rejected the update")
	assert.Zero(t, f.engine.PendingCount(ctx))
}

func TestSignOutClearsCacheAndList(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	f.store.offline.Store(true)
	_, err := f.engine.Save(ctx, finishedDraft("Offline", 30))
	require.NoError(t, err)
	f.flush(t)
	require.Equal(t, 1, f.engine.PendingCount(ctx))

	f.engine.OnSessionChanged(ctx, "", SessionSignedOut)
	assert.Zero(t, f.engine.PendingCount(ctx))
	assert.Empty(t, f.engine.Workouts())

	_, err = f.engine.Save(ctx, finishedDraft("After", 30))
	assert.ErrorIs(t, err, ErrNoActiveUser)
}

func TestSwitchingUsersKeepsOtherUsersCache(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	f.store.offline.Store(true)
	saved, err := f.engine.Save(ctx, finishedDraft("Mine", 30))
	require.NoError(t, err)
	f.flush(t)

	f.signIn(t, "u2")
	require.NoError(t, f.engine.Refresh(ctx))
	assert.NotContains(t, listedIDs(f.engine.Workouts()), saved.ID)
	_, cached := f.cache.Get(ctx, saved.ID)
	assert.True(t, cached)

	// back online: the replay still files it under its owner
	f.store.offline.Store(false)
	f.engine.Replay()
	f.flush(t)
	assert.Equal(t, []string{saved.ID}, f.remoteIDs(t, testUser))
	assert.Empty(t, f.remoteIDs(t, "u2"))
}

func TestSaveDraftResetsOnlyOnSuccess(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	f.engine.SetDraft(finishedDraft("", 20))
	_, err := f.engine.SaveDraft(ctx)
	assert.ErrorIs(t, err, ErrEmptyWorkoutName)
	assert.Len(t, f.engine.Draft().Exercises, 1, "rejected draft is kept")

	d := f.engine.Draft()
	d.Name = "Evening"
	f.engine.SetDraft(d)
	saved, err := f.engine.SaveDraft(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Evening", saved.Name)

	fresh := f.engine.Draft()
	assert.Empty(t, fresh.Name)
	assert.Empty(t, fresh.Exercises)
	assert.Nil(t, fresh.EndTime)
}

func TestRefreshRequiresUser(t *testing.T) {
	f := newSyncFixture(t)
	assert.ErrorIs(t, f.engine.Refresh(context.Background()), ErrNoActiveUser)
}

func TestUpdateKeepsOwner(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Mine", 30))
	require.NoError(t, err)
	f.flush(t)

	edited := *saved
	edited.CreatedBy = "u2"
	updated, err := f.engine.Update(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, testUser, updated.CreatedBy)
	f.flush(t)

	remote, err := f.db.Workouts().GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, testUser, remote.CreatedBy)
	assert.Equal(t, []string{saved.ID}, f.remoteIDs(t, testUser))
	assert.Empty(t, f.remoteIDs(t, "u2"))
}

func TestUpdateRejectsOtherUsersWorkout(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Mine", 30))
	require.NoError(t, err)
	f.flush(t)

	f.signIn(t, "u2")
	edited := *saved
	edited.Name = "Taken over"
	_, err = f.engine.Update(ctx, edited)
	assert.ErrorIs(t, err, ErrWorkoutNotFound)

	_, err = f.engine.Update(ctx, domain.Workout{ID: "nope", Name: "x", StartTime: t0})
	assert.ErrorIs(t, err, ErrWorkoutNotFound)

	f.flush(t)
	remote, err := f.db.Workouts().GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", remote.Name)
	assert.Empty(t, f.remoteIDs(t, "u2"))
}

func TestRefreshPicksUpRemoteEdits(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	saved, err := f.engine.Save(ctx, finishedDraft("Push", 30))
	require.NoError(t, err)
	f.flush(t)

	// edited on another device
	renamed := saved.Clone()
	renamed.Name = "Push (edited elsewhere)"
	require.NoError(t, f.db.Workouts().CreateOrReplace(ctx, &renamed))

	require.NoError(t, f.engine.Refresh(ctx))
	require.Eventually(t, func() bool {
		w, err := f.engine.Workout(saved.ID)
		return err == nil && w.Name == "Push (edited elsewhere)"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSaveAssignsExerciseAndSetIDs(t *testing.T) {
	f := newSyncFixture(t)
	f.signIn(t, testUser)
	ctx := context.Background()

	d := domain.NewWorkoutDraft(t0)
	d.Name = "No ids"
	d.Exercises = []domain.Exercise{
		{Name: "Squat", WeightUnit: domain.WeightKg, Sets: []domain.Set{{Weight: "100"}, {Weight: "110"}}},
		{Name: "Lunge", WeightUnit: domain.WeightKg, Sets: []domain.Set{{Weight: "20"}}},
	}
	saved, err := f.engine.Save(ctx, d)
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for _, ex := range saved.Exercises {
		require.NotEmpty(t, ex.ID)
		seen[ex.ID] = struct{}{}
		for _, set := range ex.Sets {
			require.NotEmpty(t, set.ID)
			seen[set.ID] = struct{}{}
		}
	}
	assert.Len(t, seen, 5, "ids are unique")
	assert.Empty(t, d.Exercises[0].ID, "draft is not modified")
}
