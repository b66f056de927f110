package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"sync"

	"fitlog/workout-tracker/internal/domain"
)

const (
	unsyncedWorkoutsKey = "unsyncedWorkouts"
	pendingDeletesKey   = "pendingWorkoutDeletes"
)

// PendingDelete records a workout deletion that has not reached the remote store yet.
type PendingDelete struct {
	WorkoutID string `json:"workoutId"`
	UserID    string `json:"userId"`
}

// WorkoutCache holds workouts that are not confirmed as synced, stored as a
// single JSON blob under one key. All access is serialized by mu, so
// concurrent Put/Remove calls never lose each other's writes.
type WorkoutCache struct {
	kv *KV
	mu sync.Mutex
}

// NewWorkoutCache creates a cache on top of kv.
func NewWorkoutCache(kv *KV) *WorkoutCache {
	return &WorkoutCache{kv: kv}
}

// Put upserts w by id: it replaces an entry with the same id or appends.
func (c *WorkoutCache) Put(ctx context.Context, w domain.Workout) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.loadLocked(ctx, unsyncedWorkoutsKey)
	replaced := false
	for i := range all {
		if all[i].ID == w.ID {
			all[i] = w
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, w)
	}
	return c.storeLocked(ctx, unsyncedWorkoutsKey, all)
}

// GetAll returns every cached workout. A missing or undecodable blob reads as empty.
func (c *WorkoutCache) GetAll(ctx context.Context) []domain.Workout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx, unsyncedWorkoutsKey)
}

// Get returns the cached workout with the given id.
func (c *WorkoutCache) Get(ctx context.Context, id string) (domain.Workout, bool) {
	for _, w := range c.GetAll(ctx) {
		if w.ID == id {
			return w, true
		}
	}
	return domain.Workout{}, false
}

// Remove deletes the workout with the given id. Missing ids are a no-op.
func (c *WorkoutCache) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.loadLocked(ctx, unsyncedWorkoutsKey)
	kept := all[:0]
	for _, w := range all {
		if w.ID != id {
			kept = append(kept, w)
		}
	}
	if len(kept) == len(all) {
		return nil
	}
	return c.storeLocked(ctx, unsyncedWorkoutsKey, kept)
}

// RemoveIfUnchanged deletes the cached entry for w.ID only when it still holds
// exactly w. It reports whether an entry was removed.
func (c *WorkoutCache) RemoveIfUnchanged(ctx context.Context, w domain.Workout) (bool, error) {
	want, err := json.Marshal(w)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.loadLocked(ctx, unsyncedWorkoutsKey)
	for i := range all {
		if all[i].ID != w.ID {
			continue
		}
		have, err := json.Marshal(all[i])
		if err != nil || !bytes.Equal(have, want) {
			return false, err
		}
		all = append(all[:i], all[i+1:]...)
		return true, c.storeLocked(ctx, unsyncedWorkoutsKey, all)
	}
	return false, nil
}

// Clear wipes all cached workouts and pending deletions.
func (c *WorkoutCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.Delete(ctx, unsyncedWorkoutsKey); err != nil {
		return err
	}
	return c.kv.Delete(ctx, pendingDeletesKey)
}

// AddPendingDelete remembers that workoutID must still be deleted remotely.
func (c *WorkoutCache) AddPendingDelete(ctx context.Context, pd PendingDelete) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := loadList[PendingDelete](ctx, c.kv, pendingDeletesKey)
	for _, existing := range all {
		if existing.WorkoutID == pd.WorkoutID {
			return nil
		}
	}
	return storeList(ctx, c.kv, pendingDeletesKey, append(all, pd))
}

// PendingDeletes lists deletions waiting for replay.
func (c *WorkoutCache) PendingDeletes(ctx context.Context) []PendingDelete {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := loadList[PendingDelete](ctx, c.kv, pendingDeletesKey)
	return all
}

// RemovePendingDelete drops the tombstone for workoutID.
func (c *WorkoutCache) RemovePendingDelete(ctx context.Context, workoutID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := loadList[PendingDelete](ctx, c.kv, pendingDeletesKey)
	kept := all[:0]
	for _, pd := range all {
		if pd.WorkoutID != workoutID {
			kept = append(kept, pd)
		}
	}
	if len(kept) == len(all) {
		return nil
	}
	return storeList(ctx, c.kv, pendingDeletesKey, kept)
}

// PendingCount is the number of writes (saves and deletes) waiting for replay.
func (c *WorkoutCache) PendingCount(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	deletes := loadList[PendingDelete](ctx, c.kv, pendingDeletesKey)
	return len(c.loadLocked(ctx, unsyncedWorkoutsKey)) + len(deletes)
}

func (c *WorkoutCache) loadLocked(ctx context.Context, key string) []domain.Workout {
	return loadList[domain.Workout](ctx, c.kv, key)
}

func (c *WorkoutCache) storeLocked(ctx context.Context, key string, all []domain.Workout) error {
	return storeList(ctx, c.kv, key, all)
}

// loadList decodes a JSON list stored under key. Read and decode failures
// are logged and read as an empty list.
func loadList[T any](ctx context.Context, kv *KV, key string) []T {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil {
		log.Printf("ERROR: Failed to read local cache key '%s': %v", key, err)
		return nil
	}
	if !ok {
		return nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("WARN: Discarding undecodable local cache key '%s': %v", key, err)
		return nil
	}
	return out
}

func storeList[T any](ctx context.Context, kv *KV, key string, list []T) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, raw)
}
