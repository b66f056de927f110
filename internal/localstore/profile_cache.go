package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"fitlog/workout-tracker/internal/domain"
)

const (
	profileKey    = "profile"
	weightUnitKey = "selectedWeightUnit"
	heightUnitKey = "selectedHeightUnit"
	avatarPrefix  = "avatar_"
	avatarExt     = ".jpg"
)

// UnitPreferences are the user's display units.
type UnitPreferences struct {
	Weight domain.WeightUnit `json:"weightUnit"`
	Height domain.HeightUnit `json:"heightUnit"`
}

// ProfileCache keeps the last seen profile, the unit preferences and one
// avatar image per user on the device.
type ProfileCache struct {
	kv        *KV
	fs        afero.Fs
	avatarDir string
}

// NewProfileCache stores avatar files under avatarDir on fs.
func NewProfileCache(kv *KV, fs afero.Fs, avatarDir string) *ProfileCache {
	return &ProfileCache{kv: kv, fs: fs, avatarDir: avatarDir}
}

// SaveProfile replaces the cached profile.
func (c *ProfileCache) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, profileKey, raw)
}

// Profile returns the cached profile, if any.
func (c *ProfileCache) Profile(ctx context.Context) (*domain.UserProfile, error) {
	raw, ok, err := c.kv.Get(ctx, profileKey)
	if err != nil || !ok {
		return nil, err
	}
	var p domain.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	return &p, nil
}

// Units returns the stored unit preferences, defaulting to kg and cm.
func (c *ProfileCache) Units(ctx context.Context) (UnitPreferences, error) {
	w, err := c.kv.GetString(ctx, weightUnitKey, string(domain.WeightKg))
	if err != nil {
		return UnitPreferences{}, err
	}
	h, err := c.kv.GetString(ctx, heightUnitKey, string(domain.HeightCm))
	if err != nil {
		return UnitPreferences{}, err
	}
	return UnitPreferences{Weight: domain.WeightUnit(w), Height: domain.HeightUnit(h)}, nil
}

// SetUnits persists the unit preferences.
func (c *ProfileCache) SetUnits(ctx context.Context, u UnitPreferences) error {
	if err := c.kv.SetString(ctx, weightUnitKey, string(u.Weight)); err != nil {
		return err
	}
	return c.kv.SetString(ctx, heightUnitKey, string(u.Height))
}

// SaveAvatar writes userID's avatar image to disk.
func (c *ProfileCache) SaveAvatar(userID string, data []byte) error {
	if err := c.fs.MkdirAll(c.avatarDir, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(c.fs, c.avatarPath(userID), data, 0o644)
}

// Avatar reads userID's cached avatar image. found is false when none is cached.
func (c *ProfileCache) Avatar(userID string) (data []byte, found bool, err error) {
	data, err = afero.ReadFile(c.fs, c.avatarPath(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// RemoveAvatar deletes userID's cached avatar image, if any.
func (c *ProfileCache) RemoveAvatar(userID string) error {
	return c.removeFile(c.avatarPath(userID))
}

// Clear removes the cached profile and every cached avatar. Unit preferences
// survive sign-out.
func (c *ProfileCache) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, profileKey); err != nil {
		return err
	}
	files, err := afero.Glob(c.fs, filepath.Join(c.avatarDir, avatarPrefix+"*"+avatarExt))
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := c.removeFile(f); err != nil {
			return err
		}
	}
	return nil
}

func (c *ProfileCache) removeFile(path string) error {
	if err := c.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (c *ProfileCache) avatarPath(userID string) string {
	return filepath.Join(c.avatarDir, avatarPrefix+filepath.Base(userID)+avatarExt)
}
