package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/localstore"
	"fitlog/workout-tracker/internal/repository"
	"fitlog/workout-tracker/internal/storage"
	"fitlog/workout-tracker/internal/units"
)

var (
	ErrInvalidMeasurement = units.ErrInvalidMeasurement
	ErrInvalidUnit        = errors.New("unsupported unit")
	ErrNoAvatar           = errors.New("no profile picture")
	ErrEmptyAvatar        = errors.New("profile picture is empty")
)

const avatarContentType = "image/jpeg"

// ProfileView is the profile as the user sees it: body metrics rendered in
// the preferred units.
type ProfileView struct {
	Profile       domain.UserProfile         `json:"profile"`
	Units         localstore.UnitPreferences `json:"units"`
	DisplayWeight string                     `json:"displayWeight"`
	DisplayHeight string                     `json:"displayHeight"`
}

// MetricsUpdate carries user-entered profile values. Weight and Height are in
// the user's preferred units; nil fields are left unchanged.
type MetricsUpdate struct {
	FirstName *string
	LastName  *string
	Weight    *string
	Height    *string
}

// ProfileStore manages the signed-in user's profile fields, unit preferences
// and avatar. Body metrics are stored in kilograms and centimeters.
type ProfileStore struct {
	users repository.UserRepository
	files storage.FileStorage
	cache *localstore.ProfileCache

	mu      sync.RWMutex
	userID  string
	profile *domain.UserProfile
}

// NewProfileStore creates a profile store with no active user.
func NewProfileStore(users repository.UserRepository, files storage.FileStorage, cache *localstore.ProfileCache) *ProfileStore {
	return &ProfileStore{users: users, files: files, cache: cache}
}

// OnSessionChanged switches the active user. Sign-out, or a sign-in as a
// different user than the cached one, wipes the cached profile and avatars.
func (s *ProfileStore) OnSessionChanged(ctx context.Context, userID string, reason ChangeReason) {
	var cached *domain.UserProfile
	if reason == SessionSignedOut {
		if err := s.cache.Clear(ctx); err != nil {
			log.Printf("ERROR: Failed to clear profile cache: %v", err)
		}
	} else if userID != "" {
		p, err := s.cache.Profile(ctx)
		if err != nil {
			log.Printf("WARN: Failed to read cached profile: %v", err)
		}
		switch {
		case p != nil && p.ID == userID:
			cached = p
		case p != nil:
			if err := s.cache.Clear(ctx); err != nil {
				log.Printf("ERROR: Failed to clear profile cache of %s: %v", p.ID, err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.profile = cached
}

// OnProfileChanged mirrors a new profile snapshot locally.
func (s *ProfileStore) OnProfileChanged(p *domain.UserProfile) {
	s.mu.Lock()
	if p == nil || p.ID != s.userID {
		s.mu.Unlock()
		return
	}
	snapshot := *p
	s.profile = &snapshot
	s.mu.Unlock()

	if err := s.cache.SaveProfile(context.Background(), snapshot); err != nil {
		log.Printf("ERROR: Failed to cache profile of %s: %v", snapshot.ID, err)
	}
}

// Profile returns the last known profile of the active user.
func (s *ProfileStore) Profile() (*domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return nil, ErrNoActiveUser
	}
	if s.profile == nil {
		return nil, ErrUserNotFound
	}
	p := *s.profile
	return &p, nil
}

// View renders the profile in the user's preferred units.
func (s *ProfileStore) View(ctx context.Context) (*ProfileView, error) {
	p, err := s.Profile()
	if err != nil {
		return nil, err
	}
	prefs, err := s.cache.Units(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading unit preferences: %w", err)
	}
	return &ProfileView{
		Profile:       *p,
		Units:         prefs,
		DisplayWeight: units.ToDisplayWeight(p.Weight, prefs.Weight),
		DisplayHeight: units.ToDisplayHeight(p.Height, prefs.Height),
	}, nil
}

// Units returns the stored unit preferences.
func (s *ProfileStore) Units(ctx context.Context) (localstore.UnitPreferences, error) {
	return s.cache.Units(ctx)
}

// SetUnits stores new unit preferences. Empty fields keep their current value.
func (s *ProfileStore) SetUnits(ctx context.Context, prefs localstore.UnitPreferences) (localstore.UnitPreferences, error) {
	current, err := s.cache.Units(ctx)
	if err != nil {
		return current, err
	}
	if prefs.Weight != "" {
		if prefs.Weight != domain.WeightKg && prefs.Weight != domain.WeightLbs {
			return current, ErrInvalidUnit
		}
		current.Weight = prefs.Weight
	}
	if prefs.Height != "" {
		if prefs.Height != domain.HeightCm && prefs.Height != domain.HeightInches {
			return current, ErrInvalidUnit
		}
		current.Height = prefs.Height
	}
	return current, s.cache.SetUnits(ctx, current)
}

// UpdateMetrics validates user input, converts it to canonical units and
// writes it to the user-data document.
func (s *ProfileStore) UpdateMetrics(ctx context.Context, m MetricsUpdate) error {
	userID, err := s.activeUser()
	if err != nil {
		return err
	}
	prefs, err := s.cache.Units(ctx)
	if err != nil {
		return fmt.Errorf("reading unit preferences: %w", err)
	}

	var update domain.ProfileUpdate
	if m.Weight != nil {
		if _, err := units.ParseMeasurement(*m.Weight); err != nil {
			return err
		}
		kg := units.ToCanonicalWeight(strings.TrimSpace(*m.Weight), prefs.Weight)
		update.Weight = &kg
	}
	if m.Height != nil {
		if _, err := units.ParseMeasurement(*m.Height); err != nil {
			return err
		}
		cm := units.ToCanonicalHeight(strings.TrimSpace(*m.Height), prefs.Height)
		update.Height = &cm
	}
	if m.FirstName != nil {
		first := strings.TrimSpace(*m.FirstName)
		update.FirstName = &first
	}
	if m.LastName != nil {
		last := strings.TrimSpace(*m.LastName)
		update.LastName = &last
	}
	if update.IsEmpty() {
		return nil
	}

	if err := s.users.Update(ctx, userID, update); err != nil {
		log.Printf("ERROR: Failed to update profile of %s: %v", userID, err)
		return fmt.Errorf("updating profile: %w", err)
	}
	s.applyLocal(userID, update)
	return nil
}

// UploadAvatar stores data as the user's profile picture, records its public
// URL on the profile and keeps a local copy.
func (s *ProfileStore) UploadAvatar(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAvatar
	}
	userID, err := s.activeUser()
	if err != nil {
		return "", err
	}

	url, err := s.files.Upload(ctx, storage.ProfilePictureKey(userID), avatarContentType, data)
	if err != nil {
		log.Printf("ERROR: Failed to upload profile picture of %s: %v", userID, err)
		return "", fmt.Errorf("uploading profile picture: %w", err)
	}

	update := domain.ProfileUpdate{PhotoURL: &url}
	if err := s.users.Update(ctx, userID, update); err != nil {
		log.Printf("ERROR: Failed to store photo URL of %s: %v", userID, err)
		return "", fmt.Errorf("updating profile: %w", err)
	}
	s.applyLocal(userID, update)

	if err := s.cache.SaveAvatar(userID, data); err != nil {
		log.Printf("WARN: Failed to cache profile picture locally: %v", err)
	}
	return url, nil
}

// Avatar returns the profile picture, from the local copy when present and
// otherwise from the blob store.
func (s *ProfileStore) Avatar(ctx context.Context) ([]byte, error) {
	userID, err := s.activeUser()
	if err != nil {
		return nil, err
	}
	if data, ok, err := s.cache.Avatar(userID); err != nil {
		log.Printf("WARN: Failed to read cached profile picture: %v", err)
	} else if ok {
		return data, nil
	}

	data, err := s.files.Download(ctx, storage.ProfilePictureKey(userID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrNoAvatar
		}
		return nil, fmt.Errorf("downloading profile picture: %w", err)
	}
	if err := s.cache.SaveAvatar(userID, data); err != nil {
		log.Printf("WARN: Failed to cache profile picture locally: %v", err)
	}
	return data, nil
}

// AvatarURL returns a short-lived download link for the profile picture.
func (s *ProfileStore) AvatarURL(ctx context.Context) (string, error) {
	userID, err := s.activeUser()
	if err != nil {
		return "", err
	}
	url, err := s.files.GeneratePresignedDownloadURL(ctx, storage.ProfilePictureKey(userID), storage.DefaultPresignedURLExpiry)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", ErrNoAvatar
		}
		return "", fmt.Errorf("presigning profile picture: %w", err)
	}
	return url, nil
}

// RemoveAvatar deletes the profile picture remotely and locally and clears the photo URL.
func (s *ProfileStore) RemoveAvatar(ctx context.Context) error {
	userID, err := s.activeUser()
	if err != nil {
		return err
	}
	if err := s.files.DeleteObject(ctx, storage.ProfilePictureKey(userID)); err != nil {
		log.Printf("ERROR: Failed to delete profile picture of %s: %v", userID, err)
		return fmt.Errorf("deleting profile picture: %w", err)
	}

	update := domain.ProfileUpdate{ClearPhotoURL: true}
	if err := s.users.Update(ctx, userID, update); err != nil {
		return fmt.Errorf("updating profile: %w", err)
	}
	s.applyLocal(userID, update)

	if err := s.cache.RemoveAvatar(userID); err != nil {
		log.Printf("WARN: Failed to remove cached profile picture: %v", err)
	}
	return nil
}

func (s *ProfileStore) activeUser() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userID == "" {
		return "", ErrNoActiveUser
	}
	return s.userID, nil
}

// applyLocal reflects a successful write before the profile watch catches up.
func (s *ProfileStore) applyLocal(userID string, u domain.ProfileUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != userID || s.profile == nil {
		return
	}
	p := *s.profile
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Weight != nil {
		p.Weight = *u.Weight
	}
	if u.Height != nil {
		p.Height = *u.Height
	}
	if u.PhotoURL != nil {
		url := *u.PhotoURL
		p.PhotoURL = &url
	}
	if u.ClearPhotoURL {
		p.PhotoURL = nil
	}
	s.profile = &p
}
