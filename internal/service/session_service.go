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
)

var (
	ErrDisplayNameTaken   = errors.New("display name is already taken")
	ErrEmptyDisplayName   = errors.New("display name cannot be empty")
	ErrInvalidDisplayName = errors.New("display name cannot contain '@'")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrNoActiveUser       = errors.New("no user is signed in")
	ErrProfileWriteFailed = errors.New("failed to create user profile")
)

const sessionTokenKey = "sessionToken"

// ChangeReason tells session listeners why the active user changed.
type ChangeReason int

const (
	SessionSignedIn ChangeReason = iota
	SessionRestored
	SessionSignedOut
)

func (r ChangeReason) String() string {
	switch r {
	case SessionSignedIn:
		return "signed-in"
	case SessionRestored:
		return "restored"
	case SessionSignedOut:
		return "signed-out"
	default:
		return "unknown"
	}
}

// SessionListener is told about every change of the active user id.
// userID is empty after sign-out.
type SessionListener interface {
	OnSessionChanged(ctx context.Context, userID string, reason ChangeReason)
}

// ProfileListener receives every snapshot of the signed-in user's profile document.
type ProfileListener interface {
	OnProfileChanged(profile *domain.UserProfile)
}

// RegisterRequest holds everything needed to create an account and its profile.
type RegisterRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	DisplayName     string
	FirstName       string
	LastName        string
}

// SessionManager owns the signed-in user. It signs users in and out, persists
// the session token locally and fans session and profile changes out to the
// components registered as listeners.
type SessionManager struct {
	auth  AuthProvider
	users repository.UserRepository
	kv    *localstore.KV

	// switchMu serializes session transitions so listeners see them in order.
	switchMu sync.Mutex

	mu               sync.RWMutex
	userID           string
	token            string
	profile          *domain.UserProfile
	stopWatch        context.CancelFunc
	sessionListeners []SessionListener
	profileListeners []ProfileListener
}

// NewSessionManager creates a session manager with no active user.
func NewSessionManager(auth AuthProvider, users repository.UserRepository, kv *localstore.KV) *SessionManager {
	return &SessionManager{auth: auth, users: users, kv: kv}
}

// AddSessionListener registers l for session changes.
func (m *SessionManager) AddSessionListener(l SessionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionListeners = append(m.sessionListeners, l)
}

// AddProfileListener registers l for profile snapshots.
func (m *SessionManager) AddProfileListener(l ProfileListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileListeners = append(m.profileListeners, l)
}

// Current returns the active user id, or "" when signed out.
func (m *SessionManager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// CurrentProfile returns the latest profile snapshot of the active user.
func (m *SessionManager) CurrentProfile() *domain.UserProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.profile == nil {
		return nil
	}
	p := *m.profile
	return &p
}

// SignIn accepts either an email address or a display name as identifier.
// Display names are resolved to the account email case-insensitively.
func (m *SessionManager) SignIn(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identifier = strings.TrimSpace(identifier)
	email := identifier
	if !strings.Contains(identifier, "@") {
		profile, err := m.users.GetByDisplayName(ctx, identifier)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("resolving display name: %w", err)
		}
		email = profile.Email
	}

	res, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	m.start(ctx, res.UserID, res.Token, SessionSignedIn)
	return res, nil
}

// Register creates the account and its user-data document, then signs the new user in.
// The display name must be unique case-insensitively and may not contain '@'. If the profile cannot be
// written the account is deleted again.
func (m *SessionManager) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		return nil, ErrEmptyDisplayName
	}
	// sign-in treats any identifier with '@' as an email
	if strings.Contains(displayName, "@") {
		return nil, ErrInvalidDisplayName
	}
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	_, err := m.users.GetByDisplayName(ctx, displayName)
	if err == nil {
		return nil, ErrDisplayNameTaken
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("checking display name: %w", err)
	}

	res, err := m.auth.CreateUser(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	profile := &domain.UserProfile{
		ID:          res.UserID,
		Email:       res.Email,
		DisplayName: displayName,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Workouts:    []string{},
	}
	if err := m.users.Create(ctx, profile); err != nil {
		if delErr := m.auth.DeleteUser(ctx, res.UserID); delErr != nil {
			log.Printf("ERROR: Failed to roll back account %s after profile write failure: %v", res.UserID, delErr)
		}
		// a concurrent registration won the unique index
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDisplayNameTaken
		}
		log.Printf("ERROR: Failed to create profile for %s: %v", res.UserID, err)
		return nil, fmt.Errorf("%w: %v", ErrProfileWriteFailed, err)
	}

	log.Printf("INFO: Registered user %s (%s)", res.UserID, displayName)
	m.start(ctx, res.UserID, res.Token, SessionSignedIn)
	return res, nil
}

// SignOut ends the session, forgets the stored token and tells listeners to
// drop per-user state.
func (m *SessionManager) SignOut(ctx context.Context) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	if err := m.kv.Delete(ctx, sessionTokenKey); err != nil {
		log.Printf("ERROR: Failed to forget session token: %v", err)
	}

	m.mu.Lock()
	if m.stopWatch != nil {
		m.stopWatch()
		m.stopWatch = nil
	}
	previous := m.userID
	m.userID, m.token, m.profile = "", "", nil
	listeners := append([]SessionListener(nil), m.sessionListeners...)
	m.mu.Unlock()

	log.Printf("INFO: User %s signed out", previous)
	for _, l := range listeners {
		l.OnSessionChanged(ctx, "", SessionSignedOut)
	}
}

// Restore resumes the session saved by a previous run. It reports whether a
// session was resumed; an invalid stored token is discarded.
func (m *SessionManager) Restore(ctx context.Context) (bool, error) {
	token, err := m.kv.GetString(ctx, sessionTokenKey, "")
	if err != nil {
		return false, fmt.Errorf("reading session token: %w", err)
	}
	if token == "" {
		return false, nil
	}

	userID, err := m.auth.VerifyToken(token)
	if err != nil {
		log.Printf("WARN: Discarding stored session token: %v", err)
		if delErr := m.kv.Delete(ctx, sessionTokenKey); delErr != nil {
			log.Printf("ERROR: Failed to forget session token: %v", delErr)
		}
		return false, nil
	}

	m.start(ctx, userID, token, SessionRestored)
	return true, nil
}

// Authenticate checks a bearer token against the active session and returns its user id.
func (m *SessionManager) Authenticate(token string) (string, error) {
	userID, err := m.auth.VerifyToken(token)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if userID != m.userID || token != m.token {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (m *SessionManager) start(ctx context.Context, userID, token string, reason ChangeReason) {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	if err := m.kv.SetString(ctx, sessionTokenKey, token); err != nil {
		log.Printf("ERROR: Failed to persist session token for %s: %v", userID, err)
	}

	// The profile watch outlives the request that started the session.
	watchCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.stopWatch != nil {
		m.stopWatch()
	}
	m.userID, m.token, m.profile = userID, token, nil
	m.stopWatch = cancel
	listeners := append([]SessionListener(nil), m.sessionListeners...)
	m.mu.Unlock()

	log.Printf("INFO: Session %s for user %s", reason, userID)
	for _, l := range listeners {
		l.OnSessionChanged(ctx, userID, reason)
	}

	if err := m.users.Watch(watchCtx, userID, func(p *domain.UserProfile) { m.onProfile(userID, p) }); err != nil {
		log.Printf("ERROR: Failed to watch profile of %s: %v", userID, err)
	}
}

func (m *SessionManager) onProfile(userID string, p *domain.UserProfile) {
	if p == nil {
		return
	}
	m.mu.Lock()
	if m.userID != userID {
		m.mu.Unlock()
		return
	}
	snapshot := *p
	m.profile = &snapshot
	listeners := append([]ProfileListener(nil), m.profileListeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		copied := snapshot
		l.OnProfileChanged(&copied)
	}
}
