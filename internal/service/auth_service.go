package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/repository"
)

// --- Error Definitions ---
var (
	ErrEmailInUse        = errors.New("an account with this email already exists")
	ErrInvalidCredential = errors.New("the password is invalid")
	ErrUserNotFound      = errors.New("there is no account for these details")
	ErrWeakPassword      = errors.New("password should be at least 6 characters")
	ErrInvalidToken      = errors.New("session token is invalid or expired")
	ErrHashingFailed     = errors.New("failed to hash password")
	ErrTokenGeneration   = errors.New("failed to generate session token")
)

const minPasswordLength = 6

// AuthResult is what a successful sign-in or account creation yields.
type AuthResult struct {
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// AuthProvider verifies credentials and issues session tokens.
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (*AuthResult, error)
	CreateUser(ctx context.Context, email, password string) (*AuthResult, error)
	DeleteUser(ctx context.Context, userID string) error
	VerifyToken(token string) (userID string, err error)
}

// authService implements AuthProvider on top of an account repository,
// bcrypt password hashes and HS256 JWTs.
type authService struct {
	accounts      repository.AccountRepository
	jwtSecret     string
	jwtExpiration time.Duration
}

// NewAuthService creates a new instance of authService.
func NewAuthService(accounts repository.AccountRepository, jwtSecret string, jwtExpiration time.Duration) AuthProvider {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty") // Critical configuration
	}
	if jwtExpiration <= 0 {
		jwtExpiration = 30 * 24 * time.Hour
	}
	return &authService{
		accounts:      accounts,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}
}

// CreateUser registers a new account and signs it in.
func (s *authService) CreateUser(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, errors.New("email cannot be empty")
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	_, err := s.accounts.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailInUse
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ErrHashingFailed
	}

	account := &domain.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashedPassword),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		// the unique email index catches a concurrent registration
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailInUse
		}
		return nil, err
	}
	return s.issue(account)
}

// SignIn checks the password for email and issues a token.
func (s *authService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredential
	}

	account, err := s.accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredential
	}
	return s.issue(account)
}

// DeleteUser removes an account. It is used to undo a registration whose
// profile could not be written.
func (s *authService) DeleteUser(ctx context.Context, userID string) error {
	return s.accounts.Delete(ctx, userID)
}

// --- JWT Helper ---

type jwtClaims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func (s *authService) issue(account *domain.Account) (*AuthResult, error) {
	now := time.Now()
	expiresAt := now.Add(s.jwtExpiration)
	claims := &jwtClaims{
		UserID: account.ID,
		Email:  account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "workout-tracker",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return nil, ErrTokenGeneration
	}
	return &AuthResult{UserID: account.ID, Email: account.Email, Token: signed, ExpiresAt: expiresAt}, nil
}

// VerifyToken parses a token issued by this provider and returns its user id.
func (s *authService) VerifyToken(tokenString string) (string, error) {
	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
