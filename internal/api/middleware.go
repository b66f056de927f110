package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fitlog/workout-tracker/internal/service"
)

// Constants for context keys
const (
	ContextUserIDKey = "userID"
)

// TokenAuthenticator resolves a bearer token to the user id of the active session.
type TokenAuthenticator interface {
	Authenticate(token string) (string, error)
}

// AuthMiddleware creates a Gin middleware that only lets requests carrying the
// active session's token through.
func AuthMiddleware(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "Authorization header is missing")
			return
		}

		// Expecting "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abortWithError(c, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		userID, err := auth.Authenticate(parts[1])
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, err.Error())
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// Helper to return JSON error response and abort request
func abortWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

// abortWithServiceError maps service error kinds to HTTP status codes.
func abortWithServiceError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrEmptyWorkoutName),
		errors.Is(err, service.ErrInvalidTimeRange),
		errors.Is(err, service.ErrInvalidMeasurement),
		errors.Is(err, service.ErrInvalidUnit),
		errors.Is(err, service.ErrPasswordMismatch),
		errors.Is(err, service.ErrEmptyDisplayName),
		errors.Is(err, service.ErrInvalidDisplayName),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrEmptyAvatar):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredential),
		errors.Is(err, service.ErrNoActiveUser):
		abortWithError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrWorkoutNotFound),
		errors.Is(err, service.ErrNoAvatar):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrEmailInUse),
		errors.Is(err, service.ErrDisplayNameTaken):
		abortWithError(c, http.StatusConflict, err.Error())
	default:
		log.Printf("ERROR: %s: %v", fallback, err)
		abortWithError(c, http.StatusInternalServerError, fallback)
	}
}

// Helper function to get User ID from context (used by handlers)
func getUserIDFromContext(c *gin.Context) (string, error) {
	idRaw, exists := c.Get(ContextUserIDKey)
	if !exists {
		return "", errors.New("user ID not found in context")
	}
	idStr, ok := idRaw.(string)
	if !ok {
		return "", errors.New("invalid user ID type in context")
	}
	return idStr, nil
}
