package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/service"
)

// AuthHandler exposes sign-in, registration and sign-out.
type AuthHandler struct {
	sessions *service.SessionManager
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions *service.SessionManager) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// --- Request/Response Structs ---

type RegisterRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
	DisplayName     string `json:"displayName" binding:"required"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
}

// LoginRequest accepts an email address or a display name as identifier.
type LoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type SessionResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type MeResponse struct {
	UserID  string              `json:"userId"`
	Profile *domain.UserProfile `json:"profile,omitempty"`
}

func toSessionResponse(res *service.AuthResult) SessionResponse {
	return SessionResponse{Token: res.Token, UserID: res.UserID, Email: res.Email, ExpiresAt: res.ExpiresAt}
}

// --- Handler Methods ---

// Register godoc
// @Summary Register a new user
// @Description Creates the account and its profile and signs the user in. Display names are unique case-insensitively.
// @Tags Auth
// @Accept json
// @Produce json
// @Param user body RegisterRequest true "Registration details"
// @Success 201 {object} SessionResponse
// @Failure 400 {object} gin.H "Invalid input (validation error)"
// @Failure 409 {object} gin.H "Conflict (email or display name already taken)"
// @Failure 500 {object} gin.H "Internal Server Error"
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	res, err := h.sessions.Register(c.Request.Context(), service.RegisterRequest{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		DisplayName:     req.DisplayName,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
	})
	if err != nil {
		abortWithServiceError(c, err, "An unexpected error occurred during registration")
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(res))
}

// Login godoc
// @Summary Sign in
// @Description Authenticates by email or display name and returns a session token.
// @Tags Auth
// @Accept json
// @Produce json
// @Param credentials body LoginRequest true "Login credentials"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} gin.H "Invalid input (validation error)"
// @Failure 401 {object} gin.H "Unauthorized (invalid credentials)"
// @Failure 404 {object} gin.H "No such user"
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	res, err := h.sessions.SignIn(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		abortWithServiceError(c, err, "An unexpected error occurred during login")
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(res))
}

// Logout ends the active session. Unsynced workouts cached on this device are discarded.
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.SignOut(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// Me returns the signed-in user and the latest profile snapshot.
// @Router /me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to get user ID from token")
		return
	}
	c.JSON(http.StatusOK, MeResponse{UserID: userID, Profile: h.sessions.CurrentProfile()})
}
