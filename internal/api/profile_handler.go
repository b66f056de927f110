package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/localstore"
	"fitlog/workout-tracker/internal/service"
	"fitlog/workout-tracker/internal/storage"
)

const maxAvatarBytes = 5 << 20

type ProfileHandler struct {
	profiles *service.ProfileStore
}

func NewProfileHandler(profiles *service.ProfileStore) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// UpdateMetricsRequest holds body metrics in the user's preferred units.
type UpdateMetricsRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Weight    *string `json:"weight"`
	Height    *string `json:"height"`
}

type UpdateUnitsRequest struct {
	WeightUnit domain.WeightUnit `json:"weightUnit" binding:"omitempty,oneof=kg lbs"`
	HeightUnit domain.HeightUnit `json:"heightUnit" binding:"omitempty,oneof=cm in"`
}

type AvatarResponse struct {
	PhotoURL string `json:"photoURL"`
}

// GetProfile godoc
// @Summary Get the signed-in user's profile
// @Description Body metrics are also rendered in the preferred units.
// @Tags Profile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.ProfileView
// @Router /profile [get]
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	view, err := h.profiles.View(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err, "Failed to load profile.")
		return
	}
	c.JSON(http.StatusOK, view)
}

// UpdateMetrics godoc
// @Summary Update name and body metrics
// @Description Weight and height are read in the preferred units and stored in kilograms and centimeters.
// @Tags Profile
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param metrics body UpdateMetricsRequest true "Fields to change"
// @Success 200 {object} service.ProfileView
// @Failure 400 {object} gin.H "Not a non-negative number"
// @Router /profile/metrics [put]
func (h *ProfileHandler) UpdateMetrics(c *gin.Context) {
	var req UpdateMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	err := h.profiles.UpdateMetrics(c.Request.Context(), service.MetricsUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Weight:    req.Weight,
		Height:    req.Height,
	})
	if err != nil {
		abortWithServiceError(c, err, "Failed to update profile.")
		return
	}
	h.GetProfile(c)
}

// UpdateUnits stores the preferred display units on this device.
// @Router /profile/units [put]
func (h *ProfileHandler) UpdateUnits(c *gin.Context) {
	var req UpdateUnitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	prefs, err := h.profiles.SetUnits(c.Request.Context(), localstore.UnitPreferences{
		Weight: req.WeightUnit,
		Height: req.HeightUnit,
	})
	if err != nil {
		abortWithServiceError(c, err, "Failed to store unit preferences.")
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// UploadAvatar godoc
// @Summary Upload a profile picture
// @Description Accepts a multipart "avatar" file or a raw JPEG body.
// @Tags Profile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} AvatarResponse
// @Router /profile/avatar [post]
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	var body io.Reader = c.Request.Body
	if file, err := c.FormFile("avatar"); err == nil {
		f, err := file.Open()
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Unable to read uploaded file.")
			return
		}
		defer f.Close()
		body = f
	}

	data, err := io.ReadAll(io.LimitReader(body, maxAvatarBytes+1))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Unable to read uploaded file.")
		return
	}
	if len(data) > maxAvatarBytes {
		abortWithError(c, http.StatusRequestEntityTooLarge, "Profile picture is too large.")
		return
	}

	url, err := h.profiles.UploadAvatar(c.Request.Context(), data)
	if err != nil {
		abortWithServiceError(c, err, "Failed to upload profile picture.")
		return
	}
	c.JSON(http.StatusOK, AvatarResponse{PhotoURL: url})
}

// GetAvatar serves the profile picture, from the local copy when present.
// @Router /profile/avatar [get]
func (h *ProfileHandler) GetAvatar(c *gin.Context) {
	data, err := h.profiles.Avatar(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err, "Failed to load profile picture.")
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// GetAvatarURL returns a temporary download link for the profile picture.
// @Router /profile/avatar/url [get]
func (h *ProfileHandler) GetAvatarURL(c *gin.Context) {
	url, err := h.profiles.AvatarURL(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err, "Failed to create download link.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expiresIn": storage.DefaultPresignedURLExpiry.String()})
}

// DeleteAvatar removes the profile picture.
// @Router /profile/avatar [delete]
func (h *ProfileHandler) DeleteAvatar(c *gin.Context) {
	if err := h.profiles.RemoveAvatar(c.Request.Context()); err != nil {
		abortWithServiceError(c, err, "Failed to remove profile picture.")
		return
	}
	c.Status(http.StatusNoContent)
}
