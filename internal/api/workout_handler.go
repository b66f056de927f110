package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"fitlog/workout-tracker/internal/connectivity"
	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/service"
	"fitlog/workout-tracker/internal/units"
)

// ConnectivityReporter reports the last observed network state.
type ConnectivityReporter interface {
	State() connectivity.State
}

type WorkoutHandler struct {
	engine  *service.WorkoutSyncEngine
	network ConnectivityReporter
}

func NewWorkoutHandler(engine *service.WorkoutSyncEngine, network ConnectivityReporter) *WorkoutHandler {
	return &WorkoutHandler{engine: engine, network: network}
}

// --- DTOs ---

// DraftResponse pairs the draft with what the finish screen shows.
type DraftResponse struct {
	Draft   domain.WorkoutDraft `json:"draft"`
	Summary domain.DraftSummary `json:"summary"`
}

type SyncStatusResponse struct {
	PendingWrites int    `json:"pendingWrites"`
	QueuedJobs    int    `json:"queuedJobs"`
	Network       string `json:"network"`
}

// displayRequested reports whether weights should be rendered in each
// exercise's unit instead of kilograms.
func displayRequested(c *gin.Context) bool {
	return c.Query("units") == "display"
}

// ListWorkouts godoc
// @Summary List the user's workouts, newest first
// @Tags Workouts
// @Produce json
// @Security BearerAuth
// @Param units query string false "'display' renders set weights in each exercise's unit"
// @Success 200 {array} domain.Workout
// @Router /workouts [get]
func (h *WorkoutHandler) ListWorkouts(c *gin.Context) {
	list := h.engine.Workouts()
	if displayRequested(c) {
		for i := range list {
			list[i] = units.WorkoutForDisplay(list[i])
		}
	}
	c.JSON(http.StatusOK, list)
}

// GetWorkout returns one workout of the list.
// @Router /workouts/{id} [get]
func (h *WorkoutHandler) GetWorkout(c *gin.Context) {
	w, err := h.engine.Workout(c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err, "Failed to retrieve workout.")
		return
	}
	if displayRequested(c) {
		display := units.WorkoutForDisplay(*w)
		w = &display
	}
	c.JSON(http.StatusOK, w)
}

// CreateWorkout godoc
// @Summary Save a finished workout
// @Description Weights are given in each exercise's weightUnit and stored in kilograms. The workout is kept locally until the remote write succeeds.
// @Tags Workouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param workout body domain.WorkoutDraft true "Workout"
// @Success 201 {object} domain.Workout
// @Failure 400 {object} gin.H "Validation error (empty name, end before start)"
// @Router /workouts [post]
func (h *WorkoutHandler) CreateWorkout(c *gin.Context) {
	var draft domain.WorkoutDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	w, err := h.engine.Save(c.Request.Context(), draft)
	if err != nil {
		abortWithServiceError(c, err, "Failed to save workout.")
		return
	}
	c.JSON(http.StatusCreated, w)
}

// UpdateWorkout godoc
// @Summary Replace a workout
// @Description The body is the full workout with weights in kilograms. Duration is recomputed.
// @Tags Workouts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Workout ID"
// @Param workout body domain.Workout true "Workout"
// @Success 200 {object} domain.Workout
// @Router /workouts/{id} [put]
func (h *WorkoutHandler) UpdateWorkout(c *gin.Context) {
	var w domain.Workout
	if err := c.ShouldBindJSON(&w); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	w.ID = c.Param("id")

	updated, err := h.engine.Update(c.Request.Context(), w)
	if err != nil {
		abortWithServiceError(c, err, "Failed to update workout.")
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteWorkout removes a workout locally and queues the remote delete.
// @Router /workouts/{id} [delete]
func (h *WorkoutHandler) DeleteWorkout(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortWithServiceError(c, err, "Failed to delete workout.")
		return
	}
	c.Status(http.StatusNoContent)
}

// RefreshWorkouts re-reads the remote id list once.
// @Router /workouts/refresh [post]
func (h *WorkoutHandler) RefreshWorkouts(c *gin.Context) {
	if err := h.engine.Refresh(c.Request.Context()); err != nil {
		abortWithServiceError(c, err, "Failed to refresh workouts.")
		return
	}
	c.JSON(http.StatusOK, h.engine.Workouts())
}

// --- Draft ---

func (h *WorkoutHandler) draftResponse() DraftResponse {
	d := h.engine.Draft()
	return DraftResponse{Draft: d, Summary: d.Summary()}
}

// GetDraft returns the workout being logged.
// @Router /workouts/draft [get]
func (h *WorkoutHandler) GetDraft(c *gin.Context) {
	c.JSON(http.StatusOK, h.draftResponse())
}

// PutDraft replaces the workout being logged.
// @Router /workouts/draft [put]
func (h *WorkoutHandler) PutDraft(c *gin.Context) {
	var draft domain.WorkoutDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}
	h.engine.SetDraft(draft)
	c.JSON(http.StatusOK, h.draftResponse())
}

// DiscardDraft throws the draft away.
// @Router /workouts/draft [delete]
func (h *WorkoutHandler) DiscardDraft(c *gin.Context) {
	h.engine.ResetDraft()
	c.JSON(http.StatusOK, h.draftResponse())
}

// FinishDraft saves the draft and starts a new one.
// @Router /workouts/draft/finish [post]
func (h *WorkoutHandler) FinishDraft(c *gin.Context) {
	w, err := h.engine.SaveDraft(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err, "Failed to save workout.")
		return
	}
	c.JSON(http.StatusCreated, w)
}

// SyncStatus reports how many local writes still wait for the remote store.
// @Router /sync/status [get]
func (h *WorkoutHandler) SyncStatus(c *gin.Context) {
	network := connectivity.Unknown.String()
	if h.network != nil {
		network = h.network.State().String()
	}
	c.JSON(http.StatusOK, SyncStatusResponse{
		PendingWrites: h.engine.PendingCount(c.Request.Context()),
		QueuedJobs:    h.engine.QueuedJobs(),
		Network:       network,
	})
}
