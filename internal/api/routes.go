package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fitlog/workout-tracker/internal/service"
)

func SetupRoutes(
	router *gin.Engine,
	sessions *service.SessionManager,
	engine *service.WorkoutSyncEngine,
	profiles *service.ProfileStore,
	network ConnectivityReporter,
) {
	authHandler := NewAuthHandler(sessions)
	workoutHandler := NewWorkoutHandler(engine, network)
	profileHandler := NewProfileHandler(profiles)

	authMiddleware := AuthMiddleware(sessions)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	apiV1 := router.Group("/api/v1")
	{
		authGroup := apiV1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", authHandler.Me)

		// --- Workout Routes ---
		workoutGroup := protected.Group("/workouts")
		{
			workoutGroup.GET("", workoutHandler.ListWorkouts)
			workoutGroup.POST("", workoutHandler.CreateWorkout)
			workoutGroup.POST("/refresh", workoutHandler.RefreshWorkouts)

			// the single in-progress workout
			workoutGroup.GET("/draft", workoutHandler.GetDraft)
			workoutGroup.PUT("/draft", workoutHandler.PutDraft)
			workoutGroup.DELETE("/draft", workoutHandler.DiscardDraft)
			workoutGroup.POST("/draft/finish", workoutHandler.FinishDraft)

			workoutGroup.GET("/:id", workoutHandler.GetWorkout)
			workoutGroup.PUT("/:id", workoutHandler.UpdateWorkout)
			workoutGroup.DELETE("/:id", workoutHandler.DeleteWorkout)
		}

		// --- Profile Routes ---
		profileGroup := protected.Group("/profile")
		{
			profileGroup.GET("", profileHandler.GetProfile)
			profileGroup.PUT("/metrics", profileHandler.UpdateMetrics)
			profileGroup.PUT("/units", profileHandler.UpdateUnits)
			profileGroup.GET("/avatar", profileHandler.GetAvatar)
			profileGroup.POST("/avatar", profileHandler.UploadAvatar)
			profileGroup.DELETE("/avatar", profileHandler.DeleteAvatar)
			profileGroup.GET("/avatar/url", profileHandler.GetAvatarURL)
		}

		protected.GET("/sync/status", workoutHandler.SyncStatus)
	}
}
