package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"fitlog/workout-tracker/internal/api"
	"fitlog/workout-tracker/internal/config"
	"fitlog/workout-tracker/internal/connectivity"
	"fitlog/workout-tracker/internal/localstore"
	"fitlog/workout-tracker/internal/repository"
	"fitlog/workout-tracker/internal/repository/memory"
	"fitlog/workout-tracker/internal/repository/mongo"
	"fitlog/workout-tracker/internal/service"
	"fitlog/workout-tracker/internal/storage"
)

// @title Workout Tracker API
// @version 1.0
// @description Offline-first workout logging with profile and unit preferences.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	log.Println("Starting Workout Tracker...")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	log.Println("Configuration loaded.")

	if err := os.MkdirAll(cfg.Local.Dir, 0o755); err != nil {
		log.Fatalf("FATAL: Could not create local state directory %s: %v", cfg.Local.Dir, err)
	}

	// --- Database ---
	var (
		workoutStore repository.WorkoutStore
		userRepo     repository.UserRepository
		accountRepo  repository.AccountRepository
	)
	if cfg.Database.IsMemory() {
		log.Println("WARN: Using the in-process database; data is lost on exit.")
		db := memory.NewDB()
		workoutStore, userRepo, accountRepo = db.Workouts(), db.Users(), db.Accounts()
	} else {
		dbClient, err := mongo.ConnectDB(cfg.Database.URI)
		if err != nil {
			log.Fatalf("FATAL: Could not connect to MongoDB: %v", err)
		}
		defer func() {
			log.Println("Disconnecting MongoDB...")
			if err := mongo.DisconnectDB(dbClient); err != nil {
				log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
			}
		}()
		appDB := dbClient.Database(cfg.Database.Name)
		log.Println("Database connection established.")

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
			defer cancel()
			if err := mongo.EnsureIndexes(ctx, appDB); err != nil {
				log.Printf("ERROR: Index creation failed: %v", err)
				return
			}
			log.Println("Index creation process completed.")
		}()

		workoutStore = mongo.NewMongoWorkoutStore(appDB, cfg.Database.WatchPollInterval)
		userRepo = mongo.NewMongoUserRepository(appDB, cfg.Database.WatchPollInterval)
		accountRepo = mongo.NewMongoAccountRepository(appDB)
	}

	// --- Storage ---
	var fileStorage storage.FileStorage
	if cfg.S3.BucketName != "" {
		log.Println("Initializing S3 file storage...")
		fileStorage, err = storage.NewS3Storage(cfg.S3)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize S3 storage: %v", err)
		}
	} else {
		blobDir := filepath.Join(cfg.Local.Dir, "blobs")
		log.Printf("WARN: No bucket configured, storing files under %s", blobDir)
		fileStorage = storage.NewFSStorage(afero.NewOsFs(), blobDir)
	}

	// --- Local state ---
	kv, err := localstore.OpenKV(filepath.Join(cfg.Local.Dir, "local.db"))
	if err != nil {
		log.Fatalf("FATAL: Could not open local store: %v", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Printf("ERROR: Failed to close local store: %v", err)
		}
	}()
	workoutCache := localstore.NewWorkoutCache(kv)
	profileCache := localstore.NewProfileCache(kv, afero.NewOsFs(), filepath.Join(cfg.Local.Dir, "avatars"))

	// --- Services ---
	log.Println("Initializing services...")
	authService := service.NewAuthService(accountRepo, cfg.JWT.Secret, cfg.JWT.Expiration)
	engine := service.NewWorkoutSyncEngine(workoutStore, workoutCache, service.SyncOptions{
		OpTimeout:        cfg.Sync.OpTimeout,
		FetchConcurrency: cfg.Sync.FetchConcurrency,
	})
	profiles := service.NewProfileStore(userRepo, fileStorage, profileCache)
	sessions := service.NewSessionManager(authService, userRepo, kv)
	sessions.AddSessionListener(engine)
	sessions.AddSessionListener(profiles)
	sessions.AddProfileListener(profiles)

	// --- Connectivity ---
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	monitor := connectivity.NewMonitor(
		connectivity.TCPReach(cfg.Connectivity.DialAddress, cfg.Connectivity.Timeout),
		cfg.Connectivity.Interval,
	)
	monitor.OnReconnect(engine.Replay)
	go monitor.Run(ctx)

	restoreCtx, cancelRestore := context.WithTimeout(ctx, 10*time.Second)
	restored, err := sessions.Restore(restoreCtx)
	cancelRestore()
	if err != nil {
		log.Printf("WARN: Could not restore previous session: %v", err)
	} else if restored {
		log.Println("Previous session restored.")
	}

	// --- HTTP ---
	router := gin.Default()
	api.SetupRoutes(router, sessions, engine, profiles, monitor)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Printf("ERROR: Server forced to shutdown: %v", err)
	}

	// Writes still queued stay in the local cache and are replayed next start.
	if err := engine.Flush(ctxShutdown); err != nil {
		log.Printf("WARN: %d workout writes still pending: %v", engine.QueuedJobs(), err)
	}
	engine.Close()
	stop()

	log.Println("Server exiting.")
}
