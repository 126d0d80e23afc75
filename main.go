package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"safewalk/config"
	"safewalk/controllers"
	"safewalk/database"
	"safewalk/repositories"
	"safewalk/routes"
	"safewalk/services"
	"safewalk/utils"
	"safewalk/websocket"
	"safewalk/workers"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize configuration
	cfg := config.Load()

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize logger
	setupLogger(cfg)

	// Initialize database
	var db *mongo.Database
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			logrus.Fatal("Failed to connect to database: ", err)
		}
		if err := database.RunMigrations(db); err != nil {
			logrus.Fatal("Failed to run migrations: ", err)
		}
	} else {
		logrus.Warn("DATABASE_URL not set, emergencies will not be recorded")
	}

	// Initialize Redis
	redis := config.InitRedis(cfg)

	notifications := config.InitializeNotificationServices(cfg)

	deps := services.SessionDeps{
		JWT:       utils.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL),
		Notifier:  notifications.Notifier,
		Pusher:    notifications.Pusher(),
		Validator: utils.NewValidationService(),
	}

	// Interfaces stay nil without a database so the coordinator skips them
	var emergencies workers.StaleEmergencyCloser
	var photos controllers.PhotoReader
	if db != nil {
		emergencyRepo := repositories.NewEmergencyRepository(db)
		deps.Recorder = emergencyRepo
		emergencies = emergencyRepo

		photoRepo, err := repositories.NewPhotoRepository(db)
		if err != nil {
			logrus.Errorf("Photo storage disabled: %v", err)
		} else {
			media := services.NewMediaService(photoRepo)
			deps.Evidence = media
			photos = media
		}
	}

	sessions := services.NewSessionService(cfg.SessionConfig(), deps)

	// Initialize WebSocket hub
	hub := websocket.NewHub(sessions, websocket.HubOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		CommandRate:    cfg.CommandRate,
	})
	go hub.Run()

	// Initialize workers
	cleanup := workers.StartCleanupWorker(sessions, emergencies, redis, workers.CleanupWorkerConfig{
		SessionGracePeriod:     cfg.SessionGracePeriod,
		SessionCleanupInterval: cfg.CleanupInterval,
	})

	// Setup routes
	router := routes.SetupRoutes(routes.Dependencies{
		Environment:    cfg.Environment,
		AllowedOrigins: cfg.AllowedOrigins,
		SOSDebounce:    cfg.SOSDebounceWindow,
		Redis:          redis,
		Sessions:       sessions,
		Hub:            hub,
		Photos:         photos,
		Health: controllers.HealthOptions{
			MongoEnabled: db != nil,
			SMSEnabled:   notifications.SMS.Enabled(),
			PushEnabled:  notifications.Push.Enabled(),
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in goroutine
	go func() {
		logrus.Info("SafeWalk server starting on port ", cfg.Port)
		logrus.Info("Device channel: /ws")
		logrus.Info("Health check: /health")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	hub.Shutdown()
	// Cancels pending resets and waits for in-flight side effects
	sessions.CloseAll()

	if cleanup != nil {
		cleanup.Stop()
	}

	if db != nil {
		if err := database.Disconnect(); err != nil {
			logrus.Errorf("Failed to disconnect from database: %v", err)
		}
	}
	if redis != nil {
		redis.Close()
	}

	logrus.Info("Server shutdown complete")
}

func setupLogger(cfg *config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Environment == "development" {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}
