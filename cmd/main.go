package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/playhive/session-engine/brackets"
	"github.com/playhive/session-engine/config"
	"github.com/playhive/session-engine/db"
	"github.com/playhive/session-engine/handlers"
	"github.com/playhive/session-engine/realtime"
	"github.com/playhive/session-engine/repositories"
	"github.com/playhive/session-engine/routes"
	"github.com/playhive/session-engine/services"
	"github.com/playhive/session-engine/storage"
)

const sweepInterval = 1 * time.Minute // how often abandoned waiting rooms get swept

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()
	logger.Info("database connection established")

	// Replay archiving is optional: without R2 credentials finished games
	// simply stay in the database.
	var replayArchiver storage.FileUploader
	if cfg.ReplayArchiveEnabled() {
		replayArchiver, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize replay archiver", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("replay archiver initialized", slog.String("bucket", cfg.R2BucketName))
	} else {
		logger.Info("replay archiving disabled")
	}

	wsHub := realtime.NewHub()
	go wsHub.Run()
	logger.Info("websocket hub started")

	roomRepo := repositories.NewPostgresRoomRepository(dbConn)
	playerRepo := repositories.NewPostgresRoomPlayerRepository(dbConn)
	actionRepo := repositories.NewPostgresActionRepository(dbConn)
	statsRepo := repositories.NewPostgresStatsRepository(dbConn)
	matchRepo := repositories.NewPostgresTournamentMatchRepository(dbConn)
	logger.Info("repositories initialized")

	ratingService := services.NewRatingService(dbConn, statsRepo, logger)
	matchmakingService := services.NewMatchmakingService(
		dbConn, roomRepo, playerRepo, statsRepo, wsHub, logger, cfg.MatchSearchTimeout)
	lifecycleService := services.NewRoomLifecycleService(
		dbConn, roomRepo, playerRepo, actionRepo, ratingService, wsHub, replayArchiver, logger)
	bracketService := services.NewBracketService(
		dbConn, matchRepo, brackets.NewSingleEliminationGenerator(), wsHub, logger)
	logger.Info("services initialized")

	// Sweep for waiting rooms nobody ever filled.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		logger.Info("stale room sweeper started",
			slog.Duration("interval", sweepInterval),
			slog.Duration("max_age", cfg.StaleRoomAge),
		)
		for range ticker.C {
			if _, err := lifecycleService.CancelStaleRooms(context.Background(), cfg.StaleRoomAge); err != nil {
				logger.Error("stale room sweep failed", slog.Any("error", err))
			}
		}
	}()

	router := routes.InitRoutes(routes.Handlers{
		Room:       handlers.NewRoomHandler(matchmakingService, lifecycleService),
		Stats:      handlers.NewStatsHandler(ratingService),
		Tournament: handlers.NewTournamentHandler(bracketService),
		WebSocket:  handlers.NewWebSocketHandler(wsHub, logger),
	}, []byte(cfg.JWTSecretKey))
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * cfg.MatchSearchTimeout, // matchmaking search may block for the full window
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
