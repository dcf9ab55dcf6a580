package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"notesync/api/internal/app"
	"notesync/api/internal/blob"
	"notesync/api/internal/config"
	"notesync/api/internal/search"
	"notesync/api/internal/session"
	"notesync/api/internal/store"
	syncx "notesync/api/internal/sync"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	var blobs blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Info().Str("endpoint", cfg.MinioEndpoint).Msg("storing attachments in object store")
		blobs, err = blob.NewS3(ctx, blob.S3Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object store connection failed")
		}
	} else {
		log.Info().Str("dir", cfg.UploadsDir).Msg("storing attachments on the filesystem")
		blobs, err = blob.NewFS(cfg.UploadsDir)
		if err != nil {
			log.Fatal().Err(err).Msg("uploads dir setup failed")
		}
	}

	pgNotes := search.NewPgNotes(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgNotes, log)

	hub := syncx.NewHub()

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info().Msg("using redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, hub, searchService, blobs, log)
	} else {
		log.Info().Msg("using postgres for refresh token storage")
		service = app.New(cfg, dataStore, hub, searchService, blobs, log)
	}

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("notesync api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
