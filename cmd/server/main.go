package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"ephemeral-chat/internal/attachment"
	"ephemeral-chat/internal/chat"
	"ephemeral-chat/internal/config"
	"ephemeral-chat/internal/db"
	"ephemeral-chat/internal/feed"
	"ephemeral-chat/internal/media"
	myMiddleware "ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/session"
	"ephemeral-chat/internal/storage"
	"ephemeral-chat/internal/user"
	"ephemeral-chat/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configName := flag.String("config", "config", "config file name, without extension")
	flag.Parse()

	// 1. Config
	v, err := config.LoadConfig(*configName)
	if err != nil {
		logger.New("info", "json").Error("loading config failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.ParseConfig(v)
	if err != nil {
		logger.New("info", "json").Error("parsing config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. PostgreSQL
	database, err := db.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Error("connecting to database failed", "err", err)
		os.Exit(1)
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}
	log.Info("database ready")

	// 3. Redis, carrying the realtime feed between instances
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("connecting to redis failed", "addr", cfg.Redis.Addr, "err", err)
		os.Exit(1)
	}
	log.Info("redis ready", "addr", cfg.Redis.Addr)

	// 4. Object storage
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
	if err != nil {
		log.Error("loading aws config failed", "err", err)
		os.Exit(1)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	objects, err := storage.NewFromClient(s3Client, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.PublicBaseURL)
	if err != nil {
		log.Error("object storage setup failed", "err", err)
		os.Exit(1)
	}

	// 5. Features
	pipeline, err := attachment.NewPipeline(objects, media.NewRepository(database.Conn), log,
		attachment.WithUploadTimeout(cfg.Media.UploadTimeout),
		attachment.WithPersistTimeout(cfg.Media.PersistTimeout),
		attachment.WithThumbnailURL(cfg.Media.ThumbnailPlaceholderURL),
		attachment.WithMaxParallel(cfg.Media.MaxParallelUploads))
	if err != nil {
		log.Error("attachment pipeline setup failed", "err", err)
		os.Exit(1)
	}

	feedHub := feed.NewHub(redisClient, log)
	chatService := chat.NewService(chat.NewRepository(database.Conn), feedHub, log)

	userService := user.NewService(user.NewRepository(database.Conn), cfg.JWT.Secret, cfg.JWT.TTL, 2*cfg.Presence.Interval, log)
	userHandler := user.NewHandler(userService)

	chatHub := chat.NewHub(log)
	chatHandler := chat.NewHandler(chatHub, chatService, session.Deps{
		Backend:          chatService,
		Feed:             feedHub,
		Activity:         userService,
		Pipeline:         pipeline,
		Logger:           log,
		PersistTimeout:   cfg.Media.PersistTimeout,
		PresenceInterval: cfg.Presence.Interval,
	}, log)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/{id}/presence", userHandler.GetPresence)

		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/conversations/{peerID}/messages", chatHandler.GetHistory)
		r.Post("/api/conversations/{peerID}/read", chatHandler.MarkRead)
		r.Post("/api/conversations/{peerID}/attachments", chatHandler.UploadAttachments)
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		feedHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return feedHub.SubscribeToRedis(gctx)
	})
	g.Go(func() error {
		chatHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
