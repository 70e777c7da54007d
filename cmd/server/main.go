package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/assistant-relay/internal/ai"
	"github.com/suPer8Hu/assistant-relay/internal/attachment"
	"github.com/suPer8Hu/assistant-relay/internal/auth"
	"github.com/suPer8Hu/assistant-relay/internal/chat"
	"github.com/suPer8Hu/assistant-relay/internal/config"
	"github.com/suPer8Hu/assistant-relay/internal/db"
	"github.com/suPer8Hu/assistant-relay/internal/httpapi"
	"github.com/suPer8Hu/assistant-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/assistant-relay/internal/logger"
	"github.com/suPer8Hu/assistant-relay/internal/ratelimit"
	"github.com/suPer8Hu/assistant-relay/internal/relay"
	"github.com/suPer8Hu/assistant-relay/internal/store/objectstore"
	"github.com/suPer8Hu/assistant-relay/internal/store/rabbitmq"
	"github.com/suPer8Hu/assistant-relay/internal/store/redisstore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("load config")
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("init logger")
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN, cfg.GinMode == gin.DebugMode)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var rds *redisstore.Store
	if cfg.RedisAddr != "" {
		if rds, err = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, logout and live events disabled")
			rds = nil
		} else {
			defer rds.Close()
		}
	}

	var revoked auth.RevocationList
	if rds != nil {
		revoked = rds
	}
	authn := auth.NewJWTAuthenticator(cfg.JWTSecret, revoked)
	limiter := newLimiter(ctx, cfg, gdb, rds, log)

	presets := make([]chat.Preset, 0, len(cfg.AssistantPresets))
	for _, p := range cfg.AssistantPresets {
		presets = append(presets, chat.Preset{AssistantID: p.ID, Name: p.Name})
	}
	svc := chat.NewService(chat.NewRepo(gdb), presets, log)
	if rds != nil {
		svc.SetNotifier(rds)
	}

	upstream := ai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, log)
	if !upstream.Configured() {
		log.Warn().Msg("OPENAI_API_KEY is empty, relay requests will fail with service-not-configured")
	}

	blobs, err := newBlobStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("attachment storage")
	}
	pipeline := attachment.NewPipeline(blobs, upstream, attachment.Options{
		Mode:         attachment.Mode(cfg.AttachmentMode),
		Concurrency:  cfg.AttachmentConcurrency,
		Indexer:      upstream,
		VectorStores: svc,
	}, log)

	var recorder chat.Recorder = chat.DirectRecorder{Svc: svc}
	if cfg.RabbitQueue != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbit publisher")
		}
		defer pub.Close()
		recorder = chat.QueueRecorder{Svc: svc, Publisher: pub}
	}

	h := &handlers.Handler{
		DB:      gdb,
		Cfg:     cfg,
		Log:     log,
		ChatSvc: svc,
		Relay: relay.New(relay.Deps{
			Auth:          authn,
			Limiter:       limiter,
			Assistants:    svc,
			Conversations: svc,
			Upstream:      upstream,
			Attachments:   pipeline,
			Recorder:      recorder,
			Log:           log,
		}),
		Completions: relay.NewCompletionRelay(authn, limiter, upstream, relay.CompletionOptions{
			Models:              cfg.ChatModels,
			DefaultModel:        cfg.ChatDefaultModel,
			MaxCompletionTokens: cfg.ChatMaxCompletionTokens,
		}, log),
		Blobs: blobs,
	}
	if rds != nil {
		h.Revoker = rds
		h.Events = rds
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, authn, log),
		ReadHeaderTimeout: 10 * time.Second,
		// streamed runs outlive any fixed write deadline
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited")
}

func newLimiter(ctx context.Context, cfg config.Config, gdb *gorm.DB, rds *redisstore.Store, log zerolog.Logger) ratelimit.Limiter {
	policy := ratelimit.Policy{Max: cfg.RateLimitMax, Window: cfg.RateLimitWindow}
	if cfg.RateLimitBackend == "redis" && rds != nil {
		return ratelimit.NewRedisLimiter(rds.Client(), policy)
	}
	if cfg.RateLimitBackend == "redis" {
		log.Warn().Msg("redis rate limiting requested but redis is unavailable, using the database")
	}

	l := ratelimit.NewGormLimiter(gdb, policy)
	go func() {
		t := time.NewTicker(policy.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := l.PurgeExpired(ctx); err != nil {
					log.Warn().Err(err).Msg("purge rate-limit hits")
				} else if n > 0 {
					log.Debug().Int64("purged", n).Msg("purged rate-limit hits")
				}
			}
		}
	}()
	return l
}

func newBlobStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (objectstore.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return objectstore.NewS3(ctx, objectstore.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		}, log)
	case "", "local":
		return objectstore.NewLocal(cfg.StorageLocalPath)
	default:
		return nil, errors.New("unsupported STORAGE_BACKEND " + cfg.StorageBackend)
	}
}
