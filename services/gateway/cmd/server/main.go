package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"farmassist/internal/metrics"
	"farmassist/internal/util"
	"farmassist/pkg/ai"
	"farmassist/pkg/kv"
	"farmassist/pkg/market"
	"farmassist/pkg/queue"
	"farmassist/pkg/storage"
	"farmassist/pkg/store"
	"farmassist/services/gateway/internal/app"
	"farmassist/services/gateway/internal/config"
	"farmassist/services/gateway/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := kv.Open(kv.Options{
		Backend:       cfg.StoreBackend,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		Namespace:     cfg.KVNamespace,
		DatabaseURL:   cfg.DatabaseURL,
	})
	if err != nil {
		log.Fatalf("failed to open record store: %v", err)
	}
	defer records.Close()

	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTLDuration(), store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.JWTLeewayDuration(),
	})
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	var prices app.PriceSource
	if cfg.MarketAPIKey != "" {
		client, err := market.NewClient(market.Config{
			BaseURL:           cfg.MarketAPIURL,
			APIKey:            cfg.MarketAPIKey,
			Timeout:           cfg.MarketTimeoutDuration(),
			RequestsPerSecond: cfg.MarketRequestsPerSecond,
		})
		if err != nil {
			log.Fatalf("failed to init market client: %v", err)
		}
		prices = client
	} else {
		logger.Warn("market API key not configured; /market endpoints will fail")
	}

	generator, err := ai.NewGenerator(ai.GeneratorConfig{
		Provider: cfg.GeneratorProvider,
		APIKey:   cfg.GeneratorKey(),
		BaseURL:  cfg.GeneratorBaseURL,
		Model:    cfg.GeneratorModelName(),
	})
	if err != nil {
		log.Fatalf("failed to init answer generator: %v", err)
	}
	if generator == nil {
		logger.Warn("answer generator not configured; /chat/advisor will return 503", "provider", cfg.GeneratorProvider)
	}

	var objects storage.ObjectStore
	if cfg.ObjectStoreEndpoint != "" {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.ObjectStoreEndpoint,
			AccessKey: cfg.ObjectStoreAccessKey,
			SecretKey: cfg.ObjectStoreSecretKey,
			Bucket:    cfg.ObjectStoreBucket,
			UseSSL:    cfg.ObjectStoreUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		objects = minioStore
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to reach redis: %v", err)
		}
	}

	var (
		proofQueue *queue.RedisJobQueue
		proofs     app.ProofQueue
	)
	if cfg.ProofQueueEnabled {
		proofQueue, err = queue.NewRedisJobQueue(redisClient, queue.Config{MaxRetries: cfg.ProofQueueMaxRetries})
		if err != nil {
			log.Fatalf("failed to init proof queue: %v", err)
		}
		proofs = proofQueue
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		Records:        records,
		Sessions:       sessions,
		Prices:         prices,
		Generator:      generator,
		Objects:        objects,
		Proofs:         proofs,
		Recorder:       m,
		ProofURLExpiry: cfg.ProofURLExpiryDuration(),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if proofQueue != nil {
		proofQueue.Start(ctx, cfg.ProofQueueConcurrency, appCore.HandleProofJob)
	}

	srvCfg := server.Config{
		App:                      appCore,
		Metrics:                  m,
		SignupRateLimitPerMinute: *cfg.SignupRateLimitPerMinute,
		LoginRateLimitPerMinute:  *cfg.LoginRateLimitPerMinute,
		TrustedProxyCIDRs:        cfg.TrustedProxyCIDRs,
		BasePath:                 cfg.BasePath,
	}
	if redisClient != nil {
		srvCfg.Redis = redisClient
	} else {
		logger.Warn("redis not configured; auth rate limiting disabled")
	}
	httpServer, err := server.New(srvCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gateway listening", "addr", addr, "store", cfg.StoreBackend, "base_path", cfg.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	if proofQueue != nil {
		proofQueue.Wait()
	}
	slog.Info("gateway stopped")
}
