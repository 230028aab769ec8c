package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mealtime/server/internal/auth"
	"github.com/mealtime/server/internal/config"
	"github.com/mealtime/server/internal/db"
	httphandler "github.com/mealtime/server/internal/http"
	"github.com/mealtime/server/internal/http/handlers"
	"github.com/mealtime/server/internal/logging"
	"github.com/mealtime/server/internal/pii"
	"github.com/mealtime/server/internal/provision"
	"github.com/mealtime/server/internal/repo"
	"github.com/mealtime/server/internal/sms"
)

const otpPurgeInterval = 5 * time.Minute

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("configuration loaded", zap.String("env", cfg.AppEnv), zap.String("db", cfg.DBTarget()))

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	cipher, err := pii.NewCipher(cfg.Secret)
	if err != nil {
		return fmt.Errorf("build cipher: %w", err)
	}

	otpRepo, closeOtp, err := newOtpRepo(ctx, cfg, database, cipher)
	if err != nil {
		return err
	}
	defer closeOtp()

	var sender sms.Sender
	if cfg.IsDevelopment() {
		sender = sms.NewLogSender(logger)
	} else {
		sender = sms.NewMSG91Sender(cfg.SMSBaseURL, cfg.SMSAuthKey, cfg.SMSTemplateID)
	}

	ledger := auth.NewOtpLedger(otpRepo, sender, cfg.OtpMaxAge, logger)
	authService := auth.NewAuthService(auth.Deps{
		Credentials: auth.NewCredentialStore(
			repo.NewUserRepo(database, cipher),
			auth.NewBcryptHasher(cfg.BcryptCost, cfg.HashConcurrency),
		),
		Ledger:      ledger,
		Sessions:    auth.NewJWTService(cfg.JWTSecret, cfg.SessionTTL),
		Provisioner: provision.NewMealTypes(repo.NewMealTypeRepo(database)),
		Logger:      logger,
	})

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Users:          handlers.NewUserHandler(authService, logger),
		Health:         handlers.NewHealthHandler(database),
		Authenticator:  authService,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})

	go purgeExpiredCodes(ctx, ledger, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// newOtpRepo builds the configured code store. The returned func releases it.
func newOtpRepo(ctx context.Context, cfg *config.Config, database *sql.DB, cipher repo.FieldCipher) (repo.OtpRepo, func(), error) {
	if cfg.OtpStore != config.OtpStoreRedis {
		return repo.NewOtpRepo(database, cipher), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return repo.NewRedisOtpRepo(client, cipher, cfg.OtpMaxAge), func() { _ = client.Close() }, nil
}

// purgeExpiredCodes removes stale one-time codes until ctx is done
func purgeExpiredCodes(ctx context.Context, ledger *auth.OtpLedger, logger *zap.Logger) {
	ticker := time.NewTicker(otpPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("purge expired otp codes", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("purged expired otp codes", zap.Int64("count", n))
			}
		}
	}
}
