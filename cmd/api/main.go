package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinic-intake-api/internal/application/audit"
	"github.com/clinic-intake-api/internal/application/identity"
	"github.com/clinic-intake-api/internal/config"
	"github.com/clinic-intake-api/internal/infrastructure/awscfg"
	"github.com/clinic-intake-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/clinic-intake-api/internal/infrastructure/jwt"
	kafkainfra "github.com/clinic-intake-api/internal/infrastructure/kafka"
	kmsinfra "github.com/clinic-intake-api/internal/infrastructure/kms"
	redisinfra "github.com/clinic-intake-api/internal/infrastructure/redis"
	"github.com/clinic-intake-api/internal/infrastructure/smtp"
	"github.com/clinic-intake-api/internal/infrastructure/sns"
	"github.com/clinic-intake-api/internal/pkg/logger"
	transporthttp "github.com/clinic-intake-api/internal/transport/http"
	"github.com/clinic-intake-api/internal/transport/http/handler"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if _, err := logger.Init(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	lg := logger.L()

	ctx := context.Background()

	awsCfg, err := awscfg.Load(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		lg.Fatal("aws config", zap.Error(err))
	}
	snsCfg, err := awscfg.Load(ctx, cfg, cfg.SNSRegion)
	if err != nil {
		lg.Fatal("aws config for sns", zap.Error(err))
	}

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(awsCfg, cfg.AWSEndpointURL)
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
	identityRepo := dynamo.NewIdentityRepo(dynamoClient, cfg.DynamoTables.Identities)

	rdb, err := redisinfra.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		lg.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		lg.Fatal("jwt provider", zap.Error(err))
	}

	producer := kafkainfra.NewProducer(cfg.KafkaBrokerList(), cfg.KafkaAuditTopic)
	defer producer.Close()
	recorder := audit.NewRecorder(nil)
	if producer != nil {
		recorder = audit.NewRecorder(producer)
	}
	// Deferred after producer.Close, so buffered events drain before the writer closes.
	defer recorder.Close()

	adminSvc := identity.NewService(identity.ServiceDeps{
		IdentityRepo: identityRepo,
		Audit:        recorder,
		BcryptCost:   cfg.Auth.BcryptCost,
	})
	if err := adminSvc.EnsureAdmin(ctx, identity.AdminSeed{
		PINHash:   cfg.AdminPINHash,
		Email:     cfg.AdminEmail,
		FirstName: cfg.AdminFirstName,
		LastName:  cfg.AdminLastName,
	}); err != nil {
		lg.Fatal("seed admin identity", zap.Error(err))
	}

	deps := &transporthttp.Deps{
		IdentityRepo:   identityRepo,
		SessionRepo:    dynamo.NewSessionRepo(dynamoClient, cfg.DynamoTables.Sessions),
		CodeRepo:       dynamo.NewCodeRepo(dynamoClient, cfg.DynamoTables.Codes),
		LockoutStore:   redisinfra.NewLockoutStore(rdb, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutWindow, cfg.Auth.LockoutCooldown),
		ResendThrottle: redisinfra.NewThrottle(rdb, "code_resend:"),
		Mailer:         smtp.NewMailer(cfg),
		Alerter:        sns.NewAlerter(snsCfg, cfg.LockoutTopicARN),
		Sealer:         kmsinfra.NewSealer(awsCfg, cfg.KMSKeyID),
		Audit:          recorder,
		JWTProvider:    jwtProvider,
		HealthChecks: map[string]handler.HealthCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"dynamodb": func(ctx context.Context) error {
				return dynamo.Ping(ctx, dynamoClient, cfg.DynamoTables.Identities)
			},
		},
	}

	router, err := transporthttp.NewRouter(cfg, deps)
	if err != nil {
		lg.Fatal("router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		lg.Info("server starting", zap.String("port", cfg.AppPort), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("forced shutdown", zap.Error(err))
		return
	}
	lg.Info("server stopped")
}
