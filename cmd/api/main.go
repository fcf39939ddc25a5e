package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/booking-api/internal/config"
	"github.com/jwalitptl/booking-api/internal/email"
	"github.com/jwalitptl/booking-api/internal/handler"
	bookingHandler "github.com/jwalitptl/booking-api/internal/handler/booking"
	"github.com/jwalitptl/booking-api/internal/middleware"
	"github.com/jwalitptl/booking-api/internal/repository/cached"
	"github.com/jwalitptl/booking-api/internal/repository/postgres"
	"github.com/jwalitptl/booking-api/internal/router"
	auditService "github.com/jwalitptl/booking-api/internal/service/audit"
	availabilityService "github.com/jwalitptl/booking-api/internal/service/availability"
	bookingService "github.com/jwalitptl/booking-api/internal/service/booking"
	notificationService "github.com/jwalitptl/booking-api/internal/service/notification"
	otpService "github.com/jwalitptl/booking-api/internal/service/otp"
	"github.com/jwalitptl/booking-api/internal/service/slotlock"
	"github.com/jwalitptl/booking-api/pkg/auth"
	"github.com/jwalitptl/booking-api/pkg/keyvalue"
	"github.com/jwalitptl/booking-api/pkg/logger"
	redisBroker "github.com/jwalitptl/booking-api/pkg/messaging/redis"
	"github.com/jwalitptl/booking-api/pkg/metrics"
	"github.com/jwalitptl/booking-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse Redis URL")
	}
	redisOpts.PoolSize = cfg.Redis.PoolSize
	redisOpts.MinIdleConns = cfg.Redis.MinIdleConns
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redisClient.Close()

	kv := keyvalue.NewRedisStoreWithClient(redisClient)

	m := metrics.NewMetrics("booking", "api")

	encryptor, err := security.NewAESEncryptor([]byte(cfg.Security.EncryptionKey))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	// Repositories
	appointmentRepo := postgres.NewAppointmentRepository(db)
	doctorRepo := cached.NewDoctorRepository(postgres.NewDoctorRepository(db), cfg.Directory.CacheTTL)
	outboxRepo := postgres.NewOutboxRepository(db)

	// Messaging
	brokerLogger := log.With().Str("component", "broker").Logger()
	broker, err := redisBroker.NewRedisBroker(redisBroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &brokerLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect broker")
	}
	defer broker.Close()

	// Services
	locks := slotlock.NewStore(kv, cfg.Booking.LockTTL, m)
	drafts := bookingService.NewDraftStore(kv, cfg.Booking.DraftTTL)
	codes := otpService.NewService(kv, security.NewCodeHasher(), otpService.Config{
		CodeLength:      cfg.OTP.CodeLength,
		CodeTTL:         cfg.OTP.CodeTTL,
		MaxAttempts:     cfg.OTP.MaxAttempts,
		RateLimitMax:    cfg.OTP.RateLimitMax,
		RateLimitWindow: cfg.OTP.RateLimitWindow,
		Pepper:          cfg.OTP.Pepper,
	}, appLogger, m)
	calculator := availabilityService.NewService(doctorRepo, appointmentRepo, locks, appLogger)
	auditor := auditService.NewService(outboxRepo)

	emailSvc := email.NewGomailService(email.Config{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	})
	notifier := notificationService.NewService(emailSvc, broker, appLogger)

	bookingSvc := bookingService.NewService(
		locks,
		drafts,
		codes,
		calculator,
		appointmentRepo,
		doctorRepo,
		auditor,
		notifier,
		encryptor,
		appLogger,
		m,
		bookingService.Config{
			LockTTL:      cfg.Booking.LockTTL,
			DraftTTL:     cfg.Booking.DraftTTL,
			CodeTTL:      cfg.OTP.CodeTTL,
			SlotDuration: cfg.Booking.SlotDuration,
		},
	)

	sessions := auth.NewSessionService(cfg.Session.Secret, cfg.Session.TTL)

	// Handlers and router
	h := handler.NewHandler(db, redisClient)
	bookingH := bookingHandler.NewHandler(bookingSvc, sessions)

	r := router.NewRouter(bookingH, h, router.RouterConfig{
		RateLimit:     rate.Limit(cfg.Server.RateLimitRPS),
		RateBurst:     cfg.Server.RateLimitBurst,
		CORSConfig:    middleware.DefaultCORSConfig(),
		MetricsPrefix: "booking_api",
	})
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("booking API listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
