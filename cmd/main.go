package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-auth-service/internal/handler"
	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/notifier"
	"crm-auth-service/internal/service"
	"crm-auth-service/internal/store"
	"crm-auth-service/internal/sweeper"
	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/database"
	"crm-auth-service/pkg/jwtutil"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type stores struct {
	users       store.UserStore
	orgs        store.OrganizationStore
	resets      store.ResetTokenStore
	revocations store.RevocationStore
	close       []func() error
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	s := &stores{}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.InitDB(&cfg.DB)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateModels(db, store.Models()...); err != nil {
			return nil, err
		}
		gs := store.NewGormStore(db)
		s.users, s.orgs, s.resets, s.revocations = gs.Users(), gs.Organizations(), gs.ResetTokens(), gs.Revocations()
		s.close = append(s.close, func() error { return database.Close(db) })
	default:
		mem := store.NewMemoryStore()
		s.users, s.orgs, s.resets, s.revocations = mem.Users(), mem.Organizations(), mem.ResetTokens(), mem.Revocations()
		log.Warn("Using in-memory store; data is lost on restart")
	}

	if cfg.Store.TokenCache == config.CacheRedis {
		client, err := store.NewRedisClient(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		rs := store.NewRedisStore(client)
		s.resets, s.revocations = rs.ResetTokens(), rs.Revocations()
		s.close = append(s.close, client.Close)
		log.Info("Reset tokens and revocations stored in Redis")
	}
	return s, nil
}

// startSweeper schedules the periodic cleanups and runs them once right away,
// so tokens that expired while the server was down are purged at startup
func startSweeper(ctx context.Context, log *zap.Logger, resetSchedule string, svc *service.AuthService, limiter *middleware.RateLimiter) (*sweeper.Sweeper, error) {
	sw := sweeper.New(log)
	if err := sw.Add("reset_tokens", resetSchedule, 30*time.Second, svc.SweepExpiredResetTokens); err != nil {
		return nil, err
	}
	if err := sw.Add("rate_limiters", "@every 5m", 0, func(context.Context) (int64, error) {
		return int64(limiter.Cleanup(10 * time.Minute)), nil
	}); err != nil {
		return nil, err
	}
	sw.RunNow(ctx)
	sw.Start()
	return sw, nil
}

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync()
	log.Info("Starting authentication service...", cfg.LogConfig()...)

	if cfg.Server.Env == "production" && cfg.JWT.Secret == "crm-dev-secret" {
		log.Fatal("JWT_SECRET must be set in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize stores", zap.Error(err))
	}

	mailer, err := notifier.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize email notifier", zap.Error(err))
	}

	// Initialize JWT utility
	jwt := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey: cfg.JWT.Secret,
		Expiration: cfg.JWT.ExpiresIn,
	})

	svc, err := service.NewAuthService(service.Deps{
		Users:       st.users,
		Orgs:        st.orgs,
		Resets:      st.resets,
		Revocations: st.revocations,
		Mailer:      mailer,
		JWT:         jwt,
		Logger:      log,
		BcryptCost:  cfg.Auth.BcryptCost,
		ResetTTL:    cfg.Auth.ResetTokenTTL,
	})
	if err != nil {
		log.Fatal("Failed to initialize auth service", zap.Error(err))
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	sw, err := startSweeper(ctx, log, cfg.Auth.ResetSweepSchedule, svc, limiter)
	if err != nil {
		log.Fatal("Failed to schedule sweeps", zap.Error(err))
	}

	authHandler := handler.NewAuthHandler(svc, cfg.SMTP.Timeout+5*time.Second)

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     []string{cfg.Server.FrontendURL},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, middleware.RequestIDKey},
		AllowCredentials: true,
	}))
	e.Use(echomiddleware.BodyLimit("1M"))
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	handler.RegisterRoutes(e, handler.Routes{
		ServiceName:    cfg.ServiceName,
		Auth:           authHandler,
		Organizations:  handler.NewOrganizationHandler(svc),
		RequireSession: middleware.AuthMiddleware(svc),
		Throttle:       limiter.Middleware(),
	})

	// Start server
	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		authHandler.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn("Background email jobs still running at shutdown")
	}

	if err := sw.Stop(shutdownCtx); err != nil {
		log.Warn("Sweeper did not stop in time", zap.Error(err))
	}
	for _, closeFn := range st.close {
		if err := closeFn(); err != nil {
			log.Error("Failed to close store", zap.Error(err))
		}
	}
	log.Info("Server stopped")
}
