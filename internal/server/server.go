package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/educlopez/airlume/internal/config"
	"github.com/educlopez/airlume/internal/database"
	"github.com/educlopez/airlume/internal/service"
	"github.com/educlopez/airlume/internal/service/credential"
	"github.com/educlopez/airlume/internal/service/media"
	"github.com/educlopez/airlume/internal/service/publisher"
	"github.com/educlopez/airlume/internal/service/queue"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Store        queue.Store
	Credentials  *credential.Store
	Publishers   *publisher.Manager
	Dispatcher   *service.Dispatcher
	Projector    *service.Projector
	Monitoring   *service.MonitoringService
	Auth         *service.AuthService
	Scheduler    *service.Scheduler
	StatsUpdater *service.StatsUpdater
}

// NewServer opens the configured database and wires every service.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return New(ctx, cfg, db, logger)
}

// New wires the services on top of an already migrated database.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Server, error) {
	gin.SetMode(cfg.Server.Mode)

	key, err := credential.ParseKey(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse encryption key: %w", err)
	}
	cipher, err := credential.NewCipher(cfg.Security.Cipher, key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	publishers, err := service.NewPublisherRegistry(&cfg.Publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to register publishers: %w", err)
	}

	fetcher, err := media.NewFetcher(ctx, cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media fetcher: %w", err)
	}

	store := queue.NewGormRepository(db, config.Duration(cfg.Scheduler.ClaimTimeout))
	credentials := credential.NewStore(db, cipher, logger)
	monitoring := service.NewMonitoringService(db, logger)

	dispatcher := service.NewDispatcher(store, credentials, publishers, fetcher, monitoring, service.RealClock{}, logger,
		service.DispatcherOptions{
			Workers:        cfg.Scheduler.Workers,
			MaxClaims:      cfg.Scheduler.MaxClaims,
			PublishTimeout: config.Duration(cfg.Publisher.Timeout),
			Retry: publisher.NewRetryPolicy(cfg.Retry.MaxAttempts,
				config.Duration(cfg.Retry.BaseBackoff),
				config.Duration(cfg.Retry.MaxBackoff)),
		})

	srv := &Server{
		Config:      cfg,
		DB:          db,
		Router:      gin.New(),
		Logger:      logger,
		Store:       store,
		Credentials: credentials,
		Publishers:  publishers,
		Dispatcher:  dispatcher,
		Projector:   service.NewProjector(store, logger),
		Monitoring:  monitoring,
		Auth:        service.NewAuthService(logger, cfg.Security.TriggerSecret),
		Scheduler:   service.NewScheduler(&cfg.Scheduler, logger, dispatcher),
		StatsUpdater: service.NewStatsUpdater(monitoring, logger,
			config.Duration(cfg.Monitoring.StatsInterval), cfg.Monitoring.RetentionDays),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.Logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	})
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	api := s.Router.Group("/api/v1")
	api.Use(s.Auth.AuthMiddleware())
	{
		// Cron-style trigger
		api.GET("/dispatch", s.handleDispatch)
		api.POST("/dispatch", s.handleDispatch)

		api.GET("/platforms", s.handleGetPlatforms)
		api.GET("/stats", s.handleGetStats)

		credentials := api.Group("/credentials/:owner/:platform")
		{
			credentials.GET("", s.handleGetCredential)
			credentials.PUT("", s.handlePutCredential)
			credentials.DELETE("", s.handleDeleteCredential)
		}

		generations := api.Group("/generations")
		{
			generations.POST("", s.handleCreateGeneration)
			generations.GET("/:id", s.handleGetGeneration)
			generations.PUT("/:id", s.handleUpdateGeneration)
			generations.POST("/:id/schedule", s.handleSchedule)
			generations.DELETE("/:id/schedule/:platform", s.handleCancel)
		}
	}
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: s.Config.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(s.Router)
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	s.StatsUpdater.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Scheduler.Stop()
	s.StatsUpdater.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
