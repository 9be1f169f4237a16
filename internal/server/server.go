package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openmind/core-gateway/internal/config"
	"github.com/openmind/core-gateway/internal/gateway"
	"github.com/openmind/core-gateway/internal/server/middleware"
	"github.com/openmind/core-gateway/internal/store"
	"github.com/openmind/core-gateway/internal/store/cache"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	service gateway.Service
	repo    store.Repository
	cache   cache.CacheService
}

func New(cfg *config.Config, logger *zap.Logger, service gateway.Service, repo store.Repository, c cache.CacheService) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger))
	engine.Use(middleware.Tracing("core-gateway"))

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		service: service,
		repo:    repo,
		cache:   c,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
