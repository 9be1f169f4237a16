package server

import (
	"github.com/openmind/core-gateway/internal/server/middleware"
	v1 "github.com/openmind/core-gateway/internal/server/v1"
	"github.com/openmind/core-gateway/internal/server/validator"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	// Health Check (Public)
	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	// Core API Group
	api := s.router.Group("/api/core")
	api.Use(middleware.Auth(s.repo, s.cache, s.config.Server.APIKeys))
	{
		chatHandler := v1.NewChatHandler(s.service, validator.New())
		api.POST("/:provider/chat/completions", chatHandler.CreateCompletion)

		modelsHandler := v1.NewModelsHandler(s.service)
		api.GET("/models", modelsHandler.ListProviders)
	}
}
