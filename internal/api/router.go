package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/api/handlers"
	"github.com/leozw/linkpulse/internal/api/middleware"
	"github.com/leozw/linkpulse/internal/config"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
}

func NewServer(cfg *config.Config, h *handlers.Handler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))

	server := &Server{
		Config: cfg,
		Router: router,
	}

	server.setupRoutes(h)
	return server
}

func (s *Server) setupRoutes(h *handlers.Handler) {
	// Public routes: health, metrics, pairing artifact polling, and the
	// redirect that link recipients hit.
	s.Router.GET("/health", h.Health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Router.GET("/qr", h.PairingImage)
	s.Router.GET("/click/:tenantId/:trackingId/:channel", h.Click)

	// API routes (protected)
	api := s.Router.Group("/api/v1")
	api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret))
	{
		api.GET("/connect", h.Connect)
		api.GET("/logout", h.Logout)
		api.GET("/status", h.Status)
		api.GET("/fetchGroups", h.FetchGroups)
		api.GET("/groups", h.GetAllowList)
		api.PUT("/groups", h.SetAllowList)
		api.POST("/sendmessage", h.SendMessage)
		api.GET("/statscounts", h.StatsCounts)
		api.POST("/getLinks", h.LinksSince)
		api.POST("/getLinkstatus", h.LinkStatus)
		api.POST("/separateLinks", h.SeparateLinks)
		api.POST("/convertLink", h.ConvertLink)
	}
}
