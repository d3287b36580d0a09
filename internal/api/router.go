package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leozw/custom-domains/internal/api/handlers"
	"github.com/leozw/custom-domains/internal/api/middleware"
	"github.com/leozw/custom-domains/internal/config"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
}

type Deps struct {
	DB       handlers.Pinger
	Lookup   handlers.HostnameLookup
	Resolver handlers.Resolver
	Domains  handlers.DomainService
	Jobs     handlers.JobPusher
	Keys     middleware.KeySource
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	server := &Server{
		Config: cfg,
		Router: router,
	}

	server.setupRoutes(deps)
	return server
}

func (s *Server) setupRoutes(deps Deps) {
	h := handlers.NewHandler(deps.DB, deps.Logger)
	s.Router.GET("/health", h.Health)
	s.Router.GET("/ready", h.Ready)
	if deps.Gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Called by the edge router, unauthenticated.
	resolveHandler := handlers.NewResolveHandler(deps.Resolver, deps.Logger)
	s.Router.GET("/custom-domain/resolve", resolveHandler.Resolve)

	if secret := s.Config.Cloudflare.WebhookSecret; secret != "" && deps.Jobs != nil {
		webhookHandler := handlers.NewWebhookHandler(deps.Lookup, deps.Jobs, secret, deps.Logger)
		s.Router.POST("/webhooks/cloudflare", webhookHandler.HostnameEvent)
	}

	api := s.Router.Group("/api/v1")
	api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret, s.Config.Auth.Issuer, deps.Keys))

	domainHandler := handlers.NewDomainHandler(deps.Domains, s.Config.Domains.CNAMETarget, deps.Logger)
	{
		api.GET("/custom-domains", domainHandler.ListDomains)
		api.POST("/custom-domains", domainHandler.CreateDomain)
		api.GET("/custom-domains/:id", domainHandler.GetDomain)
		api.POST("/custom-domains/:id/enable", domainHandler.EnableDomain)
		api.POST("/custom-domains/:id/disable", domainHandler.DisableDomain)
		api.POST("/custom-domains/:id/default", domainHandler.SetDefaultDomain)
		api.POST("/custom-domains/:id/verify", domainHandler.VerifyDomain)
		api.POST("/custom-domains/:id/reregister", domainHandler.ReregisterDomain)
		api.DELETE("/custom-domains/:id", domainHandler.DeleteDomain)
	}
}
