package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"relay-backend/internal/app"
	"relay-backend/internal/config"
	"relay-backend/internal/handlers"
	"relay-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware origin allow-list. Priority: environment (applied at config
// load) > YAML config > allow-all default.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		allowCredentials := true
		maxAge := 3600
		if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if strings.TrimSpace(allowedOrigin) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin": origin,
					"path":           c.Request.URL.Path,
					"method":         c.Request.Method,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept, X-Relay-Signature, X-Relay-Timestamp")
			if allowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// SetupRouter wires the HTTP surface onto the service container.
func SetupRouter(container *app.ServiceContainer, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/healthz", handlers.HealthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(logger)
	signatureMiddleware := middleware.NewRequestSignatureMiddleware(
		config.AppConfig.Auth.RequestSigningSecret,
		config.AppConfig.Auth.RequestSigningWindowSeconds,
		logger,
	)

	relayHandler := handlers.NewRelayHandler(container.GasTankService, container.RelayClient, logger)
	watchHandler := handlers.NewWatchHandler(
		container.RelayClient,
		time.Duration(config.AppConfig.Relay.PollIntervalSeconds)*time.Second,
		logger,
	)
	adminHandler := handlers.NewAdminHandler(container.GasTankService, config.AppConfig.Auth.AdminTOTPSecret, logger)

	v1 := r.Group("/v1")
	v1.Use(authMiddleware.RequireAuth())
	{
		relayGroup := v1.Group("/relay")
		{
			relayGroup.POST("/submit", signatureMiddleware.Verify(), relayHandler.Submit)
			relayGroup.GET("/status", relayHandler.Status)
			relayGroup.GET("/credit", relayHandler.Credit)
			relayGroup.GET("/watch", watchHandler.Watch)
		}

		adminGroup := v1.Group("/admin")
		{
			adminGroup.POST("/credit", signatureMiddleware.Verify(), adminHandler.Credit)
		}
	}

	return r
}
