// Package api wires the handlers into the gin engine.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/use-agent/gempool/api/handler"
	"github.com/use-agent/gempool/api/middleware"
	"github.com/use-agent/gempool/config"
)

// NewRouter creates a configured gin engine with all routes.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     RateLimit (if enabled)
//
// The health endpoint sits outside the rate limit so monitoring probes
// always work.
func NewRouter(p handler.Pool, cfg *config.Config, shutdown func()) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/api/health", handler.Health())

	api := r.Group("/api")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit))
	}

	api.POST("/session/acquire", handler.Acquire(p))
	api.POST("/session/:id/send", handler.Send(p, cfg.Browser))
	api.POST("/session/:id/release", handler.Release(p))

	api.GET("/pool/status", handler.Status(p))
	api.POST("/pool/reset", handler.ResetPool(p))
	api.POST("/pool/slot/:id/reset", handler.ResetSlot(p))

	api.POST("/shutdown", handler.Shutdown(shutdown))

	return r
}
