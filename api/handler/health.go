package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/gempool/models"
)

// Health returns the handler for GET /api/health, a liveness probe with no
// side effects on the browser.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, "ok")
	}
}

// Shutdown returns the handler for POST /api/shutdown. The confirmation is
// sent first; the stop function runs shortly after so the caller gets its
// response before the listener goes away.
func Shutdown(stop func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("graceful shutdown requested via REST API")
		c.JSON(http.StatusOK, models.ShutdownResponse{
			Shutdown: "initiated",
			Message:  "Server shutting down gracefully...",
		})
		go func() {
			time.Sleep(500 * time.Millisecond)
			stop()
		}()
	}
}
