package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/gempool/models"
)

// Status returns the handler for GET /api/pool/status.
func Status(p Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Status())
	}
}

// ResetPool returns the handler for POST /api/pool/reset: void all leases,
// restart the browser, recreate every tab.
func ResetPool(p Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		available, err := p.ResetAll(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.PoolResetResponse{
			Reset:          true,
			SlotsAvailable: available,
		})
	}
}

// ResetSlot returns the handler for POST /api/pool/slot/:id/reset.
func ResetSlot(p Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		slotID, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{
				Error: "validation", Detail: "slot id must be an integer",
			})
			return
		}
		if err := p.ResetSlot(c.Request.Context(), slotID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SlotResetResponse{
			SlotID: slotID,
			State:  "FREE",
		})
	}
}
