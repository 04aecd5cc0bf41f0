// Package handler contains the gin handlers for the session pool API.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/gempool/config"
	"github.com/use-agent/gempool/models"
	"github.com/use-agent/gempool/slot"
)

// leaseTokenHeader carries the lease token on per-slot operations.
const leaseTokenHeader = "X-Lease-Token"

// Pool is the pool surface the handlers need. Implemented by pool.Pool;
// stubbed in tests.
type Pool interface {
	Acquire(owner string) models.AcquireOutcome
	Release(slotID int, token string) error
	Send(ctx context.Context, slotID int, token, message string, filePaths []string) (*slot.SendResult, error)
	Status() models.PoolStatus
	ResetAll(ctx context.Context) (int, error)
	ResetSlot(ctx context.Context, slotID int) error
	FreshenSlot(ctx context.Context, slotID int)
}

// Acquire returns the handler for POST /api/session/acquire.
//
// 200 with a slot assignment, 202 with a queue position, or 503 when the
// pool is exhausted and the queue is full.
func Acquire(p Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.AcquireRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{
				Error: "validation", Detail: err.Error(),
			})
			return
		}

		switch outcome := p.Acquire(req.Owner).(type) {
		case models.Acquired:
			c.JSON(http.StatusOK, outcome)
		case models.Queued:
			c.JSON(http.StatusAccepted, outcome)
		case models.Rejected:
			c.JSON(http.StatusServiceUnavailable, outcome)
		}
	}
}

// Send returns the handler for POST /api/session/:id/send.
//
// Blocks until the model responds, up to the configured timeout. Text
// files named in merge_paths are embedded into the prompt; binaries in
// file_paths are uploaded through the browser.
func Send(p Pool, cfg config.BrowserConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		slotID, token, ok := slotParams(c)
		if !ok {
			return
		}

		var req models.SendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{
				Error: "validation", Detail: err.Error(),
			})
			return
		}

		if len(req.FilePaths) > cfg.MaxFilesPerTurn {
			c.JSON(http.StatusBadRequest, models.ErrorDetail{
				Error: "validation",
				Detail: fmt.Sprintf("maximum %d file uploads per turn (got %d)",
					cfg.MaxFilesPerTurn, len(req.FilePaths)),
			})
			return
		}

		for _, path := range append(append([]string{}, req.MergePaths...), req.FilePaths...) {
			if _, err := os.Stat(path); err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorDetail{
					Error: "validation", Detail: "file not found: " + path,
				})
				return
			}
		}

		message := req.Message
		if len(req.MergePaths) > 0 {
			merged, err := MergeTextContent(req.MergePaths)
			if err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorDetail{
					Error: "validation", Detail: err.Error(),
				})
				return
			}
			message = merged + "\n\n" + req.Message
		}

		result, err := p.Send(c.Request.Context(), slotID, token, message, req.FilePaths)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.SendResponse{
			Response:   result.Text,
			DurationMs: int64(result.DurationMs),
			Format:     string(result.Format),
		})
	}
}

// Release returns the handler for POST /api/session/:id/release. The freed
// slot is steered to a fresh conversation in the background so the next
// lease starts clean.
func Release(p Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		slotID, token, ok := slotParams(c)
		if !ok {
			return
		}
		if err := p.Release(slotID, token); err != nil {
			respondError(c, err)
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			p.FreshenSlot(ctx, slotID)
		}()

		c.JSON(http.StatusOK, models.ReleaseResponse{Released: true})
	}
}

// slotParams extracts the slot id and lease token, writing the error
// response itself on failure.
func slotParams(c *gin.Context) (int, string, bool) {
	slotID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorDetail{
			Error: "validation", Detail: "slot id must be an integer",
		})
		return 0, "", false
	}
	token := c.GetHeader(leaseTokenHeader)
	if token == "" {
		c.JSON(http.StatusBadRequest, models.ErrorDetail{
			Error: "validation", Detail: leaseTokenHeader + " header is required",
		})
		return 0, "", false
	}
	return slotID, token, true
}

// respondError maps an internal error kind to the HTTP status code and
// writes the structured error body.
func respondError(c *gin.Context, err error) {
	detail := models.ErrorDetail{Error: models.KindOf(err), Detail: err.Error()}
	if pe, ok := err.(*models.PoolError); ok {
		detail = *pe.ToDetail()
	}
	c.JSON(statusForKind(detail.Error), detail)
}

func statusForKind(kind string) int {
	switch kind {
	case models.KindLeaseExpired:
		return http.StatusGone // 410
	case models.KindInvalidToken:
		return http.StatusForbidden // 403
	case models.KindNotFound:
		return http.StatusNotFound // 404
	case models.KindPoolExhausted:
		return http.StatusServiceUnavailable // 503
	default:
		return http.StatusInternalServerError // 500
	}
}
