package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"freelancehub/pkg/outbox"
)

// OutboxAdmin is satisfied by *outbox.ReplayService.
type OutboxAdmin interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	Requeue(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type AdminHandler struct {
	outbox OutboxAdmin
	logger *zap.Logger
}

func NewAdminHandler(outbox OutboxAdmin, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{outbox: outbox, logger: logger}
}

// ReplayOutboxEvent 立即重新发布指定事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	h.withEventID(c, "replayed", h.outbox.ReplayEvent)
}

// RequeueOutboxEvent 重置为 pending，由 worker 按顺序发布
// POST /admin/outbox/requeue?id=xxx
func (h *AdminHandler) RequeueOutboxEvent(c *gin.Context) {
	h.withEventID(c, "requeued", h.outbox.Requeue)
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	replayed, err := h.outbox.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Int("replayed", replayed), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "failed to replay some events",
			"details":  err.Error(),
			"replayed": replayed,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "replayed": replayed, "limit": limit})
}

func (h *AdminHandler) withEventID(c *gin.Context, status string, fn func(context.Context, int64) error) {
	eventID, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil || eventID <= 0 {
		badRequest(c, "missing or invalid id parameter")
		return
	}
	if err := fn(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Outbox admin action failed",
			zap.String("action", status),
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "outbox action failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "event_id": eventID})
}
