package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/model"
	"github.com/seweryn-pilarska/email-reply/internal/repository"
	"github.com/seweryn-pilarska/email-reply/pkg/outbox"
)

const defaultAdminLimit = 100

// OutboxReplayer 由 outbox.ReplayService 实现
type OutboxReplayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
	ListFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error)
}

// RunLister 由 repository.RunRepository 实现
type RunLister interface {
	ListRecent(ctx context.Context, limit int) ([]*model.WorkflowRun, error)
	FindByID(ctx context.Context, runID string) (*model.WorkflowRun, error)
}

type AdminHandler struct {
	replayer OutboxReplayer
	runs     RunLister
	logger   *zap.Logger
}

// NewAdminHandler replayer 或 runs 为 nil 时对应接口不注册
func NewAdminHandler(replayer OutboxReplayer, runs RunLister, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		replayer: replayer,
		runs:     runs,
		logger:   logger,
	}
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultAdminLimit)))
	if err != nil || limit <= 0 {
		return defaultAdminLimit
	}
	return limit
}

// ReplayOutboxEvent 重放指定的 Outbox 事件
// POST /admin/outbox/replay?id=xxx
func (h *AdminHandler) ReplayOutboxEvent(c *gin.Context) {
	idStr := c.Query("id")
	if idStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id parameter"})
		return
	}

	eventID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
		return
	}

	if err := h.replayer.ReplayEvent(c.Request.Context(), eventID); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("Failed to replay event",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to replay event",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"event_id": eventID,
	})
}

// ReplayFailedEvents 重放所有失败的事件
// POST /admin/outbox/replay-failed?limit=100
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	limit := queryLimit(c)

	successCount, err := h.replayer.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to replay failed events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}

// ListFailedEvents GET /admin/outbox/failed?limit=100
func (h *AdminHandler) ListFailedEvents(c *gin.Context) {
	events, err := h.replayer.ListFailedEvents(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.logger.Error("Failed to list failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failed events"})
		return
	}
	if events == nil {
		events = []*outbox.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListRuns GET /admin/runs?limit=100
func (h *AdminHandler) ListRuns(c *gin.Context) {
	runs, err := h.runs.ListRecent(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.logger.Error("Failed to list workflow runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workflow runs"})
		return
	}
	if runs == nil {
		runs = []*model.WorkflowRun{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun GET /admin/runs/:id
func (h *AdminHandler) GetRun(c *gin.Context) {
	runID := c.Param("id")
	run, err := h.runs.FindByID(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		h.logger.Error("Failed to get workflow run", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get workflow run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}
