package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/internal/agent"
	"github.com/seweryn-pilarska/email-reply/internal/service/reply"
	"github.com/seweryn-pilarska/email-reply/pkg/logger"
)

const errHumanMessageRequired = "Human message is required"

// ReplyService 由 reply.Service 实现
type ReplyService interface {
	Reply(ctx context.Context, req reply.Request) (*reply.Result, error)
	Enqueue(ctx context.Context, email, source string) (string, error)
	AsyncEnabled() bool
}

type ChatHandler struct {
	service ReplyService
	logger  *zap.Logger
}

func NewChatHandler(service ReplyService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		logger:  logger,
	}
}

type chatRequest struct {
	HumanMessage *string `json:"human_message"`
}

// bindMessage 缺失、非字符串或空白的 human_message 都返回 false
func bindMessage(c *gin.Context) (string, bool) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.HumanMessage == nil {
		return "", false
	}
	if strings.TrimSpace(*req.HumanMessage) == "" {
		return "", false
	}
	return *req.HumanMessage, true
}

// Chat handles POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	message, ok := bindMessage(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errHumanMessageRequired})
		return
	}

	ctx := c.Request.Context()
	res, err := h.service.Reply(ctx, reply.Request{Source: reply.SourceHTTP, Email: message})
	if err != nil {
		if errors.Is(err, agent.ErrEmptyEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errHumanMessageRequired})
			return
		}
		logger.WithTrace(ctx, h.logger).Error("Failed to generate reply", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate reply"})
		return
	}
	if res.Reply == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate reply"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": res.Reply})
}

// ChatAsync handles POST /api/chat/async
func (h *ChatHandler) ChatAsync(c *gin.Context) {
	if !h.service.AsyncEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": reply.ErrAsyncDisabled.Error()})
		return
	}

	message, ok := bindMessage(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errHumanMessageRequired})
		return
	}

	ctx := c.Request.Context()
	requestID, err := h.service.Enqueue(ctx, message, reply.SourceHTTP)
	if err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to enqueue reply request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue reply"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": requestID,
		"status":     "queued",
	})
}
