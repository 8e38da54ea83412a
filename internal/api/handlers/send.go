package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sendMessageRequest struct {
	Message   string   `json:"message" binding:"required"`
	GroupJIDs []string `json:"groupJids" binding:"required,min=1"`
}

// SendMessage rewrites outbound links into tracking redirects and sends
// the message to each requested group, paced by the tenant's limiter.
func (h *Handler) SendMessage(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	client, ok := h.registry.Get(tenantID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Not connected. Please log in first."})
		return
	}

	rewritten, err := h.engine.RewriteForSend(tenantID, req.Message, h.channels)
	if err != nil {
		h.logger.Error("Failed to rewrite message",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
		return
	}

	text, ok := rewritten[h.sendChannel]
	if !ok {
		text = req.Message
	}

	limiter := h.limiters.get(tenantID)
	sent := 0
	failed := make([]string, 0)
	for _, jid := range req.GroupJIDs {
		if err := limiter.Wait(c.Request.Context()); err != nil {
			h.logger.Warn("Send cancelled while rate limited",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			break
		}
		if err := client.SendText(c.Request.Context(), jid, text); err != nil {
			h.logger.Error("Failed to send message",
				zap.String("tenant_id", tenantID),
				zap.String("group_jid", jid),
				zap.Error(err),
			)
			failed = append(failed, jid)
			continue
		}
		sent++
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   len(failed) == 0,
		"sent":      sent,
		"failed":    failed,
		"rewritten": rewritten,
	})
}
