package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/groups"
)

func (h *Handler) FetchGroups(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	list, err := h.groups.Fetch(c.Request.Context(), tenantID)
	if err != nil {
		switch {
		case errors.Is(err, groups.ErrNotConnected):
			c.JSON(http.StatusConflict, gin.H{"error": "Not connected. Please log in first."})
		case errors.Is(err, groups.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Group fetch timed out. Please try again later."})
		case errors.Is(err, groups.ErrRateLimitExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limited. Please try again later."})
		default:
			h.logger.Error("Failed to fetch groups",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch groups"})
		}
		return
	}
	c.JSON(http.StatusOK, list)
}

// SetAllowList overwrites the tenant's forwarding allow-list with the
// posted group ids.
func (h *Handler) SetAllowList(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var groupIDs []string
	if err := c.ShouldBindJSON(&groupIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a JSON array of group ids"})
		return
	}

	if err := h.store.SaveAllowList(tenantID, groupIDs); err != nil {
		h.logger.Error("Failed to save allow-list",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save allow-list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groupIDs})
}

func (h *Handler) GetAllowList(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	groupIDs, err := h.store.LoadAllowList(tenantID)
	if err != nil {
		h.logger.Error("Failed to load allow-list",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load allow-list"})
		return
	}
	if groupIDs == nil {
		groupIDs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"groups": groupIDs})
}
