package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/links"
)

// Click resolves a tracked link, counts the click for its channel, and
// redirects to the original URL. Public: this is the link recipients hit.
func (h *Handler) Click(c *gin.Context) {
	tenantID := c.Param("tenantId")
	trackingID := c.Param("trackingId")
	channel := c.Param("channel")

	url, err := h.engine.ResolveClick(tenantID, trackingID, channel)
	if err != nil {
		if errors.Is(err, links.ErrLinkNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Link not found"})
			return
		}
		h.logger.Error("Failed to resolve click",
			zap.String("tenant_id", tenantID),
			zap.String("tracking_id", trackingID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.metrics.RecordClick(tenantID, channel)
	c.Redirect(http.StatusFound, url)
}

// StatsCounts dumps the tenant's full tracked-link store.
func (h *Handler) StatsCounts(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	if !h.store.HasLinkStore(tenantID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No tracked links for tenant"})
		return
	}

	tracked, err := h.engine.List(tenantID)
	if err != nil {
		h.logger.Error("Failed to list tracked links",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, tracked)
}

type linksSinceRequest struct {
	Date string `json:"date" binding:"required"`
}

// LinksSince returns the links created at or after the given date.
func (h *Handler) LinksSince(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req linksSinceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cutoff, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date, expected YYYY-MM-DD"})
		return
	}

	tracked, err := h.engine.ListSince(tenantID, cutoff)
	if err != nil {
		h.logger.Error("Failed to list tracked links",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch links"})
		return
	}
	c.JSON(http.StatusOK, tracked)
}

type linkStatusRequest struct {
	Link string `json:"link" binding:"required"`
}

func (h *Handler) LinkStatus(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req linkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracked, err := h.engine.Status(tenantID, req.Link)
	if err != nil {
		h.logger.Error("Failed to check link status",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check link status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alreadyTracked": tracked})
}

type separateLinksRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) SeparateLinks(c *gin.Context) {
	var req separateLinksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"links": links.ExtractURLs(req.Text)})
}

type convertLinkRequest struct {
	Link  string `json:"link" binding:"required"`
	Token string `json:"token" binding:"required"`
}

func (h *Handler) ConvertLink(c *gin.Context) {
	var req convertLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	short, err := h.shortener.Shorten(c.Request.Context(), req.Link, req.Token)
	if err != nil {
		h.logger.Error("Failed to shorten link", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to convert link"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"converted": short})
}
