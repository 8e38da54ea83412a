package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/session"
)

// Connect starts (or restarts) pairing for the calling tenant. Already
// connected is benign and reported, not an error.
func (h *Handler) Connect(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	already, err := h.manager.Connect(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("Failed to start connection",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start connection"})
		return
	}

	if already {
		c.JSON(http.StatusOK, gin.H{"message": "Already connected."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Connection started. Please scan the QR code.",
		"url":     fmt.Sprintf("%s/qr?userId=%s", h.baseURL, tenantID),
	})
}

func (h *Handler) Logout(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	if err := h.manager.Logout(c.Request.Context(), tenantID); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active session. Please log in first."})
			return
		}
		h.logger.Error("Failed to log out",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log out"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out."})
}

func (h *Handler) Status(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	c.JSON(http.StatusOK, gin.H{
		"paired": h.store.HasCredentials(tenantID),
		"state":  h.manager.StateOf(tenantID),
	})
}

// PairingImage serves the tenant's current pairing artifact. Public, so
// a polling front-end can embed it without a token.
func (h *Handler) PairingImage(c *gin.Context) {
	tenantID := c.Query("userId")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	}

	path := h.store.PairingArtifactPath(tenantID)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "QR code not found"})
		return
	}
	c.File(path)
}
