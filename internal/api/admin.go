package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppmon/internal/store"
)

type configRequest struct {
	Value json.RawMessage `json:"value"`
}

// Errors lists recent diagnostic error log entries.
func (h *Handler) Errors(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.GetRecentErrors(queryLimit(c, store.DefaultErrorLimit)))
}

// GetConfig returns one config entry.
func (h *Handler) GetConfig(c *gin.Context) {
	key := c.Param("key")
	v, ok := h.store.GetConfig(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "config key not set"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

// SetConfig writes one config entry. The last writer wins.
func (h *Handler) SetConfig(c *gin.Context) {
	key := c.Param("key")
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
		return
	}

	if err := h.store.SetConfig(key, req.Value); err != nil {
		h.internalError(c, err, "failed to save config")
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
