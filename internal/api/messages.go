package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppmon/internal/store"
)

type simulateRequest struct {
	Content   string `json:"content"`
	Author    string `json:"author"`
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required,oneof=received forwarded failed"`
	Error  string `json:"error"`
}

// Messages lists the most recent messages, newest first.
func (h *Handler) Messages(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.GetMessages(queryLimit(c, defaultMessageLimit)))
}

// Simulate injects a message through the ingestion pipeline.
func (h *Handler) Simulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.ingester.Simulate(c.Request.Context(), req.Content, req.Author, req.GroupID, req.GroupName)
	if err != nil {
		h.internalError(c, err, "failed to store message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}

// UpdateMessageStatus sets the processing status of a stored message. An
// unknown id is not an error.
func (h *Handler) UpdateMessageStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of received, forwarded, failed"})
		return
	}

	if err := h.store.UpdateMessageStatus(id, store.MessageStatus(req.Status), req.Error); err != nil {
		h.internalError(c, err, "failed to update message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
