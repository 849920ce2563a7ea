package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppmon/internal/store"
)

type groupRequest struct {
	GroupID  string `json:"group_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	IsActive *bool  `json:"is_active"`
}

type activeRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// Groups lists the monitored groups.
func (h *Handler) Groups(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.GetActiveGroups())
}

// UpsertGroup creates a group or updates it by group id.
func (h *Handler) UpsertGroup(c *gin.Context) {
	var req groupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group_id and name are required"})
		return
	}

	g, err := h.store.UpsertGroup(store.GroupInput{GroupID: req.GroupID, Name: req.Name, IsActive: req.IsActive})
	if err != nil {
		h.internalError(c, err, "failed to save group")
		return
	}
	c.JSON(http.StatusOK, g)
}

// SetGroupActive toggles whether a group is monitored.
func (h *Handler) SetGroupActive(c *gin.Context) {
	groupID := c.Param("groupId")
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "is_active is required"})
		return
	}
	if _, ok := h.store.GetGroup(groupID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}

	if err := h.store.SetGroupActive(groupID, *req.IsActive); err != nil {
		h.internalError(c, err, "failed to update group")
		return
	}
	g, _ := h.store.GetGroup(groupID)
	c.JSON(http.StatusOK, g)
}
