package handler

import (
	"encoding/json"
	"errors"

	"datalake/internal/dto"
	"datalake/utils"

	"github.com/gin-gonic/gin"
)

// GetMeta GET /meta/:workspace/*name
func (h *Handler) GetMeta(c *gin.Context) {
	name := blobName(c)
	if name == "" {
		badRequest(c, errMissingName)
		return
	}
	meta, err := h.dl.GetMeta(c.Request.Context(), c.Param("workspace"), name)
	if err != nil {
		h.internalError(c, "get meta", err)
		return
	}
	utils.Success(c, meta)
}

// SetMeta PATCH /meta/:workspace/*name
func (h *Handler) SetMeta(c *gin.Context) {
	name := blobName(c)
	if name == "" {
		badRequest(c, errMissingName)
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	if !json.Valid(raw) {
		badRequest(c, errors.New("meta must be valid json"))
		return
	}
	if err := h.dl.SetMeta(c.Request.Context(), c.Param("workspace"), name, raw); err != nil {
		h.internalError(c, "set meta", err)
		return
	}
	utils.Success(c, nil)
}

// SetParent PATCH /parent/:workspace/*name
func (h *Handler) SetParent(c *gin.Context) {
	name := blobName(c)
	if name == "" {
		badRequest(c, errMissingName)
		return
	}
	var req dto.SetParentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	parent := ""
	if req.Parent != nil {
		parent = *req.Parent
	}
	if err := h.dl.SetParent(c.Request.Context(), c.Param("workspace"), name, parent); err != nil {
		h.internalError(c, "set parent", err)
		return
	}
	utils.Success(c, nil)
}

// Stats GET /stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.dl.GetStats(c.Request.Context())
	if err != nil {
		h.internalError(c, "stats", err)
		return
	}
	utils.Success(c, stats)
}

// WorkspaceStats GET /stats/:workspace
func (h *Handler) WorkspaceStats(c *gin.Context) {
	stats, err := h.dl.GetWorkspaceStats(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		h.internalError(c, "workspace stats", err)
		return
	}
	utils.Success(c, stats)
}
