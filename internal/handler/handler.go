package handler

import (
	"net/http"
	"strings"

	"datalake/internal/service"
	"datalake/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the datalake over HTTP.
type Handler struct {
	dl  *service.Datalake
	log *zap.Logger
}

func New(dl *service.Datalake, log *zap.Logger) *Handler {
	return &Handler{dl: dl, log: log.Named("http")}
}

// blobName returns the *name path parameter without its leading slash.
func blobName(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("name"), "/")
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.log.Error(op+" failed",
		zap.String("workspace", c.Param("workspace")),
		zap.String("name", blobName(c)),
		zap.Error(err))
	_ = c.Error(err)
	utils.Fail(c, http.StatusInternalServerError, err)
}

func badRequest(c *gin.Context, err error) {
	utils.Fail(c, http.StatusBadRequest, err)
}

func notFound(c *gin.Context) {
	utils.Fail(c, http.StatusNotFound, errNotFound)
}
