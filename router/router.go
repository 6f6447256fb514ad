package router

import (
	"net/http"

	"datalake/internal/handler"
	"datalake/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// InitRouter builds API routes.
func InitRouter(h *handler.Handler, jwtSecret string, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), utils.LoggerMiddleware(log.Named("http")), utils.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("")
	auth.Use(utils.AuthMiddleware(jwtSecret), utils.WorkspaceMiddleware())

	blob := auth.Group("/blob/:workspace")
	{
		blob.GET("", h.ListBlobs)
		blob.DELETE("", h.DeleteBlobs)
		blob.HEAD("/*name", h.HeadBlob)
		blob.GET("/*name", h.GetBlob)
		blob.PUT("/*name", h.PutBlob)
		blob.DELETE("/*name", h.DeleteBlob)
	}

	upload := auth.Group("/upload/:workspace")
	{
		upload.POST("/signed", h.SignUpload)
		upload.POST("/complete", h.CreateBlob)
	}

	meta := auth.Group("/meta/:workspace")
	{
		meta.GET("/*name", h.GetMeta)
		meta.PATCH("/*name", h.SetMeta)
	}
	auth.PATCH("/parent/:workspace/*name", h.SetParent)

	auth.GET("/stats", h.Stats)
	auth.GET("/stats/:workspace", h.WorkspaceStats)
	return r
}
