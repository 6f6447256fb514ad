package utils

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const claimsKey = "claims"

// AuthMiddleware verifies the bearer JWT and stores its claims.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			Fail(c, http.StatusUnauthorized, errUnauthorized)
			c.Abort()
			return
		}
		claims, err := VerifyToken(secret, tokenParts[1])
		if err != nil {
			Fail(c, http.StatusUnauthorized, errUnauthorized)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// WorkspaceMiddleware rejects tokens that do not cover the :workspace
// path parameter. Routes without one need a system token.
func WorkspaceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.MustGet(claimsKey).(*Claims)
		if !ok || !claims.Allows(c.Param("workspace")) {
			Fail(c, http.StatusForbidden, errForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

var httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "datalake",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status.",
}, []string{"method", "route", "status"})

func init() {
	prometheus.MustRegister(httpRequests)
}

// LoggerMiddleware writes one access log line per request and counts it.
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Int("size", c.Writer.Size()),
			zap.Duration("duration", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if status >= http.StatusInternalServerError {
			log.Warn("request", fields...)
			return
		}
		log.Debug("request", fields...)
	}
}
