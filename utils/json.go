package utils

import (
	"errors"
	"net/http"

	"datalake/internal/dto"

	"github.com/gin-gonic/gin"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// Success writes a success JSON response.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, dto.Response{
		Code: 0,
		Msg:  "ok",
		Data: data,
	})
}

// Fail writes an error JSON response.
func Fail(c *gin.Context, status int, err error) {
	c.JSON(status, dto.Response{
		Code: -1,
		Msg:  err.Error(),
	})
}
