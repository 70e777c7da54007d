package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeOK               = "ok"
	CodeInvalidRequest   = "validation-failed"
	CodeUnauthorized     = "authentication-required"
	CodeNotFound         = "not-found"
	CodeMethodNotAllowed = "method-not-allowed"
	CodeConflict         = "conflict"
	CodeRateLimited      = "rate-limit-exceeded"
	CodeInternal         = "internal-error"
)

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code": CodeOK,
		"data": data,
	})
}

// Fail writes the error envelope. code is a stable machine-readable string.
func Fail(c *gin.Context, httpStatus int, code string, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":  code,
		"error": msg,
	})
}

// Abort is Fail for middleware.
func Abort(c *gin.Context, httpStatus int, code string, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":  code,
		"error": msg,
	})
}
