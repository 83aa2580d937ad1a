package apperr

import (
	"github.com/gin-gonic/gin"
)

// Respond 按错误类别写出统一格式的错误响应
func Respond(c *gin.Context, err error) {
	c.JSON(HTTPStatus(err), gin.H{
		"error": err.Error(),
		"code":  Code(err),
	})
}
