package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/qichat/pkg/errors"
	"github.com/tokmz/qichat/pkg/tracing"
)

// Response 统一响应结构
type Response struct {
	Code    int    `json:"code"`               // 业务状态码，0 表示成功
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Data:    data,
		Message: "ok",
		TraceID: tracing.TraceID(c.Request.Context()),
	})
}

// fail 按错误码写回错误，非 *errors.Error 一律视为 500
func fail(c *gin.Context, err error) {
	status := errors.HttpCodeOf(err)
	code := errors.CodeOf(err)
	if code == 0 {
		code = status
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: err.Error(),
		TraceID: tracing.TraceID(c.Request.Context()),
	})
}
