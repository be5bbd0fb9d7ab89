package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"matchcore.com/pkg/logger"
)

// 业务错误码：对外只给 code + message，细节只进日志
const (
	CodeOK             = 0
	CodeBadRequest     = 1001001
	CodeInvalidOrder   = 1001002
	CodeBadPair        = 1001003
	CodeMarketNotFound = 1002001
	CodeMarketExists   = 1002002
	CodeTooManyReq     = 1003001
	CodeEngineBusy     = 1004001
	CodeTimeout        = 1004002
	CodeInternal       = 5000000
)

// Response http 返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailLogged 记日志再返回；5xx 记 Error，其余 Warn
func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", httpStatus),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	}
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "http error", fields...)
	} else {
		logger.Warn(c.Request.Context(), "http error", fields...)
	}
	Fail(c, httpStatus, code, msg)
}
