// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"regulus-go/internal/service"
	"regulus-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// statusFor 将业务错误映射到 HTTP 状态码。
// 认证类错误统一为 401，不区分失败原因。
func statusFor(err error) int {
	switch {
	case service.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAssistantTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrAssistantUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// claimsFrom 从上下文中取出 AuthMiddleware 注入的 claims。
func claimsFrom(c *gin.Context) (*token.CustomClaims, bool) {
	value, exists := c.Get("claims")
	if !exists {
		return nil, false
	}
	claims, ok := value.(*token.CustomClaims)
	return claims, ok
}
