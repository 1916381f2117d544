// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"regulus-go/internal/repository"
	"regulus-go/internal/service"
	"regulus-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 access token 认证。
// 签名与有效期的校验是无状态的，不触达会话存储；仅有的两次 Redis
// 查询分别覆盖家族级撤销（重用检测后的强制下线，在 Authorize 内完成）
// 和登出黑名单。所有认证失败对外返回同一个响应体，不区分具体原因。
func AuthMiddleware(authService service.AuthService, codeStore repository.CodeStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 Authorization 请求头中获取 token
		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := authService.Authorize(c.Request.Context(), tokenString)
		if err != nil {
			// 过期与其他失败对外不做区分
			if errors.Is(err, service.ErrTokenExpired) {
				log.Infof("access token 已过期, path: %s", c.Request.URL.Path)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}

		// 登出黑名单检查
		blacklisted, err := codeStore.IsTokenBlacklisted(c.Request.Context(), tokenString)
		if err != nil {
			log.Errorf("黑名单查询失败: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}
		if blacklisted {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "未认证"})
			return
		}

		// 将 claims 存储在 context 中，供后续处理函数使用
		c.Set("claims", claims)
		c.Set("accessToken", tokenString)

		c.Next()
	}
}
