// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"lingua-chat-go/internal/service"
	"lingua-chat-go/pkg/log"
	"lingua-chat-go/pkg/token"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 校验 Bearer token，并将完整的 User 对象存入 Gin 的上下文中。
// 已登出（进入黑名单）的 token 会被拒绝。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "请求未包含授权头")
			return
		}

		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			abort(c, http.StatusUnauthorized, "无效的授权头格式")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			abort(c, http.StatusUnauthorized, "无效或已过期的 token")
			return
		}

		revoked, err := userService.IsTokenRevoked(c.Request.Context(), tokenString)
		if err != nil {
			// Redis 不可用时不阻断请求
			log.Warnf("AuthMiddleware: blacklist lookup failed: %v", err)
		} else if revoked {
			abort(c, http.StatusUnauthorized, "token 已失效")
			return
		}

		user, err := userService.GetByID(claims.UserID)
		if err != nil {
			abort(c, http.StatusUnauthorized, "用户不存在")
			return
		}
		if !user.IsActive {
			abort(c, http.StatusForbidden, "账户已停用")
			return
		}

		c.Set("user", user)
		c.Set("claims", claims)
		c.Next()
	}
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": message})
}
