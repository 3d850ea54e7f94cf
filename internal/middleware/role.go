package middleware

import (
	"lingua-chat-go/internal/model"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRoles 只放行指定角色的用户，必须在 AuthMiddleware 之后使用。
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		value, exists := c.Get("user")
		if !exists {
			abort(c, http.StatusInternalServerError, "无法获取用户信息")
			return
		}
		user, ok := value.(*model.User)
		if !ok {
			abort(c, http.StatusInternalServerError, "用户数据类型错误")
			return
		}
		if _, ok := allowed[user.Role]; !ok {
			abort(c, http.StatusForbidden, "权限不足")
			return
		}
		c.Next()
	}
}
