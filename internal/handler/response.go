package handler

import (
	"lingua-chat-go/internal/model"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// currentUser 取出 AuthMiddleware 注入的用户。取不到时已写入响应。
func currentUser(c *gin.Context) (*model.User, bool) {
	value, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "未认证用户或无法获取用户信息"})
		return nil, false
	}
	user, ok := value.(*model.User)
	if !ok || user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "用户数据类型错误"})
		return nil, false
	}
	return user, true
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message})
}

func success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

// queryInt 解析整型查询参数，缺省或非法时返回 0。
func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}
