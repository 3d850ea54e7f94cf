package handler

import (
	"errors"
	"lingua-chat-go/internal/service"
	"lingua-chat-go/pkg/log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责 token 续期。
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 用 refresh token 换取一对新 token。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求负载：refreshToken 不能为空")
		return
	}

	access, refresh, err := h.userService.RefreshToken(req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: rejected, error: %v", err)
		if errors.Is(err, service.ErrUserInactive) {
			fail(c, http.StatusForbidden, "账户已停用")
			return
		}
		fail(c, http.StatusUnauthorized, "无效的 refresh token")
		return
	}

	success(c, "Token refreshed successfully", gin.H{
		"token":        access,
		"refreshToken": refresh,
	})
}
