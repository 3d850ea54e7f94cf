// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"lingua-chat-go/internal/service"
	"lingua-chat-go/pkg/log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理所有与账户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Username       string `json:"username" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Password       string `json:"password" binding:"required,min=6"`
	FullName       string `json:"full_name"`
	Role           string `json:"role"`
	GradeLevel     string `json:"grade_level"`
	CurriculumType string `json:"curriculum_type"`
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：用户名、邮箱和密码不能为空")
		return
	}

	user, err := h.userService.Register(service.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		FullName:       req.FullName,
		Role:           req.Role,
		GradeLevel:     req.GradeLevel,
		CurriculumType: req.CurriculumType,
	})
	if err != nil {
		log.Warnf("Register: User registration failed for '%s', error: %v", req.Username, err)
		switch {
		case errors.Is(err, service.ErrUsernameTaken), errors.Is(err, service.ErrEmailTaken):
			fail(c, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrInvalidRole):
			fail(c, http.StatusBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, "注册失败")
		}
		return
	}

	log.Infof("User '%s' registered successfully", user.Username)
	success(c, "User registered successfully", user)
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		fail(c, http.StatusBadRequest, "无效的请求负载：用户名和密码不能为空")
		return
	}

	accessToken, refreshToken, err := h.userService.Login(req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: User authentication failed for '%s', error: %v", req.Username, err)
		switch {
		case errors.Is(err, service.ErrUserInactive):
			fail(c, http.StatusForbidden, "账户已停用")
		case errors.Is(err, service.ErrInvalidCredentials):
			fail(c, http.StatusUnauthorized, "无效的凭证")
		default:
			fail(c, http.StatusInternalServerError, "登录失败")
		}
		return
	}

	log.Infof("User '%s' logged in successfully", req.Username)
	success(c, "Login successful", gin.H{
		"token":        accessToken,
		"refreshToken": refreshToken,
		"tokenType":    "bearer",
	})
}

// GetProfile 返回当前登录用户的信息，用户已由 AuthMiddleware 注入上下文。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	success(c, "success", user)
}

// Logout 将当前 access token 加入黑名单。
func (h *UserHandler) Logout(c *gin.Context) {
	user, exists := currentUser(c)
	if !exists {
		return
	}
	tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if err := h.userService.Logout(tokenString); err != nil {
		log.Errorf("Logout: Failed to logout '%s', error: %v", user.Username, err)
		fail(c, http.StatusInternalServerError, "登出失败")
		return
	}
	log.Infof("User '%s' logged out successfully", user.Username)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "登出成功"})
}
