// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"lingua-chat-go/internal/model"
	"lingua-chat-go/internal/repository"
	"lingua-chat-go/pkg/hash"
	"lingua-chat-go/pkg/token"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	ErrUsernameTaken      = errors.New("用户名已存在")
	ErrEmailTaken         = errors.New("邮箱已被注册")
	ErrInvalidRole        = errors.New("无效的用户角色")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUserNotFound       = errors.New("user not found")
)

// RegisterInput 是注册所需的用户信息。
type RegisterInput struct {
	Username       string
	Email          string
	Password       string
	FullName       string
	Role           string
	GradeLevel     string
	CurriculumType string
}

// UserService 接口定义了所有与用户相关的业务操作。
type UserService interface {
	Register(in RegisterInput) (*model.User, error)
	Login(username, password string) (accessToken, refreshToken string, err error)
	GetProfile(username string) (*model.User, error)
	GetByID(userID string) (*model.User, error)
	Logout(tokenString string) error
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
	rdb        *redis.Client
}

// NewUserService 创建一个新的 UserService 实例。rdb 为空时登出不写黑名单。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager, rdb *redis.Client) UserService {
	return &userService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		rdb:        rdb,
	}
}

// Register 处理用户注册的业务逻辑。
func (s *userService) Register(in RegisterInput) (*model.User, error) {
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role == "" {
		role = model.RoleStudent
	}
	if !model.ValidRole(role) {
		return nil, ErrInvalidRole
	}

	// 1. 检查用户名和邮箱是否已存在
	if _, err := s.userRepo.FindByUsername(in.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if _, err := s.userRepo.FindByEmail(in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	newUser := &model.User{
		Username:       in.Username,
		Email:          in.Email,
		Password:       hashedPassword,
		FullName:       in.FullName,
		Role:           role,
		GradeLevel:     in.GradeLevel,
		CurriculumType: in.CurriculumType,
		IsActive:       true,
	}
	if err := s.userRepo.Create(newUser); err != nil {
		return nil, err
	}
	return newUser, nil
}

// Login 处理用户登录的业务逻辑。
func (s *userService) Login(username, password string) (accessToken, refreshToken string, err error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", err
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return "", "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", "", ErrUserInactive
	}
	return s.issueTokens(user)
}

func (s *userService) issueTokens(user *model.User) (string, string, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// GetProfile 根据用户名获取用户详细信息。
func (s *userService) GetProfile(username string) (*model.User, error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) GetByID(userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// Logout 处理用户登出逻辑，将 token 加入 Redis 黑名单。
func (s *userService) Logout(tokenString string) error {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return err
	}
	if s.rdb == nil {
		return nil
	}
	// token 的剩余有效期将作为 Redis key 的过期时间。
	expiration := time.Until(claims.ExpiresAt.Time)
	return s.rdb.Set(context.Background(), "blacklist:"+tokenString, "true", expiration).Err()
}

// IsTokenRevoked 查询 token 是否已登出。未配置 Redis 时总是返回 false。
func (s *userService) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	if s.rdb == nil {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, "blacklist:"+tokenString).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RefreshToken 验证 refresh token 并签发新的 access token 和 refresh token。
func (s *userService) RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}

	user, err := s.userRepo.FindByUsername(claims.Username)
	if err != nil {
		return "", "", ErrUserNotFound
	}
	if !user.IsActive {
		return "", "", ErrUserInactive
	}
	return s.issueTokens(user)
}
