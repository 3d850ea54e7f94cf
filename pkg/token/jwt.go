// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 令牌用途，防止 refresh token 被当作 access token 使用。
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// ErrWrongTokenKind 表示令牌签名有效但用途不符。
var ErrWrongTokenKind = errors.New("token kind mismatch")

// JWTManager 负责管理 JWT 的生成和验证。
type JWTManager struct {
	secretKey       []byte
	accessTokenDur  time.Duration
	refreshTokenDur time.Duration
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
// Subject 与 Username 一致，WebSocket 握手按用户名查找用户。
type CustomClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Kind     string `json:"kind"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours, refreshTokenExpireDays int) *JWTManager {
	return &JWTManager{
		secretKey:       []byte(secret),
		accessTokenDur:  time.Hour * time.Duration(accessTokenExpireHours),
		refreshTokenDur: time.Duration(refreshTokenExpireDays) * 24 * time.Hour,
	}
}

// GenerateToken 根据给定的用户信息生成一个新的 access token。
func (m *JWTManager) GenerateToken(userID, username, role string) (string, error) {
	return m.sign(userID, username, role, KindAccess, m.accessTokenDur)
}

// GenerateRefreshToken 生成有效期更长的 refresh token。
func (m *JWTManager) GenerateRefreshToken(userID, username, role string) (string, error) {
	return m.sign(userID, username, role, KindRefresh, m.refreshTokenDur)
}

func (m *JWTManager) sign(userID, username, role, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken 验证给定的 access token 字符串并返回其 claims。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	return m.verify(tokenString, KindAccess)
}

// VerifyRefreshToken 验证 refresh token。
func (m *JWTManager) VerifyRefreshToken(tokenString string) (*CustomClaims, error) {
	return m.verify(tokenString, KindRefresh)
}

func (m *JWTManager) verify(tokenString, kind string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}
