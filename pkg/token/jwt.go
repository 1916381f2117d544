// Package token 提供了用于生成和验证 JSON Web Tokens (JWT) 的功能。
// 该包是纯函数式的编解码层：只负责签名与校验，不访问任何存储。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 校验失败时返回的有类型错误。调用方据此区分过期、格式错误与签名不匹配。
var (
	ErrExpired          = errors.New("token 已过期")
	ErrMalformed        = errors.New("token 格式错误")
	ErrInvalidSignature = errors.New("token 签名无效")
)

// JWTManager 负责管理 JWT 的生成和验证。
// access token 与 refresh token 使用各自独立的密钥，互相不可混用。
type JWTManager struct {
	accessSecret    []byte        // accessSecret 用于签名和验证 access token
	refreshSecret   []byte        // refreshSecret 用于签名和验证 refresh token
	accessTokenDur  time.Duration // accessTokenDur 定义了 access token 的有效期
	refreshTokenDur time.Duration // refreshTokenDur 定义了 refresh token 的有效期
}

// CustomClaims 定义了我们想要在 JWT 中存储的自定义数据。
// 它嵌入了 jwt.RegisteredClaims 以包含标准的 JWT 声明（如过期时间）。
// FamilyID 把一次登录签发的全部 token 关联成同一个令牌家族：
// refresh token 借此参与轮换链，access token 借此在家族被撤销后立即失效。
type CustomClaims struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	FamilyID string `json:"familyId,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(accessSecret, refreshSecret string, accessTokenDur, refreshTokenDur time.Duration) *JWTManager {
	return &JWTManager{
		accessSecret:    []byte(accessSecret),
		refreshSecret:   []byte(refreshSecret),
		accessTokenDur:  accessTokenDur,
		refreshTokenDur: refreshTokenDur,
	}
}

// GenerateAccessToken 根据给定的用户信息生成一个新的 access token。
// access token 同样携带家族标识，家族级撤销据此能覆盖到已签发的 access token。
func (m *JWTManager) GenerateAccessToken(userID uint, username, role, familyID string) (string, error) {
	claims := CustomClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.accessTokenDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.accessSecret)
}

// GenerateRefreshToken 生成一个携带令牌家族标识的 refresh token。
// 它使用独立的 refresh 密钥和更长的有效期。jti 是该 token 在会话存储中的
// 不透明标识，轮换时据此把 token 绑定到链上具体的一环。
func (m *JWTManager) GenerateRefreshToken(userID uint, username, role, familyID, jti string) (string, error) {
	claims := CustomClaims{
		UserID:   userID,
		Username: username,
		Role:     role,
		FamilyID: familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.refreshTokenDur)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.refreshSecret)
}

// VerifyAccessToken 验证给定的 access token 字符串。
func (m *JWTManager) VerifyAccessToken(tokenString string) (*CustomClaims, error) {
	return m.verify(tokenString, m.accessSecret)
}

// VerifyRefreshToken 验证给定的 refresh token 字符串。
func (m *JWTManager) VerifyRefreshToken(tokenString string) (*CustomClaims, error) {
	return m.verify(tokenString, m.refreshSecret)
}

// RefreshTokenTTL 返回 refresh token 的有效期，供会话存储写入过期时间使用。
func (m *JWTManager) RefreshTokenTTL() time.Duration {
	return m.refreshTokenDur
}

// AccessTokenTTL 返回 access token 的有效期。
// 家族撤销标记以它为 TTL：窗口过后该家族签发的 access token 已全部自然过期。
func (m *JWTManager) AccessTokenTTL() time.Duration {
	return m.accessTokenDur
}

// verify 解析并校验 token 字符串。
// 签名算法必须严格等于 HS256，任何算法或密钥不匹配都会校验失败（拒绝 "alg: none"）。
func (m *JWTManager) verify(tokenString string, secret []byte) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignature
		}
		return secret, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, ErrInvalidSignature
		}
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidSignature
}

// GenerateRandomString generates a random hex string of a given length.
// 用于生成邮箱验证码、密码重置码等一次性凭证。
// 随机源不可用时返回错误，绝不退化成可预测的值。
func GenerateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
