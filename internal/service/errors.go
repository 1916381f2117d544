// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 业务错误的统一定义。handler 层据此决定 HTTP 状态码；
// 认证类错误对外一律折叠为同一个"未认证"响应，不泄露具体失败原因。
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidToken         = errors.New("invalid token")
	ErrTokenExpired         = errors.New("token expired")
	ErrMalformedToken       = errors.New("malformed token")
	ErrSessionRevoked       = errors.New("session revoked")
	ErrReuseDetected        = errors.New("refresh token reuse detected")
	ErrNotFound             = errors.New("resource not found")
	ErrForbidden            = errors.New("forbidden")
	ErrAssistantUnavailable = errors.New("assistant unavailable")
	ErrAssistantTimeout     = errors.New("assistant timeout")
)

// IsAuthError 判断错误是否属于认证类错误（对外统一为 401）。
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrReuseDetected)
}
