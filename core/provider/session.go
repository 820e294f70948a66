package provider

import (
	"time"

	"CoralPlay/model"

	"github.com/golang-jwt/jwt/v5"
)

// Session 保存目录服务的会话令牌。
// 只做本地过期判断，不做签名校验——校验是服务端的事，
// 这里的目的是在令牌明显过期时不浪费一次网络往返。
type Session struct {
	token string
}

// NewSession 创建会话，token 可为空（匿名访问）
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Token 返回原始令牌
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// Check 令牌已过期时返回 model.ErrAuthRequired
func (s *Session) Check() error {
	if s == nil || s.token == "" {
		return nil
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(s.token, claims); err != nil {
		// 不是合法 JWT 的令牌交给服务端判定
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return model.ErrAuthRequired
	}
	return nil
}
