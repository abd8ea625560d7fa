package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"freelancehub/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the identity issued by the auth collaborator.
type Claims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken 签发 HS256 token；注册登录不在本服务，主要给测试和本地调试用
func GenerateToken(actor model.Actor, secret, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: actor.ID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken 校验签名和过期时间，返回 Actor
func ParseToken(tokenStr, secret string) (model.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Actor{}, err
	}
	if !token.Valid || claims.UserID == "" {
		return model.Actor{}, ErrInvalidToken
	}
	switch claims.Role {
	case model.RoleClient, model.RoleFreelancer, model.RoleAdmin:
	default:
		return model.Actor{}, ErrInvalidToken
	}
	return model.Actor{ID: claims.UserID, Role: claims.Role}, nil
}

// ExtractToken 读取 Authorization: Bearer；浏览器的 WebSocket 无法带 header，退回 ?token=
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
