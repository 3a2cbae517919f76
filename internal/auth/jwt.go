package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const issuer = "whiteboard-api"

// Claims JWT 클레임
type Claims struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager JWT 토큰 관리자
type JWTManager struct {
	secretKey    []byte
	accessExpiry time.Duration
}

// NewJWTManager JWTManager 생성
func NewJWTManager(secretKey string, accessExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:    []byte(secretKey),
		accessExpiry: accessExpiry,
	}
}

// GenerateAccessToken 액세스 토큰 생성 (로그인 서비스와 개발용 CLI가 사용)
func (m *JWTManager) GenerateAccessToken(userID, nickname string, role Role) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Nickname: nickname,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateAccessToken 액세스 토큰 검증
func (m *JWTManager) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if !claims.Role.Valid() {
		claims.Role = RoleMember
	}

	return claims, nil
}
