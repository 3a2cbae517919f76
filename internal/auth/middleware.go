package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ErrNoClaims 컨텍스트에 인증 정보 없음
var ErrNoClaims = errors.New("no claims in context")

// AuthMiddleware JWT 인증 미들웨어
// 토큰 위치: Authorization 헤더 > access_token 쿠키 > token 쿼리 (WebSocket 핸드셰이크용)
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var tokenString string

		if authHeader := c.Get("Authorization"); authHeader != "" {
			// Bearer 토큰 파싱
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid authorization header format",
				})
			}
			tokenString = parts[1]
		} else if cookie := c.Cookies("access_token"); cookie != "" {
			tokenString = cookie
		} else {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization token",
			})
		}

		// 토큰 검증
		claims, err := jwtManager.ValidateAccessToken(tokenString)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		c.Locals("userID", claims.UserID)
		c.Locals("nickname", claims.Nickname)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// GetClaimsFromContext 컨텍스트에서 클레임 조회
func GetClaimsFromContext(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok || claims == nil {
		return nil, ErrNoClaims
	}
	return claims, nil
}
