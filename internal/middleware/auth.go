package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"relay-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// JWTClaims bearer token claims. Account is the wallet address the token was
// issued for.
type JWTClaims struct {
	Account string `json:"account"`
	jwt.RegisteredClaims
}

// ValidateJWTToken parses and verifies a bearer token against the configured
// secret.
func ValidateJWTToken(tokenString string) (*JWTClaims, error) {
	if config.AppConfig == nil || config.AppConfig.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.Auth.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// AuthMiddleware bearer credential check for every API endpoint.
type AuthMiddleware struct {
	logger *logrus.Logger
}

func NewAuthMiddleware(logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{logger: logger}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token's account on the context.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Warn("Auth failed - missing Authorization header")

			c.JSON(http.StatusUnauthorized, gin.H{
				"ok":     false,
				"error":  "unauthorized",
				"reason": "missing Authorization header",
			})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"ok":     false,
				"error":  "unauthorized",
				"reason": "Authorization header must be in format: Bearer <token>",
			})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := ValidateJWTToken(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("Auth failed - token verification failed")

			c.JSON(http.StatusUnauthorized, gin.H{
				"ok":     false,
				"error":  "unauthorized",
				"reason": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set("auth_account", claims.Account)
		c.Next()
	}
}
