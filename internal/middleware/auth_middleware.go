package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"processing-api/internal/security"
)

type AuthMiddleware struct {
	jwtSecret string
	jwtIssuer string
	jwtExpiry time.Duration
	skipPaths map[string]bool
}

func NewAuthMiddleware(jwtSecret, jwtIssuer string, jwtExpiry time.Duration) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
		jwtIssuer: jwtIssuer,
		jwtExpiry: jwtExpiry,
		skipPaths: map[string]bool{
			"/health":  true,
			"/ready":   true,
			"/metrics": true,
		},
	}
}

type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates bearer tokens and sets the caller identity on the
// request context.
func (a *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Authorization header required",
				"message": "Missing Authorization header",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid authorization format",
				"message": "Authorization header must be 'Bearer <token>'",
			})
			c.Abort()
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.jwtSecret), nil
		})
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid token",
				"message": err.Error(),
			})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid token claims",
				"message": "Token contains invalid claims",
			})
			c.Abort()
			return
		}

		if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Token expired",
				"message": "JWT token has expired",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireStatsAccess restricts pipeline statistics to roles allowed to see
// them.
func (a *AuthMiddleware) RequireStatsAccess() gin.HandlerFunc {
	return a.requirePermission(func(p security.Permissions) bool { return p.ViewStats })
}

// RequireComplianceAccess restricts KYC/GDPR validation endpoints.
func (a *AuthMiddleware) RequireComplianceAccess() gin.HandlerFunc {
	return a.requirePermission(func(p security.Permissions) bool { return p.RunComplianceChecks })
}

func (a *AuthMiddleware) requirePermission(allowed func(security.Permissions) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Permission denied",
				"message": "No role available on request",
			})
			c.Abort()
			return
		}

		perms := security.PermissionsFor(security.Role(role.(string)))
		if !allowed(perms) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Permission denied",
				"message": "Role lacks the required permission",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GenerateJWT creates a signed token for a user. Used by tests and tooling;
// login itself lives in a separate identity service.
func (a *AuthMiddleware) GenerateJWT(userID int64, role string) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    a.jwtIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}
