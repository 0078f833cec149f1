package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AdminCookieName carries the admin session token
const AdminCookieName = "admin_token"

const adminIssuer = "keygate"

// AdminClaims represents JWT claims for the operator session
type AdminClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// AdminAuth issues and verifies operator session tokens.
type AdminAuth struct {
	secret []byte
	ttl    time.Duration
}

// NewAdminAuth validates the signing secret
func NewAdminAuth(secret string, ttl time.Duration) (*AdminAuth, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if len(secret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AdminAuth{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the session lifetime
func (a *AdminAuth) TTL() time.Duration {
	return a.ttl
}

// IssueToken creates a signed session token for username
func (a *AdminAuth) IssueToken(username string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    adminIssuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ParseToken verifies a session token and returns its claims
func (a *AdminAuth) ParseToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(adminIssuer))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// tokenFromRequest reads the cookie first, then a Bearer header
func tokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(AdminCookieName); err == nil && cookie != "" {
		return cookie
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// Middleware rejects requests without a valid operator session
func (a *AdminAuth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
			return
		}

		claims, err := a.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// Authenticated reports whether the request carries a valid session, without
// aborting
func (a *AdminAuth) Authenticated(c *gin.Context) (*AdminClaims, bool) {
	token := tokenFromRequest(c)
	if token == "" {
		return nil, false
	}
	claims, err := a.ParseToken(token)
	return claims, err == nil
}
