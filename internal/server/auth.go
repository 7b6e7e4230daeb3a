package server

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/devricklin/notify-reply-bridge/internal/errors"
)

const (
	ctxSubject  = "subject"
	ctxAdmin    = "admin"
	tokenIssuer = "notify-reply-bridge"
)

// Claims are carried by API bearer tokens. The subject names the device or operator.
// Device tokens only reach their own outbox; admin tokens reach every source.
type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"adm,omitempty"`
}

// IssueToken signs a device bearer token for subject; ttl <= 0 issues a token without expiry
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	return issueToken(secret, subject, false, ttl, now)
}

// IssueAdminToken signs an operator token that may act on any source
func IssueAdminToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	return issueToken(secret, subject, true, ttl, now)
}

func issueToken(secret, subject string, admin bool, ttl time.Duration, now time.Time) (string, error) {
	if subject == "" {
		return "", errors.NewInvalidRequest("token subject is required")
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Admin: admin,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a bearer token and returns its claims
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.NewUnauthorized("token expired")
		}
		return nil, errors.NewUnauthorized("invalid token")
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.NewUnauthorized("invalid token")
	}
	return claims, nil
}

// AuthMiddleware requires a valid bearer token and stores its subject in the context
func AuthMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, errors.NewUnauthorized("authorization header required"))
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			abortWithError(c, errors.NewUnauthorized("authorization header format must be Bearer <token>"))
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			logger.Debug("Rejected token", zap.Error(err))
			abortWithError(c, err)
			return
		}

		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxAdmin, claims.Admin)
		c.Next()
	}
}

func subjectOf(c *gin.Context) string {
	return c.GetString(ctxSubject)
}

func isAdmin(c *gin.Context) bool {
	return c.GetBool(ctxAdmin)
}
