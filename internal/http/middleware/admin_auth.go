package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/habitbridge-backend/internal/http/response"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

const (
	AdminRole       = "admin"
	ctxAdminSubject = "admin_subject"
)

// AdminClaims are the claims an operator token must carry. Tokens are
// minted elsewhere; this service only verifies them.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AdminAuth struct {
	log    *logger.Logger
	secret []byte
	now    func() time.Time
}

// NewAdminAuth verifies HS256 bearer tokens signed with secret. With an
// empty secret every admin request is refused.
func NewAdminAuth(log *logger.Logger, secret string) *AdminAuth {
	return &AdminAuth{
		log:    log.With("middleware", "AdminAuth"),
		secret: []byte(strings.TrimSpace(secret)),
		now:    time.Now,
	}
}

func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing bearer token"))
			c.Abort()
			return
		}
		claims, err := a.Verify(tokenString)
		if err != nil {
			a.log.Warn("admin token rejected", "error", err, "path", c.FullPath())
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid or expired token"))
			c.Abort()
			return
		}
		if claims.Role != AdminRole {
			response.RespondError(c, http.StatusForbidden, "forbidden", errors.New("admin role required"))
			c.Abort()
			return
		}
		c.Set(ctxAdminSubject, claims.Subject)
		c.Next()
	}
}

func (a *AdminAuth) Verify(tokenString string) (*AdminClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("admin auth not configured")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse admin token: %w", err)
	}
	claims, ok := parsed.Claims.(*AdminClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid admin token")
	}
	return claims, nil
}

// AdminSubject is the verified token subject, empty outside admin routes.
func AdminSubject(c *gin.Context) string { return c.GetString(ctxAdminSubject) }

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
