package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"document-portal/internal/logger"
	"document-portal/internal/pkg/jwtutil"
	"document-portal/internal/transport/http/response"
)

const ContextSubjectKey = "subject"

var (
	errMissingAuth = errors.New("missing authorization header")
	errAuthScheme  = errors.New("invalid authorization scheme")
)

// AuthJWT admits requests carrying a service token minted by `server token`.
// The token subject is kept on the context and tagged onto the request log.
func AuthJWT(secret string, log *zap.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			reject(c, log, err.Error(), err)
			return
		}

		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			reject(c, log, "invalid or expired token", err)
			return
		}

		c.Set(ContextSubjectKey, claims.Subject)
		c.Next()
	}
}

// Subject returns the authenticated token subject, or "" when auth is off.
func Subject(c *gin.Context) string { return c.GetString(ContextSubjectKey) }

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingAuth
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errAuthScheme
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix)), nil
}

func reject(c *gin.Context, log *zap.Logger, message string, err error) {
	log.Warn("token rejected",
		zap.String("request_id", c.GetString(ContextRequestIDKey)),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, message)
	c.Abort()
}
