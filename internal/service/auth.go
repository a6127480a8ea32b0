package service

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthService guards the trigger and the internal API with a shared secret.
type AuthService struct {
	logger *zap.Logger
	secret string
}

func NewAuthService(logger *zap.Logger, secret string) *AuthService {
	return &AuthService{
		logger: logger,
		secret: secret,
	}
}

// ValidateToken compares in constant time. An empty configured secret
// rejects everything.
func (a *AuthService) ValidateToken(token string) bool {
	if a.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1
}

func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || !a.ValidateToken(token) {
			a.logger.Warn("Rejected unauthenticated request",
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
