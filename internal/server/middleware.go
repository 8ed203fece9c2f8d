package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	submissiondomain "github.com/smallbiznis/primerouter/internal/submission/domain"
	"go.uber.org/zap"
)

const contextAuthKey = "auth_context"

// AuthRequired rejects requests without a valid bearer token and stores the
// caller's AuthContext on the gin context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || scheme != "Bearer" || strings.TrimSpace(token) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := s.jwt.Validate(strings.TrimSpace(token))
		if err != nil {
			s.log.Debug("bearer token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextAuthKey, claims.AuthContext())
		c.Next()
	}
}

func authContext(c *gin.Context) submissiondomain.AuthContext {
	value, ok := c.Get(contextAuthKey)
	if !ok {
		return submissiondomain.AuthContext{}
	}
	auth, _ := value.(submissiondomain.AuthContext)
	return auth
}
