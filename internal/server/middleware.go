package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kotaroy/painlog/internal/auth"
)

const identityContextKey = "identity"

// AuthRequired authenticates the Authorization bearer header and stores the
// resolved identity in the request context. No identity is cached across
// requests.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		identity, err := s.validator.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set(identityContextKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) *auth.Identity {
	return c.MustGet(identityContextKey).(*auth.Identity)
}
