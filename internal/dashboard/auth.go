package dashboard

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskboard/kanban/internal/ctxutil"
)

const userKey = "user_id"

// authenticate resolves the bearer token to a user and stores it on both the
// gin context and the request context. allowQuery also accepts ?token=.
func (s *Server) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && allowQuery {
			token = c.Query("token")
		}
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, ok := s.lookupToken(token)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(userKey, user)
		c.Request = c.Request.WithContext(ctxutil.WithUserID(c.Request.Context(), user))
		c.Next()
	}
}

func (s *Server) lookupToken(token string) (string, bool) {
	for known, user := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return user, true
		}
	}
	return "", false
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
