package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suPer8Hu/assistant-relay/internal/auth"
	"github.com/suPer8Hu/assistant-relay/internal/common"
)

const (
	UserIDKey   = "user_id"
	IdentityKey = "identity"
)

// AuthRequired resolves the bearer token to a user. Websocket upgrades may pass the
// token as ?access_token= since browsers cannot set headers on them.
func AuthRequired(a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok && websocket.IsWebSocketUpgrade(c.Request) {
			token = c.Query("access_token")
			ok = token != ""
		}
		if !ok {
			common.Abort(c, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required")
			return
		}

		id, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			common.Abort(c, http.StatusUnauthorized, common.CodeUnauthorized, "authentication required")
			return
		}
		c.Set(UserIDKey, id.UserID)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

func UserID(c *gin.Context) (string, bool) {
	uid := c.GetString(UserIDKey)
	return uid, uid != ""
}

func Identity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
