package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/assistant-relay/internal/auth"
	"github.com/suPer8Hu/assistant-relay/internal/common"
	"github.com/suPer8Hu/assistant-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/assistant-relay/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, authn auth.Authenticator, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(h.Cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, common.CodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, common.CodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// relay endpoints authenticate themselves so auth failures share the relay envelope
	r.POST("/assistant-relay", h.AssistantRelay)
	r.POST("/chat-relay", h.ChatRelay)

	if h.Cfg.AuthLocalSignup {
		r.POST("/users", h.CreateUser)
		r.POST("/login", h.Login)
	}

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(authn))
	authGroup.POST("/logout", h.Logout)
	authGroup.GET("/me", h.Me)

	authGroup.GET("/assistants", h.ListAssistants)
	authGroup.PUT("/assistants/:assistant_id/active", h.SetActiveAssistant)
	authGroup.GET("/assistants/:assistant_id/settings", h.GetAssistantSettings)
	authGroup.PUT("/assistants/:assistant_id/settings", h.UpdateAssistantSettings)

	authGroup.POST("/conversations", h.CreateConversation)
	authGroup.GET("/conversations", h.ListConversations)
	authGroup.PATCH("/conversations/:id", h.RenameConversation)
	authGroup.DELETE("/conversations/:id", h.DeleteConversation)
	authGroup.GET("/conversations/:id/messages", h.ListMessages)
	authGroup.GET("/conversations/:id/events", h.ConversationEvents)

	authGroup.POST("/attachments", h.UploadAttachment)
	authGroup.GET("/jobs/:job_id", h.GetJob)
	return r
}
