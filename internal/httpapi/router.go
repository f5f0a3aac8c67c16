package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-widget/internal/common"
	"github.com/suPer8Hu/support-widget/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-widget/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	r.POST("/conversations", h.CreateConversation)

	// conversation token required
	conv := r.Group("/conversations/:id")
	conv.Use(middleware.ConversationAuth(h.Cfg.JWTSecret))
	conv.GET("", h.GetConversation)
	conv.DELETE("", h.CloseConversation)
	conv.GET("/transitions", h.ListTransitions)
	conv.GET("/health", h.Health)

	conv.POST("/messages", h.SendMessage)
	conv.POST("/messages/:message_id/feedback", h.SubmitFeedback)
	conv.POST("/activity", h.RecordActivity)
	conv.POST("/identification", h.InjectIdentification)
	conv.POST("/human", h.RequestHumanAgent)

	conv.POST("/end", h.EndConversation)
	conv.POST("/end/request", h.RequestEnd)
	conv.POST("/end/confirm", h.ConfirmEnd)
	conv.POST("/end/cancel", h.CancelEnd)
	conv.POST("/new", h.StartNewChat)

	conv.POST("/sync", h.SyncConversation)
	conv.POST("/reset", h.EmergencyReset)
	return r
}
