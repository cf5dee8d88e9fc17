package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/threadloom/threadloom-backend/internal/http/handlers"
	httpMW "github.com/threadloom/threadloom-backend/internal/http/middleware"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	TracingEnabled bool
	CORSOrigins    []string

	AuthHandler         *httpH.AuthHandler
	AuthMiddleware      *httpMW.AuthMiddleware
	ConversationHandler *httpH.ConversationHandler
	ChatHandler         *httpH.ChatHandler
	SettingsHandler     *httpH.SettingsHandler
	ToolServerHandler   *httpH.ToolServerHandler
	UsageHandler        *httpH.UsageHandler
	ModelsHandler       *httpH.ModelsHandler
	RealtimeHandler     *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	if cfg.TracingEnabled {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}

	r.GET("/healthcheck", httpH.Healthcheck)

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		if cfg.AuthHandler != nil {
			protected.POST("/refresh", cfg.AuthHandler.Refresh)
			protected.GET("/me", cfg.AuthHandler.Me)
		}

		// Conversation history
		if cfg.ConversationHandler != nil {
			protected.GET("/conversations", cfg.ConversationHandler.List)
			protected.GET("/conversations/:id", cfg.ConversationHandler.Get)
			protected.POST("/conversations/:id", cfg.ConversationHandler.Upsert)
			protected.DELETE("/conversations/:id", cfg.ConversationHandler.Delete)
			protected.GET("/conversations/:id/messages", cfg.ConversationHandler.ListMessages)
			protected.POST("/conversations/:id/messages", cfg.ConversationHandler.AppendMessages)
		}

		// Streaming completions
		if cfg.ChatHandler != nil {
			protected.POST("/chat/completions", cfg.ChatHandler.Completions)
		}

		if cfg.SettingsHandler != nil {
			protected.GET("/settings", cfg.SettingsHandler.Get)
			protected.PUT("/settings", cfg.SettingsHandler.Update)
			protected.PUT("/settings/keys", cfg.SettingsHandler.SetAPIKey)
		}

		if cfg.ToolServerHandler != nil {
			protected.GET("/tool-servers", cfg.ToolServerHandler.List)
			protected.POST("/tool-servers", cfg.ToolServerHandler.Create)
			protected.PUT("/tool-servers/:id", cfg.ToolServerHandler.Update)
			protected.DELETE("/tool-servers/:id", cfg.ToolServerHandler.Delete)
		}

		if cfg.UsageHandler != nil {
			protected.GET("/usage", cfg.UsageHandler.Summary)
			protected.GET("/usage/stats", cfg.UsageHandler.Stats)
		}

		if cfg.ModelsHandler != nil {
			protected.GET("/models", cfg.ModelsHandler.List)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.Stream)
		}
	}

	return r
}
