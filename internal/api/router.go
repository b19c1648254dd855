package api

import (
	"slices"
	"time"

	"go-chat-session/internal/middleware"
	"go-chat-session/pkg/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter 注册中继的全部路由
func NewRouter(cfg config.RelayConfig, ws *WSHandler, events *EventHandler) *gin.Engine {
	r := gin.New()
	r.Use(middleware.GinZapLogger("/healthz"), gin.Recovery())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET(cfg.Path, ws.HandleConnection)
	r.GET("/healthz", events.Health)

	api := r.Group("/api")
	{
		api.POST("/logout", events.Logout)
		api.POST("/broadcast", events.Broadcast)
	}
	return r
}

// 未配置或包含 "*" 时允许所有来源
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}
