package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/imobcrm/wagate/internal/api/handler"
	"github.com/imobcrm/wagate/internal/api/middleware"
)

type Options struct {
	Env            string
	AuthSecret     string
	GatewayHandler *handler.GatewayHandler
	ChatHandler    *handler.ChatHandler
	StreamHandler  *handler.StreamHandler
	HealthHandler  *handler.HealthHandler
	RateLimit      middleware.RateLimitOption
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		MaxAge:       12 * time.Hour,
	}))

	root := router.Group("")

	opts.HealthHandler.Register(root)
	// O websocket fica fora da autenticação: o replay inicial já entrega
	// o estado e o navegador do CRM não envia header Authorization.
	opts.StreamHandler.Register(root)

	api := root.Group("")
	if opts.RateLimit.Enabled {
		api.Use(middleware.RateLimit(opts.RateLimit))
	}
	if opts.AuthSecret != "" {
		api.Use(middleware.Auth(opts.AuthSecret))
	}

	opts.GatewayHandler.Register(api)
	opts.ChatHandler.Register(api)

	return router
}
