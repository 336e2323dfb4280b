package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duespark/collector-api/internal/handler"
	"github.com/duespark/collector-api/internal/handler/webhook"
	"github.com/duespark/collector-api/internal/middleware"
	"github.com/duespark/collector-api/pkg/logger"
)

// Router owns the gin engine and route registration for the callback API.
type Router struct {
	engine   *gin.Engine
	healthH  *handler.HealthHandler
	webhookH *webhook.Handler
}

func NewRouter(healthH *handler.HealthHandler, webhookH *webhook.Handler, requestTimeout time.Duration, log *logger.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)

	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger(log))
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.Timeout(requestTimeout))

	r := &Router{
		engine:   engine,
		healthH:  healthH,
		webhookH: webhookH,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthH.Live)
	r.engine.GET("/health/ready", r.healthH.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := r.engine.Group("/webhooks")
	{
		webhooks.POST("/sms/status", r.webhookH.SMSStatus)
		webhooks.POST("/voice/status", r.webhookH.VoiceStatus)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
