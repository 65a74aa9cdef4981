package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/adapter/http/middleware"
	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/internal/logging"
)

// webhookBodyLimit bounds provider callbacks; real payloads are a few KB.
const webhookBodyLimit = 1 << 20

func NewRouter(h *OrderHandler, wh *WebhookHandler, authz *middleware.Authz) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := logging.New("http")
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		logging.From(c).Debug("health check")
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/checkout", authz.Require("checkout.write"), h.Checkout)
		v1.GET("/orders/:id", authz.Require("orders.read"), h.GetOrderByID)
		v1.POST("/orders/:id/payment", authz.Require("checkout.write"), h.RetryPayment)

		// provider callbacks authenticate with their own signatures
		v1.POST("/webhooks/:provider", middleware.RawBody(webhookBodyLimit), wh.Receive)
	}

	return r
}
