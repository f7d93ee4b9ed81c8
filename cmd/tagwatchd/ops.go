package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/tagwatch/publish"
	"github.com/vinayprograms/tagwatch/service"
	"github.com/vinayprograms/tagwatch/telemetry"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// opsRouter serves Prometheus metrics and a health summary.
func opsRouter(svc *service.Service, metrics *telemetry.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{
			"status":   "ok",
			"entities": svc.Registry().Len(),
			"tags":     svc.Store().Len(),
			"down":     svc.Scanner().DownCount(),
		}
		if a := svc.Scanner().ActiveAlert(); a != nil {
			body["status"] = "degraded"
			body["alert"] = a
		}
		c.JSON(http.StatusOK, body)
	})
	return r
}

// streamRouter serves the snapshot stream at /ws.
func streamRouter(hub *publish.WebSocketHub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", gin.WrapH(hub))
	return r
}
