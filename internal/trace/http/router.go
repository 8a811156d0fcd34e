package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const (
	healthStatusOK        = "ok"
	healthStatusUnhealthy = "unhealthy"
)

type HealthChecker interface {
	Health() error
}

func RegisterRoutes(router *gin.Engine, handler *Handler, checker HealthChecker, uploadDir string) {
	api := router.Group("/api")
	api.POST("/product/add", handler.CreateProduct)
	api.GET("/products", handler.ListProducts)
	api.GET("/product/:id", handler.GetProduct)
	api.POST("/product/:id/status", handler.AppendStatus)
	api.DELETE("/product/:id", handler.DeleteProduct)
	api.GET("/product/:id/qr", handler.QRCode)

	router.Static("/uploads", uploadDir)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := checker.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": healthStatusUnhealthy})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": healthStatusOK})
	})
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
