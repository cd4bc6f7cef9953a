package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RouterConfig wires the handlers into the router.
type RouterConfig struct {
	ChartHandler *ChartHandler
	AllowOrigins []string
	Mode         string
}

// NewRouter builds the gin engine with CORS and all routes registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/charts/generate", cfg.ChartHandler.Generate)
		api.GET("/dashboards/:dashboardID/widgets/:widgetID", cfg.ChartHandler.GetWidget)
		api.PUT("/dashboards/:dashboardID/widgets/:widgetID", cfg.ChartHandler.UpdateWidget)
		api.GET("/jobs/:id", cfg.ChartHandler.GetJob)
	}

	return router
}
