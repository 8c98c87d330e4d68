package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the gin engine with CORS for the given origins
func NewRouter(origins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler, regions *RegionHandler) {
	router.GET("/healthz", handler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/properties/:id/estimate", handler.GetEstimate)
		api.GET("/properties/:id/similar", handler.GetSimilarTransactions)
		api.POST("/transactions", handler.PostTransactions)
		api.GET("/model", handler.GetModel)

		if regions != nil && handler.history != nil {
			api.GET("/regions/:province/:district/transactions", regions.GetTransactions)
			api.GET("/regions/:province/:district/trend", regions.GetTrend)
		}
	}

	admin := router.Group("/api/admin")
	{
		admin.POST("/reload", handler.ReloadArtifacts)
		admin.POST("/retrain", handler.Retrain)
	}
}
