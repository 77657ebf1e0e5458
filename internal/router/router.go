package router

import (
	"mlir-eval/internal/handler"
	"mlir-eval/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(svcCtx *service.ServiceContext) *gin.Engine {
	r := gin.Default()

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	experimentHandler := handler.NewExperimentHandler(svcCtx)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svcCtx.Metrics.Gatherer(), promhttp.HandlerOpts{})))

	// API路由
	api := r.Group("/api")
	{
		// 实验相关
		experiments := api.Group("/experiments")
		{
			experiments.GET("", experimentHandler.ListExperiments)
			experiments.GET("/compare", experimentHandler.CompareExperiments)
			experiments.GET("/:name/results", experimentHandler.GetResults)
			experiments.GET("/:name/summary", experimentHandler.GetSummary)
			experiments.GET("/:name/analysis", experimentHandler.GetAnalysis)
			experiments.POST("/:name/run", experimentHandler.RunExperiment)
		}

		// 运行记录
		api.GET("/runs", experimentHandler.ListRuns)
	}

	return r
}
