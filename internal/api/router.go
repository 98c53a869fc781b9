package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/scheduler"
)

// NewRouter builds the admin HTTP surface for the scheduler.
func NewRouter(s *scheduler.Scheduler, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(ginLogger(logger))
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	handler := NewTaskHandler(s, logger)

	tasks := v1.Group("/tasks")
	tasks.POST("", handler.Create)
	tasks.GET("", handler.List)
	tasks.GET("/:id", handler.GetByID)
	tasks.PUT("/:id", handler.Update)
	tasks.DELETE("/:id", handler.Delete)
	tasks.POST("/:id/pause", handler.Pause)
	tasks.POST("/:id/resume", handler.Resume)

	v1.GET("/status", handler.Status)

	return router
}

// ginLogger logs each request through zap.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
