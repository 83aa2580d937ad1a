package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/SlpAus/trivia-rewards-backend/internal/ledger"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/config"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/database"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/metrics"
	"github.com/SlpAus/trivia-rewards-backend/internal/question"
	"github.com/SlpAus/trivia-rewards-backend/internal/settlement"
)

// Deps 是组装路由所需的全部依赖
type Deps struct {
	Questions  *question.Handler
	Ledger     *ledger.Handler
	Settlement *settlement.Handler
	Status     *database.Status
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Log        *logrus.Entry
}

// NewRouter 创建gin引擎并注册项目的所有路由
func NewRouter(cfg config.ServerConfig, deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Log), deps.Metrics.Instrument())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Cors.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", healthz(deps.Status))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		deps.Questions.Register(api)
		deps.Ledger.Register(api)
		deps.Settlement.Register(api)
	}
	return router
}

// healthz 在数据库不可用，或启用了Redis但Redis不可用时返回503
func healthz(status *database.Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := http.StatusOK
		if !status.IsDBHealthy() || (status.RedisEnabled() && !status.IsRedisHealthy()) {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status.Snapshot())
	}
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("请求处理失败")
			return
		}
		entry.Debug("请求完成")
	}
}
