// Package server assembles the gin engine from configuration and runtime
// dependencies.
package server

import (
	"net/http"

	"k2api-go/internal/config"
	"k2api-go/internal/handlers/management"
	"k2api-go/internal/handlers/openai"
	mw "k2api-go/internal/middleware"
	"k2api-go/internal/token"
	"k2api-go/internal/translator"
	"k2api-go/internal/updater"
	"k2api-go/internal/upstream"

	"github.com/gin-gonic/gin"
)

// Dependencies carries the runtime services the HTTP surface exposes.
type Dependencies struct {
	Pool         *token.Pool
	Orchestrator *upstream.Orchestrator
	Store        token.Store
	Updater      *updater.Updater
}

// BuildEngine constructs the gin engine with all routes mounted.
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.RequestID())
	r.Use(mw.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(mw.CORS(cfg.CORSOrigins))

	r.GET("/", serviceInfo(cfg))
	r.GET("/health", healthHandler(cfg, deps))

	oa := openai.New(cfg, deps.Pool, deps.Orchestrator, nil)
	v1 := r.Group("/v1")
	if cfg.RateLimitEnabled {
		v1.Use(mw.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}
	v1.Use(mw.BearerAuth(mw.AuthConfig{
		ValidKey: cfg.ValidAPIKey,
		AllowAny: cfg.AllowAnyAPIKey,
	}))
	v1.POST("/chat/completions", oa.ChatCompletions)
	v1.GET("/models", oa.Models)

	if deps.Updater != nil {
		management.New(cfg, deps.Pool, deps.Store, deps.Updater).Register(r)
	} else {
		management.New(cfg, deps.Pool, deps.Store, nil).Register(r)
	}
	return r
}

func serviceInfo(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "k2api-go",
			"model":   translator.ModelID,
			"endpoints": gin.H{
				"chat_completions": "/v1/chat/completions",
				"models":           "/v1/models",
				"health":           "/health",
				"admin": gin.H{
					"token_stats":          "/admin/tokens/stats",
					"reset_token":          "/admin/tokens/reset/:index",
					"reset_all":            "/admin/tokens/reset-all",
					"reload_tokens":        "/admin/tokens/reload",
					"consecutive_failures": "/admin/tokens/consecutive-failures",
					"reset_consecutive":    "/admin/tokens/reset-consecutive",
					"updater_status":       "/admin/tokens/updater/status",
					"force_update":         "/admin/tokens/updater/force-update",
					"cleanup_temp":         "/admin/tokens/updater/cleanup-temp",
				},
			},
		})
	}
}

func healthHandler(cfg *config.Config, deps Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := deps.Pool.Stats()
		status := "ok"
		code := http.StatusOK
		if stats.Active == 0 {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		backend := ""
		if deps.Store != nil {
			backend = deps.Store.Name()
		}
		c.JSON(code, gin.H{
			"status":               status,
			"storage_backend":      backend,
			"total_tokens":         stats.Total,
			"active_tokens":        stats.Active,
			"inactive_tokens":      stats.Inactive,
			"consecutive_failures": stats.ConsecutiveFailures,
			"auto_update":          cfg.AutoUpdateEnabled,
		})
	}
}
