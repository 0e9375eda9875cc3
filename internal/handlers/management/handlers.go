// Package management implements the admin surface: token pool inspection and
// control plus updater status and manual refresh.
package management

import (
	"net/http"
	"strconv"
	"strings"

	"k2api-go/internal/config"
	"k2api-go/internal/token"
	"k2api-go/internal/updater"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// refreshRunner is the slice of the updater the admin surface needs.
type refreshRunner interface {
	ForceUpdate() bool
	Status() updater.Status
}

var _ refreshRunner = (*updater.Updater)(nil)

// Handler aggregates the admin endpoint dependencies.
type Handler struct {
	cfg     *config.Config
	pool    *token.Pool
	store   token.Store
	updater refreshRunner
}

// New constructs the admin handler set. updater may be nil when auto update
// is disabled.
func New(cfg *config.Config, pool *token.Pool, store token.Store, upd refreshRunner) *Handler {
	return &Handler{cfg: cfg, pool: pool, store: store, updater: upd}
}

// Auth guards admin routes with the management key, accepted as a bearer
// token or an X-Management-Key header.
func (h *Handler) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Management-Key")
		if key == "" {
			auth := c.GetHeader("Authorization")
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				key = strings.TrimSpace(auth[7:])
			}
		}
		if !config.CheckManagementKey(h.cfg, key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "Invalid management key",
					"type":    "authentication_error",
				},
			})
			return
		}
		c.Next()
	}
}

// TokenStats handles GET /admin/tokens/stats.
func (h *Handler) TokenStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Stats())
}

// ResetToken handles POST /admin/tokens/reset/:index.
func (h *Handler) ResetToken(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
			"message": "index must be an integer",
			"type":    "invalid_request_error",
		}})
		return
	}
	if !h.pool.Reset(index) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{
			"message": "no token at index " + c.Param("index"),
			"type":    "invalid_request_error",
		}})
		return
	}
	log.WithField("index", index).Info("token reset by admin")
	c.JSON(http.StatusOK, gin.H{"success": true, "index": index})
}

// ResetAllTokens handles POST /admin/tokens/reset-all.
func (h *Handler) ResetAllTokens(c *gin.Context) {
	h.pool.ResetAll()
	log.Info("all tokens reset by admin")
	c.JSON(http.StatusOK, gin.H{"success": true, "total": h.pool.Size()})
}

// ReloadTokens handles POST /admin/tokens/reload.
func (h *Handler) ReloadTokens(c *gin.Context) {
	if err := h.pool.Load(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{
			"message": "reload failed: " + err.Error(),
			"type":    "api_error",
		}})
		return
	}
	stats := h.pool.Stats()
	log.WithField("tokens", stats.Total).Info("token store reloaded by admin")
	c.JSON(http.StatusOK, gin.H{"success": true, "total_tokens": stats.Total})
}

// ConsecutiveFailures handles GET /admin/tokens/consecutive-failures.
func (h *Handler) ConsecutiveFailures(c *gin.Context) {
	stats := h.pool.Stats()
	c.JSON(http.StatusOK, gin.H{
		"consecutive_failures":        stats.ConsecutiveFailures,
		"failure_threshold":           stats.FailureThreshold,
		"consecutive_upstream_errors": stats.ConsecutiveUpstreamErrors,
		"upstream_error_threshold":    stats.UpstreamErrorThreshold,
		"token_pool_size":             stats.Total,
		"auto_refresh_enabled":        h.cfg.AutoUpdateEnabled,
	})
}

// ResetConsecutive handles POST /admin/tokens/reset-consecutive.
func (h *Handler) ResetConsecutive(c *gin.Context) {
	previous := h.pool.Stats().ConsecutiveFailures
	h.pool.ResetConsecutive()
	log.WithField("previous", previous).Info("consecutive failure counters reset by admin")
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"previous_count": previous,
		"current_count":  0,
	})
}

// CleanupTemp handles POST /admin/tokens/updater/cleanup-temp.
func (h *Handler) CleanupTemp(c *gin.Context) {
	cleaner, ok := h.store.(interface{ CleanupArtifacts() int })
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": gin.H{
			"message": "token store is not file backed, nothing to clean",
			"type":    "api_error",
		}})
		return
	}
	removed := cleaner.CleanupArtifacts()
	log.WithField("removed", removed).Info("updater artifacts cleaned by admin")
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

// UpdaterStatus handles GET /admin/tokens/updater/status.
func (h *Handler) UpdaterStatus(c *gin.Context) {
	if h.updater == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "status": h.updater.Status()})
}

// ForceUpdate handles POST /admin/tokens/updater/force-update.
func (h *Handler) ForceUpdate(c *gin.Context) {
	if h.updater == nil {
		c.JSON(http.StatusConflict, gin.H{"error": gin.H{
			"message": "automatic token updates are disabled",
			"type":    "api_error",
		}})
		return
	}
	ok := h.updater.ForceUpdate()
	c.JSON(http.StatusOK, gin.H{"success": ok, "status": h.updater.Status()})
}

// Register mounts the admin routes behind the management key guard.
func (h *Handler) Register(r gin.IRouter) {
	admin := r.Group("/admin", h.Auth())
	admin.GET("/tokens/stats", h.TokenStats)
	admin.POST("/tokens/reset/:index", h.ResetToken)
	admin.POST("/tokens/reset-all", h.ResetAllTokens)
	admin.POST("/tokens/reload", h.ReloadTokens)
	admin.GET("/tokens/consecutive-failures", h.ConsecutiveFailures)
	admin.POST("/tokens/reset-consecutive", h.ResetConsecutive)
	admin.GET("/tokens/updater/status", h.UpdaterStatus)
	admin.POST("/tokens/updater/force-update", h.ForceUpdate)
	admin.POST("/tokens/updater/cleanup-temp", h.CleanupTemp)
}
