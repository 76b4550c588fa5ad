package handler

import (
	"net/http"

	"github.com/A2K/binance-trading-cli-sub000/internal/config"
	"github.com/A2K/binance-trading-cli-sub000/internal/middleware"
	"github.com/A2K/binance-trading-cli-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter wires the control API.
func NewRouter(cfg *config.Config, app *service.App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "rebalancer", "assets": len(app.Pairs())})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	var limiter *rate.Limiter
	if cfg.Server.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RPS), max(cfg.Server.Burst, 1))
	}

	status := NewStatusHandler(app)
	trades := NewTradeHandler(app)
	control := NewControlHandler(app)

	v1 := r.Group("/v1")
	v1.Use(middleware.ControlKeyMiddleware(cfg.Auth.ControlKey))
	v1.Use(middleware.RateLimitMiddleware(limiter))
	v1.Use(middleware.ReadOnlyMiddleware(cfg.Server.ReadOnly))
	v1.Use(middleware.ControlAuditMiddleware(app.Messages))
	{
		v1.GET("/assets", status.ListAssets)
		v1.GET("/assets/:symbol", status.GetAsset)
		v1.GET("/allocations", status.Allocations)
		v1.GET("/balances", status.Balances)
		v1.GET("/limits", status.Limits)
		v1.GET("/usage", status.Usage)
		v1.GET("/messages", status.Messages)
		v1.GET("/staking", status.Staking)
		v1.GET("/trades", trades.List)
		v1.GET("/profit", trades.Profit)

		v1.PUT("/allocations/:symbol", control.SetAllocation)
		v1.PUT("/assets/:symbol/threshold", control.SetThreshold)
		v1.POST("/assets/:symbol/toggle-buy", control.ToggleBuy)
		v1.POST("/assets/:symbol/toggle-sell", control.ToggleSell)
		v1.POST("/assets/:symbol/force", control.Force)
		v1.POST("/trades/import", trades.Import)
	}
	return r
}
