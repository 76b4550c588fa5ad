package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/A2K/binance-trading-cli-sub000/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// StatusHandler serves the read side of the control API.
type StatusHandler struct {
	app *service.App
}

func NewStatusHandler(app *service.App) *StatusHandler {
	return &StatusHandler{app: app}
}

type assetStatus struct {
	model.AssetView
	Target   *float64                `json:"target,omitempty"`
	Settings model.EffectiveSettings `json:"settings"`
}

func (h *StatusHandler) status(v model.AssetView) assetStatus {
	s := assetStatus{AssetView: v, Settings: h.app.Settings.Effective(v.Symbol)}
	if usd, ok := h.app.Settings.Allocation(v.Symbol); ok {
		s.Target = &usd
	}
	return s
}

func (h *StatusHandler) ListAssets(c *gin.Context) {
	views := h.app.Views()
	out := make([]assetStatus, 0, len(views))
	for _, v := range views {
		out = append(out, h.status(v))
	}
	c.JSON(http.StatusOK, out)
}

func (h *StatusHandler) GetAsset(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	v, ok := h.app.View(symbol)
	if !ok {
		c.Error(apperrors.NewNotFound("unknown asset " + symbol))
		return
	}
	c.JSON(http.StatusOK, h.status(v))
}

func (h *StatusHandler) Allocations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"quote":       h.app.Settings.QuoteCurrency(),
		"allocations": h.app.Settings.Allocations(),
		"globals":     h.app.Settings.Globals(),
	})
}

func (h *StatusHandler) Limits(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.Gateway.LimiterStatus())
}

func (h *StatusHandler) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.Gateway.WeightUsage())
}

func (h *StatusHandler) Messages(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	symbol := strings.ToUpper(c.Query("symbol"))
	c.JSON(http.StatusOK, h.app.Messages.List(symbol, limit))
}

func (h *StatusHandler) Staking(c *gin.Context) {
	summary, err := h.app.Staking.Summary(c.Request.Context())
	if err != nil {
		c.Error(apperrors.NewUpstream("staking account unavailable", err))
		return
	}
	resp := gin.H{"summary": summary}
	if asset := strings.ToUpper(c.Query("asset")); asset != "" {
		resp["asset"] = asset
		resp["staked"] = h.app.Staking.StakedQuantity(c.Request.Context(), asset)
		product, err := h.app.Staking.FindFlexibleProduct(c.Request.Context(), asset)
		if err != nil {
			c.Error(apperrors.NewUpstream("flexible products unavailable", err))
			return
		}
		resp["product"] = product
	}
	c.JSON(http.StatusOK, resp)
}

func (h *StatusHandler) Balances(c *gin.Context) {
	if err := h.app.Balances.Refresh(c.Request.Context()); err != nil {
		c.Error(apperrors.NewUpstream("account unavailable", err))
		return
	}
	out := make(map[string]model.Balance)
	for asset, b := range h.app.Balances.Snapshot() {
		if b.Free.Add(b.Locked).GreaterThan(decimal.Zero) {
			out[asset] = b
		}
	}
	c.JSON(http.StatusOK, out)
}

func queryInt(c *gin.Context, key string, def int) int {
	if raw := c.Query(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return def
}
