package handler

import (
	"net/http"
	"strings"

	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/A2K/binance-trading-cli-sub000/internal/service"
	"github.com/gin-gonic/gin"
)

// ControlHandler exposes the manual override hooks.
type ControlHandler struct {
	app *service.App
}

func NewControlHandler(app *service.App) *ControlHandler {
	return &ControlHandler{app: app}
}

type allocationRequest struct {
	USD *float64 `json:"usd" binding:"required"`
}

func (h *ControlHandler) SetAllocation(c *gin.Context) {
	var req allocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := h.app.SetTargetAllocation(c.Request.Context(), symbol, *req.USD); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "usd": *req.USD})
}

type thresholdRequest struct {
	Buy  *float64 `json:"buy"`
	Sell *float64 `json:"sell"`
}

func (h *ControlHandler) SetThreshold(c *gin.Context) {
	var req thresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	eff, err := h.app.SetThreshold(symbol, req.Buy, req.Sell)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "settings": eff})
}

func (h *ControlHandler) ToggleBuy(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "enableBuy": h.app.ToggleEnableBuy(symbol)})
}

func (h *ControlHandler) ToggleSell(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "enableSell": h.app.ToggleEnableSell(symbol)})
}

func (h *ControlHandler) Force(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := h.app.ForceTrade(symbol); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"symbol": symbol, "forceTrade": true})
}
