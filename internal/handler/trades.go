package handler

import (
	"net/http"
	"strings"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/apperrors"
	"github.com/A2K/binance-trading-cli-sub000/internal/service"
	"github.com/gin-gonic/gin"
)

type TradeHandler struct {
	app *service.App
}

func NewTradeHandler(app *service.App) *TradeHandler {
	return &TradeHandler{app: app}
}

func (h *TradeHandler) List(c *gin.Context) {
	symbol := strings.ToUpper(c.Query("symbol"))
	trades, err := h.app.Trades.QueryTrades(c.Request.Context(), symbol, queryInt(c, "limit", 100))
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, "query trades failed", err))
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (h *TradeHandler) Profit(c *gin.Context) {
	bucket, ok := model.ParseProfitBucket(c.Query("bucket"))
	if !ok {
		c.Error(apperrors.NewInvalidRequest("bucket must be day, week, month or all"))
		return
	}
	symbol := strings.ToUpper(c.Query("symbol"))
	profit, err := h.app.Trades.SumProfit(c.Request.Context(), symbol, bucket)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, "sum profit failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "bucket": bucket, "profit": profit})
}

type importRequest struct {
	Symbols []string `json:"symbols"`
	Limit   int      `json:"limit"`
}

func (h *TradeHandler) Import(c *gin.Context) {
	var req importRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
	}
	n, err := h.app.ImportTrades(c.Request.Context(), req.Symbols, req.Limit)
	if err != nil {
		c.Error(apperrors.NewUpstream("trade import failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}
