package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Kilat-Pet-Delivery/service-subscription/internal/domain/money"
	"github.com/Kilat-Pet-Delivery/service-subscription/internal/platform/response"
)

// UtilHandler exposes stateless helpers.
type UtilHandler struct {
	format money.FormatConfig
}

// NewUtilHandler creates a new UtilHandler using format as the default display config.
func NewUtilHandler(format money.FormatConfig) *UtilHandler {
	return &UtilHandler{format: format}
}

// RegisterRoutes registers utility routes. They are public.
func (h *UtilHandler) RegisterRoutes(r *gin.RouterGroup) {
	utils := r.Group("/utils")
	{
		utils.GET("/format-money", h.FormatMoney)
	}
}

// FormatMoney handles GET /api/v1/utils/format-money?amount=&currency=&position=.
func (h *UtilHandler) FormatMoney(c *gin.Context) {
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		response.BadRequest(c, "amount must be a decimal number")
		return
	}
	currency := money.NormalizeCurrency(c.DefaultQuery("currency", "USD"))
	if err := money.ValidateCurrency(currency); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cfg := h.format
	if pos := c.Query("position"); pos != "" {
		switch p := money.SymbolPosition(pos); p {
		case money.SymbolLeft, money.SymbolRight, money.SymbolLeftSpace, money.SymbolRightSpace:
			cfg.Position = p
		default:
			response.BadRequest(c, "position must be left, right, left_space or right_space")
			return
		}
	}

	response.Success(c, gin.H{
		"amount":    money.RoundAmount(amount, currency),
		"currency":  currency,
		"formatted": money.FormatMoney(amount, currency, cfg),
	})
}
