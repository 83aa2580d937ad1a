package settlement

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
	"github.com/SlpAus/trivia-rewards-backend/internal/ratelimit"
)

// Handler 把结算协调器暴露为HTTP接口
type Handler struct {
	coord *Coordinator
}

// NewHandler 创建结算接口
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// Register 注册提现与水龙头路由
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/players/:id/withdraw", h.Withdraw)
	rg.POST("/faucet", h.ClaimFaucet)
}

type withdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

// Withdraw 提现奖金到链上地址
func (h *Handler) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
		return
	}

	result, err := h.coord.Withdraw(c.Request.Context(), c.Param("id"), req.Destination, req.Amount)
	if err != nil {
		respondSettlementError(c, result, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type faucetRequest struct {
	Address string `json:"address" binding:"required"`
}

// ClaimFaucet 领取水龙头代币
func (h *Handler) ClaimFaucet(c *gin.Context) {
	var req faucetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
		return
	}

	result, err := h.coord.ClaimFaucet(c.Request.Context(), req.Address, c.ClientIP())
	if err != nil {
		respondSettlementError(c, result, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// respondSettlementError 在错误响应中附带意图，冷却中时设置 Retry-After
func respondSettlementError(c *gin.Context, result Result, err error) {
	var denied *ratelimit.DeniedError
	if errors.As(err, &denied) {
		seconds := int64(math.Ceil(denied.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	}

	body := gin.H{
		"error": err.Error(),
		"code":  apperr.Code(err),
	}
	if result.Intent.ID != "" {
		body["intent"] = result.Intent
	}
	c.JSON(apperr.HTTPStatus(err), body)
}
