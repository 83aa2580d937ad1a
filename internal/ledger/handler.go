package ledger

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

// Handler 把账本服务暴露为HTTP接口
type Handler struct {
	svc *Service
}

// NewHandler 创建账本接口
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register 注册玩家与排行榜路由
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/players/:id", h.GetProfile)
	rg.POST("/players/:id/games", h.RecordGame)
	rg.GET("/leaderboard", h.GetLeaderboard)
}

type gameRequest struct {
	Payout decimal.Decimal `json:"payout"`
}

// RecordGame 记录一局游戏的结算奖金
func (h *Handler) RecordGame(c *gin.Context) {
	var req gameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
		return
	}

	entry, err := h.svc.RecordGameCompletion(c.Request.Context(), c.Param("id"), req.Payout)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, Profile{Entry: entry, Tier: TierFor(entry.Winnings)})
}

// GetProfile 获取玩家档案
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.svc.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// GetLeaderboard 获取排行榜
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			apperr.Respond(c, fmt.Errorf("%w: limit 必须是整数", apperr.ErrInvalidInput))
			return
		}
		limit = parsed
	}

	standings, err := h.svc.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, standings)
}
