package question

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

// Handler 把题库服务暴露为HTTP接口
type Handler struct {
	svc *Service
}

// NewHandler 创建题库接口
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Register 注册题库相关路由
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/questions/import", h.Import)
	rg.GET("/questions/random", h.Random)
	rg.GET("/questions/count", h.Count)
	rg.POST("/questions/:hash/answer", h.Answer)
}

// Import 导入一批题目，根据 Content-Type 选择JSON或CSV
func (h *Handler) Import(c *gin.Context) {
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))

	var (
		result IngestResult
		err    error
	)
	switch mediaType {
	case "text/csv":
		result, err = h.svc.IngestCSV(c.Request.Context(), c.Request.Body)
	case "application/json", "":
		result, err = h.svc.IngestJSON(c.Request.Context(), c.Request.Body)
	default:
		err = fmt.Errorf("%w: 不支持的 Content-Type %q", apperr.ErrInvalidInput, mediaType)
	}
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Random 随机获取一组题目
func (h *Handler) Random(c *gin.Context) {
	n := 0
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			apperr.Respond(c, fmt.Errorf("%w: n 必须是整数", apperr.ErrInvalidInput))
			return
		}
		n = parsed
	}

	questions, err := h.svc.RandomQuestions(c.Request.Context(), n)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, questions)
}

// Count 返回题库大小
func (h *Handler) Count(c *gin.Context) {
	count, err := h.svc.Count(c.Request.Context())
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type answerRequest struct {
	AnswerID string `json:"answerId" binding:"required"`
}

// Answer 提交一道题的答案并返回判题结果
func (h *Handler) Answer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
		return
	}

	grade, err := h.svc.GradeAnswer(c.Request.Context(), c.Param("hash"), req.AnswerID)
	if err != nil {
		apperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, grade)
}
