// Package apperr 定义了整个后端共享的错误分类。
// 各模块用 fmt.Errorf("...: %w", apperr.ErrXxx) 包装，调用方用 errors.Is 判断类别。
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidInput 表示整个请求（批次）格式错误，在处理任何记录之前即被拒绝。
	ErrInvalidInput = errors.New("输入格式无效")
	// ErrValidation 表示单条记录校验失败，只计数，不中断批次。
	ErrValidation = errors.New("记录校验失败")
	// ErrInsufficientFunds 表示余额预检查失败，未发起任何链上调用。
	ErrInsufficientFunds = errors.New("余额不足")
	// ErrSettlementFailed 表示链上操作未确认，账本保持不变。
	ErrSettlementFailed = errors.New("结算失败")
	// ErrRateLimited 表示冷却时间尚未结束。
	ErrRateLimited = errors.New("请求过于频繁")
	// ErrStorageUnavailable 表示后端存储不可达，所有操作失败即关闭。
	ErrStorageUnavailable = errors.New("存储服务不可用")
	// ErrNotFound 表示请求的资源不存在。
	ErrNotFound = errors.New("资源不存在")
)

// HTTPStatus 把错误类别映射为HTTP状态码，未知错误返回500。
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrSettlementFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code 返回错误类别的稳定字符串，供API响应使用。
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrValidation):
		return "validation_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSettlementFailed):
		return "settlement_failed"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
