package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxCooldownSeconds 是 time.Duration 能表示的最大整秒数
const maxCooldownSeconds = int64(math.MaxInt64 / time.Second)

// APIError 表示中继服务返回了非2xx状态码
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("中继请求失败，状态码 %d", e.StatusCode)
	}
	return e.Message
}

// RelayClient 通过HTTP交易中继服务提交链上操作。
// 中继负责签名、nonce 管理以及等待确认。
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
}

type transferRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type claimRequest struct {
	To string `json:"to"`
}

type receiptResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash"`
	Error   string `json:"error"`
}

type cooldownResponse struct {
	SecondsRemaining int64 `json:"secondsRemaining"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRelayClient 创建中继客户端，httpClient 为 nil 时使用默认客户端
func NewRelayClient(baseURL string, httpClient *http.Client) *RelayClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RelayClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
	}
}

func (c *RelayClient) SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal) (Receipt, error) {
	var payload receiptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/transfers", transferRequest{To: to, Amount: amount}, &payload); err != nil {
		return Receipt{}, err
	}
	return payload.receipt(), nil
}

func (c *RelayClient) SubmitClaim(ctx context.Context, to string) (Receipt, error) {
	var payload receiptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/claims", claimRequest{To: to}, &payload); err != nil {
		return Receipt{}, err
	}
	return payload.receipt(), nil
}

func (c *RelayClient) GetCooldown(ctx context.Context, address string) (time.Duration, error) {
	var payload cooldownResponse
	if err := c.doJSON(ctx, http.MethodGet, "/cooldowns/"+url.PathEscape(address), nil, &payload); err != nil {
		return 0, err
	}
	if payload.SecondsRemaining <= 0 {
		return 0, nil
	}
	// 超大的剩余秒数换算成 Duration 会溢出为负数，截断到可表示的最大值
	if payload.SecondsRemaining > maxCooldownSeconds {
		return time.Duration(maxCooldownSeconds) * time.Second, nil
	}
	return time.Duration(payload.SecondsRemaining) * time.Second, nil
}

func (r receiptResponse) receipt() Receipt {
	return Receipt{TxRef: r.TxHash, Success: r.Success, Reason: r.Error}
}

func (c *RelayClient) doJSON(ctx context.Context, method, path string, requestBody, responseBody any) error {
	var body io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiErr := APIError{StatusCode: response.StatusCode}
		var payload errorResponse
		if err := json.NewDecoder(response.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
		}
		return &apiErr
	}

	if err := json.NewDecoder(response.Body).Decode(responseBody); err != nil {
		return fmt.Errorf("解析中继响应失败: %w", err)
	}
	return nil
}
