// Package chain 定义了链上转账服务的协作接口及其实现。
// 结算流程只依赖 Client 接口，具体实现由配置决定，互不回退。
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable 表示无法连接到链上服务
var ErrUnavailable = errors.New("链上服务不可达")

// Receipt 是一次链上操作的回执。
// Success 为 true 等价于交易已上链且执行成功。
type Receipt struct {
	TxRef   string `json:"txRef"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Client 是链上协作者。所有方法都可能阻塞等待确认，调用方需通过 ctx 控制超时。
type Client interface {
	// SubmitTransfer 向 to 转出 amount 并等待确认
	SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal) (Receipt, error)
	// SubmitClaim 为 to 领取一次水龙头，金额由链上合约决定
	SubmitClaim(ctx context.Context, to string) (Receipt, error)
	// GetCooldown 返回 address 在链上剩余的领取冷却时间
	GetCooldown(ctx context.Context, address string) (time.Duration, error)
}
