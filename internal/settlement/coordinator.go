// Package settlement 协调链下账本与链上转账。
// 账本只在链上操作确认之后才扣减，任何失败都不会提前修改账本。
package settlement

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/SlpAus/trivia-rewards-backend/internal/chain"
	"github.com/SlpAus/trivia-rewards-backend/internal/ledger"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/metrics"
	"github.com/SlpAus/trivia-rewards-backend/internal/ratelimit"
)

const (
	// DefaultChainTimeout 是单次链上调用的默认超时
	DefaultChainTimeout = 30 * time.Second
	// ledgerWriteTimeout 是确认后扣减账本的超时，不受请求取消影响
	ledgerWriteTimeout = 5 * time.Second
)

// FaucetKey 决定水龙头限流按什么身份计数
type FaucetKey string

const (
	FaucetKeyAddress FaucetKey = "address"
	FaucetKeyIP      FaucetKey = "ip"
)

// Ledger 是结算所需的账本能力
type Ledger interface {
	Read(ctx context.Context, participant string) (ledger.Entry, error)
	// Debit 返回扣减后的余额；扣减已提交但余额未知时返回 (nil, nil)
	Debit(ctx context.Context, participant string, amount decimal.Decimal) (*decimal.Decimal, error)
}

// Options 是结算协调器的可调参数
type Options struct {
	FaucetAmount decimal.Decimal
	FaucetKey    FaucetKey
	ChainTimeout time.Duration
}

// Coordinator 执行提现与水龙头领取的状态机
type Coordinator struct {
	ledger  Ledger
	chain   chain.Client
	limiter ratelimit.Limiter
	opts    Options
	locks   *keyedMutex
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// NewCoordinator 创建结算协调器，metrics 可以为 nil
func NewCoordinator(l Ledger, c chain.Client, limiter ratelimit.Limiter, opts Options, m *metrics.Metrics, log *logrus.Entry) *Coordinator {
	if opts.ChainTimeout <= 0 {
		opts.ChainTimeout = DefaultChainTimeout
	}
	if opts.FaucetKey == "" {
		opts.FaucetKey = FaucetKeyAddress
	}
	return &Coordinator{
		ledger:  l,
		chain:   c,
		limiter: limiter,
		opts:    opts,
		locks:   newKeyedMutex(),
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Withdraw 把参与者的奖金转到链上地址。
// destination 为空时转给参与者本人。
func (c *Coordinator) Withdraw(ctx context.Context, participant, destination string, amount decimal.Decimal) (Result, error) {
	id, err := ledger.NormalizeParticipant(participant)
	if err != nil {
		return Result{}, err
	}
	if !amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: 提现金额必须为正数", apperr.ErrValidation)
	}
	// 账本无法精确扣减的金额必须在上链之前拒绝
	if err := ledger.ValidateAmount(amount); err != nil {
		return Result{}, err
	}
	if destination == "" {
		destination = id
	}

	// 同一参与者的提现串行执行，避免两次并发请求都通过余额检查
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	intent := newIntent(KindWithdrawal, id, destination, amount, c.now())
	log := c.intentLog(&intent)

	// Checked: 时间点上的余额检查，存储层扣减时还会再校验一次
	entry, err := c.ledger.Read(ctx, id)
	if err != nil {
		c.finish(&intent, PhaseFailed)
		log.WithError(err).Error("读取余额失败")
		return Result{Intent: intent}, err
	}
	if entry.Winnings.LessThan(amount) {
		c.finish(&intent, PhaseRejected)
		log.WithField("balance", entry.Winnings.String()).Info("余额不足，拒绝提现")
		return Result{Intent: intent}, fmt.Errorf("余额 %s 小于提现金额 %s: %w", entry.Winnings, amount, apperr.ErrInsufficientFunds)
	}

	// Submitted
	c.advance(&intent, PhaseSubmitted)
	log.Info("提交链上转账")
	callCtx, cancel := context.WithTimeout(ctx, c.opts.ChainTimeout)
	receipt, err := c.chain.SubmitTransfer(callCtx, destination, amount)
	cancel()
	if cause := receiptFailure(receipt, err); cause != nil {
		intent.TxRef = receipt.TxRef
		c.finish(&intent, PhaseFailed)
		log.WithError(cause).Warn("链上转账未确认，账本保持不变")
		return Result{Intent: intent}, fmt.Errorf("%w: %w", apperr.ErrSettlementFailed, cause)
	}

	// Confirmed: 只有现在才扣减账本
	intent.TxRef = receipt.TxRef
	c.finish(&intent, PhaseConfirmed)
	log = log.WithField("tx_ref", intent.TxRef)

	// 链上已经转出，扣减不能因为请求被取消而放弃
	debitCtx, cancelDebit := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancelDebit()
	balance, err := c.ledger.Debit(debitCtx, id, amount)
	if err != nil {
		log.WithError(err).Error("严重告警: 链上转账已确认但账本扣减失败，需要人工对账")
		if !errors.Is(err, apperr.ErrStorageUnavailable) && !errors.Is(err, apperr.ErrInsufficientFunds) {
			err = fmt.Errorf("%w: %w", apperr.ErrStorageUnavailable, err)
		}
		return Result{Intent: intent}, fmt.Errorf("转账 %s 已确认但账本未扣减: %w", intent.TxRef, err)
	}

	if balance == nil {
		log.Warn("提现完成，账本已扣减但新余额未知")
		return Result{Intent: intent}, nil
	}
	log.WithField("balance", balance.String()).Info("提现完成")
	return Result{Intent: intent, Balance: balance}, nil
}

// ClaimFaucet 为地址领取一次水龙头。
// 本地限流与链上冷却都必须通过；领取未确认时归还本地窗口。
func (c *Coordinator) ClaimFaucet(ctx context.Context, address, clientIP string) (Result, error) {
	id, err := ledger.NormalizeParticipant(address)
	if err != nil {
		return Result{}, err
	}
	key, err := c.faucetKey(id, clientIP)
	if err != nil {
		return Result{}, err
	}

	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	intent := newIntent(KindFaucet, id, id, c.opts.FaucetAmount, c.now())
	log := c.intentLog(&intent).WithField("limit_key", key)

	// Checked: 本地限流
	reservation, err := c.limiter.TryAcquire(ctx, key)
	if err != nil {
		var denied *ratelimit.DeniedError
		if errors.As(err, &denied) {
			c.finish(&intent, PhaseRejected)
			c.rateLimitHit("local")
			log.WithField("retry_after", denied.RetryAfter.String()).Info("本地冷却未结束")
		} else {
			c.finish(&intent, PhaseFailed)
			log.WithError(err).Error("限流器不可用")
		}
		return Result{Intent: intent}, err
	}
	defer func() {
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
		defer cancel()
		if err := reservation.RollbackUnlessCommitted(rollbackCtx); err != nil {
			log.WithError(err).Error("严重告警: 归还限流窗口失败")
		}
	}()

	// Checked: 链上冷却
	callCtx, cancel := context.WithTimeout(ctx, c.opts.ChainTimeout)
	remaining, err := c.chain.GetCooldown(callCtx, id)
	cancel()
	if err != nil {
		c.finish(&intent, PhaseFailed)
		log.WithError(err).Warn("查询链上冷却失败")
		return Result{Intent: intent}, fmt.Errorf("%w: 查询链上冷却失败: %w", apperr.ErrSettlementFailed, err)
	}
	if remaining > 0 {
		c.finish(&intent, PhaseRejected)
		c.rateLimitHit("chain")
		log.WithField("retry_after", remaining.String()).Info("链上冷却未结束")
		return Result{Intent: intent}, &ratelimit.DeniedError{Key: id, RetryAfter: remaining}
	}

	// Submitted
	c.advance(&intent, PhaseSubmitted)
	log.Info("提交水龙头领取")
	callCtx, cancel = context.WithTimeout(ctx, c.opts.ChainTimeout)
	receipt, err := c.chain.SubmitClaim(callCtx, id)
	cancel()
	if cause := receiptFailure(receipt, err); cause != nil {
		intent.TxRef = receipt.TxRef
		c.finish(&intent, PhaseFailed)
		log.WithError(cause).Warn("水龙头领取未确认")
		return Result{Intent: intent}, fmt.Errorf("%w: %w", apperr.ErrSettlementFailed, cause)
	}

	// Confirmed
	reservation.Commit()
	intent.TxRef = receipt.TxRef
	c.finish(&intent, PhaseConfirmed)
	log.WithField("tx_ref", intent.TxRef).Info("水龙头领取完成")
	return Result{Intent: intent}, nil
}

func (c *Coordinator) faucetKey(address, clientIP string) (string, error) {
	if c.opts.FaucetKey != FaucetKeyIP {
		return "addr:" + address, nil
	}
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return "", fmt.Errorf("%w: 无法识别客户端IP %q", apperr.ErrValidation, clientIP)
	}
	return "ip:" + ip.String(), nil
}

// receiptFailure 把调用错误与未成功的回执统一为失败原因，成功时返回 nil
func receiptFailure(receipt chain.Receipt, err error) error {
	if err != nil {
		return err
	}
	if !receipt.Success {
		reason := receipt.Reason
		if reason == "" {
			reason = "交易执行失败"
		}
		return errors.New(reason)
	}
	return nil
}

func (c *Coordinator) intentLog(intent *Intent) *logrus.Entry {
	return c.log.WithFields(logrus.Fields{
		"intent_id":   intent.ID,
		"kind":        intent.Kind,
		"participant": intent.Participant,
		"amount":      intent.Amount.String(),
	})
}

func (c *Coordinator) advance(intent *Intent, phase Phase) {
	intent.Phase = phase
	c.logPhase(intent)
}

// finish 进入终态并记录指标
func (c *Coordinator) finish(intent *Intent, phase Phase) {
	intent.Phase = phase
	intent.FinishedAt = c.now()
	c.logPhase(intent)
	if c.metrics != nil {
		c.metrics.Settlements.WithLabelValues(string(intent.Kind), string(phase)).Inc()
	}
}

func (c *Coordinator) logPhase(intent *Intent) {
	c.log.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"phase":     intent.Phase,
		"tx_ref":    intent.TxRef,
	}).Debug("结算阶段变更")
}

func (c *Coordinator) rateLimitHit(source string) {
	if c.metrics != nil {
		c.metrics.RateLimitHits.WithLabelValues(source).Inc()
	}
}
