package settlement

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SlpAus/trivia-rewards-backend/internal/chain"
	"github.com/SlpAus/trivia-rewards-backend/internal/ledger"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/config"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/database"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/logging"
	"github.com/SlpAus/trivia-rewards-backend/internal/platform/metrics"
	"github.com/SlpAus/trivia-rewards-backend/internal/ratelimit"
)

// fakeChain 按测试需要返回固定结果，并记录调用次数
type fakeChain struct {
	transfers atomic.Int32
	claims    atomic.Int32

	transfer func(ctx context.Context, to string, amount decimal.Decimal) (chain.Receipt, error)
	claim    func(ctx context.Context, to string) (chain.Receipt, error)
	cooldown func(ctx context.Context, address string) (time.Duration, error)
}

func (f *fakeChain) SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal) (chain.Receipt, error) {
	n := f.transfers.Add(1)
	if f.transfer != nil {
		return f.transfer(ctx, to, amount)
	}
	return chain.Receipt{TxRef: fmt.Sprintf("0xtransfer%d", n), Success: true}, nil
}

func (f *fakeChain) SubmitClaim(ctx context.Context, to string) (chain.Receipt, error) {
	n := f.claims.Add(1)
	if f.claim != nil {
		return f.claim(ctx, to)
	}
	return chain.Receipt{TxRef: fmt.Sprintf("0xclaim%d", n), Success: true}, nil
}

func (f *fakeChain) GetCooldown(ctx context.Context, address string) (time.Duration, error) {
	if f.cooldown != nil {
		return f.cooldown(ctx, address)
	}
	return 0, nil
}

type fixture struct {
	coord   *Coordinator
	ledger  *ledger.Service
	chain   *fakeChain
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := database.OpenDB(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "settlement.db"),
	}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, ledger.Migrate(db))

	if opts.FaucetAmount.IsZero() {
		opts.FaucetAmount = decimal.NewFromInt(10)
	}
	ledgerSvc := ledger.NewService(ledger.NewRepository(db), nil, 0, logging.Discard())
	fc := &fakeChain{}
	m := metrics.New(nil)
	coord := NewCoordinator(ledgerSvc, fc, ratelimit.NewMemory(4*time.Hour), opts, m, logging.Discard())
	return &fixture{coord: coord, ledger: ledgerSvc, chain: fc, metrics: m}
}

func (f *fixture) credit(t *testing.T, participant string, amount int64) {
	t.Helper()
	_, err := f.ledger.RecordGameCompletion(context.Background(), participant, decimal.NewFromInt(amount))
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, participant string) decimal.Decimal {
	t.Helper()
	entry, err := f.ledger.Read(context.Background(), participant)
	require.NoError(t, err)
	return entry.Winnings
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got)
}

func TestWithdrawConfirmedDebitsAfterTransfer(t *testing.T) {
	f := newFixture(t, Options{})
	f.credit(t, "0xABC", 150)

	var balanceDuringTransfer decimal.Decimal
	f.chain.transfer = func(ctx context.Context, to string, amount decimal.Decimal) (chain.Receipt, error) {
		assert.Equal(t, "0xdest", to)
		balanceDuringTransfer = f.balance(t, "0xabc")
		return chain.Receipt{TxRef: "0xfeed", Success: true}, nil
	}

	result, err := f.coord.Withdraw(context.Background(), "0xAbc", "0xdest", decimal.NewFromInt(100))
	require.NoError(t, err)

	assertAmount(t, 150, balanceDuringTransfer)
	assert.Equal(t, PhaseConfirmed, result.Intent.Phase)
	assert.Equal(t, "0xfeed", result.Intent.TxRef)
	assert.Equal(t, "0xabc", result.Intent.Participant)
	assert.False(t, result.Intent.FinishedAt.IsZero())
	require.NotNil(t, result.Balance)
	assertAmount(t, 50, *result.Balance)
	assertAmount(t, 50, f.balance(t, "0xabc"))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Settlements.WithLabelValues("withdrawal", "confirmed")))
}

func TestWithdrawDefaultsDestinationToParticipant(t *testing.T) {
	f := newFixture(t, Options{})
	f.credit(t, "0xabc", 10)

	result, err := f.coord.Withdraw(context.Background(), "0xABC", "", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", result.Intent.Destination)
}

func TestWithdrawInsufficientFundsNeverTouchesChain(t *testing.T) {
	f := newFixture(t, Options{})
	f.credit(t, "0xABC", 100)
	f.credit(t, "0xabc", 50)

	result, err := f.coord.Withdraw(context.Background(), "0xabc", "", decimal.NewFromInt(9999))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, PhaseRejected, result.Intent.Phase)
	assert.EqualValues(t, 0, f.chain.transfers.Load())
	assertAmount(t, 150, f.balance(t, "0xabc"))
}

func TestWithdrawChainFailureLeavesLedgerUntouched(t *testing.T) {
	tests := []struct {
		name     string
		transfer func(ctx context.Context, to string, amount decimal.Decimal) (chain.Receipt, error)
	}{
		{"error", func(context.Context, string, decimal.Decimal) (chain.Receipt, error) {
			return chain.Receipt{}, fmt.Errorf("%w: dial tcp", chain.ErrUnavailable)
		}},
		{"reverted", func(context.Context, string, decimal.Decimal) (chain.Receipt, error) {
			return chain.Receipt{TxRef: "0xbad", Success: false, Reason: "insufficient gas"}, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			f.credit(t, "0xabc", 150)
			f.chain.transfer = tt.transfer

			result, err := f.coord.Withdraw(context.Background(), "0xabc", "", decimal.NewFromInt(100))
			assert.ErrorIs(t, err, apperr.ErrSettlementFailed)
			assert.Equal(t, PhaseFailed, result.Intent.Phase)
			assertAmount(t, 150, f.balance(t, "0xabc"))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Settlements.WithLabelValues("withdrawal", "failed")))
		})
	}
}

func TestWithdrawTimeoutLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t, Options{ChainTimeout: 20 * time.Millisecond})
	f.credit(t, "0xabc", 150)
	f.chain.transfer = func(ctx context.Context, _ string, _ decimal.Decimal) (chain.Receipt, error) {
		<-ctx.Done()
		return chain.Receipt{}, ctx.Err()
	}

	result, err := f.coord.Withdraw(context.Background(), "0xabc", "", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, apperr.ErrSettlementFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, PhaseFailed, result.Intent.Phase)
	assertAmount(t, 150, f.balance(t, "0xabc"))
}

func TestWithdrawWithSimulatedChainTimeout(t *testing.T) {
	f := newFixture(t, Options{ChainTimeout: 10 * time.Millisecond})
	sim := chain.NewSimulated(time.Hour)
	sim.SetDelay(time.Second)
	f.coord.chain = sim
	f.credit(t, "0xabc", 150)

	_, err := f.coord.Withdraw(context.Background(), "0xabc", "", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, apperr.ErrSettlementFailed)
	assertAmount(t, 150, f.balance(t, "0xabc"))
}

func TestConcurrentWithdrawalsCannotOverdraw(t *testing.T) {
	f := newFixture(t, Options{})
	f.credit(t, "0xabc", 100)

	const workers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		confirmed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.Withdraw(context.Background(), "0xabc", "", decimal.NewFromInt(100))
			if err == nil {
				mu.Lock()
				confirmed++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, confirmed)
	assert.EqualValues(t, 1, f.chain.transfers.Load())
	assertAmount(t, 0, f.balance(t, "0xabc"))
	assert.Zero(t, f.coord.locks.size())
}

// failingDebitLedger 模拟确认之后数据库不可用
type failingDebitLedger struct {
	ledger.Entry
}

func (l failingDebitLedger) Read(context.Context, string) (ledger.Entry, error) {
	return l.Entry, nil
}

func (l failingDebitLedger) Debit(context.Context, string, decimal.Decimal) (*decimal.Decimal, error) {
	return nil, errors.New("database is locked")
}

func TestWithdrawConfirmedButDebitFailed(t *testing.T) {
	fc := &fakeChain{}
	l := failingDebitLedger{ledger.Entry{ParticipantID: "0xabc", Winnings: decimal.NewFromInt(150)}}
	coord := NewCoordinator(l, fc, ratelimit.NewMemory(time.Hour), Options{}, nil, logging.Discard())

	result, err := coord.Withdraw(context.Background(), "0xabc", "", decimal.NewFromInt(100))
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	assert.Equal(t, PhaseConfirmed, result.Intent.Phase)
	assert.NotEmpty(t, result.Intent.TxRef)
	assert.Nil(t, result.Balance)
}

// readFailsAfterDebit 在扣减提交之后让读取失败
type readFailsAfterDebit struct {
	ledger.Repository
	debited atomic.Bool
}

func (r *readFailsAfterDebit) Debit(ctx context.Context, participant string, amount decimal.Decimal) error {
	if err := r.Repository.Debit(ctx, participant, amount); err != nil {
		return err
	}
	r.debited.Store(true)
	return nil
}

func (r *readFailsAfterDebit) Read(ctx context.Context, participant string) (ledger.Entry, error) {
	if r.debited.Load() {
		return ledger.Entry{}, fmt.Errorf("读取账本失败: %w: connection reset", apperr.ErrStorageUnavailable)
	}
	return r.Repository.Read(ctx, participant)
}

func TestWithdrawDebitedButBalanceUnreadable(t *testing.T) {
	db, err := database.OpenDB(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "settlement.db"),
	}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, ledger.Migrate(db))

	base := ledger.NewRepository(db)
	require.NoError(t, base.Credit(context.Background(), "0xabc", decimal.NewFromInt(150), 1))

	ledgerSvc := ledger.NewService(&readFailsAfterDebit{Repository: base}, nil, 0, logging.Discard())
	coord := NewCoordinator(ledgerSvc, &fakeChain{}, ratelimit.NewMemory(time.Hour), Options{}, nil, logging.Discard())

	result, err := coord.Withdraw(context.Background(), "0xabc", "", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, PhaseConfirmed, result.Intent.Phase)
	assert.Nil(t, result.Balance)

	entry, err := base.Read(context.Background(), "0xabc")
	require.NoError(t, err)
	assertAmount(t, 50, entry.Winnings)
}

func TestWithdrawFractionalAmount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	for _, payout := range []string{"0.7", "0.1"} {
		_, err := f.ledger.RecordGameCompletion(ctx, "0xabc", decimal.RequireFromString(payout))
		require.NoError(t, err)
	}

	result, err := f.coord.Withdraw(ctx, "0xabc", "", decimal.RequireFromString("0.8"))
	require.NoError(t, err)
	assert.Equal(t, PhaseConfirmed, result.Intent.Phase)
	require.NotNil(t, result.Balance)
	assert.True(t, result.Balance.IsZero(), "got %s", result.Balance)
}

func TestWithdrawValidation(t *testing.T) {
	f := newFixture(t, Options{})
	f.credit(t, "0xabc", 10)
	_, err := f.coord.Withdraw(context.Background(), "0xabc", "", decimal.Zero)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.coord.Withdraw(context.Background(), " ", "", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// 账本无法精确表示的金额不会上链
	_, err = f.coord.Withdraw(context.Background(), "0xabc", "", decimal.RequireFromString("0.000000001"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.chain.transfers.Load())
	assertAmount(t, 10, f.balance(t, "0xabc"))
}

func TestClaimFaucetDualCooldown(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	result, err := f.coord.ClaimFaucet(ctx, "0xABC", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, PhaseConfirmed, result.Intent.Phase)
	assert.Equal(t, KindFaucet, result.Intent.Kind)
	assertAmount(t, 10, result.Intent.Amount)
	assert.Nil(t, result.Balance)

	// 本地窗口拦截，不访问链
	result, err = f.coord.ClaimFaucet(ctx, "0xabc", "10.0.0.1")
	var denied *ratelimit.DeniedError
	require.ErrorAs(t, err, &denied)
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
	assert.Equal(t, PhaseRejected, result.Intent.Phase)
	assert.EqualValues(t, 1, f.chain.claims.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitHits.WithLabelValues("local")))

	// 链上冷却拦截，本地窗口被归还
	f.chain.cooldown = func(context.Context, string) (time.Duration, error) { return time.Hour, nil }
	_, err = f.coord.ClaimFaucet(ctx, "0xdef", "10.0.0.2")
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, time.Hour, denied.RetryAfter)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RateLimitHits.WithLabelValues("chain")))

	f.chain.cooldown = nil
	_, err = f.coord.ClaimFaucet(ctx, "0xdef", "10.0.0.2")
	assert.NoError(t, err)
}

func TestClaimFaucetFailureRollsBackLocalWindow(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	f.chain.claim = func(context.Context, string) (chain.Receipt, error) {
		return chain.Receipt{}, errors.New("nonce too low")
	}
	result, err := f.coord.ClaimFaucet(ctx, "0xabc", "")
	assert.ErrorIs(t, err, apperr.ErrSettlementFailed)
	assert.Equal(t, PhaseFailed, result.Intent.Phase)

	f.chain.cooldown = func(context.Context, string) (time.Duration, error) {
		return 0, errors.New("rpc timeout")
	}
	_, err = f.coord.ClaimFaucet(ctx, "0xabc", "")
	assert.ErrorIs(t, err, apperr.ErrSettlementFailed)

	f.chain.claim = nil
	f.chain.cooldown = nil
	_, err = f.coord.ClaimFaucet(ctx, "0xabc", "")
	assert.NoError(t, err, "failed claims must not burn the cooldown window")
}

func TestClaimFaucetKeyedByIP(t *testing.T) {
	f := newFixture(t, Options{FaucetKey: FaucetKeyIP})
	ctx := context.Background()

	_, err := f.coord.ClaimFaucet(ctx, "0xaaa", "10.0.0.1")
	require.NoError(t, err)
	_, err = f.coord.ClaimFaucet(ctx, "0xbbb", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
	_, err = f.coord.ClaimFaucet(ctx, "0xbbb", "10.0.0.2")
	assert.NoError(t, err)

	_, err = f.coord.ClaimFaucet(ctx, "0xccc", "not-an-ip")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Zero(t, k.size())
}
