package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind 是结算意图的类型
type Kind string

const (
	KindWithdrawal Kind = "withdrawal"
	KindFaucet     Kind = "faucet"
)

// Phase 是结算意图所处的阶段。
// 成功路径为 Checked → Submitted → Confirmed；
// 链上失败为 Checked → Submitted → Failed；余额或冷却检查不通过为 Checked → Rejected。
type Phase string

const (
	PhaseChecked   Phase = "checked"
	PhaseSubmitted Phase = "submitted"
	PhaseConfirmed Phase = "confirmed"
	PhaseFailed    Phase = "failed"
	PhaseRejected  Phase = "rejected"
)

// Intent 是一次进行中的提现或领取，只存在于单个请求的生命周期内
type Intent struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Participant string          `json:"participant"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Phase       Phase           `json:"phase"`
	TxRef       string          `json:"txRef,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
}

// Result 是结算的返回值。Balance 只在提现确认并扣减成功后设置。
type Result struct {
	Intent  Intent           `json:"intent"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

func newIntent(kind Kind, participant, destination string, amount decimal.Decimal, now time.Time) Intent {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Intent{
		ID:          id.String(),
		Kind:        kind,
		Participant: participant,
		Destination: destination,
		Amount:      amount,
		Phase:       PhaseChecked,
		StartedAt:   now,
	}
}
