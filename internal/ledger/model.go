package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

// maxParticipantLen 限制参与者标识的长度，与列宽一致
const maxParticipantLen = 128

// Entry 是参与者的账本记录。
// 不存在的记录等价于余额为零。
type Entry struct {
	ParticipantID string          `json:"participantId"`
	Winnings      decimal.Decimal `json:"winnings"`
	GamesPlayed   int64           `json:"gamesPlayed"`
	CreatedAt     time.Time       `json:"-"`
	UpdatedAt     time.Time       `json:"-"`
}

// entryRow 是账本表的行，Winnings 以最小单位的整数存储
type entryRow struct {
	ParticipantID string `gorm:"primaryKey;type:varchar(128)"`
	Winnings      int64  `gorm:"not null"`
	GamesPlayed   int64  `gorm:"not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (entryRow) TableName() string {
	return "ledger_entries"
}

func (r entryRow) entry() Entry {
	return Entry{
		ParticipantID: r.ParticipantID,
		Winnings:      FromUnits(r.Winnings),
		GamesPlayed:   r.GamesPlayed,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// emptyEntry 返回参与者的零值记录
func emptyEntry(participant string) Entry {
	return Entry{ParticipantID: participant, Winnings: decimal.Zero}
}

// NormalizeParticipant 把参与者标识规范为去空白的小写形式，
// 使 0xABC 与 0xabc 指向同一条记录
func NormalizeParticipant(raw string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return "", fmt.Errorf("%w: 参与者标识不能为空", apperr.ErrValidation)
	}
	if len(id) > maxParticipantLen {
		return "", fmt.Errorf("%w: 参与者标识过长", apperr.ErrValidation)
	}
	return id, nil
}
