package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/SlpAus/trivia-rewards-backend/internal/platform/apperr"
)

// AmountScale 是账本金额的小数位数。
// 金额以 10^-AmountScale 为最小单位的整数落库，加减都是整数运算，
// 不受SQLite数值亲和性把小数存成浮点的影响。
const AmountScale = 8

// ToUnits 把金额换算为最小单位的整数。
// 小数位超过 AmountScale 或超出 int64 范围时返回 ErrValidation。
func ToUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(AmountScale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: 金额 %s 的精度超过 %d 位小数", apperr.ErrValidation, amount, AmountScale)
	}
	units := shifted.BigInt()
	if !units.IsInt64() {
		return 0, fmt.Errorf("%w: 金额 %s 超出账本范围", apperr.ErrValidation, amount)
	}
	return units.Int64(), nil
}

// FromUnits 把最小单位的整数换算回金额
func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -AmountScale)
}

// ValidateAmount 检查金额能否被账本精确表示
func ValidateAmount(amount decimal.Decimal) error {
	_, err := ToUnits(amount)
	return err
}
