package ledger

import "github.com/shopspring/decimal"

// Tier 是按累计奖金划分的玩家段位
type Tier string

const (
	TierBronze  Tier = "bronze"
	TierSilver  Tier = "silver"
	TierGold    Tier = "gold"
	TierDiamond Tier = "diamond"
)

// 段位下限，按从高到低排列
var tierFloors = []struct {
	tier  Tier
	floor decimal.Decimal
}{
	{TierDiamond, decimal.NewFromInt(2000)},
	{TierGold, decimal.NewFromInt(500)},
	{TierSilver, decimal.NewFromInt(100)},
}

// TierFor 返回给定奖金对应的段位
func TierFor(winnings decimal.Decimal) Tier {
	for _, t := range tierFloors {
		if winnings.GreaterThanOrEqual(t.floor) {
			return t.tier
		}
	}
	return TierBronze
}
