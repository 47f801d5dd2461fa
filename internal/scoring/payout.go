package scoring

import (
	"sort"

	"github.com/shopspring/decimal"
)

// CurrencyPrecision 货币最小单位精度
const CurrencyPrecision = 2

// UserTotals 按用户汇总入金金额
func UserTotals(entries []Entry) map[uint64]decimal.Decimal {
	out := make(map[uint64]decimal.Decimal)
	for _, e := range entries {
		out[e.UserID] = out[e.UserID].Add(e.Amount)
	}
	return out
}

// Payouts 按入金占比瓜分奖池：share = pot * user_total / team_total，四舍五入到 precision 位。
// 舍入差额（奖池向下取整后减去各份额之和）补给入金最多的用户（并列取 FID 最小），
// 补扣后份额为负时顺延到下一位，因此各份额之和恰好等于 pot 向下取整的值。
// team_total 为 0 时返回空 map。
func Payouts(pot decimal.Decimal, totals map[uint64]decimal.Decimal, precision int32) map[uint64]decimal.Decimal {
	out := make(map[uint64]decimal.Decimal)
	if pot.Sign() <= 0 {
		return out
	}
	teamTotal := decimal.Zero
	users := make([]uint64, 0, len(totals))
	for uid, amt := range totals {
		if amt.Sign() <= 0 {
			continue
		}
		teamTotal = teamTotal.Add(amt)
		users = append(users, uid)
	}
	if teamTotal.Sign() == 0 {
		return out
	}

	sum := decimal.Zero
	for _, uid := range users {
		share := pot.Mul(totals[uid]).Div(teamTotal).Round(precision)
		out[uid] = share
		sum = sum.Add(share)
	}

	sort.Slice(users, func(i, j int) bool {
		if c := totals[users[i]].Cmp(totals[users[j]]); c != 0 {
			return c > 0
		}
		return users[i] < users[j]
	})
	remainder := pot.RoundFloor(precision).Sub(sum)
	for _, uid := range users {
		if remainder.IsZero() {
			break
		}
		adjusted := out[uid].Add(remainder)
		if adjusted.Sign() >= 0 {
			out[uid] = adjusted
			remainder = decimal.Zero
			break
		}
		remainder = adjusted
		out[uid] = decimal.Zero
	}
	return out
}

// BonusRefund 返还奖励：total_deposit * bonus_multiplier，保留两位小数
func BonusRefund(totalDeposit, bonusMultiplier decimal.Decimal) decimal.Decimal {
	return totalDeposit.Mul(bonusMultiplier).Round(CurrencyPrecision)
}
