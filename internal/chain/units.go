package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits 将代币金额（如 1.5 USDC）转为链上精度整数
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	if amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits 链上精度整数转代币金额
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
