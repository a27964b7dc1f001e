package types

import (
	"github.com/shopspring/decimal"
)

// RoundToTick rounds a price to the nearest tick, half away from zero.
// Uses decimal arithmetic so repeated rounding is stable (rounding an
// already-rounded price is a no-op).
func RoundToTick(price float64, tick TickSize) float64 {
	d := decimal.NewFromFloat(price).Round(int32(tick.Decimals()))
	f, _ := d.Float64()
	return f
}

// RoundDownToTick rounds a price down to the tick grid. Used when quoting
// below a reference price must never cross it.
func RoundDownToTick(price float64, tick TickSize) float64 {
	d := decimal.NewFromFloat(price).RoundFloor(int32(tick.Decimals()))
	f, _ := d.Float64()
	return f
}

// RoundAmount rounds a USDC amount to the precision the CLOB accepts for
// the market's tick size.
func RoundAmount(amount float64, tick TickSize) float64 {
	d := decimal.NewFromFloat(amount).Round(int32(tick.AmountDecimals()))
	f, _ := d.Float64()
	return f
}

// ScaleTo1e6 converts a price or amount to the 6-decimal integer units the
// CTF exchange contract uses, truncating sub-unit dust.
func ScaleTo1e6(v float64) int64 {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(1_000_000)).IntPart()
}

// ClampPrice bounds a binary-market price to the valid (tick, 1-tick) range.
func ClampPrice(price float64, tick TickSize) float64 {
	step := 1.0
	for i := 0; i < tick.Decimals(); i++ {
		step /= 10
	}
	if price < step {
		return step
	}
	if price > 1-step {
		return RoundToTick(1-step, tick)
	}
	return price
}
