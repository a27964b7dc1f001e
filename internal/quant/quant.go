// Package quant holds the strategy math shared across strategies and the
// stats reporter: Kelly sizing, liquidity reward scoring, and performance
// ratios.
package quant

import "math"

// Kelly returns the fraction of bankroll to bet using the fractional Kelly
// criterion. edge is the estimated probability edge over the market price,
// price the market-implied probability, fraction the Kelly divisor
// (0.25 = quarter-Kelly). Returns 0 when there is no positive edge or the
// price leaves no valid odds.
func Kelly(edge, price, fraction float64) float64 {
	if price <= 0 || price >= 1 || edge <= 0 {
		return 0
	}
	b := 1.0/price - 1.0
	p := price + edge
	q := 1.0 - p
	if p <= 0 || p >= 1 {
		return 0
	}
	kelly := (b*p - q) / b
	return math.Max(0, kelly*fraction)
}

// RewardScore computes the liquidity reward Q-score for a single resting
// order using the quadratic incentive formula
//
//	S(v, s) = ((v - s) / v)^2 * b
//
// where v is the market's max incentive spread, s the order's distance from
// the adjusted midpoint, and b the order size. Orders at or beyond the max
// spread score zero.
func RewardScore(maxSpread, actualSpread, size float64) float64 {
	if maxSpread <= 0 || actualSpread >= maxSpread || actualSpread < 0 {
		return 0
	}
	r := (maxSpread - actualSpread) / maxSpread
	return r * r * size
}

// Sharpe computes the Sharpe ratio of a series of per-trade returns,
// scaled by annualization (use 1 for a raw ratio). Returns 0 with fewer
// than two samples or zero variance.
func Sharpe(returns []float64, annualization float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std * annualization
}

// WinRate returns wins/(wins+losses), or 0 with no trades.
func WinRate(wins, losses int) float64 {
	total := wins + losses
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// RunwayPct estimates remaining runway as a percentage of a 30-day horizon
// given the current balance and average daily loss.
func RunwayPct(balance, avgDailyLoss float64) float64 {
	if avgDailyLoss <= 0 {
		return 100
	}
	days := balance / avgDailyLoss
	return math.Min(days*100/30, 100)
}

// BayesianPosterior computes P(H|E) = P(E|H)*P(H)/P(E), falling back to the
// prior when the evidence probability is not positive.
func BayesianPosterior(prior, likelihood, evidence float64) float64 {
	if evidence <= 0 {
		return prior
	}
	return likelihood * prior / evidence
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
