// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — trade signals, order
// results, market metadata, order book snapshots, and positions. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"math"
	"math/big"
	"strconv"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Til-Cancelled: rests on book until filled or cancelled
	OrderTypeGTD OrderType = "GTD" // Good-Til-Date: rests until the expiration timestamp
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill: fills completely and immediately, or not at all
	OrderTypeFAK OrderType = "FAK" // Fill-And-Kill: fills whatever is available immediately
)

// Taker reports whether the order type demands immediate execution.
func (t OrderType) Taker() bool {
	return t == OrderTypeFOK || t == OrderTypeFAK
}

// Strategy identifies which trading strategy produced a signal.
type Strategy string

const (
	StrategyArbitrage Strategy = "arbitrage"
	StrategyLiquidity Strategy = "liquidity"
	StrategyLPFlip    Strategy = "lp_flip"
	StrategyCopy      Strategy = "copy_trading"
	StrategySynthEdge Strategy = "synth_edge"
)

// SignatureType identifies the signing scheme for the CTF exchange contract.
type SignatureType int

const (
	SigEOA        SignatureType = 0 // externally-owned account (standard wallet)
	SigProxy      SignatureType = 1 // Polymarket proxy / Magic wallet
	SigGnosisSafe SignatureType = 2 // Gnosis Safe multisig
)

// TickSize represents the price granularity for a market. Polymarket supports
// four tick sizes; each market has a fixed tick size that determines the
// minimum price increment and USDC amount rounding precision.
type TickSize string

const (
	Tick01    TickSize = "0.1"    // 1 decimal  — coarse markets
	Tick001   TickSize = "0.01"   // 2 decimals — standard markets (most common)
	Tick0001  TickSize = "0.001"  // 3 decimals — fine-grained markets
	Tick00001 TickSize = "0.0001" // 4 decimals — ultra-precise markets
)

// TickDecimals returns the number of decimal places for a tick size.
func (t TickSize) Decimals() int {
	switch t {
	case Tick01:
		return 1
	case Tick001:
		return 2
	case Tick0001:
		return 3
	case Tick00001:
		return 4
	default:
		return 2
	}
}

// Unit returns the tick as a price increment.
func (t TickSize) Unit() float64 {
	return math.Pow(10, -float64(t.Decimals()))
}

// AmountDecimals returns the rounding precision for USDC amounts.
func (t TickSize) AmountDecimals() int {
	switch t {
	case Tick01:
		return 3
	case Tick001:
		return 4
	case Tick0001:
		return 5
	case Tick00001:
		return 6
	}
	return 4
}

// ————————————————————————————————————————————————————————————————————————
// Signals and results
// ————————————————————————————————————————————————————————————————————————

// Signal is a trade intent produced by a strategy. It flows through the risk
// gate (which may shrink Size) and the order manager, which converts it into
// an exchange order. Size is in outcome tokens; Price in USDC per token.
type Signal struct {
	Strategy       Strategy  `json:"strategy"`
	ConditionID    string    `json:"condition_id"`
	TokenID        string    `json:"token_id"`
	MarketQuestion string    `json:"market_question"`
	Side           Side      `json:"side"`
	Price          float64   `json:"price"`
	Size           float64   `json:"size"`
	OrderType      OrderType `json:"order_type"`
	TickSize       TickSize  `json:"tick_size,omitempty"`
	NegRisk        bool      `json:"neg_risk,omitempty"`
	Expiration     int64     `json:"expiration,omitempty"` // unix seconds, GTD only
	Edge           float64   `json:"edge,omitempty"`       // expected edge, strategy-defined
	Reason         string    `json:"reason,omitempty"`
}

// Notional returns the USDC value of the signal at its limit price.
func (s Signal) Notional() float64 { return s.Price * s.Size }

// WithSize returns a copy of the signal with a different size.
// Risk checks use this to downsize rather than reject.
func (s Signal) WithSize(size float64) Signal {
	s.Size = size
	return s
}

// OrderResult records the outcome of executing a Signal.
type OrderResult struct {
	Signal    Signal    `json:"signal"`
	Success   bool      `json:"success"`
	OrderID   string    `json:"order_id,omitempty"`
	Status    string    `json:"status,omitempty"` // "live", "matched", "rejected", ...
	FillPrice float64   `json:"fill_price"`
	FillSize  float64   `json:"fill_size"`
	FeePaid   float64   `json:"fee_paid"`
	Error     string    `json:"error,omitempty"`
	DryRun    bool      `json:"dry_run"`
	At        time.Time `json:"at"`
}

// Resting reports whether the order was accepted but rests unfilled on the book.
func (r OrderResult) Resting() bool { return r.Success && r.Status == "live" }

// Filled reports whether the order received an immediate (possibly partial) fill.
func (r OrderResult) Filled() bool { return r.Success && r.FillSize > 0 }

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// MarketInfo is the internal representation of a Polymarket binary market.
// Populated from the CLOB sampling-markets endpoint during scanning and passed
// to the strategy layer. A binary market has exactly two tokens (YES and NO)
// whose prices always sum to ~$1.
type MarketInfo struct {
	ConditionID string // CTF condition ID (used for cancels and grouping)
	Slug        string // human-readable URL slug
	Question    string // the prediction question, e.g. "Will X happen by Y?"

	YesTokenID string // CLOB token ID for the YES outcome
	NoTokenID  string // CLOB token ID for the NO outcome

	TickSize     TickSize // price granularity (determines rounding)
	MinOrderSize float64  // minimum order size in tokens
	NegRisk      bool     // true if this is a neg-risk market (affects CTF exchange)

	Active          bool      // market is live
	Closed          bool      // market has been resolved
	AcceptingOrders bool      // CLOB is accepting new orders
	EndDate         time.Time // when the market is scheduled to resolve

	RewardsMinSize   float64 // minimum size to qualify for liquidity rewards
	RewardsMaxSpread float64 // max distance from midpoint to qualify, in price units
	RewardsDailyRate float64 // total daily reward pool in USD
}

// TokenID returns the token for the given outcome side of the market,
// where true selects YES.
func (m MarketInfo) TokenID(yes bool) string {
	if yes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// Position is a holding in a single outcome token.
type Position struct {
	ConditionID   string    `json:"condition_id"`
	TokenID       string    `json:"token_id"`
	Outcome       string    `json:"outcome,omitempty"` // "Yes" or "No"
	Question      string    `json:"question,omitempty"`
	Size          float64   `json:"size"`            // tokens held
	AvgEntryPrice float64   `json:"avg_entry_price"` // volume-weighted cost basis
	CurrentPrice  float64   `json:"current_price,omitempty"`
	Strategy      Strategy  `json:"strategy,omitempty"`
	OpenedAt      time.Time `json:"opened_at,omitempty"`
}

// CostBasis returns the USDC spent acquiring the position.
func (p Position) CostBasis() float64 { return p.Size * p.AvgEntryPrice }

// UnrealizedPnL values the position at the given mark price.
func (p Position) UnrealizedPnL(mark float64) float64 {
	return p.Size * (mark - p.AvgEntryPrice)
}

// SynthForecast is a probability forecast for a crypto asset's next hourly
// close, compared against the matching Polymarket up/down market.
type SynthForecast struct {
	Asset       string    `json:"asset"`         // "BTC", "ETH"
	ProbUp      float64   `json:"synth_prob_up"` // forecast P(up)
	PolyProbUp  float64   `json:"poly_prob_up"`  // market-implied P(up)
	Edge        float64   `json:"edge"`          // ProbUp - PolyProbUp
	UpTokenID   string    `json:"up_token_id"`
	DownTokenID string    `json:"down_token_id"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// Level is a parsed bid or ask level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook is a point-in-time view of one token's order book with parsed
// numeric levels. Bids are sorted descending by price (best first), asks
// ascending (best first).
type OrderBook struct {
	AssetID   string    `json:"asset_id"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Hash      string    `json:"hash,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BestBid returns the top bid level, or false if the bid side is empty.
func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or false if the ask side is empty.
func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Midpoint returns (bestBid+bestAsk)/2. With only one side populated it
// returns that side's best price; with an empty book it returns 0.
func (b *OrderBook) Midpoint() float64 {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	switch {
	case hasBid && hasAsk:
		return (bid.Price + ask.Price) / 2
	case hasBid:
		return bid.Price
	case hasAsk:
		return ask.Price
	}
	return 0
}

// Spread returns bestAsk - bestBid, or 0 if either side is empty.
func (b *OrderBook) Spread() float64 {
	bid, hasBid := b.BestBid()
	ask, hasAsk := b.BestAsk()
	if !hasBid || !hasAsk {
		return 0
	}
	return ask.Price - bid.Price
}

// DepthWithin sums bid size resting within dist of the midpoint. Used for
// reward pool-share estimation.
func (b *OrderBook) DepthWithin(dist float64) float64 {
	mid := b.Midpoint()
	var total float64
	for _, lv := range b.Bids {
		if mid-lv.Price <= dist {
			total += lv.Size
		}
	}
	return total
}

// ————————————————————————————————————————————————————————————————————————
// CLOB wire structures
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single order book level as returned by the CLOB API.
// Price and Size are strings to preserve decimal precision on the wire.
type PriceLevel struct {
	Price string `json:"price"` // e.g. "0.55"
	Size  string `json:"size"`  // e.g. "100.5"
}

// BookResponse is the REST response from GET /book for a single token.
type BookResponse struct {
	Market       string       `json:"market"`
	AssetID      string       `json:"asset_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	Hash         string       `json:"hash"`
	Timestamp    string       `json:"timestamp"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
	NegRisk      bool         `json:"neg_risk"`
}

// Parse converts the wire book into a numeric OrderBook. Levels that fail to
// parse are skipped. The CLOB returns bids ascending and asks descending, so
// both sides are reversed to best-first order.
func (r BookResponse) Parse() *OrderBook {
	book := &OrderBook{
		AssetID:   r.AssetID,
		Hash:      r.Hash,
		FetchedAt: time.Now(),
	}
	parse := func(levels []PriceLevel) []Level {
		out := make([]Level, 0, len(levels))
		for i := len(levels) - 1; i >= 0; i-- {
			p, errP := strconv.ParseFloat(levels[i].Price, 64)
			s, errS := strconv.ParseFloat(levels[i].Size, 64)
			if errP != nil || errS != nil {
				continue
			}
			out = append(out, Level{Price: p, Size: s})
		}
		return out
	}
	book.Bids = parse(r.Bids)
	book.Asks = parse(r.Asks)
	return book
}

// SignedOrder is the on-chain order format the CLOB API expects.
// MakerAmount and TakerAmount are in 6-decimal USDC units (1e6 = $1).
//
// For BUY:  maker gives MakerAmount USDC, receives TakerAmount tokens
// For SELL: maker gives MakerAmount tokens, receives TakerAmount USDC
type SignedOrder struct {
	Salt          string        `json:"salt"`
	Maker         string        `json:"maker"`       // funder/proxy wallet address
	Signer        string        `json:"signer"`      // EOA that signs the order
	Taker         string        `json:"taker"`       // zero address = open order
	TokenID       string        `json:"tokenId"`     // CTF token ID
	MakerAmount   *big.Int      `json:"makerAmount"` // what maker gives (scaled to 1e6)
	TakerAmount   *big.Int      `json:"takerAmount"` // what maker receives (scaled to 1e6)
	Side          Side          `json:"side"`
	Expiration    string        `json:"expiration"`    // unix timestamp as string
	Nonce         string        `json:"nonce"`         // replay protection
	FeeRateBps    string        `json:"feeRateBps"`    // fee in basis points as string
	SignatureType SignatureType `json:"signatureType"` // 0 = EOA
	Signature     string        `json:"signature"`     // EIP-712 signature hex
}

// OrderPayload is the REST API request body for POST /order and /orders.
type OrderPayload struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`              // API key of the order owner
	OrderType OrderType   `json:"orderType"`          // GTC, GTD, FOK, FAK
	PostOnly  bool        `json:"postOnly,omitempty"` // if true, rejects if it would cross
}

// OrderResponse is the REST API response for a posted order.
type OrderResponse struct {
	Success        bool     `json:"success"`
	ErrorMsg       string   `json:"errorMsg"`
	OrderID        string   `json:"orderID"`
	Status         string   `json:"status"` // e.g. "live", "matched"
	MakingAmount   string   `json:"makingAmount,omitempty"`
	TakingAmount   string   `json:"takingAmount,omitempty"`
	TransactionIDs []string `json:"transactionsHashes,omitempty"`
}

// OpenOrder represents a live resting order on the CLOB.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`        // "live", "matched", etc.
	Market       string `json:"market"`        // condition ID
	AssetID      string `json:"asset_id"`      // token ID
	Side         string `json:"side"`          // "BUY" or "SELL"
	OriginalSize string `json:"original_size"` // initial size
	SizeMatched  string `json:"size_matched"`  // how much has filled
	Price        string `json:"price"`         // limit price
}

// PriceF returns the order's limit price as a float, 0 on parse failure.
func (o OpenOrder) PriceF() float64 {
	p, _ := strconv.ParseFloat(o.Price, 64)
	return p
}

// MatchedF returns the filled quantity as a float, 0 on parse failure.
func (o OpenOrder) MatchedF() float64 {
	s, _ := strconv.ParseFloat(o.SizeMatched, 64)
	return s
}

// CancelResponse is returned by DELETE /order, /cancel-all, /cancel-market-orders.
type CancelResponse struct {
	Canceled    []string          `json:"canceled"` // IDs of successfully cancelled orders
	NotCanceled map[string]string `json:"not_canceled,omitempty"`
}

// BalanceAllowance is the collateral balance response from the CLOB.
// Balance is in 6-decimal USDC units.
type BalanceAllowance struct {
	Balance string `json:"balance"`
}

// USD converts the raw 1e6-scaled balance to dollars.
func (b BalanceAllowance) USD() float64 {
	v, _ := strconv.ParseFloat(b.Balance, 64)
	return v / 1e6
}
