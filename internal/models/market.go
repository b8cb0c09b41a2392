package models

import "time"

type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

type Ticker struct {
	Symbol    string
	Last      float64
	Mark      float64
	Oracle    float64
	PrevDay   float64
	Timestamp time.Time
}

type BalanceEntry struct {
	Free  float64
	Used  float64
	Total float64
}

// Balance: asset -> баланс. У Hyperliquid перпы считаются в USDC.
type Balance map[string]BalanceEntry

type OrderType string

const (
	OrderLimit  OrderType = "limit"
	OrderMarket OrderType = "market"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderParams struct {
	TakeProfitPrice float64
	StopLossPrice   float64
	ReduceOnly      bool
}

type OrderRequest struct {
	Symbol string
	Type   OrderType
	Side   OrderSide
	Amount float64
	Price  float64
	Params OrderParams
}

type Order struct {
	ID     string
	Symbol string
	Status string // resting / filled
}
