package models

// TradeParameters: фиксированные параметры торговли, задаются один раз при старте.
type TradeParameters struct {
	Symbol        string  // унифицированный символ, например "ETH/USDC:USDC"
	Leverage      int     // плечо, 25 => 25x
	PortfolioRisk float64 // доля equity под маржу, 0.25 => 25%
	TakeProfitPct float64 // 0.30 => TP на +30% от входа
	StopLossPct   float64 // 0.10 => SL на -10% от входа
	EntryDiscount float64 // заглушка "зоны поддержки": вход на 1% ниже last
}

// TradePlan: план сделки на один тик, после тика выбрасывается.
type TradePlan struct {
	Entry      float64
	Size       float64 // в базовой монете
	TakeProfit float64
	StopLoss   float64
	MarginUsed float64
}
