package sizing

import "margin_trader/internal/models"

// SupportZone: ЗАГЛУШКА, а не анализ поддержки. Вход на EntryDiscount ниже последней цены
// (по умолчанию 1%). Других источников сигнала нет.
func SupportZone(params models.TradeParameters, lastPrice float64) float64 {
	return lastPrice * (1 - params.EntryDiscount)
}

// CalcTradePlan считает размер и уровни сделки:
//
//	margin = balance * PortfolioRisk
//	size   = margin * Leverage / entry
//	tp     = entry * (1 + TakeProfitPct)
//	sl     = entry * (1 - StopLossPct)
//
// Баланс не проверяется: balance <= 0 даёт size <= 0, это решает вызывающий.
func CalcTradePlan(params models.TradeParameters, balance, entry float64) models.TradePlan {
	margin := balance * params.PortfolioRisk
	size := (margin * float64(params.Leverage)) / entry

	return models.TradePlan{
		Entry:      entry,
		Size:       size,
		TakeProfit: entry * (1 + params.TakeProfitPct),
		StopLoss:   entry * (1 - params.StopLossPct),
		MarginUsed: margin,
	}
}

// Eligible: входим только если текущая цена не выше входа (при равенстве входим).
func Eligible(plan models.TradePlan, currentPrice float64) bool {
	return !(currentPrice > plan.Entry)
}
