package exchange

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	priceSigFigs    = 5
	perpMaxDecimals = 6
)

// formatSize режет размер до szDecimals (вниз, чтобы не превысить рассчитанный объём).
func formatSize(size float64, szDecimals int) string {
	return decimal.NewFromFloat(size).Truncate(int32(szDecimals)).String()
}

// formatPrice приводит цену к правилам Hyperliquid для перпов:
// не больше 5 значащих цифр и не больше (6 - szDecimals) знаков после запятой.
// Целые цены допустимы при любом количестве цифр.
func formatPrice(px float64, szDecimals int) string {
	if px == 0 {
		return "0"
	}
	d := decimal.NewFromFloat(px)

	magnitude := int(math.Floor(math.Log10(math.Abs(px)))) + 1
	places := priceSigFigs - magnitude
	if maxDecimals := perpMaxDecimals - szDecimals; places > maxDecimals {
		places = maxDecimals
	}
	if places < 0 {
		places = 0
	}
	return d.Round(int32(places)).String()
}
