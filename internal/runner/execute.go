package runner

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"margin_trader/internal/models"
	"margin_trader/internal/modules/health/service"
	"margin_trader/internal/sizing"
	"margin_trader/pkg/logger"
	"margin_trader/pkg/tracing"
)

// TickResult: чем закончился тик, если он не упал с ошибкой.
type TickResult struct {
	Outcome  service.TickOutcome
	Plan     models.TradePlan
	Price    float64 // last на момент проверки входа
	Order    models.Order
	OrderErr error // ошибка размещения: тик закрыт, цикл идёт дальше обычным интервалом
}

// Execute: один тик: баланс, тикер, план, второй тикер, проверка входа, ордер.
// Ошибку возвращают только сбои получения данных.
func (t *Trader) Execute(ctx context.Context) (res TickResult, err error) {
	p := t.params

	span, ctx := tracing.StartSpan(ctx, "trader.tick", opentracing.Tags{
		"symbol":   p.Symbol,
		"leverage": p.Leverage,
	})
	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
			span.LogKV("error", err.Error())
		}
		span.SetTag("outcome", string(res.Outcome))
		span.Finish()
	}()

	balance, err := t.ex.FetchBalance(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch balance: %w", err)
	}
	quote, ok := balance[t.quote]
	if !ok {
		return res, fmt.Errorf("fetch balance: no %s entry", t.quote)
	}

	ticker, err := t.ex.FetchTicker(ctx, p.Symbol)
	if err != nil {
		return res, fmt.Errorf("fetch ticker: %w", err)
	}
	entry := sizing.SupportZone(p, ticker.Last)
	res.Plan = sizing.CalcTradePlan(p, quote.Total, entry)

	current, err := t.ex.FetchTicker(ctx, p.Symbol)
	if err != nil {
		return res, fmt.Errorf("fetch ticker: %w", err)
	}
	res.Price = current.Last
	span.SetTag("entry", res.Plan.Entry)
	span.SetTag("price", res.Price)

	if !sizing.Eligible(res.Plan, current.Last) {
		logger.Info("Current price %v above entry %v. Waiting...", current.Last, res.Plan.Entry)
		res.Outcome = service.OutcomeWaiting
		return res, nil
	}

	if res.Plan.Size <= 0 {
		logger.Warn("Position size %.4f is not positive (balance %.2f %s). Skipping order.",
			res.Plan.Size, quote.Total, t.quote)
		res.Outcome = service.OutcomeSkipped
		return res, nil
	}

	t.logSetup(res.Plan)

	order, err := t.ex.CreateOrder(ctx, models.OrderRequest{
		Symbol: p.Symbol,
		Type:   models.OrderLimit,
		Side:   models.SideBuy,
		Amount: res.Plan.Size,
		Price:  res.Plan.Entry,
		Params: models.OrderParams{
			TakeProfitPrice: res.Plan.TakeProfit,
			StopLossPrice:   res.Plan.StopLoss,
			ReduceOnly:      false,
		},
	})
	if err != nil {
		logger.Error("Order failed: %v", err)
		t.n.Sendf("❗️ Order failed: %v", err)
		res.Outcome = service.OutcomeOrderFailed
		res.OrderErr = err
		return res, nil
	}

	logger.Info("Limit order placed at target price (id=%s, status=%s)", order.ID, order.Status)
	t.n.Sendf("📈 %s BUY %.4f @ %.2f | TP %.2f | SL %.2f | id=%s",
		p.Symbol, res.Plan.Size, res.Plan.Entry, res.Plan.TakeProfit, res.Plan.StopLoss, order.ID)
	res.Outcome = service.OutcomePlaced
	res.Order = order
	return res, nil
}

func (t *Trader) logSetup(plan models.TradePlan) {
	p := t.params
	logger.Info("Trade Setup:\n"+
		"  Entry Price: %.2f\n"+
		"  Position Size: %.4f %s\n"+
		"  Take Profit: %.2f\n"+
		"  Stop Loss: %.2f\n"+
		"  Margin Used: $%.2f (%.0f%% of portfolio)\n"+
		"  Leverage: %dx",
		plan.Entry, plan.Size, baseAsset(p.Symbol), plan.TakeProfit, plan.StopLoss,
		plan.MarginUsed, p.PortfolioRisk*100, p.Leverage)
}
