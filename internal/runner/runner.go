package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"margin_trader/internal/models"
	"margin_trader/internal/modules/health/service"
	"margin_trader/internal/notify"
	"margin_trader/pkg/logger"
)

// Exchange: то, что трейдеру нужно от биржи.
type Exchange interface {
	SetMarginMode(ctx context.Context, mode models.MarginMode, symbol string, leverage int) error
	SetLeverage(ctx context.Context, leverage int, symbol string) error
	FetchTicker(ctx context.Context, symbol string) (models.Ticker, error)
	FetchBalance(ctx context.Context) (models.Balance, error)
	CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error)
}

type Options struct {
	Params       models.TradeParameters
	QuoteAsset   string
	PollInterval time.Duration
	RetryDelay   time.Duration
}

// Trader: один символ, фиксированные параметры, один цикл.
type Trader struct {
	ex     Exchange
	n      notify.Notifier
	state  *service.State
	params models.TradeParameters
	quote  string

	pollInterval time.Duration
	retryDelay   time.Duration

	// подменяются в тестах
	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

func New(ex Exchange, n notify.Notifier, state *service.State, opts Options) *Trader {
	if n == nil {
		n = notify.NewStdout()
	}
	if state == nil {
		state = service.NewState()
	}
	quote := opts.QuoteAsset
	if quote == "" {
		quote = "USDC"
	}
	return &Trader{
		ex:           ex,
		n:            n,
		state:        state,
		params:       opts.Params,
		quote:        quote,
		pollInterval: opts.PollInterval,
		retryDelay:   opts.RetryDelay,
		wait:         sleepCtx,
		now:          time.Now,
	}
}

// Setup: cross-маржа и плечо, один раз до цикла. Ошибка фатальна для процесса.
func (t *Trader) Setup(ctx context.Context) error {
	p := t.params
	if err := t.ex.SetMarginMode(ctx, models.MarginCross, p.Symbol, p.Leverage); err != nil {
		logger.Error("Account config failed: %v", err)
		return fmt.Errorf("set margin mode: %w", err)
	}
	if err := t.ex.SetLeverage(ctx, p.Leverage, p.Symbol); err != nil {
		logger.Error("Account config failed: %v", err)
		return fmt.Errorf("set leverage: %w", err)
	}

	logger.Info("Account configured: Cross Margin %dx", p.Leverage)
	t.n.Sendf("✅ Account configured: Cross Margin %dx on %s", p.Leverage, p.Symbol)
	t.state.SetReady(true)
	return nil
}

// baseAsset: "ETH/USDC:USDC" -> "ETH".
func baseAsset(symbol string) string {
	base, _, _ := strings.Cut(symbol, "/")
	return base
}
