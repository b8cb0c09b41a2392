package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"margin_trader/internal/config"
	"margin_trader/internal/models"
	"margin_trader/internal/modules/health/service"
	"margin_trader/internal/notify"
	"margin_trader/internal/sizing"
	"margin_trader/pkg/logger"
)

const symbol = "ETH/USDC:USDC"

var params = models.TradeParameters{
	Symbol:        symbol,
	Leverage:      25,
	PortfolioRisk: 0.25,
	TakeProfitPct: 0.30,
	StopLossPct:   0.10,
	EntryDiscount: 0.01,
}

func TestMain(m *testing.M) {
	logger.Set(zap.NewNop())
	os.Exit(m.Run())
}

// fakeExchange: сценарий биржи: цены отдаются по кругу,
// ошибки баланса по очереди.
type fakeExchange struct {
	mu sync.Mutex

	marginErr   error
	leverageErr error
	balance     float64
	balanceErrs []error
	panicOnce   bool
	prices      []float64
	priceIdx    int
	tickerErr   error
	orderErr    error

	calls  []string
	orders []models.OrderRequest
}

func (f *fakeExchange) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeExchange) SetMarginMode(_ context.Context, mode models.MarginMode, sym string, lev int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("SetMarginMode %s %s %d", mode, sym, lev))
	return f.marginErr
}

func (f *fakeExchange) SetLeverage(_ context.Context, lev int, sym string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("SetLeverage %d %s", lev, sym))
	return f.leverageErr
}

func (f *fakeExchange) FetchTicker(_ context.Context, sym string) (models.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FetchTicker")
	if f.tickerErr != nil {
		return models.Ticker{}, f.tickerErr
	}
	px := f.prices[f.priceIdx%len(f.prices)]
	f.priceIdx++
	return models.Ticker{Symbol: sym, Last: px}, nil
}

func (f *fakeExchange) FetchBalance(context.Context) (models.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FetchBalance")
	if f.panicOnce {
		f.panicOnce = false
		panic("boom")
	}
	if len(f.balanceErrs) > 0 {
		err := f.balanceErrs[0]
		f.balanceErrs = f.balanceErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return models.Balance{"USDC": {Free: f.balance, Total: f.balance}}, nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, req models.OrderRequest) (models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateOrder")
	if f.orderErr != nil {
		return models.Order{}, f.orderErr
	}
	f.orders = append(f.orders, req)
	return models.Order{ID: fmt.Sprint(len(f.orders)), Symbol: req.Symbol, Status: "resting"}, nil
}

func (f *fakeExchange) snapshot() ([]string, []models.OrderRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...), append([]models.OrderRequest(nil), f.orders...)
}

func newTrader(ex Exchange) (*Trader, *service.State) {
	state := service.NewState()
	tr := New(ex, notify.NewStdout(), state, Options{
		Params:       params,
		QuoteAsset:   "USDC",
		PollInterval: 60 * time.Millisecond,
		RetryDelay:   30 * time.Millisecond,
	})
	return tr, state
}

func TestSetupConfiguresCrossMargin(t *testing.T) {
	ex := &fakeExchange{}
	tr, state := newTrader(ex)

	require.NoError(t, tr.Setup(context.Background()))

	calls, _ := ex.snapshot()
	assert.Equal(t, []string{"SetMarginMode cross ETH/USDC:USDC 25", "SetLeverage 25 ETH/USDC:USDC"}, calls)
	assert.True(t, state.Ready())
}

func TestSetupFailure(t *testing.T) {
	ex := &fakeExchange{leverageErr: errors.New("leverage too high")}
	tr, state := newTrader(ex)

	err := tr.Setup(context.Background())
	require.ErrorContains(t, err, "leverage too high")
	assert.False(t, state.Ready())
}

func TestExecuteWaitsAboveEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(zap.NewNop()) })

	ex := &fakeExchange{balance: 10000, prices: []float64{2000, 2010}}
	tr, _ := newTrader(ex)

	res, err := tr.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, service.OutcomeWaiting, res.Outcome)
	assert.InDelta(t, 1980, res.Plan.Entry, 1e-9)
	assert.InDelta(t, 2500, res.Plan.MarginUsed, 1e-9)
	assert.InDelta(t, 31.5657, res.Plan.Size, 1e-4)
	assert.Equal(t, 2010.0, res.Price)

	calls, orders := ex.snapshot()
	assert.Equal(t, []string{"FetchBalance", "FetchTicker", "FetchTicker"}, calls)
	assert.Empty(t, orders)
	require.Equal(t, 1, logs.FilterMessage("Current price 2010 above entry 1980. Waiting...").Len())
}

func TestExecutePlacesOrderAtEntry(t *testing.T) {
	entry := sizing.SupportZone(params, 2000)
	ex := &fakeExchange{balance: 10000, prices: []float64{2000, entry}}
	tr, _ := newTrader(ex)

	res, err := tr.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.OutcomePlaced, res.Outcome)
	assert.Equal(t, "1", res.Order.ID)

	_, orders := ex.snapshot()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, symbol, o.Symbol)
	assert.Equal(t, models.OrderLimit, o.Type)
	assert.Equal(t, models.SideBuy, o.Side)
	assert.Equal(t, entry, o.Price)
	assert.InDelta(t, 31.5657, o.Amount, 1e-4)
	assert.InDelta(t, 2574, o.Params.TakeProfitPrice, 1e-6)
	assert.InDelta(t, 1782, o.Params.StopLossPrice, 1e-6)
	assert.False(t, o.Params.ReduceOnly)
}

func TestExecuteBelowEntryPlacesOrder(t *testing.T) {
	ex := &fakeExchange{balance: 10000, prices: []float64{2000, 1950}}
	tr, _ := newTrader(ex)

	res, err := tr.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.OutcomePlaced, res.Outcome)
}

func TestExecuteOrderFailureDoesNotRaise(t *testing.T) {
	ex := &fakeExchange{balance: 10000, prices: []float64{2000, 1900}, orderErr: errors.New("insufficient margin")}
	tr, _ := newTrader(ex)

	res, err := tr.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeOrderFailed, res.Outcome)
	assert.EqualError(t, res.OrderErr, "insufficient margin")
}

func TestExecuteSkipsNonPositiveSize(t *testing.T) {
	ex := &fakeExchange{balance: 0, prices: []float64{2000, 1900}}
	tr, _ := newTrader(ex)

	res, err := tr.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.OutcomeSkipped, res.Outcome)

	calls, _ := ex.snapshot()
	assert.NotContains(t, calls, "CreateOrder")
}

func TestExecuteFetchErrors(t *testing.T) {
	cases := []struct {
		name string
		ex   *fakeExchange
		want string
	}{
		{"balance", &fakeExchange{balanceErrs: []error{errors.New("timeout")}, prices: []float64{2000}}, "fetch balance: timeout"},
		{"ticker", &fakeExchange{balance: 10000, tickerErr: errors.New("502")}, "fetch ticker: 502"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, _ := newTrader(tc.ex)

			_, err := tr.Execute(context.Background())
			require.EqualError(t, err, tc.want)

			calls, _ := tc.ex.snapshot()
			assert.NotContains(t, calls, "CreateOrder")
		})
	}
}

func TestExecuteMissingQuoteAsset(t *testing.T) {
	ex := &fakeExchange{balance: 10000, prices: []float64{2000}}
	tr := New(ex, nil, nil, Options{Params: params, QuoteAsset: "USDT"})

	_, err := tr.Execute(context.Background())
	require.ErrorContains(t, err, "no USDT entry")
}

// runTicks гоняет Run, пока не наберётся n ожиданий, и возвращает их длительности.
func runTicks(t *testing.T, tr *Trader, n int) []time.Duration {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	tr.wait = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == n {
			cancel()
		}
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	return delays
}

func TestRunDelays(t *testing.T) {
	ex := &fakeExchange{
		balance:     10000,
		balanceErrs: []error{errors.New("connection reset"), nil},
		prices:      []float64{2000, 2010},
	}
	tr, state := newTrader(ex)

	delays := runTicks(t, tr, 3)

	// ошибка => retry, ожидание входа => poll
	assert.Equal(t, []time.Duration{30 * time.Millisecond, 60 * time.Millisecond, 60 * time.Millisecond}, delays)
	assert.Equal(t, service.OutcomeWaiting, state.LastOutcome())

	_, orders := ex.snapshot()
	assert.Empty(t, orders)
}

func TestRunOrderFailureUsesPollInterval(t *testing.T) {
	ex := &fakeExchange{balance: 10000, prices: []float64{2000, 1900}, orderErr: errors.New("rejected")}
	tr, state := newTrader(ex)

	delays := runTicks(t, tr, 2)

	assert.Equal(t, []time.Duration{60 * time.Millisecond, 60 * time.Millisecond}, delays)
	assert.Equal(t, service.OutcomeOrderFailed, state.LastOutcome())
	assert.Zero(t, state.OrdersPlaced())
}

func TestRunRecoversPanic(t *testing.T) {
	ex := &fakeExchange{balance: 10000, panicOnce: true, prices: []float64{2000, 1900}}
	tr, state := newTrader(ex)

	delays := runTicks(t, tr, 2)

	assert.Equal(t, []time.Duration{30 * time.Millisecond, 60 * time.Millisecond}, delays)
	assert.Equal(t, int64(1), state.OrdersPlaced())
}

func TestRunEachEligibleTickPlacesOrder(t *testing.T) {
	ex := &fakeExchange{balance: 10000, prices: []float64{2000, 1900}}
	tr, state := newTrader(ex)

	// защиты от дублей нет: каждый подходящий тик ставит новый ордер
	runTicks(t, tr, 3)

	_, orders := ex.snapshot()
	assert.Len(t, orders, 3)
	assert.Equal(t, int64(3), state.OrdersPlaced())
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(zap.NewNop()) })

	ex := &fakeExchange{balance: 10000, prices: []float64{2000}}
	tr, _ := newTrader(ex)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.Run(ctx)

	calls, _ := ex.snapshot()
	assert.Empty(t, calls)
	assert.Equal(t, 1, logs.FilterMessage("Starting 25% Margin Trader...").Len())
	assert.Equal(t, 1, logs.FilterMessage("Trading stopped by user").Len())
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func testApp(t *testing.T, ex *fakeExchange) *fxtest.App {
	cfg := &config.Config{
		Params:       params,
		QuoteAsset:   "USDC",
		PollInterval: time.Hour,
		RetryDelay:   time.Hour,
	}
	return fxtest.New(t,
		fx.Supply(cfg),
		fx.Provide(
			func() Exchange { return ex },
			func() notify.Notifier { return notify.NewStdout() },
			service.NewState,
		),
		Module(),
	)
}

func TestModuleInitFailureNeverStartsLoop(t *testing.T) {
	ex := &fakeExchange{marginErr: errors.New("invalid signature"), balance: 10000, prices: []float64{2000}}
	app := testApp(t, ex)

	err := app.Start(context.Background())
	require.ErrorContains(t, err, "invalid signature")

	time.Sleep(20 * time.Millisecond)
	calls, orders := ex.snapshot()
	assert.Equal(t, []string{"SetMarginMode cross ETH/USDC:USDC 25"}, calls)
	assert.Empty(t, orders)
}

func TestModuleRunsLoopUntilStop(t *testing.T) {
	ex := &fakeExchange{balance: 10000, prices: []float64{2000, 2010}}
	app := testApp(t, ex)

	app.RequireStart()
	require.Eventually(t, func() bool {
		calls, _ := ex.snapshot()
		return len(calls) >= 5
	}, 2*time.Second, 10*time.Millisecond)
	app.RequireStop()

	calls, _ := ex.snapshot()
	assert.Equal(t, []string{
		"SetMarginMode cross ETH/USDC:USDC 25",
		"SetLeverage 25 ETH/USDC:USDC",
		"FetchBalance", "FetchTicker", "FetchTicker",
	}, calls)
}
