package runner

import (
	"context"
	"fmt"
	"time"

	"margin_trader/internal/modules/health/service"
	"margin_trader/pkg/logger"
)

// Run крутит Execute до отмены ctx. Обычный тик => PollInterval,
// ошибка или паника => RetryDelay.
func (t *Trader) Run(ctx context.Context) {
	logger.Info("Starting %.0f%% Margin Trader...", t.params.PortfolioRisk*100)

	for {
		if ctx.Err() != nil {
			break
		}

		delay := t.pollInterval
		res, err := t.safeExecute(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("Error: %v", err)
			t.state.RecordTick(t.now(), service.OutcomeError)
			delay = t.retryDelay
		} else {
			t.state.RecordTick(t.now(), res.Outcome)
		}

		if err := t.wait(ctx, delay); err != nil {
			break
		}
	}

	logger.Info("Trading stopped by user")
	t.n.Send("⛔️ Trading stopped by user")
}

func (t *Trader) safeExecute(ctx context.Context) (res TickResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tick: %v", r)
		}
	}()
	return t.Execute(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
