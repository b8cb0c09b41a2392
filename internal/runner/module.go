package runner

import (
	"context"

	"go.uber.org/fx"

	"margin_trader/internal/config"
	"margin_trader/internal/modules/health/service"
	"margin_trader/internal/notify"
)

func NewTrader(cfg *config.Config, ex Exchange, n notify.Notifier, state *service.State) *Trader {
	return New(ex, n, state, Options{
		Params:       cfg.Params,
		QuoteAsset:   cfg.QuoteAsset,
		PollInterval: cfg.PollInterval,
		RetryDelay:   cfg.RetryDelay,
	})
}

// Start: fx-хуки: настройка аккаунта в OnStart (ошибка => app.Run завершает процесс),
// цикл в отдельной горутине, OnStop отменяет и ждёт его.
func Start(lc fx.Lifecycle, t *Trader) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := t.Setup(startCtx); err != nil {
				cancel()
				return err
			}
			go func() {
				defer close(done)
				t.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewTrader, // *Trader
		),
		fx.Invoke(Start),
	)
}
