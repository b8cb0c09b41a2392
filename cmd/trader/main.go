package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"margin_trader/internal/config"
	"margin_trader/internal/exchange"
	"margin_trader/internal/modules/health"
	"margin_trader/internal/notify"
	"margin_trader/internal/runner"
	"margin_trader/pkg/logger"
	"margin_trader/pkg/tracing"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			NewLogger,
			NewExchange,
			// Notifier: если TELEGRAM_* нет, используем stdout
			func(cfg *config.Config, _ *zap.Logger) notify.Notifier {
				n, err := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID)
				if err != nil {
					logger.Warn("telegram disabled: %v", err)
					return notify.NewStdout()
				}
				return n
			},
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx").WithOptions(zap.IncreaseLevel(zap.WarnLevel))}
		}),
		fx.Invoke(InitTracing),
		health.Module(),
		runner.Module(),
		fx.StartTimeout(time.Minute),
	)
	// ошибка старта (в т.ч. настройки аккаунта) => exit 1, SIGINT/SIGTERM => штатная остановка
	app.Run()
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	logger.SetServiceName(cfg.ServiceName)
	tracing.SetServiceName(cfg.ServiceName)
	return logger.Init(cfg.LogLevel)
}

// NewExchange: REST-клиент Hyperliquid; при PRICE_FEED=ws тикер идёт через websocket.
func NewExchange(lc fx.Lifecycle, cfg *config.Config, _ *zap.Logger) (runner.Exchange, error) {
	opts := exchange.Options{
		BaseURL:       cfg.BaseURL,
		WalletAddress: cfg.WalletAddress,
		PrivateKey:    cfg.PrivateKey,
		Mainnet:       !cfg.Testnet,
		Timeout:       cfg.HTTPTimeout,
		RateLimitRPS:  cfg.RateLimitRPS,
		Slippage:      cfg.OrderSlippage,
	}
	if cfg.PriceFeed == config.FeedWS {
		feed := exchange.NewWSFeed(cfg.WSURL, cfg.HTTPTimeout)
		opts.TickerFeed = feed
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return feed.Close() },
		})
	}

	c, err := exchange.NewClient(opts)
	if err != nil {
		return nil, err
	}
	if c.AgentWallet() {
		logger.Info("Signing for %s with an agent key", c.Wallet().Hex())
	}
	logger.Info("Hyperliquid %s, price feed %s", cfg.BaseURL, cfg.PriceFeed)
	return c, nil
}

func InitTracing(lc fx.Lifecycle, cfg *config.Config, _ *zap.Logger) error {
	_, closeFn, err := tracing.InitTracer(tracing.Config{Host: cfg.JaegerHost, Port: cfg.JaegerPort})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeFn()
			return nil
		},
	})
	return nil
}
