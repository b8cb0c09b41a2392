package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"margin_trader/internal/models"
)

const (
	MainnetURL   = "https://api.hyperliquid.xyz"
	TestnetURL   = "https://api.hyperliquid-testnet.xyz"
	MainnetWSURL = "wss://api.hyperliquid.xyz/ws"
	TestnetWSURL = "wss://api.hyperliquid-testnet.xyz/ws"

	FeedREST = "rest"
	FeedWS   = "ws"
)

var ErrMissingCredentials = errors.New("WALLET_ADDRESS and PRIVATE_KEY are required")

type Config struct {
	// Кошелёк Hyperliquid
	WalletAddress string // .env: WALLET_ADDRESS
	PrivateKey    string // .env: PRIVATE_KEY
	Testnet       bool   // .env: HL_TESTNET
	BaseURL       string // .env: HL_BASE_URL (по умолчанию из Testnet)
	WSURL         string // .env: HL_WS_URL
	QuoteAsset    string // .env: QUOTE_ASSET (USDC)

	// Торговля
	Params        models.TradeParameters
	OrderSlippage float64 // .env: ORDER_SLIPPAGE, худшая цена для market-триггеров TP/SL

	// Цикл
	PollInterval time.Duration // .env: POLL_INTERVAL (60s)
	RetryDelay   time.Duration // .env: RETRY_DELAY (30s)

	// Транспорт
	PriceFeed    string        // .env: PRICE_FEED (rest|ws)
	RateLimitRPS float64       // .env: RATE_LIMIT_RPS
	HTTPTimeout  time.Duration // .env: HTTP_TIMEOUT

	LogLevel    string
	ServiceName string
	HealthAddr  string // пусто => health-сервер не поднимаем

	// Telegram
	TelegramBotToken string
	TelegramChatID   int64

	// Jaeger
	JaegerHost string
	JaegerPort int
}

// paramsFile: необязательный YAML с торговыми параметрами (PARAMS_FILE).
type paramsFile struct {
	Symbol        string  `yaml:"symbol"`
	Leverage      int     `yaml:"leverage"`
	PortfolioRisk float64 `yaml:"portfolio_risk"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	EntryDiscount float64 `yaml:"entry_discount"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		WalletAddress: strings.TrimSpace(v.GetString("WALLET_ADDRESS")),
		PrivateKey:    strings.TrimSpace(v.GetString("PRIVATE_KEY")),
		Testnet:       v.GetBool("HL_TESTNET"),
		BaseURL:       v.GetString("HL_BASE_URL"),
		WSURL:         v.GetString("HL_WS_URL"),
		QuoteAsset:    v.GetString("QUOTE_ASSET"),
		Params: models.TradeParameters{
			Symbol:        v.GetString("SYMBOL"),
			Leverage:      v.GetInt("LEVERAGE"),
			PortfolioRisk: v.GetFloat64("PORTFOLIO_RISK"),
			TakeProfitPct: v.GetFloat64("TAKE_PROFIT_PCT"),
			StopLossPct:   v.GetFloat64("STOP_LOSS_PCT"),
			EntryDiscount: v.GetFloat64("ENTRY_DISCOUNT"),
		},
		OrderSlippage:    v.GetFloat64("ORDER_SLIPPAGE"),
		PollInterval:     v.GetDuration("POLL_INTERVAL"),
		RetryDelay:       v.GetDuration("RETRY_DELAY"),
		PriceFeed:        strings.ToLower(v.GetString("PRICE_FEED")),
		RateLimitRPS:     v.GetFloat64("RATE_LIMIT_RPS"),
		HTTPTimeout:      v.GetDuration("HTTP_TIMEOUT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		ServiceName:      v.GetString("SERVICE_NAME"),
		HealthAddr:       v.GetString("HEALTH_ADDR"),
		TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   v.GetInt64("TELEGRAM_CHAT_ID"),
		JaegerHost:       v.GetString("JAEGER_AGENT_HOST"),
		JaegerPort:       v.GetInt("JAEGER_AGENT_PORT"),
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetURL
		if cfg.Testnet {
			cfg.BaseURL = TestnetURL
		}
	}
	if cfg.WSURL == "" {
		cfg.WSURL = MainnetWSURL
		if cfg.Testnet {
			cfg.WSURL = TestnetWSURL
		}
	}

	if path := v.GetString("PARAMS_FILE"); path != "" {
		if err := loadParamsFile(path, &cfg.Params); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HL_TESTNET", false)
	v.SetDefault("QUOTE_ASSET", "USDC")

	v.SetDefault("SYMBOL", "ETH/USDC:USDC")
	v.SetDefault("LEVERAGE", 25)
	v.SetDefault("PORTFOLIO_RISK", 0.25)
	v.SetDefault("TAKE_PROFIT_PCT", 0.30)
	v.SetDefault("STOP_LOSS_PCT", 0.10)
	v.SetDefault("ENTRY_DISCOUNT", 0.01)
	v.SetDefault("ORDER_SLIPPAGE", 0.05)

	v.SetDefault("POLL_INTERVAL", "60s")
	v.SetDefault("RETRY_DELAY", "30s")

	v.SetDefault("PRICE_FEED", FeedREST)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("HTTP_TIMEOUT", "10s")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVICE_NAME", "margin-trader")
	v.SetDefault("JAEGER_AGENT_PORT", 6831)
}

func loadParamsFile(path string, params *models.TradeParameters) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open params file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	// значения из env остаются дефолтами, файл перекрывает только то, что в нём есть
	pf := paramsFile{
		Symbol:        params.Symbol,
		Leverage:      params.Leverage,
		PortfolioRisk: params.PortfolioRisk,
		TakeProfitPct: params.TakeProfitPct,
		StopLossPct:   params.StopLossPct,
		EntryDiscount: params.EntryDiscount,
	}
	if err := yaml.NewDecoder(file).Decode(&pf); err != nil {
		return fmt.Errorf("decode params file: %w", err)
	}

	*params = models.TradeParameters{
		Symbol:        pf.Symbol,
		Leverage:      pf.Leverage,
		PortfolioRisk: pf.PortfolioRisk,
		TakeProfitPct: pf.TakeProfitPct,
		StopLossPct:   pf.StopLossPct,
		EntryDiscount: pf.EntryDiscount,
	}
	return nil
}

func (c *Config) Validate() error {
	if c.WalletAddress == "" || c.PrivateKey == "" {
		return ErrMissingCredentials
	}
	if err := ValidateParams(c.Params); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("RETRY_DELAY must be > 0")
	}
	if c.OrderSlippage < 0 || c.OrderSlippage >= 1 {
		return fmt.Errorf("ORDER_SLIPPAGE must be in [0, 1)")
	}
	if c.PriceFeed != FeedREST && c.PriceFeed != FeedWS {
		return fmt.Errorf("PRICE_FEED must be %q or %q, got %q", FeedREST, FeedWS, c.PriceFeed)
	}
	return nil
}

// ValidateParams проверяет инварианты TradeParameters: плечо > 0, все доли в (0, 1).
// Верхнюю границу плеча проверяет exchange по meta инструмента.
func ValidateParams(p models.TradeParameters) error {
	if !strings.Contains(p.Symbol, ":") {
		return fmt.Errorf("symbol %q is not a swap symbol (BASE/QUOTE:SETTLE)", p.Symbol)
	}
	if p.Leverage <= 0 {
		return fmt.Errorf("leverage must be > 0, got %d", p.Leverage)
	}
	fractions := []struct {
		name string
		v    float64
	}{
		{"portfolio_risk", p.PortfolioRisk},
		{"take_profit_pct", p.TakeProfitPct},
		{"stop_loss_pct", p.StopLossPct},
		{"entry_discount", p.EntryDiscount},
	}
	for _, f := range fractions {
		if f.v <= 0 || f.v >= 1 {
			return fmt.Errorf("%s must be in (0, 1), got %v", f.name, f.v)
		}
	}
	return nil
}
