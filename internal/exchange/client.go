package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"margin_trader/internal/models"
)

var ErrUnknownSymbol = errors.New("unknown symbol")

// APIError: отказ биржи: HTTP не 2xx, status=err или error в статусе ордера.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("hyperliquid http %d: %s", e.Status, e.Message)
	}
	return "hyperliquid: " + e.Message
}

// InfoPoster: источник info-запросов: REST /info или websocket post.
type InfoPoster interface {
	PostInfo(ctx context.Context, req any) ([]byte, error)
}

type Options struct {
	BaseURL       string
	WalletAddress string
	PrivateKey    string
	Mainnet       bool
	Timeout       time.Duration
	RateLimitRPS  float64
	Slippage      float64

	// TickerFeed: откуда брать тикер. nil => REST /info.
	TickerFeed InfoPoster
}

// Client: тонкий клиент Hyperliquid perps под нужды трейдера:
// meta/тикер/баланс через /info, плечо и ордера через подписанный /exchange.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	signer  *Signer
	wallet  common.Address
	feed    InfoPoster

	slippage float64
	now      func() time.Time

	mu          sync.RWMutex
	assets      map[string]AssetMeta // coin -> meta
	marginModes map[string]models.MarginMode
	lastNonce   uint64
}

func NewClient(opts Options) (*Client, error) {
	signer, err := NewSigner(opts.PrivateKey, opts.Mainnet)
	if err != nil {
		return nil, err
	}

	wallet := signer.Address()
	if opts.WalletAddress != "" {
		if !common.IsHexAddress(opts.WalletAddress) {
			return nil, errors.Errorf("invalid wallet address %q", opts.WalletAddress)
		}
		wallet = common.HexToAddress(opts.WalletAddress)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}

	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetJSONMarshaler(sonic.Marshal).
			SetJSONUnmarshaler(sonic.Unmarshal),
		limiter:     rate.NewLimiter(limit, 1),
		signer:      signer,
		wallet:      wallet,
		slippage:    opts.Slippage,
		now:         time.Now,
		assets:      make(map[string]AssetMeta),
		marginModes: make(map[string]models.MarginMode),
	}
	c.feed = opts.TickerFeed
	if c.feed == nil {
		c.feed = c
	}
	return c, nil
}

// Wallet: адрес аккаунта, по которому читается баланс.
func (c *Client) Wallet() common.Address { return c.wallet }

// AgentWallet: true, если подписывающий ключ не совпадает с кошельком аккаунта.
func (c *Client) AgentWallet() bool { return c.signer.Address() != c.wallet }

// PostInfo: REST /info.
func (c *Client) PostInfo(ctx context.Context, req any) ([]byte, error) {
	return c.post(ctx, "/info", req)
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", path)
	}
	if resp.IsError() {
		return nil, &APIError{Status: resp.StatusCode(), Message: strings.TrimSpace(string(resp.Body()))}
	}
	return resp.Body(), nil
}

func (c *Client) info(ctx context.Context, req any, out any) error {
	body, err := c.PostInfo(ctx, req)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "decode info response: %s", truncate(body))
	}
	return nil
}

// nextNonce: миллисекунды, строго возрастающие в пределах процесса.
func (c *Client) nextNonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := uint64(c.now().UnixMilli())
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// exchange подписывает действие и отправляет в /exchange. Возвращает поле response.
func (c *Client) exchange(ctx context.Context, action any) ([]byte, error) {
	nonce := c.nextNonce()
	sig, err := c.signer.SignL1Action(action, nonce, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, "/exchange", exchangeRequest{
		Action:    action,
		Nonce:     nonce,
		Signature: sig,
	})
	if err != nil {
		return nil, err
	}

	var wrap exchangeResponse
	if err := sonic.Unmarshal(body, &wrap); err != nil {
		return nil, errors.Wrapf(err, "decode exchange response: %s", truncate(body))
	}
	if wrap.Status != "ok" {
		var msg string
		if err := sonic.Unmarshal(wrap.Response, &msg); err != nil {
			msg = string(wrap.Response)
		}
		return nil, &APIError{Message: msg}
	}
	return wrap.Response, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
