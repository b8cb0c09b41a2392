package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"margin_trader/internal/models"
)

// FetchTicker: тикер перпа из metaAndAssetCtxs. Last = midPx, если книги нет, markPx.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (models.Ticker, error) {
	sym, err := ParseSymbol(symbol)
	if err != nil {
		return models.Ticker{}, err
	}

	body, err := c.feed.PostInfo(ctx, infoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return models.Ticker{}, errors.Wrap(err, "fetch ticker")
	}

	var pair []json.RawMessage
	if err := sonic.Unmarshal(body, &pair); err != nil || len(pair) != 2 {
		return models.Ticker{}, errors.Errorf("unexpected metaAndAssetCtxs shape: %s", truncate(body))
	}
	var meta metaResponse
	if err := sonic.Unmarshal(pair[0], &meta); err != nil {
		return models.Ticker{}, errors.Wrap(err, "decode meta")
	}
	var ctxs []assetCtx
	if err := sonic.Unmarshal(pair[1], &ctxs); err != nil {
		return models.Ticker{}, errors.Wrap(err, "decode asset ctxs")
	}
	// заодно освежаем кеш meta
	c.storeUniverse(meta.Universe)

	for i, a := range meta.Universe {
		if !strings.EqualFold(a.Name, sym.Base) {
			continue
		}
		if i >= len(ctxs) {
			break
		}
		return tickerFromCtx(symbol, ctxs[i], c.now())
	}
	return models.Ticker{}, errors.Wrapf(ErrUnknownSymbol, "%s not listed", sym.Base)
}

func tickerFromCtx(symbol string, ac assetCtx, now time.Time) (models.Ticker, error) {
	mark, err := parseNum("markPx", ac.MarkPx)
	if err != nil {
		return models.Ticker{}, err
	}
	last := mark
	if ac.MidPx != nil && *ac.MidPx != "" {
		if last, err = parseNum("midPx", *ac.MidPx); err != nil {
			return models.Ticker{}, err
		}
	}
	oracle, _ := strconv.ParseFloat(ac.OraclePx, 64)
	prev, _ := strconv.ParseFloat(ac.PrevDayPx, 64)

	return models.Ticker{
		Symbol:    symbol,
		Last:      last,
		Mark:      mark,
		Oracle:    oracle,
		PrevDay:   prev,
		Timestamp: now,
	}, nil
}

// FetchBalance: баланс перп-аккаунта. Total = accountValue (как у ccxt),
// Used = totalMarginUsed, Free = withdrawable. Ключ: quote (USDC).
func (c *Client) FetchBalance(ctx context.Context) (models.Balance, error) {
	var st clearinghouseState
	req := infoRequest{Type: "clearinghouseState", User: c.wallet.Hex()}
	if err := c.info(ctx, req, &st); err != nil {
		return nil, errors.Wrap(err, "fetch balance")
	}

	total, err := parseNum("accountValue", st.MarginSummary.AccountValue)
	if err != nil {
		return nil, err
	}
	used, _ := strconv.ParseFloat(st.MarginSummary.TotalMarginUsed, 64)
	free, _ := strconv.ParseFloat(st.Withdrawable, 64)

	return models.Balance{
		"USDC": {Free: free, Used: used, Total: total},
	}, nil
}

func parseNum(name, s string) (float64, error) {
	if s == "" {
		return 0, errors.Errorf("%s empty", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s parse %q", name, s)
	}
	return v, nil
}
