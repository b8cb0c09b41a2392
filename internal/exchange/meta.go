package exchange

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Symbol: разобранный унифицированный символ "BASE/QUOTE:SETTLE".
type Symbol struct {
	Base   string
	Quote  string
	Settle string
}

// ParseSymbol принимает только перпетуалы (с ":SETTLE"), спот не торгуем.
func ParseSymbol(s string) (Symbol, error) {
	pair, settle, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || settle == "" {
		return Symbol{}, errors.Wrapf(ErrUnknownSymbol, "%q is not a swap symbol", s)
	}
	base, quote, ok := strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" {
		return Symbol{}, errors.Wrapf(ErrUnknownSymbol, "malformed symbol %q", s)
	}
	return Symbol{
		Base:   strings.ToUpper(base),
		Quote:  strings.ToUpper(quote),
		Settle: strings.ToUpper(settle),
	}, nil
}

// Asset возвращает meta инструмента (индекс, szDecimals, maxLeverage).
// Universe грузится один раз и кешируется.
func (c *Client) Asset(ctx context.Context, symbol string) (AssetMeta, error) {
	sym, err := ParseSymbol(symbol)
	if err != nil {
		return AssetMeta{}, err
	}

	c.mu.RLock()
	meta, ok := c.assets[sym.Base]
	loaded := len(c.assets) > 0
	c.mu.RUnlock()
	if ok {
		return meta, nil
	}
	if !loaded {
		if err := c.loadMeta(ctx); err != nil {
			return AssetMeta{}, err
		}
		c.mu.RLock()
		meta, ok = c.assets[sym.Base]
		c.mu.RUnlock()
		if ok {
			return meta, nil
		}
	}
	return AssetMeta{}, errors.Wrapf(ErrUnknownSymbol, "%s not listed", sym.Base)
}

func (c *Client) loadMeta(ctx context.Context) error {
	var resp metaResponse
	if err := c.info(ctx, infoRequest{Type: "meta"}, &resp); err != nil {
		return errors.Wrap(err, "load meta")
	}
	c.storeUniverse(resp.Universe)
	return nil
}

func (c *Client) storeUniverse(universe []AssetMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range universe {
		a.Index = i
		c.assets[strings.ToUpper(a.Name)] = a
	}
}
