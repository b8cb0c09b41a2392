package exchange

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"margin_trader/internal/models"
)

// У Hyperliquid режим маржи и плечо задаются одним действием updateLeverage,
// поэтому SetMarginMode тоже требует плечо.

func (c *Client) SetMarginMode(ctx context.Context, mode models.MarginMode, symbol string, leverage int) error {
	if mode != models.MarginCross && mode != models.MarginIsolated {
		return errors.Errorf("unsupported margin mode %q", mode)
	}
	if err := c.updateLeverage(ctx, symbol, mode, leverage); err != nil {
		return errors.Wrapf(err, "set margin mode %s", mode)
	}
	return nil
}

// SetLeverage использует режим, выставленный SetMarginMode (по умолчанию cross).
func (c *Client) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	mode := models.MarginCross
	if sym, err := ParseSymbol(symbol); err == nil {
		c.mu.RLock()
		if m, ok := c.marginModes[sym.Base]; ok {
			mode = m
		}
		c.mu.RUnlock()
	}
	if err := c.updateLeverage(ctx, symbol, mode, leverage); err != nil {
		return errors.Wrapf(err, "set leverage %dx", leverage)
	}
	return nil
}

func (c *Client) updateLeverage(ctx context.Context, symbol string, mode models.MarginMode, leverage int) error {
	asset, err := c.Asset(ctx, symbol)
	if err != nil {
		return err
	}
	if leverage <= 0 || (asset.MaxLeverage > 0 && leverage > asset.MaxLeverage) {
		return errors.Errorf("leverage %d out of range [1, %d] for %s", leverage, asset.MaxLeverage, asset.Name)
	}
	if mode == models.MarginCross && asset.OnlyIsolated {
		return errors.Errorf("%s supports isolated margin only", asset.Name)
	}

	_, err = c.exchange(ctx, updateLeverageAction{
		Type:     "updateLeverage",
		Asset:    asset.Index,
		IsCross:  mode == models.MarginCross,
		Leverage: leverage,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.marginModes[strings.ToUpper(asset.Name)] = mode
	c.mu.Unlock()
	return nil
}
