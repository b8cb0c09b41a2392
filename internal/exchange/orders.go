package exchange

import (
	"context"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"margin_trader/internal/models"
)

const (
	groupingNone       = "na"
	groupingNormalTpsl = "normalTpsl"
	tifGtc             = "Gtc"
	tifIoc             = "Ioc"
)

// CreateOrder ставит ордер. TakeProfitPrice/StopLossPrice в Params превращаются
// в reduce-only триггер-ордера (market по срабатыванию), сгруппированные
// с основным через normalTpsl.
//
// Market у Hyperliquid нет: эмулируем IOC-лимиткой по Price ± slippage.
func (c *Client) CreateOrder(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	if req.Amount <= 0 {
		return models.Order{}, errors.Errorf("CreateOrder: amount <= 0 (%v)", req.Amount)
	}
	if req.Price <= 0 {
		return models.Order{}, errors.Errorf("CreateOrder: price <= 0 (%v)", req.Price)
	}

	var isBuy bool
	switch req.Side {
	case models.SideBuy:
		isBuy = true
	case models.SideSell:
		isBuy = false
	default:
		return models.Order{}, errors.Errorf("CreateOrder: unsupported side %q", req.Side)
	}

	asset, err := c.Asset(ctx, req.Symbol)
	if err != nil {
		return models.Order{}, err
	}
	size := formatSize(req.Amount, asset.SzDecimals)
	if v, _ := strconv.ParseFloat(size, 64); v <= 0 {
		return models.Order{}, errors.Errorf("CreateOrder: size %v rounds to zero at %d decimals", req.Amount, asset.SzDecimals)
	}

	entry := orderWire{
		Asset:      asset.Index,
		IsBuy:      isBuy,
		Size:       size,
		ReduceOnly: req.Params.ReduceOnly,
	}
	switch req.Type {
	case models.OrderLimit:
		entry.Price = formatPrice(req.Price, asset.SzDecimals)
		entry.OrderType = orderTypeWire{Limit: &limitWire{Tif: tifGtc}}
	case models.OrderMarket:
		entry.Price = formatPrice(c.worstPrice(req.Price, isBuy), asset.SzDecimals)
		entry.OrderType = orderTypeWire{Limit: &limitWire{Tif: tifIoc}}
	default:
		return models.Order{}, errors.Errorf("CreateOrder: unsupported type %q", req.Type)
	}

	orders := []orderWire{entry}
	if px := req.Params.TakeProfitPrice; px > 0 {
		orders = append(orders, c.exitTrigger(asset, !isBuy, size, px, "tp"))
	}
	if px := req.Params.StopLossPrice; px > 0 {
		orders = append(orders, c.exitTrigger(asset, !isBuy, size, px, "sl"))
	}
	grouping := groupingNone
	if len(orders) > 1 {
		grouping = groupingNormalTpsl
	}

	raw, err := c.exchange(ctx, orderAction{
		Type:     "order",
		Orders:   orders,
		Grouping: grouping,
	})
	if err != nil {
		return models.Order{}, errors.Wrap(err, "place order")
	}
	return parseOrderResponse(req.Symbol, raw)
}

// exitTrigger: закрывающий reduce-only триггер. Цена p: худшая допустимая при исполнении.
func (c *Client) exitTrigger(asset AssetMeta, isBuy bool, size string, triggerPx float64, tpsl string) orderWire {
	return orderWire{
		Asset:      asset.Index,
		IsBuy:      isBuy,
		Price:      formatPrice(c.worstPrice(triggerPx, isBuy), asset.SzDecimals),
		Size:       size,
		ReduceOnly: true,
		OrderType: orderTypeWire{Trigger: &triggerWire{
			IsMarket:  true,
			TriggerPx: formatPrice(triggerPx, asset.SzDecimals),
			Tpsl:      tpsl,
		}},
	}
}

func (c *Client) worstPrice(px float64, isBuy bool) float64 {
	if isBuy {
		return px * (1 + c.slippage)
	}
	return px * (1 - c.slippage)
}

func parseOrderResponse(symbol string, raw []byte) (models.Order, error) {
	var body orderResponseBody
	if err := sonic.Unmarshal(raw, &body); err != nil {
		return models.Order{}, errors.Wrapf(err, "decode order response: %s", truncate(raw))
	}
	if len(body.Data.Statuses) == 0 {
		return models.Order{}, errors.Errorf("empty order statuses: %s", truncate(raw))
	}

	// первый статус: основной ордер, дальше TP/SL. Дочерние могут прийти строкой
	// ("waitingForTrigger"), такие пропускаем.
	var order models.Order
	for i, rawSt := range body.Data.Statuses {
		var st orderStatus
		if err := sonic.Unmarshal(rawSt, &st); err != nil {
			if i == 0 {
				return models.Order{}, errors.Wrapf(err, "decode order status: %s", string(rawSt))
			}
			continue
		}
		if st.Error != nil {
			return models.Order{}, &APIError{Message: *st.Error}
		}
		if i > 0 {
			continue
		}
		switch {
		case st.Resting != nil:
			order = models.Order{ID: strconv.FormatInt(st.Resting.Oid, 10), Symbol: symbol, Status: "resting"}
		case st.Filled != nil:
			order = models.Order{ID: strconv.FormatInt(st.Filled.Oid, 10), Symbol: symbol, Status: "filled"}
		default:
			return models.Order{}, errors.Errorf("unknown order status: %s", string(rawSt))
		}
	}
	return order, nil
}
