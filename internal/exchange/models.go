package exchange

import "encoding/json"

// ===== info =====

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type AssetMeta struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
	IsDelisted   bool   `json:"isDelisted"`

	Index int `json:"-"`
}

type metaResponse struct {
	Universe []AssetMeta `json:"universe"`
}

type assetCtx struct {
	Funding      string  `json:"funding"`
	OpenInterest string  `json:"openInterest"`
	PrevDayPx    string  `json:"prevDayPx"`
	DayNtlVlm    string  `json:"dayNtlVlm"`
	OraclePx     string  `json:"oraclePx"`
	MarkPx       string  `json:"markPx"`
	MidPx        *string `json:"midPx"`
}

type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUsd     string `json:"totalRawUsd"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

type clearinghouseState struct {
	MarginSummary      marginSummary `json:"marginSummary"`
	CrossMarginSummary marginSummary `json:"crossMarginSummary"`
	Withdrawable       string        `json:"withdrawable"`
	Time               int64         `json:"time"`
}

// ===== exchange actions =====
//
// Порядок полей важен: hash действия считается от msgpack, а он кодирует
// структуру как map в порядке объявления полей.

type updateLeverageAction struct {
	Type     string `msgpack:"type" json:"type"`
	Asset    int    `msgpack:"asset" json:"asset"`
	IsCross  bool   `msgpack:"isCross" json:"isCross"`
	Leverage int    `msgpack:"leverage" json:"leverage"`
}

type limitWire struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type triggerWire struct {
	IsMarket  bool   `msgpack:"isMarket" json:"isMarket"`
	TriggerPx string `msgpack:"triggerPx" json:"triggerPx"`
	Tpsl      string `msgpack:"tpsl" json:"tpsl"`
}

type orderTypeWire struct {
	Limit   *limitWire   `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Trigger *triggerWire `msgpack:"trigger,omitempty" json:"trigger,omitempty"`
}

type orderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	Price      string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	OrderType  orderTypeWire `msgpack:"t" json:"t"`
}

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []orderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V byte   `json:"v"`
}

type exchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type orderResponseBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting"`
	Filled *struct {
		Oid     int64  `json:"oid"`
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
	} `json:"filled"`
	Error *string `json:"error"`
}
