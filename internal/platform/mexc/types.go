// Package mexc implements the MEXC USDT-margined futures API surface the
// relay depends on: the private contract REST API, the public instrument
// endpoints, and the authenticated personal push websocket.
package mexc

import "encoding/json"

// OrderSide is the wire order side of the contract API.
type OrderSide int

const (
	OrderSideOpenLong   OrderSide = 1
	OrderSideCloseLong  OrderSide = 2
	OrderSideOpenShort  OrderSide = 3
	OrderSideCloseShort OrderSide = 4
)

// OrderType is the wire order type.
type OrderType int

const (
	OrderTypePriceLimited OrderType = 1
	OrderTypeMarket       OrderType = 5
)

// OpenType is the wire margin mode.
type OpenType int

const (
	OpenTypeIsolated OpenType = 1
	OpenTypeCross    OpenType = 2
)

// TriggerType selects the trigger comparison of a plan order.
type TriggerType int

const (
	TriggerLessThanOrEqual    TriggerType = 1
	TriggerGreaterThanOrEqual TriggerType = 2
)

// Trigger order constants: trend picks the price the trigger watches,
// executeCycle bounds how long the trigger stays armed.
const (
	TrendLatestPrice          = 1
	ExecuteCycleUntilCanceled = 2
)

// apiResponse is the uniform envelope of the contract API.
type apiResponse struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// createOrderRequest is the body of POST /private/order/submit.
type createOrderRequest struct {
	Symbol          string    `json:"symbol"`
	Side            OrderSide `json:"side"`
	Vol             float64   `json:"vol"`
	Leverage        int       `json:"leverage,omitempty"`
	OpenType        OpenType  `json:"openType"`
	Type            OrderType `json:"type"`
	Price           string    `json:"price,omitempty"`
	StopLossPrice   string    `json:"stopLossPrice,omitempty"`
	TakeProfitPrice string    `json:"takeProfitPrice,omitempty"`
}

// triggerOrderRequest is the body of POST /private/planorder/place.
type triggerOrderRequest struct {
	Symbol       string      `json:"symbol"`
	Side         OrderSide   `json:"side"`
	Vol          float64     `json:"vol"`
	Leverage     int         `json:"leverage,omitempty"`
	OpenType     OpenType    `json:"openType"`
	OrderType    OrderType   `json:"orderType"`
	ExecuteCycle int         `json:"executeCycle"`
	Trend        int         `json:"trend"`
	TriggerPrice string      `json:"triggerPrice"`
	TriggerType  TriggerType `json:"triggerType"`
}

// triggerCancelEntry identifies one trigger order in a bulk cancel.
type triggerCancelEntry struct {
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
}

// PositionEntry is one open position row from
// GET /private/position/open_positions.
type PositionEntry struct {
	Symbol       string  `json:"symbol"`
	PositionType int     `json:"positionType"` // 1=LONG, 2=SHORT
	State        int     `json:"state"`        // 1=holding, 2=system-held, 3=closed
	HoldVol      float64 `json:"holdVol"`
	OpenAvgPrice float64 `json:"openAvgPrice"`
	HoldAvgPrice float64 `json:"holdAvgPrice"`
	Leverage     int     `json:"leverage"`
	OpenType     int     `json:"openType"`
}

// historyRow is one row of the historical position report used for realized
// PnL accounting.
type historyRow struct {
	Symbol       string  `json:"symbol"`
	PositionType int     `json:"positionType"`
	Realised     float64 `json:"realised"`
	ProfitRatio  float64 `json:"profitRatio"`
	UpdateTime   int64   `json:"updateTime"`
}

// instrumentEntry is one row of GET /contract/detail.
type instrumentEntry struct {
	Symbol       string      `json:"symbol"`
	BaseCoinName string      `json:"baseCoinName"`
	VolScale     *int        `json:"volScale"`
	PriceScale   *int        `json:"priceScale"`
	ContractSize float64     `json:"contractSize"`
	PriceUnit    float64     `json:"priceUnit"`
	VolUnit      float64     `json:"volUnit"`
	MaxLeverage  json.Number `json:"maxLeverage"`
}

// wsEnvelope is the outer frame of every personal push message.
type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// wsLoginRequest is the websocket authentication frame.
type wsLoginRequest struct {
	Method string       `json:"method"`
	Param  wsLoginParam `json:"param"`
}

type wsLoginParam struct {
	APIKey    string `json:"apiKey"`
	ReqTime   int64  `json:"reqTime"`
	Signature string `json:"signature"`
}
