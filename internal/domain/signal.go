package domain

import "time"

// PosSide is the position direction on a hedged futures account.
type PosSide string

const (
	PosSideLong  PosSide = "LONG"
	PosSideShort PosSide = "SHORT"
)

// Other returns the opposite direction.
func (s PosSide) Other() PosSide {
	if s == PosSideLong {
		return PosSideShort
	}
	return PosSideLong
}

// SignalEventType classifies a raw push from the master account stream.
type SignalEventType string

const (
	SignalLimitPlaced    SignalEventType = "limit_placed"
	SignalLimitFilled    SignalEventType = "limit_filled"
	SignalMarketFilled   SignalEventType = "market_filled"
	SignalTriggerFilled  SignalEventType = "trigger_filled"
	SignalOrderCancelled SignalEventType = "order_cancelled"
	SignalOrderInvalid   SignalEventType = "order_invalid"
	SignalPositionOpened SignalEventType = "position_opened"
	SignalPositionClosed SignalEventType = "position_closed"
	SignalPlanOrder      SignalEventType = "plan_order"
	SignalPlanExecuted   SignalEventType = "plan_executed"
	SignalPlanCancelled  SignalEventType = "plan_cancelled"
	SignalOCOAttached    SignalEventType = "oco_attached"
)

// SignalEvent is one classified push from the master stream. Raw keeps the
// decoded exchange payload so the translator can read exchange-specific
// fields without the stream layer knowing about them.
type SignalEvent struct {
	Type    SignalEventType
	Symbol  string
	PosSide PosSide
	TechTS  int64 // local receive time, unix ms
	Raw     map[string]any
}

// EventKind is the action a derived master event asks followers to take.
type EventKind string

const (
	EventBuy      EventKind = "buy"
	EventSell     EventKind = "sell"
	EventCanceled EventKind = "canceled"
)

// ExecMethod selects the order placement path on the follower side.
type ExecMethod string

const (
	MethodMarket  ExecMethod = "market"
	MethodLimit   ExecMethod = "limit"
	MethodTrigger ExecMethod = "trigger"
)

// SigType distinguishes stream-derived events from operator commands.
type SigType string

const (
	SigCopy   SigType = "copy"
	SigManual SigType = "manual"
)

// OrderPayload carries the master-side order facts a follower order is
// derived from. Zero values mean "absent"; optional prices are pointers so
// absence survives serialization.
type OrderPayload struct {
	OrderID      string   `json:"order_id"`
	Qty          float64  `json:"qty"`
	Price        float64  `json:"price"`
	Leverage     int      `json:"leverage"`
	OpenType     int      `json:"open_type"`
	ReduceOnly   bool     `json:"reduce_only"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
	StopLoss     *float64 `json:"stop_loss,omitempty"`
	TriggerPrice *float64 `json:"trigger_price,omitempty"`
	TriggerExec  int      `json:"trigger_exec,omitempty"`
	ExecTS       int64    `json:"exec_ts,omitempty"` // exchange-side timestamp, unix ms
}

// MasterEvent is a fully translated master action, ready for fan-out.
type MasterEvent struct {
	Event   EventKind    `json:"event"`
	Method  ExecMethod   `json:"method,omitempty"`
	Symbol  string       `json:"symbol"`
	PosSide PosSide      `json:"pos_side"`
	Closed  bool         `json:"closed"`
	Payload OrderPayload `json:"payload"`
	SigType SigType      `json:"sig_type"`
	TS      int64        `json:"ts"` // unix ms, min(exchange ts, receive ts)
	CID     int          `json:"cid,omitempty"` // >0 binds a manual event to one follower
}

// NowMillis is the single clock used for event timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
