package domain

import "time"

// OrderIntent is a fully sized follower order, produced by the intent
// factory and consumed by the executor. Prices are canonical decimal
// strings (already rounded to the instrument's price precision).
type OrderIntent struct {
	Symbol       string
	PosSide      PosSide
	Closed       bool
	Method       ExecMethod
	Contracts    float64 // instrument contracts, vol-unit aligned
	Leverage     int
	OpenType     int
	Price        string // limit price, empty for market
	TriggerPrice string
	TriggerExec  int // 1 = limit execution on trigger, else market
	TakeProfit   string
	StopLoss     string
	Delay        time.Duration // pre-submit delay, zero for close/manual
}

// CopyOrderStatus tracks a recorded follower order.
type CopyOrderStatus string

const (
	CopyOrderOpen CopyOrderStatus = "OPEN"
)

// CopyOrder links a master order id to the follower order derived from it.
type CopyOrder struct {
	CopyOrderID string
	Status      CopyOrderStatus
	PlacedTS    int64
}

// OrderResult is the normalized outcome of a private order call. Business
// failures come back as Success=false with Reason; transport failures are
// returned as errors by the client.
type OrderResult struct {
	Success  bool
	OrderID  string
	OrderIDs []string
	Code     int
	Reason   string
	TS       int64
}
