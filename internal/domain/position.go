package domain

// PendingState marks a position slot that closed on the exchange but still
// awaits realized-PnL reporting.
type PendingState string

const (
	PendingClosed PendingState = "CLOSED_PENDING"
)

// PositionState is the per-(symbol, side) slot of a position table. The
// master table drives translation; follower tables drive close sizing and
// PnL reporting.
type PositionState struct {
	InPosition bool
	Qty        float64
	EntryPrice float64 // open average, set once per position lifetime
	AvgPrice   float64 // hold average, follows the exchange
	Leverage   int
	MarginMode int
	EntryTS    int64 // unix ms, survives the slot reset until reported
	Pending    PendingState
}

// Reset clears the slot back to flat, keeping only the fields that must
// survive until the close is reported.
func (p *PositionState) Reset() {
	entryTS := p.EntryTS
	*p = PositionState{EntryTS: entryTS}
}

// Snapshot is a normalized open position as reported by the exchange.
type Snapshot struct {
	Symbol     string
	PosSide    PosSide
	Qty        float64
	EntryPrice float64
	AvgPrice   float64
	Leverage   int
	MarginMode int
}
