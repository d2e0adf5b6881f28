package domain

// PnLReport is the realized result of one closed follower position. PnL
// fields are pointers: nil means the exchange report could not be matched
// and Err explains why.
type PnLReport struct {
	ID      string   `json:"id"` // UUID
	CID     int      `json:"cid"`
	Symbol  string   `json:"symbol"`
	PosSide PosSide  `json:"pos_side"`
	PnlUSDT *float64 `json:"pnl_usdt,omitempty"`
	PnlPct  *float64 `json:"pnl_pct,omitempty"`
	EntryTS int64    `json:"entry_ts"`
	ExitTS  int64    `json:"exit_ts"`
	Err     string   `json:"error,omitempty"`
}

// OrderAudit is one executed (or failed) follower order, journaled for
// later inspection.
type OrderAudit struct {
	ID          string  `json:"id"`
	CID         int     `json:"cid"`
	Symbol      string  `json:"symbol"`
	PosSide     PosSide `json:"pos_side"`
	Method      string  `json:"method"`
	Contracts   float64 `json:"contracts"`
	Price       string  `json:"price,omitempty"`
	Success     bool    `json:"success"`
	Reason      string  `json:"reason,omitempty"`
	MasterOrder string  `json:"master_order,omitempty"`
	CopyOrder   string  `json:"copy_order,omitempty"`
	TS          int64   `json:"ts"`
}
