package relay

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// IntentFactory sizes follower orders from master events. It is the single
// place follower overrides (coefficient, random size, margin cap, leverage,
// delay) apply; close orders only ever resize via position state, never via
// the master's payload overrides.
type IntentFactory struct {
	fallbackLeverage   int
	fallbackMarginMode int

	// uniform draws from [lo, hi); swapped in tests for determinism.
	uniform func(lo, hi float64) float64
}

// NewIntentFactory builds a factory with the relay's fallback order
// parameters.
func NewIntentFactory(fallbackLeverage, fallbackMarginMode int) *IntentFactory {
	return &IntentFactory{
		fallbackLeverage:   fallbackLeverage,
		fallbackMarginMode: fallbackMarginMode,
		uniform: func(lo, hi float64) float64 {
			return lo + rand.Float64()*(hi-lo)
		},
	}
}

// Build derives a sized order intent. A non-empty drop reason means the
// event must be skipped for this follower.
func (f *IntentFactory) Build(cfg *domain.FollowerConfig, mev domain.MasterEvent, pv domain.PositionState, spec domain.ContractSpec) (*domain.OrderIntent, string) {
	payload := mev.Payload

	leverage := f.resolveLeverage(cfg, payload, pv, mev.Closed)
	if spec.MaxLeverage > 0 && leverage > spec.MaxLeverage {
		leverage = spec.MaxLeverage
	}
	openType := f.resolveOpenType(cfg, payload, pv, mev.Closed)

	coef := cfg.Coef
	if coef == 0 {
		coef = 1
	}
	lo, hi := cfg.RandomSizePct[0], cfg.RandomSizePct[1]
	rnd := 100.0
	if lo != 0 || (hi != 0 && hi > lo) {
		rnd = f.uniform(lo, hi)
	}

	sizingActive := (coef != 0 && coef != 1) || lo != 0 || hi != 0 || cfg.MaxMargin != 0

	delay := f.resolveDelay(cfg, mev)
	price := formatPrice(payload.Price, spec.PricePrecision)

	var qty float64
	var triggerPrice, slPrice, tpPrice string

	if mev.Closed {
		// Close sizes from our own position when sizing changed the open.
		qty = payload.Qty
		if sizingActive {
			qty = pv.Qty
		}
		if qty <= 0 {
			return nil, fmt.Sprintf("CLOSE_QTY_INVALID qty=%v", qty)
		}
	} else {
		qty = payload.Qty
		if qty <= 0 {
			return nil, fmt.Sprintf("QTY_PAYLOAD_INVALID qty=%v", qty)
		}

		if sizingActive {
			refPrice := payload.Price
			if refPrice == 0 {
				refPrice = pv.EntryPrice
			}
			qty = clampByMaxMargin(qty, cfg.MaxMargin, refPrice, leverage, coef, rnd, spec)
			if qty <= 0 {
				return nil, fmt.Sprintf("QTY_AFTER_CLAMP_INVALID price=%v max_margin=%v vol_unit=%v",
					refPrice, cfg.MaxMargin, spec.VolUnit)
			}
		}

		if payload.TriggerPrice != nil {
			triggerPrice = formatPrice(*payload.TriggerPrice, spec.PricePrecision)
		}
		if payload.StopLoss != nil {
			slPrice = formatPrice(*payload.StopLoss, spec.PricePrecision)
		}
		if payload.TakeProfit != nil {
			tpPrice = formatPrice(*payload.TakeProfit, spec.PricePrecision)
		}
	}

	return &domain.OrderIntent{
		Symbol:       mev.Symbol,
		PosSide:      mev.PosSide,
		Closed:       mev.Closed,
		Method:       mev.Method,
		Contracts:    qty,
		Leverage:     leverage,
		OpenType:     openType,
		Price:        price,
		TriggerPrice: triggerPrice,
		TriggerExec:  payload.TriggerExec,
		TakeProfit:   tpPrice,
		StopLoss:     slPrice,
		Delay:        delay,
	}, ""
}

// resolveLeverage picks the leverage by priority. Opens prefer the
// follower's override, closes prefer what the position was opened with.
func (f *IntentFactory) resolveLeverage(cfg *domain.FollowerConfig, payload domain.OrderPayload, pv domain.PositionState, closed bool) int {
	var order []int
	if closed {
		order = []int{pv.Leverage, payload.Leverage, cfg.Leverage}
	} else {
		order = []int{cfg.Leverage, payload.Leverage, pv.Leverage}
	}
	for _, v := range order {
		if v > 0 {
			return v
		}
	}
	return f.fallbackLeverage
}

func (f *IntentFactory) resolveOpenType(cfg *domain.FollowerConfig, payload domain.OrderPayload, pv domain.PositionState, closed bool) int {
	var order []int
	if closed {
		order = []int{pv.MarginMode, payload.OpenType, cfg.MarginMode}
	} else {
		order = []int{cfg.MarginMode, payload.OpenType, pv.MarginMode}
	}
	for _, v := range order {
		if v > 0 {
			return v
		}
	}
	return f.fallbackMarginMode
}

// resolveDelay draws the pre-submit delay window. Manual events are never
// delayed.
func (f *IntentFactory) resolveDelay(cfg *domain.FollowerConfig, mev domain.MasterEvent) time.Duration {
	if mev.SigType == domain.SigManual {
		return 0
	}
	lo := math.Abs(cfg.DelayMs[0])
	hi := math.Abs(cfg.DelayMs[1])
	if hi <= lo {
		return 0
	}
	return time.Duration(f.uniform(lo, hi)) * time.Millisecond
}

// clampByMaxMargin resizes a contract quantity through margin space: apply
// the coefficient and the random factor to the implied margin, cap it at
// maxMargin, then convert back to vol-unit aligned contracts.
func clampByMaxMargin(contracts, maxMargin, price float64, leverage int, coef, rnd float64, spec domain.ContractSpec) float64 {
	if !isFinite(contracts) {
		return 0
	}
	if price <= 0 || leverage <= 0 {
		return contracts
	}
	if !spec.Usable() {
		return contracts
	}

	margin := (contracts * spec.ContractSize * price) / float64(leverage)

	if coef != 0 && coef != 1 {
		margin *= math.Abs(coef)
	}
	if rnd != 0 && rnd != 100 {
		margin *= math.Abs(rnd / 100)
	}

	if margin > 0 && maxMargin > 0 && margin >= maxMargin {
		margin = math.Abs(maxMargin)
	} else if margin == 0 {
		return 0
	}

	baseQty := (margin * float64(leverage)) / price
	out := baseQty / spec.ContractSize
	out = math.Floor(out/spec.VolUnit) * spec.VolUnit
	out = roundTo(out, spec.ContractPrecision)

	if !isFinite(out) || out <= 0 {
		return 0
	}
	return out
}

// formatPrice renders a price rounded to the instrument's precision,
// without trailing zeros. Zero means absent.
func formatPrice(v float64, precision int) string {
	if v == 0 || !isFinite(v) {
		return ""
	}
	return decimal.NewFromFloat(v).Round(int32(precision)).String()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
