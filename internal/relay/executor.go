package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
)

// Executor issues derived orders on follower accounts. Execution per
// (account, symbol, side) is serialized via the order-book slot lock so a
// cancel can never overtake the placement it refers to.
type Executor struct {
	factory *IntentFactory
	specs   domain.SpecProvider
	uilog   *UILog
	logger  *slog.Logger

	// Audit, when set, receives one record per issued order or cancel.
	Audit func(domain.OrderAudit)
}

// NewExecutor builds an executor.
func NewExecutor(factory *IntentFactory, specs domain.SpecProvider, uilog *UILog, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		factory: factory,
		specs:   specs,
		uilog:   uilog,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

// HandleCopyEvent executes one master event on one follower runtime.
func (e *Executor) HandleCopyEvent(ctx context.Context, cfg domain.FollowerConfig, f *Follower, mev domain.MasterEvent) {
	cid := cfg.ID

	if f.Client == nil {
		e.logger.WarnContext(ctx, "client not initialized",
			slog.Int("cid", cid), slog.String("symbol", mev.Symbol))
		return
	}
	if !f.Session.WaitReady(ctx) {
		return
	}

	slot := f.Orders.Slot(mev.Symbol, mev.PosSide)
	slot.Lock()
	defer slot.Unlock()

	if mev.Event == domain.EventCanceled {
		e.cancelOrder(ctx, cid, f, mev, slot)
		return
	}

	// Ensure the position slot exists so reconciliation tracks it.
	var pv domain.PositionState
	f.Table.Mutate(mev.Symbol, mev.PosSide, func(st *domain.PositionState) { pv = *st })

	spec, _ := e.specs.Spec(mev.Symbol)

	intent, drop := e.factory.Build(&cfg, mev, pv, spec)
	if drop != "" {
		e.logger.WarnContext(ctx, "intent not built",
			slog.Int("cid", cid),
			slog.String("symbol", mev.Symbol),
			slog.String("side", string(mev.PosSide)),
			slog.String("reason", drop))
		e.uilog.Append(cid, fmt.Sprintf("%s %s :: INTENT DROP :: %s :: event=%s :: method=%s",
			mev.Symbol, mev.PosSide, drop, mev.Event, mev.Method))
		return
	}

	if intent.Delay > 0 && !mev.Closed {
		select {
		case <-ctx.Done():
			return
		case <-time.After(intent.Delay):
		}
	}

	switch {
	case mev.Closed:
		e.closePosition(ctx, cid, f, mev, intent, slot)
	case intent.Method == domain.MethodMarket || intent.Method == domain.MethodLimit:
		e.placeOrder(ctx, cid, f, mev, intent, slot)
	case intent.Method == domain.MethodTrigger:
		e.placeTrigger(ctx, cid, f, mev, intent, slot)
	}
}

// placeOrder issues a market or limit order and records limit placements
// under the master order id.
func (e *Executor) placeOrder(ctx context.Context, cid int, f *Follower, mev domain.MasterEvent, intent *domain.OrderIntent, slot *SideOrders) {
	price := ""
	if intent.Method == domain.MethodLimit {
		price = intent.Price
	}

	res, err := f.Client.PlaceOrder(ctx, mexc.OrderParams{
		Symbol:       intent.Symbol,
		Contracts:    intent.Contracts,
		Side:         tradeSide(mev.Event),
		PositionSide: intent.PosSide,
		Method:       intent.Method,
		Leverage:     intent.Leverage,
		OpenType:     intent.OpenType,
		Price:        price,
		StopLoss:     intent.StopLoss,
		TakeProfit:   intent.TakeProfit,
	})
	res = foldErr(res, err)
	e.recordLatency(ctx, cid, mev, res)
	e.audit(cid, mev, intent, res)

	if !res.Success {
		f.SetError(res.Reason)
		e.uilog.Append(cid, fmt.Sprintf("%s %s :: %s FAILED: %s",
			intent.Symbol, intent.PosSide, methodLabel(intent.Method), res.Reason))
		return
	}

	if intent.Method == domain.MethodLimit && mev.Payload.OrderID != "" {
		slot.RecordLimit(mev.Payload.OrderID, &OrderRecord{
			CopyOrderID: res.OrderID,
			Price:       intent.Price,
			Qty:         intent.Contracts,
			Status:      domain.CopyOrderOpen,
		})
	}
}

// placeTrigger issues a plan order and records it under the master order id.
func (e *Executor) placeTrigger(ctx context.Context, cid int, f *Follower, mev domain.MasterEvent, intent *domain.OrderIntent, slot *SideOrders) {
	res, err := f.Client.PlaceTriggerOrder(ctx, mexc.TriggerParams{
		Symbol:       intent.Symbol,
		Contracts:    intent.Contracts,
		Side:         tradeSide(mev.Event),
		PositionSide: intent.PosSide,
		TriggerPrice: intent.TriggerPrice,
		Leverage:     intent.Leverage,
		OpenType:     intent.OpenType,
		ExecLimit:    intent.TriggerExec == 1,
	})
	res = foldErr(res, err)
	e.recordLatency(ctx, cid, mev, res)
	e.audit(cid, mev, intent, res)

	if !res.Success {
		f.SetError(res.Reason)
		e.uilog.Append(cid, fmt.Sprintf("%s %s :: TRIGGER FAILED: %s",
			intent.Symbol, intent.PosSide, res.Reason))
		return
	}

	if mev.Payload.OrderID != "" {
		slot.RecordTrigger(mev.Payload.OrderID, &OrderRecord{
			CopyOrderID:  res.OrderID,
			TriggerPrice: intent.TriggerPrice,
			Qty:          intent.Contracts,
			Status:       domain.CopyOrderOpen,
		})
	}
}

// closePosition market-closes the slot. Manual closes additionally sweep
// every recorded open order of the slot.
func (e *Executor) closePosition(ctx context.Context, cid int, f *Follower, mev domain.MasterEvent, intent *domain.OrderIntent, slot *SideOrders) {
	res, err := f.Client.PlaceOrder(ctx, mexc.OrderParams{
		Symbol:       intent.Symbol,
		Contracts:    intent.Contracts,
		Side:         tradeSide(mev.Event),
		PositionSide: intent.PosSide,
		Method:       domain.MethodMarket,
		Leverage:     intent.Leverage,
		OpenType:     intent.OpenType,
	})
	res = foldErr(res, err)
	e.recordLatency(ctx, cid, mev, res)
	e.audit(cid, mev, intent, res)

	if !res.Success {
		f.SetError(res.Reason)
		e.uilog.Append(cid, fmt.Sprintf("%s %s :: CLOSE FAILED: %s",
			intent.Symbol, intent.PosSide, res.Reason))
		return
	}

	if mev.SigType != domain.SigManual {
		return
	}

	limitIDs, triggerIDs := slot.OpenIDs()
	if len(limitIDs) == 0 && len(triggerIDs) == 0 {
		return
	}

	cancelRes, err := f.Client.CancelBulk(ctx, limitIDs, triggerIDs, intent.Symbol)
	cancelRes = foldErr(cancelRes, err)
	if cancelRes.Success {
		slot.Clear()
	} else {
		e.uilog.Append(cid, fmt.Sprintf("%s %s :: CANCEL FAILED: %s",
			intent.Symbol, intent.PosSide, cancelRes.Reason))
	}
}

// cancelOrder cancels the derived order of a master cancel. Missing records
// are logged and skipped so replayed cancels stay idempotent.
func (e *Executor) cancelOrder(ctx context.Context, cid int, f *Follower, mev domain.MasterEvent, slot *SideOrders) {
	masterOID := mev.Payload.OrderID
	if masterOID == "" {
		e.uilog.Append(cid, fmt.Sprintf("%s %s :: CANCEL SKIP (no master order_id)",
			mev.Symbol, mev.PosSide))
		return
	}

	switch mev.Method {
	case domain.MethodLimit:
		rec := slot.TakeLimit(masterOID)
		if rec == nil {
			e.uilog.Append(cid, fmt.Sprintf("%s %s :: LIMIT CANCEL MISS master_oid=%s",
				mev.Symbol, mev.PosSide, masterOID))
			return
		}
		if rec.CopyOrderID == "" {
			return
		}

		res, err := f.Client.CancelOrders(ctx, []string{rec.CopyOrderID})
		res = foldErr(res, err)
		e.recordLatency(ctx, cid, mev, res)
		if res.Success {
			e.uilog.Append(cid, fmt.Sprintf("%s %s :: LIMIT CANCELED copy_oid=%s",
				mev.Symbol, mev.PosSide, rec.CopyOrderID))
		} else {
			e.uilog.Append(cid, fmt.Sprintf("%s %s :: LIMIT CANCEL FAILED copy_oid=%s",
				mev.Symbol, mev.PosSide, rec.CopyOrderID))
		}

	case domain.MethodTrigger:
		rec := slot.TakeTrigger(masterOID)
		if rec == nil {
			e.uilog.Append(cid, fmt.Sprintf("%s %s :: TRIGGER CANCEL MISS master_oid=%s",
				mev.Symbol, mev.PosSide, masterOID))
			return
		}
		if rec.CopyOrderID == "" {
			return
		}

		res, err := f.Client.CancelTriggerOrders(ctx, []string{rec.CopyOrderID}, mev.Symbol)
		res = foldErr(res, err)
		e.recordLatency(ctx, cid, mev, res)
		if res.Success {
			e.uilog.Append(cid, fmt.Sprintf("%s %s :: TRIGGER CANCELED copy_oid=%s",
				mev.Symbol, mev.PosSide, rec.CopyOrderID))
		} else {
			e.uilog.Append(cid, fmt.Sprintf("%s %s :: TRIGGER CANCEL FAILED copy_oid=%s",
				mev.Symbol, mev.PosSide, rec.CopyOrderID))
		}
	}
}

// recordLatency logs master-to-copy latency at debug level.
func (e *Executor) recordLatency(ctx context.Context, cid int, mev domain.MasterEvent, res domain.OrderResult) {
	if mev.TS == 0 || res.TS == 0 {
		return
	}
	e.logger.DebugContext(ctx, "copy latency",
		slog.Int("cid", cid),
		slog.String("symbol", mev.Symbol),
		slog.String("side", string(mev.PosSide)),
		slog.Int64("latency_ms", res.TS-mev.TS))
}

func (e *Executor) audit(cid int, mev domain.MasterEvent, intent *domain.OrderIntent, res domain.OrderResult) {
	if e.Audit == nil {
		return
	}
	e.Audit(domain.OrderAudit{
		ID:          uuid.NewString(),
		CID:         cid,
		Symbol:      intent.Symbol,
		PosSide:     intent.PosSide,
		Method:      string(intent.Method),
		Contracts:   intent.Contracts,
		Price:       intent.Price,
		Success:     res.Success,
		Reason:      res.Reason,
		MasterOrder: mev.Payload.OrderID,
		CopyOrder:   res.OrderID,
		TS:          domain.NowMillis(),
	})
}

// foldErr folds a transport error into a failed result.
func foldErr(res domain.OrderResult, err error) domain.OrderResult {
	if err != nil {
		return domain.OrderResult{Reason: err.Error(), TS: domain.NowMillis()}
	}
	if !res.Success && res.Reason == "" {
		res.Reason = "UNKNOWN"
	}
	return res
}

func tradeSide(kind domain.EventKind) string {
	if kind == domain.EventSell {
		return "SELL"
	}
	return "BUY"
}

func methodLabel(m domain.ExecMethod) string {
	return strings.ToUpper(string(m))
}
