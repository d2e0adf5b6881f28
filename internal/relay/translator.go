package relay

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// Translator turns classified stream events into master events. Only
// execution reports produce signals: a placed limit order is an intent, a
// fill is an execution, and attached stop orders are state consumed by the
// next fill, never a signal of their own.
type Translator struct {
	cache   *SignalCache
	out     chan<- domain.MasterEvent
	intents *IntentSet
	logger  *slog.Logger

	mu  sync.Mutex
	oco map[PositionKey]ocoIntent
}

type ocoIntent struct {
	tp *float64
	sl *float64
}

// NewTranslator builds a translator reading from cache and writing to out.
func NewTranslator(cache *SignalCache, out chan<- domain.MasterEvent, intents *IntentSet, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{
		cache:   cache,
		out:     out,
		intents: intents,
		logger:  logger.With(slog.String("component", "translator")),
		oco:     make(map[PositionKey]ocoIntent),
	}
}

// Run consumes the cache until ctx is done.
func (t *Translator) Run(ctx context.Context) {
	t.logger.InfoContext(ctx, "translator ready")
	for {
		events, err := t.cache.PopEvents(ctx)
		if err != nil {
			t.logger.InfoContext(ctx, "translator stopped")
			return
		}
		for _, ev := range events {
			for _, mev := range t.route(ev) {
				select {
				case t.out <- mev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// route translates one stream event into zero or more master events.
func (t *Translator) route(ev domain.SignalEvent) []domain.MasterEvent {
	if ev.Symbol == "" || ev.PosSide == "" {
		return nil
	}
	raw := ev.Raw
	if raw == nil {
		raw = map[string]any{}
	}

	switch ev.Type {
	case domain.SignalOCOAttached:
		// State, not a signal. Remembered until the next fill consumes it.
		t.mu.Lock()
		key := PositionKey{Symbol: ev.Symbol, Side: ev.PosSide}
		intent := t.oco[key]
		if tp := asOptFloat(raw["tp"]); tp != nil {
			intent.tp = tp
		}
		if sl := asOptFloat(raw["sl"]); sl != nil {
			intent.sl = sl
		}
		t.oco[key] = intent
		t.mu.Unlock()
		return nil

	case domain.SignalMarketFilled:
		reduceOnly := asBool(raw["reduceOnly"])
		emitSide := ev.PosSide
		if reduceOnly {
			emitSide = emitSide.Other()
		}

		payload := basePayload(raw)
		t.injectOCO(&payload, ev.Symbol, emitSide)

		kind := domain.EventBuy
		if reduceOnly {
			kind = domain.EventSell
		}
		return []domain.MasterEvent{
			t.emit(ev, kind, domain.MethodMarket, emitSide, reduceOnly, payload),
		}

	case domain.SignalLimitFilled:
		oid := asID(raw["orderId"])
		// Our own copied intent filling is not a new signal.
		if oid != "" && t.intents.Consume(oid) {
			return nil
		}

		payload := basePayload(raw)
		t.injectOCO(&payload, ev.Symbol, ev.PosSide)
		return []domain.MasterEvent{
			t.emit(ev, domain.EventBuy, domain.MethodLimit, ev.PosSide, false, payload),
		}

	case domain.SignalLimitPlaced:
		if oid := asID(raw["orderId"]); oid != "" {
			t.intents.Add(oid)
		}
		return []domain.MasterEvent{
			t.emit(ev, domain.EventBuy, domain.MethodLimit, ev.PosSide, false, basePayload(raw)),
		}

	case domain.SignalTriggerFilled:
		reduceOnly := asBool(raw["reduceOnly"])
		isSell := asInt(raw["side"]) != 1 && asInt(raw["side"]) != 3

		emitSide := ev.PosSide
		if reduceOnly {
			emitSide = emitSide.Other()
		}

		payload := basePayload(raw)
		t.injectOCO(&payload, ev.Symbol, emitSide)

		kind := domain.EventBuy
		if isSell {
			kind = domain.EventSell
		}
		return []domain.MasterEvent{
			t.emit(ev, kind, domain.MethodTrigger, emitSide, reduceOnly, payload),
		}

	case domain.SignalOrderCancelled, domain.SignalOrderInvalid:
		oid := asID(raw["orderId"])
		if oid != "" {
			t.intents.Discard(oid)
		}
		return []domain.MasterEvent{
			t.emit(ev, domain.EventCanceled, domain.MethodLimit, ev.PosSide, false,
				domain.OrderPayload{OrderID: oid}),
		}
	}
	return nil
}

// injectOCO moves remembered stop prices into the payload exactly once.
func (t *Translator) injectOCO(payload *domain.OrderPayload, symbol string, side domain.PosSide) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := PositionKey{Symbol: symbol, Side: side}
	intent, ok := t.oco[key]
	if !ok {
		return
	}
	if intent.tp != nil {
		payload.TakeProfit = intent.tp
	}
	if intent.sl != nil {
		payload.StopLoss = intent.sl
	}
	delete(t.oco, key)
}

func (t *Translator) emit(ev domain.SignalEvent, kind domain.EventKind, method domain.ExecMethod, side domain.PosSide, closed bool, payload domain.OrderPayload) domain.MasterEvent {
	ts := domain.NowMillis()
	execTS := extractExchangeTS(ev.Raw)
	if execTS > 0 && ev.TechTS > 0 {
		ts = min(execTS, ev.TechTS)
	}
	payload.ExecTS = execTS

	return domain.MasterEvent{
		Event:   kind,
		Method:  method,
		Symbol:  ev.Symbol,
		PosSide: side,
		Closed:  closed,
		Payload: payload,
		SigType: domain.SigCopy,
		TS:      ts,
	}
}

// basePayload extracts the order facts every derived order starts from.
func basePayload(raw map[string]any) domain.OrderPayload {
	price := asFloat(raw["price"])
	if price == 0 {
		price = asFloat(raw["dealAvgPrice"])
	}
	if price == 0 {
		price = asFloat(raw["avgPrice"])
	}
	return domain.OrderPayload{
		OrderID:    asID(raw["orderId"]),
		Qty:        asFloat(raw["vol"]),
		Price:      price,
		Leverage:   asInt(raw["leverage"]),
		OpenType:   asInt(raw["openType"]),
		ReduceOnly: asBool(raw["reduceOnly"]),
	}
}

// extractExchangeTS finds the exchange-side timestamp of a raw push.
// Second-resolution values are promoted to milliseconds.
func extractExchangeTS(raw map[string]any) int64 {
	for _, key := range []string{"updateTime", "createTime", "timestamp", "time", "ts"} {
		v := asFloat(raw[key])
		if v <= 0 {
			continue
		}
		if v < 1e10 {
			v *= 1000
		}
		return int64(v)
	}
	return 0
}

// --------------------------------------------------------------------------
// Raw value coercion
// --------------------------------------------------------------------------

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}

func asOptFloat(v any) *float64 {
	switch x := v.(type) {
	case float64:
		return &x
	case int:
		f := float64(x)
		return &f
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return &f
		}
	}
	return nil
}

func asInt(v any) int {
	return int(asFloat(v))
}

func asBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x == "true" || x == "1"
	}
	return false
}

// asID renders an order id that may arrive as string or number.
func asID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}
