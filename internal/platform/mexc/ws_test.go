package mexc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/copyrelay/internal/crypto"
	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// spySink collects every event the stream classifies.
type spySink struct {
	mu     sync.Mutex
	events []domain.SignalEvent
}

func (s *spySink) Push(ev domain.SignalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *spySink) all() []domain.SignalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SignalEvent(nil), s.events...)
}

func newTestStream(sink *spySink, blacklist ...string) *Stream {
	return NewStream(StreamOptions{
		QuoteAsset:   "USDT",
		BlackSymbols: blacklist,
		Sink:         sink,
	})
}

func TestClassifyOrderStates(t *testing.T) {
	cases := []struct {
		orderType, state int
		want             domain.SignalEventType
		ok               bool
	}{
		{1, 4, domain.SignalOrderCancelled, true},
		{5, 4, domain.SignalOrderCancelled, true},
		{1, 5, domain.SignalOrderInvalid, true},
		{1, 3, domain.SignalLimitFilled, true},
		{5, 3, domain.SignalMarketFilled, true},
		{3, 3, domain.SignalTriggerFilled, true},
		{1, 2, domain.SignalLimitPlaced, true},
		{5, 2, "", false}, // working market orders carry no signal
		{1, 1, "", false},
	}
	for _, c := range cases {
		got, ok := classifyOrder(c.orderType, c.state)
		if ok != c.ok || got != c.want {
			t.Errorf("classifyOrder(%d, %d) = %q %v, want %q %v", c.orderType, c.state, got, ok, c.want, c.ok)
		}
	}
}

func TestClassifyOrderChannel(t *testing.T) {
	s := newTestStream(&spySink{})

	ev, ok := s.classify(channelOrder, map[string]any{
		"symbol": "BTCUSDT", "side": float64(1), "orderType": float64(1), "state": float64(2),
	})
	if !ok {
		t.Fatal("working limit order dropped")
	}
	if ev.Symbol != "BTC_USDT" || ev.PosSide != domain.PosSideLong || ev.Type != domain.SignalLimitPlaced {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.TechTS == 0 {
		t.Fatal("technical timestamp not stamped")
	}

	if _, ok := s.classify(channelOrder, map[string]any{
		"symbol": "BTCUSDT", "side": float64(9), "orderType": float64(1), "state": float64(3),
	}); ok {
		t.Fatal("unknown side accepted")
	}
	if _, ok := s.classify(channelOrder, map[string]any{
		"side": float64(1), "orderType": float64(1), "state": float64(3),
	}); ok {
		t.Fatal("symbol-less frame accepted")
	}
}

func TestClassifyPositionChannel(t *testing.T) {
	s := newTestStream(&spySink{})

	opened, ok := s.classify(channelPosition, map[string]any{
		"symbol": "ETHUSDT", "positionType": float64(2), "state": float64(1), "holdVol": float64(3),
	})
	if !ok || opened.Type != domain.SignalPositionOpened || opened.PosSide != domain.PosSideShort {
		t.Fatalf("unexpected opened event: %+v %v", opened, ok)
	}

	// A held position with zero volume is a close.
	closed, ok := s.classify(channelPosition, map[string]any{
		"symbol": "ETHUSDT", "positionType": float64(2), "state": float64(1), "holdVol": float64(0),
	})
	if !ok || closed.Type != domain.SignalPositionClosed {
		t.Fatalf("unexpected closed event: %+v %v", closed, ok)
	}

	closed, ok = s.classify(channelPosition, map[string]any{
		"symbol": "ETHUSDT", "positionType": float64(1), "state": float64(3), "holdVol": float64(3),
	})
	if !ok || closed.Type != domain.SignalPositionClosed {
		t.Fatalf("closed state not detected: %+v %v", closed, ok)
	}
}

func TestClassifyPlanOrderChannel(t *testing.T) {
	s := newTestStream(&spySink{})

	cases := []struct {
		state float64
		want  domain.SignalEventType
	}{
		{1, domain.SignalPlanOrder},
		{3, domain.SignalPlanExecuted},
		{4, domain.SignalPlanCancelled},
	}
	for _, c := range cases {
		ev, ok := s.classify(channelPlanOrder, map[string]any{
			"symbol": "BTCUSDT", "side": float64(3), "state": c.state,
		})
		if !ok || ev.Type != c.want || ev.PosSide != domain.PosSideShort {
			t.Errorf("plan state %v = %+v %v, want %q", c.state, ev, ok, c.want)
		}
	}
}

func TestClassifyStopOrderRemapsRaw(t *testing.T) {
	s := newTestStream(&spySink{})

	ev, ok := s.classify(channelStopOrder, map[string]any{
		"symbol":          "BTCUSDT",
		"side":            float64(1),
		"takeProfitPrice": float64(61000),
		"stopLossPrice":   float64(45000),
		"noise":           "dropped",
	})
	if !ok || ev.Type != domain.SignalOCOAttached {
		t.Fatalf("unexpected event: %+v %v", ev, ok)
	}
	if ev.Raw["tp"] != float64(61000) || ev.Raw["sl"] != float64(45000) {
		t.Fatalf("stop prices not remapped: %+v", ev.Raw)
	}
	if _, leaked := ev.Raw["noise"]; leaked {
		t.Fatal("raw payload not reduced to the stop prices")
	}
}

func TestHandleFrameFiltersAndDrops(t *testing.T) {
	sink := &spySink{}
	s := newTestStream(sink, "dogeusdt")

	frame := func(channel string, data map[string]any) []byte {
		payload, _ := json.Marshal(data)
		out, _ := json.Marshal(map[string]any{"channel": channel, "data": json.RawMessage(payload)})
		return out
	}

	// Deal frames duplicate the order channel and never reach the sink.
	s.handleFrame(frame(channelOrderDeal, map[string]any{
		"symbol": "BTCUSDT", "side": 1, "orderType": 5, "state": 3,
	}))
	// Blacklisted symbols are classified and then discarded.
	s.handleFrame(frame(channelOrder, map[string]any{
		"symbol": "DOGEUSDT", "side": 1, "orderType": 5, "state": 3,
	}))
	// Pong and undecodable frames are ignored.
	s.handleFrame([]byte(`{"channel": "pong", "data": 1700000000}`))
	s.handleFrame([]byte(`not json`))

	s.handleFrame(frame(channelOrder, map[string]any{
		"symbol": "BTCUSDT", "side": 1, "orderType": 5, "state": 3,
	}))

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %+v", len(events), events)
	}
	if events[0].Symbol != "BTC_USDT" || events[0].Type != domain.SignalMarketFilled {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestStreamLoginHandshake(t *testing.T) {
	upgrader := websocket.Upgrader{}
	loginFrames := make(chan wsLoginRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var frame wsLoginRequest
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		loginFrames <- frame
		_ = conn.WriteJSON(map[string]any{"channel": channelLogin, "data": "success"})

		// Push one fill, then hold the connection open.
		_ = conn.WriteJSON(map[string]any{"channel": channelOrder, "data": map[string]any{
			"symbol": "BTCUSDT", "side": 1, "orderType": 5, "state": 3,
		}})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	sink := &spySink{}
	auth := &crypto.HMACAuth{Key: "ws-key", Secret: "ws-secret"}
	stream := NewStream(StreamOptions{
		WsURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Auth:       auth,
		QuoteAsset: "USDT",
		Sink:       sink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	var frame wsLoginRequest
	select {
	case frame = <-loginFrames:
	case <-time.After(3 * time.Second):
		t.Fatal("login frame never arrived")
	}
	if frame.Method != "login" || frame.Param.APIKey != "ws-key" {
		t.Fatalf("unexpected login frame: %+v", frame)
	}
	if frame.Param.Signature != auth.WsLoginSignature(frame.Param.ReqTime) {
		t.Fatal("login signature does not verify against the request time")
	}

	waitFor(t, 3*time.Second, func() bool { return stream.Ready() }, "stream never became ready")
	waitFor(t, 3*time.Second, func() bool { return len(sink.all()) == 1 }, "pushed fill never classified")

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
