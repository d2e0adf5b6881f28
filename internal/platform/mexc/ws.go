package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/copyrelay/internal/crypto"
	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// Personal push channels of the authenticated websocket.
const (
	channelOrder     = "push.personal.order"
	channelPosition  = "push.personal.position"
	channelPlanOrder = "push.personal.plan.order"
	channelStopOrder = "push.personal.stop.order"
	channelOrderDeal = "push.personal.order.deal"
	channelLogin     = "rs.login"
	channelPong      = "pong"
	channelRsError   = "rs.error"
)

// Order wire states as pushed on the order channel.
const (
	orderStateNew       = 1
	orderStateWorking   = 2
	orderStateFilled    = 3
	orderStateCancelled = 4
	orderStateInvalid   = 5
)

const (
	loginTimeout     = 10 * time.Second
	wsPingInterval   = 12 * time.Second
	wsReadLimit      = 1 << 20
	staleReadTimeout = 60 * time.Second
)

// SignalSink receives classified stream events.
type SignalSink interface {
	Push(ev domain.SignalEvent)
}

// Stream is the master account's personal push connection. It authenticates,
// keeps the connection alive with application pings, classifies every push
// into a SignalEvent, and reconnects with jitter after any failure.
type Stream struct {
	wsURL      string
	auth       *crypto.HMACAuth
	proxy      string
	quoteAsset string
	blacklist  map[string]bool
	sink       SignalSink
	logger     *slog.Logger

	ready atomic.Bool

	mu   sync.Mutex // guards writes on conn
	conn *websocket.Conn
}

// StreamOptions configures a Stream.
type StreamOptions struct {
	WsURL        string
	Auth         *crypto.HMACAuth
	Proxy        string
	QuoteAsset   string
	BlackSymbols []string
	Sink         SignalSink
	Logger       *slog.Logger
}

// NewStream builds a Stream. Run must be called to connect.
func NewStream(opts StreamOptions) *Stream {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	blacklist := make(map[string]bool, len(opts.BlackSymbols))
	for _, sym := range opts.BlackSymbols {
		blacklist[NormalizeSymbol(sym, opts.QuoteAsset)] = true
	}
	return &Stream{
		wsURL:      opts.WsURL,
		auth:       opts.Auth,
		proxy:      opts.Proxy,
		quoteAsset: opts.QuoteAsset,
		blacklist:  blacklist,
		sink:       opts.Sink,
		logger:     logger.With(slog.String("component", "master_stream")),
	}
}

// Ready reports whether the stream is connected and authenticated.
func (s *Stream) Ready() bool {
	return s.ready.Load()
}

// Run connects and serves the stream until ctx is done, reconnecting with
// jitter after each failure.
func (s *Stream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.serveOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "stream disconnected", slog.String("error", err.Error()))
		}
		s.ready.Store(false)

		// Jittered backoff keeps reconnect storms apart across restarts.
		delay := time.Duration(float64(time.Second) * (0.8 + rand.Float64()*0.7))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// serveOnce runs one full connection lifetime: dial, login, ping loop and
// read loop until the connection drops or ctx is cancelled.
func (s *Stream) serveOnce(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.login(conn); err != nil {
		return err
	}
	s.ready.Store(true)
	s.logger.InfoContext(ctx, "master stream authenticated")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close the connection when ctx ends so the blocked read returns.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go s.pingLoop(connCtx)

	conn.SetReadLimit(wsReadLimit)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(staleReadTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("mexc: stream read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleFrame(data)
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: loginTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if s.proxy != "" {
		proxyURL, err := url.Parse(s.proxy)
		if err != nil {
			return nil, fmt.Errorf("mexc: stream proxy url: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("mexc: stream dial %s: %w", s.wsURL, err)
	}
	return conn, nil
}

// login authenticates the connection and waits for the login acknowledgment.
func (s *Stream) login(conn *websocket.Conn) error {
	reqTime := domain.NowMillis() - 1000
	frame := wsLoginRequest{
		Method: "login",
		Param: wsLoginParam{
			APIKey:    s.auth.Key,
			ReqTime:   reqTime,
			Signature: s.auth.WsLoginSignature(reqTime),
		},
	}

	deadline := time.Now().Add(loginTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("mexc: stream login write: %w", err)
	}

	// Read until the login ack arrives; anything else before it is noise.
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("mexc: stream login read: %w", err)
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Channel {
		case channelLogin:
			var status string
			if err := json.Unmarshal(env.Data, &status); err == nil && status == "success" {
				return nil
			}
			return fmt.Errorf("mexc: stream login rejected: %s", string(env.Data))
		case channelRsError:
			return fmt.Errorf("mexc: stream login error: %s", string(env.Data))
		}
	}
}

// pingLoop keeps the connection alive with application-level pings.
func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		conn := s.conn
		if conn != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(map[string]string{"method": "ping"}); err != nil {
				s.mu.Unlock()
				conn.Close()
				return
			}
		}
		s.mu.Unlock()
	}
}

// handleFrame classifies one push frame and hands the result to the sink.
func (s *Stream) handleFrame(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Channel {
	case channelPong, channelLogin, "":
		return
	case channelRsError:
		s.logger.Warn("stream error frame", slog.String("data", string(env.Data)))
		return
	case channelOrderDeal:
		// Deal rows duplicate what the order channel already pushes.
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		s.logger.Warn("undecodable push frame", slog.String("channel", env.Channel))
		return
	}

	ev, ok := s.classify(env.Channel, raw)
	if !ok {
		return
	}
	if s.blacklist[ev.Symbol] {
		return
	}
	s.sink.Push(ev)
}

// classify maps a push frame onto a SignalEvent. The raw payload travels
// along so the translator can read exchange fields without this layer
// knowing which ones matter.
func (s *Stream) classify(channel string, raw map[string]any) (domain.SignalEvent, bool) {
	ev := domain.SignalEvent{
		Symbol: NormalizeSymbol(rawString(raw, "symbol"), s.quoteAsset),
		TechTS: domain.NowMillis(),
		Raw:    raw,
	}
	if ev.Symbol == "" {
		return ev, false
	}

	switch channel {
	case channelOrder:
		side, ok := SideFromOrderCode(rawInt(raw, "side"))
		if !ok {
			return ev, false
		}
		ev.PosSide = side
		ev.Type, ok = classifyOrder(rawInt(raw, "orderType"), rawInt(raw, "state"))
		return ev, ok

	case channelPosition:
		side, ok := SideFromPositionType(rawInt(raw, "positionType"))
		if !ok {
			return ev, false
		}
		ev.PosSide = side
		state := rawInt(raw, "state")
		if (state == 1 || state == 2) && rawFloat(raw, "holdVol") > 0 {
			ev.Type = domain.SignalPositionOpened
		} else {
			ev.Type = domain.SignalPositionClosed
		}
		return ev, true

	case channelPlanOrder:
		side, ok := SideFromOrderCode(rawInt(raw, "side"))
		if !ok {
			return ev, false
		}
		ev.PosSide = side
		switch rawInt(raw, "state") {
		case orderStateNew:
			ev.Type = domain.SignalPlanOrder
		case orderStateFilled:
			ev.Type = domain.SignalPlanExecuted
		default:
			ev.Type = domain.SignalPlanCancelled
		}
		return ev, true

	case channelStopOrder:
		side, ok := SideFromOrderCode(rawInt(raw, "side"))
		if !ok {
			return ev, false
		}
		ev.PosSide = side
		ev.Type = domain.SignalOCOAttached
		// Only the attached stop prices matter downstream.
		ev.Raw = map[string]any{
			"tp": raw["takeProfitPrice"],
			"sl": raw["stopLossPrice"],
		}
		return ev, true
	}
	return ev, false
}

// classifyOrder maps an order push (type, state) onto the event taxonomy.
// Order type 1 is a limit order, 5 a market order; every other type is a
// trigger-executed order. A working limit order is an intent, not yet an
// execution.
func classifyOrder(orderType, state int) (domain.SignalEventType, bool) {
	switch state {
	case orderStateCancelled:
		return domain.SignalOrderCancelled, true
	case orderStateInvalid:
		return domain.SignalOrderInvalid, true
	case orderStateFilled:
		switch orderType {
		case int(OrderTypePriceLimited):
			return domain.SignalLimitFilled, true
		case int(OrderTypeMarket):
			return domain.SignalMarketFilled, true
		default:
			return domain.SignalTriggerFilled, true
		}
	case orderStateWorking:
		if orderType == int(OrderTypePriceLimited) {
			return domain.SignalLimitPlaced, true
		}
	}
	return "", false
}

// --------------------------------------------------------------------------
// Raw payload accessors
// --------------------------------------------------------------------------

func rawString(raw map[string]any, key string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return ""
}

func rawInt(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}

func rawFloat(raw map[string]any, key string) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
