package mexc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/alanyoungcy/copyrelay/internal/crypto"
	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/network"
)

// API paths of the private contract endpoints.
const (
	pathOrderSubmit      = "/api/v1/private/order/submit"
	pathOrderCancel      = "/api/v1/private/order/cancel"
	pathOrderCancelAll   = "/api/v1/private/order/cancel_all"
	pathPlanOrderPlace   = "/api/v1/private/planorder/place"
	pathPlanOrderCancel  = "/api/v1/private/planorder/cancel"
	pathOpenPositions    = "/api/v1/private/position/open_positions"
	pathHistoryPositions = "/api/v1/private/position/list/history_positions"
)

// Client is the private REST client of one exchange account. Every call goes
// through the account's supervised network session and is HMAC-signed.
type Client struct {
	baseURL string
	auth    *crypto.HMACAuth
	session *network.Session
	logger  *slog.Logger
}

// NewClient builds a Client on top of an initialized session.
func NewClient(baseURL string, auth *crypto.HMACAuth, session *network.Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		session: session,
		logger:  logger.With(slog.String("component", "mexc_client")),
	}
}

// OrderParams describes one market or limit order.
type OrderParams struct {
	Symbol       string
	Contracts    float64
	Side         string // BUY or SELL
	PositionSide domain.PosSide
	Method       domain.ExecMethod // market or limit
	Leverage     int
	OpenType     int
	Price        string // limit only
	StopLoss     string
	TakeProfit   string
}

// TriggerParams describes one plan (trigger) order.
type TriggerParams struct {
	Symbol       string
	Contracts    float64
	Side         string // BUY or SELL
	PositionSide domain.PosSide
	TriggerPrice string
	Leverage     int
	OpenType     int
	ExecLimit    bool // execute as limit instead of market when triggered
}

// PnLKey identifies one realized-PnL aggregate: symbol plus wire direction
// (1=LONG, 2=SHORT).
type PnLKey struct {
	Symbol    string
	Direction int
}

// PnLAgg is the aggregated realized result of one (symbol, direction).
type PnLAgg struct {
	PnlUSDT float64
	PnlPct  float64
}

// PlaceOrder submits a market or limit order and returns the normalized
// result. Business rejections come back as Success=false, transport errors
// as an error.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (domain.OrderResult, error) {
	side, ok := OrderSideFor(p.Side, p.PositionSide)
	if !ok {
		return failure("invalid side"), nil
	}

	var orderType OrderType
	switch p.Method {
	case domain.MethodMarket:
		orderType = OrderTypeMarket
	case domain.MethodLimit:
		orderType = OrderTypePriceLimited
	default:
		return failure(fmt.Sprintf("unsupported method %q", p.Method)), nil
	}

	openType, ok := openTypeFrom(p.OpenType)
	if !ok {
		return failure(fmt.Sprintf("invalid open type %d", p.OpenType)), nil
	}
	if openType == OpenTypeIsolated && p.Leverage <= 0 {
		return failure("isolated margin requires leverage"), nil
	}

	body := createOrderRequest{
		Symbol:          p.Symbol,
		Side:            side,
		Vol:             p.Contracts,
		Leverage:        p.Leverage,
		OpenType:        openType,
		Type:            orderType,
		Price:           p.Price,
		StopLossPrice:   p.StopLoss,
		TakeProfitPrice: p.TakeProfit,
	}

	resp, err := c.post(ctx, pathOrderSubmit, body)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return validate(resp), nil
}

// PlaceTriggerOrder submits a plan order. The trigger comparison follows the
// order side: buys against the market (OpenLong, CloseShort) arm below the
// trigger price, the rest above.
func (c *Client) PlaceTriggerOrder(ctx context.Context, p TriggerParams) (domain.OrderResult, error) {
	side, ok := OrderSideFor(p.Side, p.PositionSide)
	if !ok {
		return failure("invalid side"), nil
	}

	openType, ok := openTypeFrom(p.OpenType)
	if !ok {
		return failure(fmt.Sprintf("invalid open type %d", p.OpenType)), nil
	}
	if openType == OpenTypeIsolated && p.Leverage <= 0 {
		return failure("isolated margin requires leverage"), nil
	}

	triggerType := TriggerGreaterThanOrEqual
	if side == OrderSideOpenLong || side == OrderSideCloseShort {
		triggerType = TriggerLessThanOrEqual
	}

	execType := OrderTypeMarket
	if p.ExecLimit {
		execType = OrderTypePriceLimited
	}

	body := triggerOrderRequest{
		Symbol:       p.Symbol,
		Side:         side,
		Vol:          p.Contracts,
		Leverage:     p.Leverage,
		OpenType:     openType,
		OrderType:    execType,
		ExecuteCycle: ExecuteCycleUntilCanceled,
		Trend:        TrendLatestPrice,
		TriggerPrice: p.TriggerPrice,
		TriggerType:  triggerType,
	}

	resp, err := c.post(ctx, pathPlanOrderPlace, body)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return validate(resp), nil
}

// CancelOrders cancels plain limit orders by id.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (domain.OrderResult, error) {
	if len(orderIDs) == 0 {
		return failure("no order ids"), nil
	}
	resp, err := c.post(ctx, pathOrderCancel, orderIDs)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return validate(resp), nil
}

// CancelTriggerOrders cancels plan orders by id.
func (c *Client) CancelTriggerOrders(ctx context.Context, orderIDs []string, symbol string) (domain.OrderResult, error) {
	if len(orderIDs) == 0 {
		return failure("no order ids"), nil
	}
	entries := make([]triggerCancelEntry, 0, len(orderIDs))
	for _, id := range orderIDs {
		entries = append(entries, triggerCancelEntry{OrderID: id, Symbol: symbol})
	}
	resp, err := c.post(ctx, pathPlanOrderCancel, entries)
	if err != nil {
		return domain.OrderResult{}, err
	}
	return validate(resp), nil
}

// CancelAllOrders cancels every open order (limit and trigger) on a symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (domain.OrderResult, error) {
	resp, err := c.post(ctx, pathOrderCancelAll, map[string]string{"symbol": symbol})
	if err != nil {
		return domain.OrderResult{}, err
	}
	return validate(resp), nil
}

// CancelBulk cancels recorded limit and trigger ids in one sweep. Success
// requires every issued cancel to succeed; partial failures are reported in
// Reason.
func (c *Client) CancelBulk(ctx context.Context, limitIDs, triggerIDs []string, symbol string) (domain.OrderResult, error) {
	var reasons []string

	if len(limitIDs) > 0 {
		res, err := c.CancelOrders(ctx, limitIDs)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("limit: %v", err))
		} else if !res.Success {
			reasons = append(reasons, fmt.Sprintf("limit: %s", res.Reason))
		}
	}
	if len(triggerIDs) > 0 {
		if symbol == "" {
			reasons = append(reasons, "trigger: symbol required")
		} else {
			res, err := c.CancelTriggerOrders(ctx, triggerIDs, symbol)
			if err != nil {
				reasons = append(reasons, fmt.Sprintf("trigger: %v", err))
			} else if !res.Success {
				reasons = append(reasons, fmt.Sprintf("trigger: %s", res.Reason))
			}
		}
	}

	if len(reasons) > 0 {
		return failure(strings.Join(reasons, "; ")), nil
	}
	return domain.OrderResult{Success: true, TS: domain.NowMillis()}, nil
}

// OpenPositions fetches every currently open position of the account.
func (c *Client) OpenPositions(ctx context.Context) ([]PositionEntry, error) {
	resp, err := c.get(ctx, pathOpenPositions, nil)
	if err != nil {
		return nil, err
	}
	if !resp.Success || resp.Code != 0 {
		return nil, fmt.Errorf("mexc: open positions: code %d: %s", resp.Code, resp.Message)
	}

	var out []PositionEntry
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			return nil, fmt.Errorf("mexc: open positions decode: %w", err)
		}
	}
	return out, nil
}

// RealizedPnLBatch aggregates realized PnL over [start, end] from the
// historical position report, keyed by (symbol, direction). The fetch is
// retried once on transport failure.
func (c *Client) RealizedPnLBatch(ctx context.Context, start, end int64) (map[PnLKey]PnLAgg, error) {
	rows, err := c.historyRows(ctx, "")
	if err != nil {
		return nil, err
	}

	acc := make(map[PnLKey]PnLAgg)
	for _, row := range rows {
		if !inWindow(row.UpdateTime, start, end) {
			continue
		}
		if row.Symbol == "" || row.PositionType == 0 {
			continue
		}
		key := PnLKey{Symbol: row.Symbol, Direction: row.PositionType}
		agg := acc[key]
		agg.PnlUSDT += row.Realised
		agg.PnlPct += row.ProfitRatio * 100
		acc[key] = agg
	}

	for key, agg := range acc {
		agg.PnlUSDT = roundTo(agg.PnlUSDT, 6)
		agg.PnlPct = roundTo(agg.PnlPct, 4)
		acc[key] = agg
	}
	return acc, nil
}

// RealizedPnL aggregates realized PnL of one symbol and direction over
// [start, end]. Returns nil when no report row matched.
func (c *Client) RealizedPnL(ctx context.Context, symbol string, start, end int64, direction int) (*PnLAgg, error) {
	rows, err := c.historyRows(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var agg PnLAgg
	matched := false
	for _, row := range rows {
		if !inWindow(row.UpdateTime, start, end) {
			continue
		}
		if direction != 0 && row.PositionType != direction {
			continue
		}
		agg.PnlUSDT += row.Realised
		agg.PnlPct += row.ProfitRatio * 100
		matched = true
	}
	if !matched {
		return nil, nil
	}
	agg.PnlUSDT = roundTo(agg.PnlUSDT, 6)
	agg.PnlPct = roundTo(agg.PnlPct, 4)
	return &agg, nil
}

// historyRows fetches the historical position report with exactly one retry.
func (c *Client) historyRows(ctx context.Context, symbol string) ([]historyRow, error) {
	fetch := func() ([]historyRow, error) {
		params := url.Values{}
		if symbol != "" {
			params.Set("symbol", symbol)
		}
		params.Set("page_num", "1")
		params.Set("page_size", "100")

		resp, err := c.get(ctx, pathHistoryPositions, params)
		if err != nil {
			return nil, err
		}
		if !resp.Success || resp.Code != 0 {
			return nil, fmt.Errorf("mexc: history positions: code %d: %s", resp.Code, resp.Message)
		}

		var rows []historyRow
		if len(resp.Data) > 0 {
			if err := json.Unmarshal(resp.Data, &rows); err != nil {
				return nil, fmt.Errorf("mexc: history positions decode: %w", err)
			}
		}
		return rows, nil
	}

	rows, err := fetch()
	if err != nil {
		c.logger.WarnContext(ctx, "pnl fetch failed, retrying once", slog.String("error", err.Error()))
		rows, err = fetch()
		if err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, body any) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("mexc: marshal %s body: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, payload, string(payload))
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*apiResponse, error) {
	query := sortedQuery(params)
	target := path
	if query != "" {
		target += "?" + query
	}
	return c.do(ctx, http.MethodGet, target, nil, query)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, paramString string) (*apiResponse, error) {
	if !c.session.WaitReady(ctx) {
		return nil, fmt.Errorf("mexc: %s %s: %w", method, path, domain.ErrSessionNotUp)
	}
	client := c.session.Client()
	if client == nil {
		return nil, fmt.Errorf("mexc: %s %s: %w", method, path, domain.ErrSessionNotUp)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("mexc: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.auth.RestHeaders(paramString) {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mexc: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("mexc: read %s response: %w", path, err)
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("mexc: decode %s response (status %d): %w", path, resp.StatusCode, err)
	}
	return &out, nil
}

// sortedQuery encodes params in key-sorted order so the signature matches
// what the exchange recomputes.
func sortedQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// --------------------------------------------------------------------------
// Response normalization
// --------------------------------------------------------------------------

// validate folds the API envelope into a domain.OrderResult. Data may carry
// a single order id object, a list of per-order outcomes, or a bare scalar.
func validate(resp *apiResponse) domain.OrderResult {
	res := domain.OrderResult{
		Code: resp.Code,
		TS:   domain.NowMillis(),
	}

	if !resp.Success || resp.Code != 0 {
		res.Reason = resp.Message
		if res.Reason == "" {
			res.Reason = fmt.Sprintf("exchange error code %d", resp.Code)
		}
		return res
	}
	res.Success = true

	if len(resp.Data) == 0 {
		return res
	}

	var withID struct {
		OrderID json.Number `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Data, &withID); err == nil && withID.OrderID != "" {
		res.OrderID = withID.OrderID.String()
		return res
	}

	var list []struct {
		OrderID json.Number `json:"orderId"`
	}
	if err := json.Unmarshal(resp.Data, &list); err == nil && len(list) > 0 {
		for _, item := range list {
			if item.OrderID != "" {
				res.OrderIDs = append(res.OrderIDs, item.OrderID.String())
			}
		}
		return res
	}

	var scalar json.Number
	if err := json.Unmarshal(resp.Data, &scalar); err == nil && scalar != "" {
		res.OrderID = scalar.String()
		return res
	}
	var str string
	if err := json.Unmarshal(resp.Data, &str); err == nil {
		res.OrderID = str
	}
	return res
}

func failure(reason string) domain.OrderResult {
	return domain.OrderResult{Reason: reason, TS: domain.NowMillis()}
}

func openTypeFrom(v int) (OpenType, bool) {
	switch v {
	case 1:
		return OpenTypeIsolated, true
	case 2:
		return OpenTypeCross, true
	default:
		return 0, false
	}
}

func inWindow(ts, start, end int64) bool {
	if start > 0 && ts < start {
		return false
	}
	if end > 0 && ts > end {
		return false
	}
	return true
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
